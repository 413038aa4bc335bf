// Package handler runs the per-task reason/act loop: ask the model, execute
// the tools it requests, repair broken calls, stop when it signals the end.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"go-quizagent/pkg/logger"
	"go-quizagent/pkg/memory/buffer"
	"go-quizagent/pkg/models"
	"go-quizagent/pkg/retry"
)

const DefaultMaxSteps = 200

var ErrStepLimit = errors.New("step limit reached")

// Executor runs one tool call and reports its result as a message.
type Executor interface {
	Execute(ctx context.Context, call buffer.ToolCall) buffer.Message
}

// Step describes one loop transition.
type Step struct {
	Task      string
	Iteration int
	State     models.LoopState
	Detail    string
}

type Observer func(Step)

type Handler struct {
	invoker   *Invoker
	tools     Executor
	compactor buffer.Compactor
	rule      EndRule
	maxSteps  int
	repairs   retry.Policy
	observer  Observer
}

type Options struct {
	Invoker   *Invoker
	Tools     Executor
	Compactor buffer.Compactor
	EndRule   EndRule
	MaxSteps  int
	// MaxRepairs consecutive repairs escalate to a forced answer.
	MaxRepairs int
	Observer   Observer
}

func New(opts Options) *Handler {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxRepairs <= 0 {
		opts.MaxRepairs = 3
	}
	if len(opts.EndRule.Tokens) == 0 {
		opts.EndRule.Tokens = []string{"END"}
	}
	return &Handler{
		invoker:   opts.Invoker,
		tools:     opts.Tools,
		compactor: opts.Compactor,
		rule:      opts.EndRule,
		maxSteps:  opts.MaxSteps,
		repairs:   retry.Policy{MaxAttempts: opts.MaxRepairs},
		observer:  opts.Observer,
	}
}

// Solve drives conv until the model ends the task. The returned conversation
// is the same one passed in, holding the full history of the task.
func (h *Handler) Solve(ctx context.Context, run models.TaskRun, conv *buffer.Conversation) (*buffer.Conversation, error) {
	l := log.With().Str(logger.TaskField, run.URL).Int(logger.TaskIndexField, run.Index).Logger()

	state := models.Reason
	repairs := 0
	force := false
	for step := 1; ; step++ {
		if err := ctx.Err(); err != nil {
			return conv, err
		}
		if step > h.maxSteps {
			l.Error().Int(logger.IterationField, step).Msg("giving up on task")
			return conv, fmt.Errorf("%w: %d", ErrStepLimit, h.maxSteps)
		}
		l.Debug().Int(logger.IterationField, step).Str(logger.StateField, string(state)).Msg("loop step")

		switch state {
		case models.Reason:
			window, err := h.compactor.Compact(conv.Messages())
			if err != nil {
				return conv, fmt.Errorf("compact: %w", err)
			}
			if err := buffer.Validate(window); err != nil {
				return conv, fmt.Errorf("validate: %w", err)
			}
			reply, err := h.invoker.Step(ctx, window, force)
			if err != nil {
				return conv, fmt.Errorf("invoke: %w", err)
			}
			force = false
			conv.Append(reply)
			state = Route(reply, h.rule)
			h.observe(run, step, state, logger.Truncate(reply.Text))

		case models.Act:
			last, _ := conv.Last()
			for _, call := range last.Calls {
				res := h.tools.Execute(ctx, call)
				conv.Append(res)
				h.observe(run, step, models.Act, call.Name)
			}
			repairs = 0
			state = models.Reason

		case models.Repair:
			last, _ := conv.Last()
			repairs++
			l.Warn().Int(logger.AttemptField, repairs).Str("stop_reason", last.StopReason).Msg("repairing malformed tool call")
			conv.Append(Repair(last)...)
			if h.repairs.Exhausted(repairs) {
				l.Warn().Int(logger.AttemptField, repairs).Msg("repairs exhausted, forcing an answer")
				force = true
				repairs = 0
			}
			h.observe(run, step, models.Repair, "")
			state = models.Reason

		case models.Done:
			l.Info().Int(logger.IterationField, step).Msg("task finished")
			h.observe(run, step, models.Done, "")
			return conv, nil
		}
	}
}

func (h *Handler) observe(run models.TaskRun, iteration int, state models.LoopState, detail string) {
	if h.observer == nil {
		return
	}
	h.observer(Step{Task: run.URL, Iteration: iteration, State: state, Detail: detail})
}
