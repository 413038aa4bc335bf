// Package handler drives a chain of quiz tasks: solve one page, follow the
// link the server hands back, repeat until there is none.
package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	solver "go-quizagent/internal/agents/solver/handler"
	"go-quizagent/pkg/config"
	"go-quizagent/pkg/events"
	"go-quizagent/pkg/logger"
	"go-quizagent/pkg/memory/buffer"
	"go-quizagent/pkg/models"
	"go-quizagent/pkg/prompts"
	"go-quizagent/pkg/store"
	"go-quizagent/pkg/tools"
)

// Reporter receives task progress as the chain advances.
type Reporter interface {
	TaskStarted(run models.TaskRun)
	TaskFinished(run models.TaskRun)
}

type Options struct {
	Config   *config.Config
	Primary  llms.Model
	Fallback llms.Model
	// Limiter is shared by every chain in the process.
	Limiter     *tools.SlidingWindow
	Renderer    tools.Renderer
	Transcriber tools.Transcriber
	Estimator   buffer.Estimator
	Hub         *events.Hub
	Now         func() time.Time
}

type Handler struct {
	opts Options
}

func New(opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Estimator == nil {
		if opts.Config.Loop.Tiktoken {
			opts.Estimator = &buffer.TiktokenEstimator{}
		} else {
			opts.Estimator = buffer.CharEstimator{}
		}
	}
	return &Handler{opts: opts}
}

// Run solves the chain starting at startURL. The returned chain records every
// task attempted, including the one that failed.
func (h *Handler) Run(ctx context.Context, chainID, startURL string, rep Reporter) (models.Chain, error) {
	cfg := h.opts.Config
	l := log.With().Str(logger.ChainField, chainID).Logger()
	chain := models.Chain{ID: chainID, StartURL: startURL, State: models.Running, Tasks: []models.TaskRun{}}

	endToken := "END"
	if len(cfg.Loop.EndTokens) > 0 {
		endToken = cfg.Loop.EndTokens[0]
	}
	system, err := prompts.System(cfg.Email, cfg.Secret, endToken)
	if err != nil {
		return h.fail(chain, "", err)
	}

	timing := store.NewTiming()
	registry := tools.Standard(cfg, tools.Deps{
		Renderer:     h.opts.Renderer,
		Transcriber:  h.opts.Transcriber,
		Limiter:      h.opts.Limiter,
		Timing:       timing,
		Placeholders: store.NewPlaceholders(),
	})
	loop := solver.New(solver.Options{
		Invoker: &solver.Invoker{
			Primary:  h.opts.Primary,
			Fallback: h.opts.Fallback,
			Tools:    registry.Catalog(),
			Timing:   timing,
			Limits: solver.Limits{
				HardCeiling:  cfg.Loop.HardCeiling,
				StallCeiling: cfg.Loop.StallCeiling,
				EndToken:     endToken,
			},
			MalformedMarkers: cfg.Backend.MalformedMarkers,
			Now:              h.opts.Now,
		},
		Tools: registry,
		Compactor: buffer.Compactor{
			Mode:      buffer.Mode(cfg.Loop.CompactionMode),
			Window:    cfg.Loop.Window,
			MaxTokens: cfg.Loop.MaxTokens,
			KeepRatio: cfg.Loop.KeepRatio,
			Estimator: h.opts.Estimator,
		},
		EndRule:    solver.EndRule{Tokens: cfg.Loop.EndTokens, Keywords: cfg.Loop.EndKeywords},
		MaxSteps:   cfg.Loop.MaxSteps,
		MaxRepairs: cfg.Loop.MaxRepairs,
		Observer: func(s solver.Step) {
			h.publish(chainID, events.LoopStep, s.Task, map[string]any{
				"iteration": s.Iteration,
				"state":     s.State,
				"detail":    s.Detail,
			})
		},
	})

	url := startURL
	for index := 0; ; index++ {
		run := models.NewTaskRun(url, index, h.opts.Now())
		timing.Start(url, run.Started)
		tl := l.With().Str(logger.TaskField, url).Int(logger.TaskIndexField, index).Logger()
		tl.Info().Msg("starting task")
		h.publish(chainID, events.TaskStarted, url, map[string]any{"index": index, "run": run.ID})
		if rep != nil {
			rep.TaskStarted(run)
		}

		conv, err := loop.Solve(ctx, run, buffer.New(system, url))
		finished := h.opts.Now()
		run.Finished = &finished
		if err != nil {
			chain.Tasks = append(chain.Tasks, run)
			return h.fail(chain, url, fmt.Errorf("task %d: %w", index, err))
		}

		run.NextURL = nextURL(conv.Messages(), url)
		chain.Tasks = append(chain.Tasks, run)
		tl.Info().Str("next_url", run.NextURL).Dur(logger.ElapsedField, finished.Sub(run.Started)).Msg("task finished")
		h.publish(chainID, events.TaskFinished, url, map[string]any{"index": index, "next_url": run.NextURL})
		if rep != nil {
			rep.TaskFinished(run)
		}

		if run.NextURL == "" {
			chain.State = models.Finished
			l.Info().Int("tasks", len(chain.Tasks)).Msg("chain complete")
			h.publish(chainID, events.ChainFinished, "", map[string]any{"tasks": len(chain.Tasks)})
			return chain, nil
		}
		if err := sleep(ctx, cfg.Chain.Delay); err != nil {
			return h.fail(chain, url, err)
		}
		url = run.NextURL
	}
}

func (h *Handler) fail(chain models.Chain, url string, err error) (models.Chain, error) {
	now := h.opts.Now()
	chain.State = models.Failed
	chain.Errs = &models.Error{Err: err, Message: url, Time: &now}
	log.Error().Err(err).Str(logger.ChainField, chain.ID).Str(logger.TaskField, url).Msg("chain failed")
	h.publish(chain.ID, events.ChainFailed, url, map[string]any{"error": err.Error()})
	return chain, err
}

func (h *Handler) publish(chainID, typ, task string, detail map[string]any) {
	h.opts.Hub.Publish(events.Event{Chain: chainID, Type: typ, Task: task, Time: h.opts.Now(), Detail: detail})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
