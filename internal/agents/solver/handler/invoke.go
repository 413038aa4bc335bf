package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"go-quizagent/pkg/backend"
	"go-quizagent/pkg/memory/buffer"
	"go-quizagent/pkg/prompts"
	"go-quizagent/pkg/store"
)

var (
	ErrBackendUnavailable = errors.New("language model backend unavailable")
	ErrNoTurns            = errors.New("request carries no message besides the system instruction")
	errEmptyResponse      = errors.New("backend returned no choices")
)

// Limits bound how long a single task may run before a wrong answer is
// forced.
type Limits struct {
	// HardCeiling counts from the start of the task.
	HardCeiling time.Duration
	// StallCeiling counts from the last submission; zero disables it.
	StallCeiling time.Duration
	EndToken     string
}

// Invoker performs one model call with the tool catalog attached.
type Invoker struct {
	Primary          llms.Model
	Fallback         llms.Model
	Tools            []llms.Tool
	Timing           *store.Timing
	Limits           Limits
	MalformedMarkers []string
	Now              func() time.Time
}

func (i *Invoker) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Overdue reports whether the current task has run past a ceiling without a
// submission since, and which ceiling was crossed.
func (i *Invoker) Overdue() (time.Duration, bool) {
	if i.Timing == nil {
		return 0, false
	}
	url, start, ok := i.Timing.Current()
	if !ok {
		return 0, false
	}
	now := i.now()

	var deadline time.Time
	var limit time.Duration
	switch offset, hasOffset := i.Timing.Offset(); {
	case i.Limits.HardCeiling > 0 && now.Sub(start) >= i.Limits.HardCeiling:
		deadline, limit = start.Add(i.Limits.HardCeiling), i.Limits.HardCeiling
	case hasOffset && i.Limits.StallCeiling > 0 && now.Sub(offset) > i.Limits.StallCeiling:
		deadline, limit = offset.Add(i.Limits.StallCeiling), i.Limits.StallCeiling
	default:
		return 0, false
	}

	if at, ok := i.Timing.LastSubmission(url); ok && !at.Before(deadline) {
		return 0, false
	}
	return limit, true
}

// Step sends msgs to the backend and returns its reply. When the task is
// overdue, or force is set, the forced-answer directive is appended to the
// request only. The conversation is never modified here.
func (i *Invoker) Step(ctx context.Context, msgs []buffer.Message, force bool) (buffer.Message, error) {
	primary, fallback := i.Primary, i.Fallback
	if primary == nil {
		primary, fallback = fallback, nil
	}
	if primary == nil {
		return buffer.Message{}, fmt.Errorf("%w: no model configured", ErrBackendUnavailable)
	}
	if !hasTurn(msgs) {
		return buffer.Message{}, ErrNoTurns
	}

	limit, overdue := i.Overdue()
	if overdue || force {
		if limit == 0 {
			limit = i.Limits.HardCeiling
		}
		directive, err := prompts.TimeoutDirective(limit, i.Limits.EndToken)
		if err != nil {
			return buffer.Message{}, err
		}
		log.Warn().Bool("overdue", overdue).Dur("limit", limit).Msg("forcing a wrong answer to move on")
		msgs = append(append(make([]buffer.Message, 0, len(msgs)+1), msgs...), buffer.User(directive))
	}

	contents := buffer.ToMessageContents(msgs)

	choice, err := i.generate(ctx, primary, contents)
	if err == nil {
		return buffer.ReplyFromChoice(choice, i.MalformedMarkers), nil
	}
	if ctx.Err() != nil {
		return buffer.Message{}, ctx.Err()
	}
	log.Warn().Err(err).Bool("rate_limited", backend.IsRateLimited(err)).Msg("primary model failed")
	if fallback == nil {
		return buffer.Message{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	choice, ferr := i.generate(ctx, fallback, contents)
	if ferr != nil {
		if ctx.Err() != nil {
			return buffer.Message{}, ctx.Err()
		}
		log.Error().Err(ferr).Bool("rate_limited", backend.IsRateLimited(ferr)).Msg("fallback model failed")
		return buffer.Message{}, fmt.Errorf("%w: primary: %v, fallback: %v", ErrBackendUnavailable, err, ferr)
	}
	log.Info().Msg("fallback model answered")
	return buffer.ReplyFromChoice(choice, i.MalformedMarkers), nil
}

func hasTurn(msgs []buffer.Message) bool {
	for _, m := range msgs {
		if m.Kind != buffer.KindSystem {
			return true
		}
	}
	return false
}

func (i *Invoker) generate(ctx context.Context, m llms.Model, contents []llms.MessageContent) (*llms.ContentChoice, error) {
	var opts []llms.CallOption
	if len(i.Tools) > 0 {
		opts = append(opts, llms.WithTools(i.Tools))
	}
	resp, err := m.GenerateContent(ctx, contents, opts...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errEmptyResponse
	}
	return resp.Choices[0], nil
}
