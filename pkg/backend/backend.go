// Package backend builds the language-model clients the control loop talks to.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"go-quizagent/pkg/config"
)

var ErrDisabled = errors.New("backend disabled")

// New returns the model described by cfg, or ErrDisabled when cfg names no
// provider.
func New(ctx context.Context, cfg config.ModelConfig) (llms.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "":
		return nil, ErrDisabled
	case "googleai":
		opts := []googleai.Option{googleai.WithDefaultModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, googleai.WithAPIKey(cfg.APIKey))
		}
		m, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("googleai: %w", err)
		}
		return m, nil
	case "openai":
		opts := []openai.Option{openai.WithModel(cfg.Model)}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		m, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// Paced wraps a model with a token bucket so the loop never exceeds the
// backend's request quota on its own.
type Paced struct {
	llms.Model
	limiter *rate.Limiter
}

// NewPaced allows perMinute requests per minute with a burst of one. A
// non-positive rate returns m unchanged.
func NewPaced(m llms.Model, perMinute float64) llms.Model {
	if perMinute <= 0 {
		return m
	}
	every := time.Duration(float64(time.Minute) / perMinute)
	return &Paced{Model: m, limiter: rate.NewLimiter(rate.Every(every), 1)}
}

func (p *Paced) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pace: %w", err)
	}
	return p.Model.GenerateContent(ctx, messages, options...)
}

func (p *Paced) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, p, prompt, options...)
}

var rateLimitHints = []string{"429", "rate limit", "ratelimit", "quota", "resource_exhausted", "too many requests"}

// IsRateLimited reports whether err looks like a rate or quota rejection.
// Providers do not share an error type for this, so the message is inspected.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range rateLimitHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
