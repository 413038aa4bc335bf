package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"go-quizagent/pkg/logger"
	"go-quizagent/pkg/models"
	"go-quizagent/pkg/retry"
	"go-quizagent/pkg/store"
)

const SubmitToolName = "post_request"

// Submitter posts answers to the quiz server.
type Submitter struct {
	Email  string
	Secret string

	Client       *http.Client
	Placeholders *store.Placeholders
	Timing       *store.Timing
	Limiter      *SlidingWindow
	Policy       retry.Policy

	Now func() time.Time
}

func (s *Submitter) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Submit sends payload to endpoint. It never returns an error: transport
// and HTTP failures are folded into the outcome once retries run out.
// maxRetries overrides the policy's attempt count when positive.
func (s *Submitter) Submit(ctx context.Context, endpoint string, payload map[string]any, maxRetries int) models.SubmitOutcome {
	l := log.With().Str(logger.ToolField, SubmitToolName).Str("endpoint", endpoint).Logger()

	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	if _, ok := body["email"]; !ok {
		body["email"] = s.Email
	}
	if _, ok := body["secret"]; !ok {
		body["secret"] = s.Secret
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return models.SubmitOutcome{Error: fmt.Sprintf("encode payload: %v", err)}
	}
	if s.Placeholders != nil {
		var n int
		raw, n = s.Placeholders.Substitute(raw)
		if n > 0 {
			l.Info().Int("placeholders", n).Msg("substituted encoded attachments")
		}
	}
	l.Info().Interface("payload", logger.SafePayload(body)).Msg("submitting answer")

	policy := s.Policy
	if maxRetries > 0 {
		policy.MaxAttempts = maxRetries
	}
	policy.Retryable = func(error) bool { return ctx.Err() == nil }
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		l.Warn().Err(err).Int(logger.AttemptField, attempt).Dur("wait", wait).Msg("submission failed, retrying")
	}

	if s.Timing != nil {
		at := s.now()
		if url, _, ok := s.Timing.Current(); ok {
			s.Timing.MarkSubmitted(url, at)
		}
		s.Timing.SetOffset(at)
	}

	var (
		status int
		data   map[string]any
	)
	attempts, err := policy.Do(ctx, func(attempt int) error {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}
		var perr error
		status, data, perr = s.post(ctx, endpoint, raw)
		if perr != nil {
			return perr
		}
		if status != http.StatusOK {
			return fmt.Errorf("HTTP %d", status)
		}
		return nil
	})
	if err != nil {
		l.Error().Err(err).Int(logger.AttemptField, attempts).Msg("submission gave up")
		return models.SubmitOutcome{StatusCode: status, Data: data, Attempt: attempts, Error: err.Error()}
	}

	out := models.SubmitOutcome{Success: true, StatusCode: status, Data: data, Attempt: attempts}
	out.Correct, _ = data["correct"].(bool)
	out.Reason, _ = data["reason"].(string)
	for _, key := range []string{"url", "next_url"} {
		if next, _ := data[key].(string); next != "" {
			out.NextURL = &next
			break
		}
	}

	e := l.Info()
	if !out.Correct {
		e = l.Warn().Str("reason", out.Reason)
	}
	e.Bool("correct", out.Correct).Int(logger.AttemptField, attempts).Msg("submission answered")
	if out.NextURL == nil {
		l.Info().Msg("no next url, chain complete")
	}
	return out
}

func (s *Submitter) post(ctx context.Context, endpoint string, body []byte) (int, map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil || data == nil {
		data = map[string]any{"text": string(b)}
	}
	return resp.StatusCode, data, nil
}

// Tool exposes the submitter to the model.
func (s *Submitter) Tool() *Tool {
	return &Tool{
		Name: SubmitToolName,
		Description: "Submit an answer with an HTTP POST to the submit endpoint named on the task page. " +
			"Email and secret are added automatically when missing. Strings of the form BASE64_KEY:<uuid> " +
			"are replaced with the stored base64 data before sending. Returns correct, reason and next_url.",
		Parameters: objectSchema([]string{"url", "payload"}, map[string]any{
			"url":         prop("string", "submit endpoint URL"),
			"payload":     prop("object", "JSON body with the answer fields, e.g. url and answer"),
			"max_retries": prop("integer", "maximum attempts, default 4"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			endpoint, err := stringArg(args, "url")
			if err != nil {
				return nil, err
			}
			payload, ok := args["payload"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("argument %q must be an object", "payload")
			}
			return s.Submit(ctx, endpoint, payload, intArg(args, "max_retries", 0)), nil
		},
	}
}
