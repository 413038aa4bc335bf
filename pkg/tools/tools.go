// Package tools defines the capabilities the model can invoke while solving a
// task. Tool failures never escape as Go errors: they are reported to the
// model as a structured result so it can adapt.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"go-quizagent/pkg/logger"
	"go-quizagent/pkg/memory/buffer"
)

// Handler runs a tool. The returned value is encoded as JSON for the model.
type Handler func(ctx context.Context, args map[string]any) (any, error)

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

type Registry struct {
	tools map[string]*Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: map[string]*Tool{}}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	if _, ok := r.tools[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Catalog describes every tool to the backend.
func (r *Registry) Catalog() []llms.Tool {
	out := make([]llms.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Failure is the result reported when a tool cannot run at all.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Execute runs call and wraps its outcome in a tool-result message.
func (r *Registry) Execute(ctx context.Context, call buffer.ToolCall) buffer.Message {
	l := log.With().Str(logger.ToolField, call.Name).Logger()
	t, ok := r.tools[call.Name]
	if !ok {
		l.Warn().Msg("model requested an unknown tool")
		return result(call, Failure{Error: fmt.Sprintf("unknown tool %q, available: %s", call.Name, strings.Join(r.order, ", "))})
	}

	l.Info().Msg("running tool")
	out, err := t.Handler(ctx, call.Args)
	if err != nil {
		l.Error().Err(err).Msg("tool failed")
		return result(call, Failure{Error: err.Error()})
	}
	return result(call, out)
}

func result(call buffer.ToolCall, v any) buffer.Message {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(Failure{Error: fmt.Sprintf("encode result: %v", err)})
	}
	return buffer.ToolResult(call.ID, call.Name, string(b))
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

func optStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
