package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tmc/langchaingo/llms"

	solver "go-quizagent/internal/agents/solver/handler"
	"go-quizagent/pkg/config"
	"go-quizagent/pkg/events"
	"go-quizagent/pkg/memory/buffer"
	"go-quizagent/pkg/models"
	"go-quizagent/pkg/tools"
)

type scriptedModel struct {
	mu      sync.Mutex
	replies []*llms.ContentChoice
	err     error
	calls   int
}

func (m *scriptedModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	i := m.calls
	m.calls++
	c := &llms.ContentChoice{Content: "END"}
	if i < len(m.replies) {
		c = m.replies[i]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{c}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func submitCall(id, endpoint string) *llms.ContentChoice {
	args, _ := json.Marshal(map[string]any{"url": endpoint, "payload": map[string]any{"answer": 42}})
	return &llms.ContentChoice{ToolCalls: []llms.ToolCall{{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: tools.SubmitToolName, Arguments: string(args)},
	}}}
}

type recorder struct {
	started, finished []models.TaskRun
}

func (r *recorder) TaskStarted(run models.TaskRun)  { r.started = append(r.started, run) }
func (r *recorder) TaskFinished(run models.TaskRun) { r.finished = append(r.finished, run) }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Email = "me@example.com"
	cfg.Secret = "s3cret"
	cfg.Chain.Delay = 0
	cfg.Tools.Renderer = "http"
	cfg.Tools.SubmitBackoff = time.Millisecond
	return cfg
}

func quizServer(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	submissions := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		submissions++
		n := submissions
		mu.Unlock()
		if n == 1 {
			fmt.Fprintf(w, `{"correct":true,"url":%q}`, srv.URL+"/q2")
			return
		}
		w.Write([]byte(`{"correct":false,"reason":"nope","url":null}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_FollowsChainToTheEnd(t *testing.T) {
	srv := quizServer(t)
	m := &scriptedModel{replies: []*llms.ContentChoice{
		submitCall("a", srv.URL+"/submit"),
		{Content: "END"},
		submitCall("b", srv.URL+"/submit"),
		{Content: "END"},
	}}
	hub := events.NewHub()
	stream, cancel := hub.Subscribe("chain-1")
	defer cancel()

	h := New(Options{Config: testConfig(), Primary: m, Renderer: tools.HTTPRenderer{}, Hub: hub})
	rep := &recorder{}
	chain, err := h.Run(context.Background(), "chain-1", srv.URL+"/q1", rep)
	if err != nil {
		t.Fatal(err)
	}

	if chain.State != models.Finished || len(chain.Tasks) != 2 {
		t.Fatalf("chain = %+v", chain)
	}
	if chain.Tasks[0].URL != srv.URL+"/q1" || chain.Tasks[0].NextURL != srv.URL+"/q2" {
		t.Errorf("task 0 = %+v", chain.Tasks[0])
	}
	if chain.Tasks[1].URL != srv.URL+"/q2" || chain.Tasks[1].NextURL != "" || chain.Tasks[1].Index != 1 {
		t.Errorf("task 1 = %+v", chain.Tasks[1])
	}
	if chain.Tasks[0].ID == chain.Tasks[1].ID || chain.Tasks[1].Finished == nil {
		t.Errorf("task runs not distinct or unfinished: %+v", chain.Tasks)
	}
	if len(rep.started) != 2 || len(rep.finished) != 2 {
		t.Errorf("reporter saw %d started, %d finished", len(rep.started), len(rep.finished))
	}

	var last events.Event
	for e := range stream {
		last = e
		if e.Terminal() {
			break
		}
	}
	if last.Type != events.ChainFinished {
		t.Errorf("last event = %+v", last)
	}
}

func TestRun_BackendFailureAbortsChain(t *testing.T) {
	m := &scriptedModel{err: errors.New("boom")}
	h := New(Options{Config: testConfig(), Primary: m, Renderer: tools.HTTPRenderer{}})
	rep := &recorder{}

	chain, err := h.Run(context.Background(), "c", "https://q.example/1", rep)
	if !errors.Is(err, solver.ErrBackendUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if chain.State != models.Failed || chain.Errs == nil || len(chain.Tasks) != 1 {
		t.Errorf("chain = %+v", chain)
	}
	if len(rep.finished) != 0 {
		t.Error("failed task reported as finished")
	}
}

func TestRun_CancelledDuringDelay(t *testing.T) {
	srv := quizServer(t)
	m := &scriptedModel{replies: []*llms.ContentChoice{submitCall("a", srv.URL+"/submit")}}
	cfg := testConfig()
	cfg.Chain.Delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	rep := &cancelOnFinish{cancel: cancel}
	chain, err := New(Options{Config: cfg, Primary: m, Renderer: tools.HTTPRenderer{}}).Run(ctx, "c", srv.URL+"/q1", rep)
	if !errors.Is(err, context.Canceled) || chain.State != models.Failed {
		t.Errorf("Run() = %+v, %v", chain, err)
	}
}

type cancelOnFinish struct{ cancel context.CancelFunc }

func (c *cancelOnFinish) TaskStarted(models.TaskRun)  {}
func (c *cancelOnFinish) TaskFinished(models.TaskRun) { c.cancel() }

func TestNextURL(t *testing.T) {
	const current = "https://q.example/1"
	reply := func(text string) buffer.Message { return buffer.Reply(text) }
	result := func(tool, text string) buffer.Message { return buffer.ToolResult("id", tool, text) }

	tests := []struct {
		name string
		msgs []buffer.Message
		want string
	}{
		{
			"submission next_url",
			[]buffer.Message{result(tools.SubmitToolName, `{"success":true,"correct":true,"next_url":"https://q.example/2"}`)},
			"https://q.example/2",
		},
		{
			"latest submission wins",
			[]buffer.Message{
				result(tools.SubmitToolName, `{"success":true,"next_url":"https://q.example/old"}`),
				result(tools.SubmitToolName, `{"success":true,"next_url":"https://q.example/new"}`),
			},
			"https://q.example/new",
		},
		{
			"current page url skipped",
			[]buffer.Message{
				result(tools.SubmitToolName, `{"success":true,"next_url":"https://q.example/2"}`),
				result(tools.RenderToolName, `{"html":"<p/>","url":"https://q.example/1"}`),
			},
			"https://q.example/2",
		},
		{
			"explicit null ends chain",
			[]buffer.Message{
				result(tools.SubmitToolName, `{"success":true,"correct":true,"next_url":"https://q.example/2"}`),
				result(tools.SubmitToolName, `{"success":true,"correct":true,"next_url":null}`),
				reply("all done, see https://q.example/elsewhere"),
			},
			"",
		},
		{
			"failed submission does not end chain",
			[]buffer.Message{
				result(tools.SubmitToolName, `{"success":false,"next_url":null,"error":"HTTP 500"}`),
				reply("the next task is at https://q.example/3."),
			},
			"https://q.example/3",
		},
		{
			"reply text fallback",
			[]buffer.Message{reply("Moving on to https://q.example/1 then https://q.example/4")},
			"https://q.example/4",
		},
		{
			"page html ignored by fallback",
			[]buffer.Message{result(tools.RenderToolName, `<a href="https://q.example/submit">`)},
			"",
		},
		{
			"rendered sub-page then failed submission",
			[]buffer.Message{
				result(tools.RenderToolName, `{"html":"<a href=\"/data\">","images":[],"url":"https://q.example/1"}`),
				result(tools.RenderToolName, `{"html":"secret 42","images":[],"url":"https://q.example/data?email=x"}`),
				result(tools.SubmitToolName, `{"success":false,"next_url":null,"attempt":4,"error":"HTTP 500"}`),
				reply("END"),
			},
			"",
		},
		{
			"rendered page without submission",
			[]buffer.Message{
				result(tools.RenderToolName, `{"html":"","images":[],"url":"https://q.example/data","error":"timeout"}`),
				reply("END"),
			},
			"",
		},
		{
			"url inside server data",
			[]buffer.Message{
				result(tools.RenderToolName, `{"html":"","images":[],"url":"https://q.example/data"}`),
				result(tools.SubmitToolName, `{"success":true,"correct":true,"data":{"correct":true,"url":"https://q.example/5"},"attempt":1}`),
			},
			"https://q.example/5",
		},
		{
			"reasoning before submission ignored",
			[]buffer.Message{
				buffer.Reply("scraping https://q.example/data first", buffer.Call("c1", tools.RenderToolName, map[string]any{"url": "https://q.example/data"})),
				result(tools.SubmitToolName, `{"success":false,"next_url":null,"error":"HTTP 400"}`),
			},
			"",
		},
		{"nothing", []buffer.Message{reply("END")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := append(buffer.New("sys", current).Messages(), tt.msgs...)
			if got := nextURL(msgs, current); got != tt.want {
				t.Errorf("nextURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
