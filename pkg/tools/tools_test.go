package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go-quizagent/pkg/config"
	"go-quizagent/pkg/memory/buffer"
	"go-quizagent/pkg/store"
)

func decode(t *testing.T, m buffer.Message) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(m.Text), &out); err != nil {
		t.Fatalf("tool result is not JSON: %q", m.Text)
	}
	return out
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "echo", Handler: func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"said": args["text"]}, nil
	}})
	r.Register(&Tool{Name: "broken", Handler: func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("disk on fire")
	}})

	m := r.Execute(context.Background(), buffer.ToolCall{ID: "c1", Name: "echo", Args: map[string]any{"text": "hi"}})
	if m.Kind != buffer.KindToolResult || m.CallID != "c1" || m.ToolName != "echo" {
		t.Errorf("message = %+v", m)
	}
	if decode(t, m)["said"] != "hi" {
		t.Errorf("result = %s", m.Text)
	}

	m = r.Execute(context.Background(), buffer.ToolCall{ID: "c2", Name: "broken"})
	if got := decode(t, m); got["success"] != false || got["error"] != "disk on fire" {
		t.Errorf("failure result = %s", m.Text)
	}

	m = r.Execute(context.Background(), buffer.ToolCall{ID: "c3", Name: "teleport"})
	if !strings.Contains(decode(t, m)["error"].(string), `"teleport"`) {
		t.Errorf("unknown tool result = %s", m.Text)
	}
}

func TestRegistry_CatalogKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "b", Parameters: objectSchema(nil, nil)})
	r.Register(&Tool{Name: "a"})
	r.Register(&Tool{Name: "b", Description: "replaced"})

	cat := r.Catalog()
	if len(cat) != 2 || cat[0].Function.Name != "b" || cat[1].Function.Name != "a" {
		t.Fatalf("catalog = %+v", cat)
	}
	if cat[0].Function.Description != "replaced" || cat[0].Type != "function" {
		t.Errorf("catalog[0] = %+v", cat[0].Function)
	}
}

func TestStandard_ToolNames(t *testing.T) {
	cfg := config.Default()
	r := Standard(cfg, Deps{Renderer: HTTPRenderer{}, Timing: store.NewTiming(), Placeholders: store.NewPlaceholders()})
	want := []string{RenderToolName, DownloadToolName, OCRToolName, TranscribeToolName, RunCodeToolName, DepsToolName, EncodeToolName, SubmitToolName}
	got := r.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestPageTool_FetchesImages(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	mux := http.NewServeMux()
	mux.HandleFunc("/quiz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>Q1</p><img src="/img/a.png"><img src="data:image/png;base64,AAAA"><img src="/missing.png"><img src="/img/a.png"></body></html>`))
	})
	mux.HandleFunc("/img/a.png", func(w http.ResponseWriter, r *http.Request) { w.Write(png) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := &PageTool{Renderer: HTTPRenderer{Client: srv.Client()}, Client: srv.Client(), MaxImageBytes: 1024}
	page := p.Fetch(context.Background(), srv.URL+"/quiz")
	if page.Error != "" || !strings.Contains(page.HTML, "Q1") {
		t.Fatalf("page = %+v", page)
	}
	if len(page.Images) != 1 {
		t.Fatalf("images = %+v, want one", page.Images)
	}
	if page.Images[0].Src != srv.URL+"/img/a.png" || page.Images[0].Base64 != base64.StdEncoding.EncodeToString(png) {
		t.Errorf("image = %+v", page.Images[0])
	}
}

func TestPageTool_RenderError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	page := (&PageTool{Renderer: HTTPRenderer{Client: srv.Client()}}).Fetch(context.Background(), srv.URL)
	if page.Error == "" || page.Images == nil {
		t.Errorf("page = %+v", page)
	}
}

func TestFetch_Limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()
	if _, err := fetch(context.Background(), srv.Client(), srv.URL, 10); err == nil {
		t.Error("expected oversize error")
	}
	if b, err := fetch(context.Background(), srv.Client(), srv.URL, 100); err != nil || len(b) != 100 {
		t.Errorf("fetch = %d bytes, %v", len(b), err)
	}
}

func TestDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("a,b\n1,2\n"))
	}))
	defer srv.Close()

	d := &Downloader{Workspace: Workspace(t.TempDir()), Client: srv.Client()}
	out := d.Download(context.Background(), srv.URL+"/files/data.csv", "")
	if !out.Success || out.Filename != "data.csv" || out.Size != 8 {
		t.Fatalf("download = %+v", out)
	}
	if b, _ := os.ReadFile(out.Filepath); string(b) != "a,b\n1,2\n" {
		t.Errorf("file contents = %q", b)
	}

	out = d.Download(context.Background(), srv.URL+"/x", "../../escape.txt")
	if !out.Success || filepath.Dir(out.Filepath) != string(d.Workspace) {
		t.Errorf("filename not confined to workspace: %+v", out)
	}

	out = d.Download(context.Background(), srv.URL+"/", "")
	if out.Filename != "downloaded_file" {
		t.Errorf("filename = %q, want downloaded_file", out.Filename)
	}

	if out = d.Download(context.Background(), srv.URL+"/gone", ""); out.Success || out.Error == "" {
		t.Errorf("404 download = %+v", out)
	}
}

func TestWorkspace_Resolve(t *testing.T) {
	ws := Workspace("LLMFiles")
	tests := map[string]string{
		"a.mp3":           filepath.Join("LLMFiles", "a.mp3"),
		"LLMFiles/a.mp3":  filepath.Join("LLMFiles", "a.mp3"),
		"/tmp/a.mp3":      "/tmp/a.mp3",
		"sub/dir/b.png":   filepath.Join("LLMFiles", "sub", "dir", "b.png"),
		"LLMFilesX/c.png": filepath.Join("LLMFiles", "LLMFilesX", "c.png"),
	}
	for in, want := range tests {
		if got := ws.Resolve(in); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEncoder(t *testing.T) {
	dir := t.TempDir()
	raw := []byte{1, 2, 3, 250}
	os.WriteFile(filepath.Join(dir, "img.png"), raw, 0o644)

	e := &Encoder{Workspace: Workspace(dir), Placeholders: store.NewPlaceholders()}
	out := e.Encode("img.png")
	if !out.Success || !strings.HasPrefix(out.Placeholder, store.PlaceholderPrefix) || out.Placeholder != store.PlaceholderPrefix+out.UUID {
		t.Fatalf("encode = %+v", out)
	}
	if got, _ := e.Placeholders.Get(out.UUID); got != base64.StdEncoding.EncodeToString(raw) {
		t.Errorf("stored %q", got)
	}

	if out := e.Encode("missing.png"); out.Success || out.Error == "" {
		t.Errorf("missing file = %+v", out)
	}
}

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(context.Context, string) (string, error) { return s.text, nil }

func TestAudioTool(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "clip.opus"), []byte("audio"), 0o644)

	a := &AudioTool{Workspace: Workspace(dir), Transcriber: stubTranscriber{"the cutoff is 1234"}}
	if out := a.Transcribe(context.Background(), "clip.opus"); !out.Success || out.Text != "the cutoff is 1234" {
		t.Errorf("transcribe = %+v", out)
	}
	if out := a.Transcribe(context.Background(), "nope.opus"); out.Success || !strings.Contains(out.Error, "not found") {
		t.Errorf("missing file = %+v", out)
	}
	a.Transcriber = nil
	if out := a.Transcribe(context.Background(), "clip.opus"); out.Success {
		t.Errorf("unconfigured transcriber = %+v", out)
	}
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCodeRunner(t *testing.T) {
	requireSh(t)
	r := &CodeRunner{Interpreter: []string{"sh"}, Timeout: 5 * time.Second}

	out := r.Run(context.Background(), "echo hello\necho oops >&2")
	if out.Stdout != "hello\n" || out.Stderr != "oops\n" || out.ReturnCode != 0 {
		t.Errorf("run = %+v", out)
	}
	if out := r.Run(context.Background(), "exit 3"); out.ReturnCode != 3 {
		t.Errorf("exit code = %d, want 3", out.ReturnCode)
	}
}

func TestCodeRunner_Timeout(t *testing.T) {
	requireSh(t)
	r := &CodeRunner{Interpreter: []string{"sh"}, Timeout: 100 * time.Millisecond}
	out := r.Run(context.Background(), "sleep 5")
	if out.ReturnCode != -1 || !strings.Contains(out.Stderr, "timeout") {
		t.Errorf("run = %+v", out)
	}
}

func TestInstaller(t *testing.T) {
	requireSh(t)
	i := &Installer{Command: []string{"sh", "-c", `echo "adding $*"`, "uv"}, Timeout: 5 * time.Second}
	out := i.Install(context.Background(), " pandas  numpy ")
	if !out.Success || out.Stdout != "adding pandas numpy\n" {
		t.Errorf("install = %+v", out)
	}
	if out := i.Install(context.Background(), "   "); out.Success {
		t.Errorf("empty install = %+v", out)
	}
}

func TestOCR_MissingFile(t *testing.T) {
	o := &OCR{Workspace: Workspace(t.TempDir())}
	if out := o.Read(context.Background(), "none.png"); out.Success || out.Error == "" {
		t.Errorf("ocr = %+v", out)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("a\nb\nc", 2); got != "a\nb\n..." {
		t.Errorf("preview = %q", got)
	}
	if got := preview("a", 2); got != "a" {
		t.Errorf("preview = %q", got)
	}
}
