package tools

import (
	"net/http"
	"strings"

	"go-quizagent/pkg/config"
	"go-quizagent/pkg/retry"
	"go-quizagent/pkg/store"
)

// Deps are the collaborators shared by a chain's tools. Timing and
// Placeholders belong to one chain; the rest may be shared.
type Deps struct {
	Renderer     Renderer
	Transcriber  Transcriber
	Limiter      *SlidingWindow
	Timing       *store.Timing
	Placeholders *store.Placeholders
}

// NewRenderer picks the page renderer named in cfg.
func NewRenderer(cfg config.ToolsConfig) Renderer {
	if strings.EqualFold(cfg.Renderer, "http") {
		return HTTPRenderer{Client: &http.Client{Timeout: cfg.RenderTimeout}}
	}
	return ChromeRenderer{Timeout: cfg.RenderTimeout}
}

// NewTranscriber returns nil when no OpenAI key is configured.
func NewTranscriber(cfg config.ToolsConfig) Transcriber {
	if cfg.OpenAIKey == "" {
		return nil
	}
	return NewWhisperTranscriber(cfg.OpenAIKey, cfg.TranscribeModel)
}

// Standard registers every tool the solver offers the model.
func Standard(cfg *config.Config, d Deps) *Registry {
	t := cfg.Tools
	ws := Workspace(t.Workspace)
	if d.Renderer == nil {
		d.Renderer = NewRenderer(t)
	}

	r := NewRegistry()
	r.Register((&PageTool{
		Renderer:      d.Renderer,
		Client:        &http.Client{Timeout: t.DownloadTimeout},
		MaxImageBytes: t.MaxImageBytes,
	}).Tool())
	r.Register((&Downloader{Workspace: ws, Client: &http.Client{Timeout: t.DownloadTimeout}}).Tool())
	r.Register((&OCR{Binary: t.Tesseract, Workspace: ws, Timeout: t.CodeTimeout}).Tool())
	r.Register((&AudioTool{Workspace: ws, Transcriber: d.Transcriber}).Tool())
	r.Register((&CodeRunner{Interpreter: t.Interpreter, Timeout: t.CodeTimeout}).Tool())
	r.Register((&Installer{Command: t.Installer, Timeout: t.InstallTimeout}).Tool())
	r.Register((&Encoder{Workspace: ws, Placeholders: d.Placeholders}).Tool())
	r.Register((&Submitter{
		Email:        cfg.Email,
		Secret:       cfg.Secret,
		Client:       &http.Client{Timeout: t.SubmitTimeout},
		Placeholders: d.Placeholders,
		Timing:       d.Timing,
		Limiter:      d.Limiter,
		Policy:       retry.Policy{MaxAttempts: t.SubmitRetries, Backoff: t.SubmitBackoff},
	}).Tool())
	return r
}
