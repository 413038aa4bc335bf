// Package config loads process configuration once at startup: an optional
// YAML file (with ${VAR} expansion) overlaid by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go-quizagent/pkg/memory/buffer"
)

type Config struct {
	Email  string `yaml:"email"`
	Secret string `yaml:"secret"`

	Listen  ListenConfig  `yaml:"listen"`
	Log     LogConfig     `yaml:"log"`
	Backend BackendConfig `yaml:"backend"`
	Loop    LoopConfig    `yaml:"loop"`
	Chain   ChainConfig   `yaml:"chain"`
	Tools   ToolsConfig   `yaml:"tools"`
}

type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// OriginPatterns are extra browser origins allowed on the event stream.
	OriginPatterns []string `yaml:"origin_patterns"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type BackendConfig struct {
	Primary  ModelConfig `yaml:"primary"`
	Fallback ModelConfig `yaml:"fallback"`
	// RequestsPerMinute paces calls to the language model; 0 disables pacing.
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	// MalformedMarkers are finish reasons that flag a broken tool call.
	MalformedMarkers []string `yaml:"malformed_markers"`
}

type ModelConfig struct {
	Provider string `yaml:"provider"` // googleai, openai; empty disables the model
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

type LoopConfig struct {
	HardCeiling  time.Duration `yaml:"hard_ceiling"`
	StallCeiling time.Duration `yaml:"stall_ceiling"` // 0 disables the stall check
	MaxSteps     int           `yaml:"max_steps"`
	MaxRepairs   int           `yaml:"max_repairs"`

	CompactionMode string  `yaml:"compaction_mode"` // messages, tokens
	Window         int     `yaml:"window"`
	MaxTokens      int     `yaml:"max_tokens"`
	KeepRatio      float64 `yaml:"keep_ratio"`
	Tiktoken       bool    `yaml:"tiktoken"`

	EndTokens   []string `yaml:"end_tokens"`
	EndKeywords bool     `yaml:"end_keywords"`
}

type ChainConfig struct {
	Delay time.Duration `yaml:"delay"`
}

type ToolsConfig struct {
	Workspace     string        `yaml:"workspace"`
	Renderer      string        `yaml:"renderer"` // chrome, http
	RenderTimeout time.Duration `yaml:"render_timeout"`
	MaxImageBytes int64         `yaml:"max_image_bytes"`

	Interpreter    []string      `yaml:"interpreter"`
	CodeTimeout    time.Duration `yaml:"code_timeout"`
	Installer      []string      `yaml:"installer"`
	InstallTimeout time.Duration `yaml:"install_timeout"`
	Tesseract      string        `yaml:"tesseract"`

	TranscribeModel string `yaml:"transcribe_model"`
	OpenAIKey       string `yaml:"openai_api_key"`

	SubmitRetries   int           `yaml:"submit_retries"`
	SubmitBackoff   time.Duration `yaml:"submit_backoff"`
	SubmitTimeout   time.Duration `yaml:"submit_timeout"`
	SubmitLimit     int           `yaml:"submit_limit"`
	SubmitWindow    time.Duration `yaml:"submit_window"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 7860},
		Log:    LogConfig{Level: "info", Pretty: true},
		Backend: BackendConfig{
			Primary:           ModelConfig{Provider: "googleai", Model: "gemini-2.5-flash"},
			Fallback:          ModelConfig{Provider: "openai", Model: "gpt-4o-mini"},
			RequestsPerMinute: 15,
			MalformedMarkers:  append([]string(nil), buffer.DefaultMalformedMarkers...),
		},
		Loop: LoopConfig{
			HardCeiling:    180 * time.Second,
			StallCeiling:   90 * time.Second,
			MaxSteps:       200,
			MaxRepairs:     3,
			CompactionMode: "messages",
			Window:         15,
			MaxTokens:      60000,
			KeepRatio:      0.6,
			EndTokens:      []string{"END"},
		},
		Chain: ChainConfig{Delay: 2 * time.Second},
		Tools: ToolsConfig{
			Workspace:       "LLMFiles",
			Renderer:        "chrome",
			RenderTimeout:   30 * time.Second,
			MaxImageBytes:   2 << 20,
			Interpreter:     []string{"uv", "run", "--no-project"},
			CodeTimeout:     30 * time.Second,
			Installer:       []string{"uv", "add"},
			InstallTimeout:  120 * time.Second,
			Tesseract:       "tesseract",
			TranscribeModel: "whisper-1",
			SubmitRetries:   4,
			SubmitBackoff:   2 * time.Second,
			SubmitTimeout:   30 * time.Second,
			SubmitLimit:     4,
			SubmitWindow:    60 * time.Second,
			DownloadTimeout: 30 * time.Second,
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment. A missing explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("EMAIL", &c.Email)
	str("SECRET", &c.Secret)
	str("LOG_LEVEL", &c.Log.Level)
	str("GOOGLE_API_KEY", &c.Backend.Primary.APIKey)
	str("PRIMARY_PROVIDER", &c.Backend.Primary.Provider)
	str("PRIMARY_MODEL", &c.Backend.Primary.Model)
	str("FALLBACK_PROVIDER", &c.Backend.Fallback.Provider)
	str("FALLBACK_MODEL", &c.Backend.Fallback.Model)
	str("OPENAI_API_KEY", &c.Backend.Fallback.APIKey)
	str("OPENAI_API_KEY", &c.Tools.OpenAIKey)
	str("WORKSPACE_DIR", &c.Tools.Workspace)
	str("RENDERER", &c.Tools.Renderer)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Listen.Port = port
	}
	if v, ok := lookup("LOG_PRETTY"); ok && v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = pretty
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Loop.HardCeiling <= 0 {
		errs = append(errs, errors.New("loop.hard_ceiling must be positive"))
	}
	if c.Loop.StallCeiling < 0 {
		errs = append(errs, errors.New("loop.stall_ceiling must not be negative"))
	}
	if c.Loop.MaxSteps <= 0 {
		errs = append(errs, errors.New("loop.max_steps must be positive"))
	}
	switch c.Loop.CompactionMode {
	case "messages", "tokens":
	default:
		errs = append(errs, fmt.Errorf("loop.compaction_mode %q unknown (messages, tokens)", c.Loop.CompactionMode))
	}
	if len(c.Loop.EndTokens) == 0 {
		errs = append(errs, errors.New("loop.end_tokens must not be empty"))
	}
	for _, m := range []ModelConfig{c.Backend.Primary, c.Backend.Fallback} {
		switch strings.ToLower(m.Provider) {
		case "", "googleai", "openai":
		default:
			errs = append(errs, fmt.Errorf("backend provider %q unknown (googleai, openai)", m.Provider))
		}
	}
	if c.Backend.Primary.Provider == "" {
		errs = append(errs, errors.New("backend.primary.provider is required"))
	}
	switch c.Tools.Renderer {
	case "chrome", "http":
	default:
		errs = append(errs, fmt.Errorf("tools.renderer %q unknown (chrome, http)", c.Tools.Renderer))
	}
	if c.Tools.SubmitLimit <= 0 || c.Tools.SubmitWindow <= 0 {
		errs = append(errs, errors.New("tools.submit_limit and tools.submit_window must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}
