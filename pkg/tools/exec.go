package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	RunCodeToolName = "run_code"
	DepsToolName    = "add_dependencies"
	OCRToolName     = "ocr_image"
)

type CodeResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
}

// CodeRunner executes model-written programs with an interpreter command,
// for example ["uv", "run", "--no-project"]. The program path is appended.
type CodeRunner struct {
	Interpreter []string
	Dir         string
	Timeout     time.Duration
}

func (r *CodeRunner) Run(ctx context.Context, code string) CodeResult {
	if len(r.Interpreter) == 0 {
		return CodeResult{Stderr: "no interpreter configured", ReturnCode: -1}
	}
	f, err := os.CreateTemp("", "run-*.py")
	if err != nil {
		return CodeResult{Stderr: err.Error(), ReturnCode: -1}
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		return CodeResult{Stderr: err.Error(), ReturnCode: -1}
	}
	f.Close()

	log.Info().Str("preview", preview(code, 5)).Msg("running code")
	args := append(append([]string{}, r.Interpreter[1:]...), f.Name())
	res := runCommand(ctx, r.Timeout, r.Dir, r.Interpreter[0], args...)
	if res.ReturnCode != 0 {
		log.Warn().Int("return_code", res.ReturnCode).Str("stderr", preview(res.Stderr, 10)).Msg("code exited with error")
	}
	return res
}

func (r *CodeRunner) Tool() *Tool {
	return &Tool{
		Name:        RunCodeToolName,
		Description: "Run a Python program and return stdout, stderr and return_code. Print the values you need. Files downloaded earlier live in the workspace directory.",
		Parameters: objectSchema([]string{"code"}, map[string]any{
			"code": prop("string", "complete Python source"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			code, err := stringArg(args, "code")
			if err != nil {
				return nil, err
			}
			return r.Run(ctx, code), nil
		},
	}
}

type InstallResult struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// Installer adds packages with a package manager command such as ["uv", "add"].
type Installer struct {
	Command []string
	Dir     string
	Timeout time.Duration
}

func (i *Installer) Install(ctx context.Context, packages string) InstallResult {
	pkgs := strings.Fields(packages)
	if len(pkgs) == 0 {
		return InstallResult{Stderr: "no packages given"}
	}
	if len(i.Command) == 0 {
		return InstallResult{Stderr: "no installer configured"}
	}
	log.Info().Strs("packages", pkgs).Msg("installing dependencies")
	args := append(append([]string{}, i.Command[1:]...), pkgs...)
	res := runCommand(ctx, i.Timeout, i.Dir, i.Command[0], args...)
	return InstallResult{Success: res.ReturnCode == 0, Stdout: res.Stdout, Stderr: res.Stderr}
}

func (i *Installer) Tool() *Tool {
	return &Tool{
		Name:        DepsToolName,
		Description: "Install Python packages for run_code.",
		Parameters: objectSchema([]string{"packages"}, map[string]any{
			"packages": prop("string", "space separated package names"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			pkgs, err := stringArg(args, "packages")
			if err != nil {
				return nil, err
			}
			return i.Install(ctx, pkgs), nil
		},
	}
}

type OCRResult struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OCR shells out to the tesseract CLI.
type OCR struct {
	Binary    string
	Workspace Workspace
	Timeout   time.Duration
}

func (o *OCR) Read(ctx context.Context, imagePath string) OCRResult {
	p := o.Workspace.Resolve(imagePath)
	if _, err := os.Stat(p); err != nil {
		return OCRResult{Error: err.Error()}
	}
	bin := o.Binary
	if bin == "" {
		bin = "tesseract"
	}
	res := runCommand(ctx, o.Timeout, "", bin, p, "stdout")
	if res.ReturnCode != 0 {
		return OCRResult{Error: strings.TrimSpace(res.Stderr)}
	}
	log.Info().Str("path", p).Str("preview", preview(res.Stdout, 10)).Msg("ocr done")
	return OCRResult{Text: res.Stdout, Success: true}
}

func (o *OCR) Tool() *Tool {
	return &Tool{
		Name:        OCRToolName,
		Description: "Extract text from an image file with OCR.",
		Parameters: objectSchema([]string{"image_path"}, map[string]any{
			"image_path": prop("string", "path of the image file"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			p, err := stringArg(args, "image_path")
			if err != nil {
				return nil, err
			}
			return o.Read(ctx, p), nil
		},
	}
}

// runCommand runs name with args, capturing both streams. A timeout yields
// return code -1 with a timeout message on stderr.
func runCommand(ctx context.Context, timeout time.Duration, dir, name string, args ...string) CodeResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return CodeResult{Stdout: stdout.String(), Stderr: fmt.Sprintf("execution timeout after %s", timeout), ReturnCode: -1}
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return CodeResult{Stdout: stdout.String(), Stderr: stderr.String()}
	case errors.As(err, &exitErr):
		return CodeResult{Stdout: stdout.String(), Stderr: stderr.String(), ReturnCode: exitErr.ExitCode()}
	default:
		return CodeResult{Stdout: stdout.String(), Stderr: err.Error(), ReturnCode: -1}
	}
}

func preview(s string, lines int) string {
	parts := strings.SplitN(s, "\n", lines+1)
	if len(parts) > lines {
		parts = append(parts[:lines], "...")
	}
	return strings.Join(parts, "\n")
}
