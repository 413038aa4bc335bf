package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"go-quizagent/pkg/store"
)

const (
	DownloadToolName = "download_file"
	EncodeToolName   = "encode_image_to_base64"
)

// Workspace is the directory that tools read from and write into.
type Workspace string

// Resolve maps p into the workspace unless it is absolute or already
// rooted there.
func (w Workspace) Resolve(p string) string {
	dir := filepath.Clean(string(w))
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) || dir == "." || clean == dir || strings.HasPrefix(clean, dir+string(filepath.Separator)) {
		return clean
	}
	return filepath.Join(dir, clean)
}

type Download struct {
	Filepath string `json:"filepath"`
	Size     int64  `json:"size"`
	Filename string `json:"filename"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

type Downloader struct {
	Workspace Workspace
	Client    *http.Client
}

func (d *Downloader) Download(ctx context.Context, target, filename string) Download {
	if filename == "" {
		if u, err := url.Parse(target); err == nil {
			filename = path.Base(u.Path)
		}
	}
	filename = filepath.Base(filename)
	if filename == "" || filename == "." || filename == "/" {
		filename = "downloaded_file"
	}
	out := Download{Filename: filename}

	if err := os.MkdirAll(string(d.Workspace), 0o755); err != nil {
		out.Error = fmt.Sprintf("create workspace: %v", err)
		return out
	}
	b, err := fetch(ctx, d.Client, target, 0)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	dst := filepath.Join(string(d.Workspace), filename)
	if err := os.WriteFile(dst, b, 0o644); err != nil {
		out.Error = fmt.Sprintf("write file: %v", err)
		return out
	}
	log.Info().Str("url", target).Str("filepath", dst).Int("size", len(b)).Msg("file downloaded")

	out.Filepath = dst
	out.Size = int64(len(b))
	out.Success = true
	return out
}

func (d *Downloader) Tool() *Tool {
	return &Tool{
		Name:        DownloadToolName,
		Description: "Download a file (csv, pdf, image, audio...) into the workspace directory. Returns filepath, size and filename.",
		Parameters: objectSchema([]string{"url"}, map[string]any{
			"url":      prop("string", "file URL"),
			"filename": prop("string", "optional name to save as, defaults to the URL basename"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			u, err := stringArg(args, "url")
			if err != nil {
				return nil, err
			}
			return d.Download(ctx, u, optStringArg(args, "filename")), nil
		},
	}
}

type Encoded struct {
	Placeholder string `json:"placeholder"`
	UUID        string `json:"uuid"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// Encoder stores file contents as base64 and hands the model a short token
// instead of the data.
type Encoder struct {
	Workspace    Workspace
	Placeholders *store.Placeholders
}

func (e *Encoder) Encode(p string) Encoded {
	b, err := os.ReadFile(e.Workspace.Resolve(p))
	if err != nil {
		return Encoded{Error: err.Error()}
	}
	token := e.Placeholders.Put(base64.StdEncoding.EncodeToString(b))
	log.Info().Str("path", p).Int("bytes", len(b)).Msg("stored encoded file")
	return Encoded{
		Placeholder: token,
		UUID:        strings.TrimPrefix(token, store.PlaceholderPrefix),
		Success:     true,
	}
}

func (e *Encoder) Tool() *Tool {
	return &Tool{
		Name: EncodeToolName,
		Description: "Base64 encode an image file and store it. Returns a placeholder BASE64_KEY:<uuid>; put the placeholder " +
			"in a post_request payload and it is replaced with the data when sent. Never paste base64 yourself.",
		Parameters: objectSchema([]string{"image_path"}, map[string]any{
			"image_path": prop("string", "path of the image file"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			p, err := stringArg(args, "image_path")
			if err != nil {
				return nil, err
			}
			return e.Encode(p), nil
		},
	}
}
