package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	goopenai "github.com/sashabaranov/go-openai"
)

const TranscribeToolName = "transcribe_audio"

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// WhisperTranscriber sends audio files to the OpenAI transcription API.
type WhisperTranscriber struct {
	Client *goopenai.Client
	Model  string
}

func NewWhisperTranscriber(apiKey, model string) *WhisperTranscriber {
	if model == "" {
		model = goopenai.Whisper1
	}
	return &WhisperTranscriber{Client: goopenai.NewClient(apiKey), Model: model}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := w.Client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    w.Model,
		FilePath: path,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return resp.Text, nil
}

type Transcript struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type AudioTool struct {
	Workspace   Workspace
	Transcriber Transcriber
}

func (a *AudioTool) Transcribe(ctx context.Context, audioPath string) Transcript {
	p := a.Workspace.Resolve(audioPath)
	if _, err := os.Stat(p); err != nil {
		return Transcript{Error: fmt.Sprintf("file not found at %s", p)}
	}
	if a.Transcriber == nil {
		return Transcript{Error: "transcription is not configured"}
	}
	text, err := a.Transcriber.Transcribe(ctx, p)
	if err != nil {
		return Transcript{Error: err.Error()}
	}
	log.Info().Str("path", p).Int("chars", len(text)).Msg("audio transcribed")
	return Transcript{Text: text, Success: true}
}

func (a *AudioTool) Tool() *Tool {
	return &Tool{
		Name:        TranscribeToolName,
		Description: "Transcribe an audio file (mp3, wav, opus...) to text. Relative paths are read from the workspace directory.",
		Parameters: objectSchema([]string{"audio_path"}, map[string]any{
			"audio_path": prop("string", "path of the audio file"),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			p, err := stringArg(args, "audio_path")
			if err != nil {
				return nil, err
			}
			return a.Transcribe(ctx, p), nil
		},
	}
}
