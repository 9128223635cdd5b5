package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ManuelReschke/VoxRelay/internal/pkg/config"
)

// ErrEmptyTranscript is returned when the engine answered with no text.
var ErrEmptyTranscript = errors.New("transcription returned no text")

// Whisper sends audio to an OpenAI compatible /audio/transcriptions endpoint.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
}

func NewWhisper(cfg *config.Config) *Whisper {
	oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if base := strings.TrimRight(cfg.OpenAIBaseURL, "/"); base != "" {
		oc.BaseURL = base
	}
	return NewWhisperWithConfig(oc, cfg.TranscribeModel, cfg.TranscribeLanguage)
}

func NewWhisperWithConfig(oc openai.ClientConfig, model, language string) *Whisper {
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{client: openai.NewClientWithConfig(oc), model: model, language: language}
}

// Transcribe returns the trimmed transcript of audio. fileName must carry an
// extension the engine recognises.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, fileName string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("no audio data")
	}
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: fileName,
		Reader:   bytes.NewReader(audio),
		Language: w.language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("transcription rejected (status=%d): %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	log.Debugf("[Transcribe] %s: %d bytes -> %d chars", fileName, len(audio), len(text))
	return text, nil
}
