package transcription

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"vaani/internal/apperr"
	"vaani/internal/upstream"
)

type Client interface {
	Transcribe(ctx context.Context, file io.Reader, fileName, model string) (string, error)
}

type Service struct {
	client  Client
	model   string
	timeout time.Duration
}

func New(client Client, model string, timeout time.Duration) *Service {
	return &Service{
		client:  client,
		model:   strings.TrimSpace(model),
		timeout: timeout,
	}
}

// Transcribe streams the saved upload at path to the ASR model.
func (s *Service) Transcribe(ctx context.Context, path, fileName string) (string, error) {
	if fileName == "" {
		fileName = "audio.wav"
	}

	f, err := os.Open(path)
	if err != nil {
		return "", apperr.Wrap(apperr.KindIO, "failed to open upload", err)
	}
	defer func() { _ = f.Close() }()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.client.Transcribe(ctx, f, fileName, s.model)
	if err != nil {
		return "", upstream.AsAppError("speech recognition", err)
	}
	return strings.TrimSpace(text), nil
}
