// Package classification decides the spoken language of an upload, either by
// policy (WAV is assumed Marathi) or by asking the classifier service.
package classification

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"vaani/internal/apperr"
	"vaani/internal/upstream"
	"vaani/internal/upstream/classifier"
)

const (
	Hindi   = "Hindi"
	Marathi = "Marathi"
	Bengali = "Bengali"
	Tamil   = "Tamil"
	Telugu  = "Telugu"
)

// Languages is the closed label set the classifier may return.
var Languages = []string{Hindi, Marathi, Bengali, Tamil, Telugu}

type Client interface {
	Classify(ctx context.Context, file io.Reader, fileName string) (classifier.Prediction, error)
}

type Result struct {
	Language      string
	Confidence    float64
	Probabilities map[string]float64
	// Bypassed is true when policy decided the language without the classifier.
	Bypassed bool
}

func (r Result) IsMarathi() bool {
	return strings.EqualFold(r.Language, Marathi)
}

type Service struct {
	client            Client
	timeout           time.Duration
	wavAssumesMarathi bool
}

func New(client Client, timeout time.Duration, wavAssumesMarathi bool) *Service {
	return &Service{
		client:            client,
		timeout:           timeout,
		wavAssumesMarathi: wavAssumesMarathi,
	}
}

func (s *Service) Detect(ctx context.Context, path, fileName, ext string) (Result, error) {
	if s.wavAssumesMarathi && strings.EqualFold(ext, "wav") {
		return marathiByPolicy(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindIO, "failed to open upload", err)
	}
	defer func() { _ = f.Close() }()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	pred, err := s.client.Classify(ctx, f, fileName)
	if err != nil {
		return Result{}, upstream.AsAppError("language classifier", err)
	}
	return normalize(pred)
}

func marathiByPolicy() Result {
	probs := make(map[string]float64, len(Languages))
	for _, lang := range Languages {
		probs[lang] = 0
	}
	probs[Marathi] = 1
	return Result{Language: Marathi, Confidence: 1, Probabilities: probs, Bypassed: true}
}

func normalize(pred classifier.Prediction) (Result, error) {
	label, ok := canonical(pred.Language)
	if !ok {
		return Result{}, apperr.Newf(apperr.KindUpstreamError, "language classifier returned unknown label %q", pred.Language)
	}
	if !inUnitRange(pred.Confidence) {
		return Result{}, apperr.Newf(apperr.KindUpstreamError, "language classifier returned confidence %v outside [0,1]", pred.Confidence)
	}

	probs := make(map[string]float64, len(Languages))
	for _, lang := range Languages {
		probs[lang] = 0
	}
	for raw, p := range pred.Probabilities {
		lang, ok := canonical(raw)
		if !ok {
			return Result{}, apperr.Newf(apperr.KindUpstreamError, "language classifier returned unknown label %q", raw)
		}
		if !inUnitRange(p) {
			return Result{}, apperr.New(apperr.KindUpstreamError, fmt.Sprintf("language classifier returned probability %v for %s", p, lang))
		}
		probs[lang] = p
	}
	return Result{Language: label, Confidence: pred.Confidence, Probabilities: probs}, nil
}

func canonical(label string) (string, bool) {
	label = strings.TrimSpace(label)
	for _, lang := range Languages {
		if strings.EqualFold(label, lang) {
			return lang, true
		}
	}
	return "", false
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
