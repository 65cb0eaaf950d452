package classification

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vaani/internal/apperr"
	"vaani/internal/upstream"
	"vaani/internal/upstream/classifier"
)

type fakeClient struct {
	calls    int
	fileName string
	body     string
	pred     classifier.Prediction
	err      error
	wait     bool
}

func (f *fakeClient) Classify(ctx context.Context, file io.Reader, fileName string) (classifier.Prediction, error) {
	f.calls++
	f.fileName = fileName
	data, _ := io.ReadAll(file)
	f.body = string(data)
	if f.wait {
		<-ctx.Done()
		return classifier.Prediction{}, ctx.Err()
	}
	return f.pred, f.err
}

func writeClip(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDetectWAVBypassesClassifier(t *testing.T) {
	client := &fakeClient{}
	svc := New(client, time.Second, true)

	res, err := svc.Detect(context.Background(), writeClip(t, "clip.wav", "RIFF"), "clip.wav", "wav")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("classifier called %d times", client.calls)
	}
	if !res.Bypassed || res.Language != Marathi || res.Confidence != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Probabilities) != len(Languages) || res.Probabilities[Marathi] != 1 || res.Probabilities[Hindi] != 0 {
		t.Fatalf("unexpected probabilities: %+v", res.Probabilities)
	}
}

func TestDetectWAVUsesClassifierWhenPolicyDisabled(t *testing.T) {
	client := &fakeClient{pred: classifier.Prediction{Language: "Tamil", Confidence: 0.7}}
	svc := New(client, time.Second, false)

	res, err := svc.Detect(context.Background(), writeClip(t, "clip.wav", "RIFF"), "clip.wav", "wav")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if client.calls != 1 || res.Language != Tamil || res.Bypassed {
		t.Fatalf("unexpected result %+v after %d calls", res, client.calls)
	}
}

func TestDetectNormalizesPrediction(t *testing.T) {
	client := &fakeClient{pred: classifier.Prediction{
		Language:      "marathi",
		Confidence:    0.9,
		Probabilities: map[string]float64{"Marathi": 0.9, "hindi": 0.1},
	}}
	svc := New(client, time.Second, true)

	res, err := svc.Detect(context.Background(), writeClip(t, "clip.mp3", "ID3data"), "clip.mp3", "mp3")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if client.body != "ID3data" || client.fileName != "clip.mp3" {
		t.Fatalf("classifier got %q as %q", client.body, client.fileName)
	}
	if res.Language != Marathi || !res.IsMarathi() {
		t.Fatalf("unexpected language: %q", res.Language)
	}
	want := map[string]float64{Hindi: 0.1, Marathi: 0.9, Bengali: 0, Tamil: 0, Telugu: 0}
	for lang, p := range want {
		got, ok := res.Probabilities[lang]
		if !ok || got != p {
			t.Fatalf("probability[%s] = %v (present %v), want %v", lang, got, ok, p)
		}
	}
}

func TestDetectRejectsInvalidPredictions(t *testing.T) {
	tests := []struct {
		name string
		pred classifier.Prediction
	}{
		{name: "unknown label", pred: classifier.Prediction{Language: "Klingon", Confidence: 0.5}},
		{name: "confidence above one", pred: classifier.Prediction{Language: Hindi, Confidence: 1.5}},
		{name: "negative confidence", pred: classifier.Prediction{Language: Hindi, Confidence: -0.1}},
		{name: "unknown probability label", pred: classifier.Prediction{Language: Hindi, Confidence: 0.5, Probabilities: map[string]float64{"French": 0.5}}},
		{name: "probability out of range", pred: classifier.Prediction{Language: Hindi, Confidence: 0.5, Probabilities: map[string]float64{Hindi: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(&fakeClient{pred: tt.pred}, time.Second, true)
			_, err := svc.Detect(context.Background(), writeClip(t, "clip.ogg", "OggS"), "clip.ogg", "ogg")
			if !apperr.Is(err, apperr.KindUpstreamError) {
				t.Fatalf("expected upstream_error, got %v", err)
			}
		})
	}
}

func TestDetectMapsCollaboratorFailures(t *testing.T) {
	svc := New(&fakeClient{err: &upstream.Error{Service: "classifier", StatusCode: 500}}, time.Second, true)
	_, err := svc.Detect(context.Background(), writeClip(t, "clip.ogg", "OggS"), "clip.ogg", "ogg")
	if !apperr.Is(err, apperr.KindUpstreamError) {
		t.Fatalf("expected upstream_error, got %v", err)
	}

	svc = New(&fakeClient{wait: true}, 10*time.Millisecond, true)
	_, err = svc.Detect(context.Background(), writeClip(t, "clip.ogg", "OggS"), "clip.ogg", "ogg")
	if !apperr.Is(err, apperr.KindUpstreamTimeout) {
		t.Fatalf("expected upstream_timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestDetectMissingFileIsIOError(t *testing.T) {
	svc := New(&fakeClient{}, time.Second, true)
	_, err := svc.Detect(context.Background(), filepath.Join(t.TempDir(), "gone.mp3"), "gone.mp3", "mp3")
	if !apperr.Is(err, apperr.KindIO) {
		t.Fatalf("expected io_error, got %v", err)
	}
}
