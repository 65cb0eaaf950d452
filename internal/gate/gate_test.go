package gate

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaani/internal/apperr"
	"vaani/internal/classification"
	"vaani/internal/ratelimit"
	"vaani/internal/testaudio"
	"vaani/internal/upload"
	"vaani/internal/upstream/classifier"
)

type fakeClassifier struct {
	mu    sync.Mutex
	calls int
	pred  classifier.Prediction
	err   error
}

func (f *fakeClassifier) Classify(_ context.Context, file io.Reader, _ string) (classifier.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	_, _ = io.Copy(io.Discard, file)
	return f.pred, f.err
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	paths []string
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.paths = append(f.paths, path)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return f.text, f.err
}

type fakeTranslator struct {
	calls int
	input string
	text  string
	err   error
}

func (f *fakeTranslator) Translate(_ context.Context, text string) (string, error) {
	f.calls++
	f.input = text
	return f.text, f.err
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	formats  []string
}

func (r *fakeRecorder) ObserveGate(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) ObserveAudioDuration(format string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formats = append(r.formats, format)
}

type harness struct {
	gate       *Gate
	store      *ratelimit.MemoryStore
	classifier *fakeClassifier
	asr        *fakeTranscriber
	translator *fakeTranslator
	recorder   *fakeRecorder
	tempDir    string
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      ratelimit.NewMemoryStore(ratelimit.Config{Limit: 10, Window: time.Hour}),
		classifier: &fakeClassifier{pred: classifier.Prediction{Language: "Marathi", Confidence: 0.9}},
		asr:        &fakeTranscriber{text: "नमस्कार"},
		translator: &fakeTranslator{text: "Hello"},
		recorder:   &fakeRecorder{},
		tempDir:    t.TempDir(),
		now:        time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
	}
	detector := classification.New(h.classifier, time.Second, true)
	h.gate = New(h.store, detector, h.asr, h.translator, Options{
		Validator:      upload.NewValidator(10 << 20),
		TempStore:      upload.TempStore{Dir: h.tempDir},
		SignatureCheck: true,
		Recorder:       h.recorder,
		Now:            func() time.Time { return h.now },
	})
	return h
}

func wavInput(client string, data []byte) Input {
	return Input{
		ClientKey: client,
		FileName:  "clip.wav",
		MimeType:  "audio/wav",
		Size:      int64(len(data)),
		File:      bytes.NewReader(data),
	}
}

func mp3Input(client string, data []byte) Input {
	return Input{
		ClientKey: client,
		FileName:  "clip.mp3",
		MimeType:  "audio/mpeg",
		Size:      int64(len(data)),
		File:      bytes.NewReader(data),
	}
}

func requireTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "temp storage not released")
}

func TestProcessWAVBypassesClassifier(t *testing.T) {
	h := newHarness(t)
	data := testaudio.WAV(1<<20, 1)

	res, err := h.gate.Process(context.Background(), wavInput("10.0.0.1", data))
	require.NoError(t, err)

	require.Equal(t, 0, h.classifier.calls)
	require.Equal(t, 1, h.asr.calls)
	require.Equal(t, "नमस्कार", res.Transcription)
	require.Equal(t, classification.Marathi, res.Language.Language)
	require.Equal(t, 1.0, res.Language.Confidence)
	require.Equal(t, 1.0, res.Language.Probabilities[classification.Marathi])
	require.Len(t, res.Digest, 64)
	require.Equal(t, 1, res.Decision.Count)
	require.NotNil(t, res.Audio)
	require.Equal(t, []string{"wav"}, h.recorder.formats)
	require.Equal(t, []string{outcomeAccepted}, h.recorder.outcomes)
	require.False(t, res.Translated)
	requireTempDirEmpty(t, h.tempDir)
}

func TestProcessRejectsUnsupportedFormatWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	in := wavInput("10.0.0.1", []byte("MZ\x90\x00"))
	in.FileName = "clip.exe"

	_, err := h.gate.Process(context.Background(), in)
	require.True(t, apperr.Is(err, apperr.KindUnsupportedFormat), "got %v", err)
	require.Empty(t, h.store.Records("10.0.0.1", h.now))
	require.Equal(t, []string{string(apperr.KindUnsupportedFormat)}, h.recorder.outcomes)
	requireTempDirEmpty(t, h.tempDir)
}

func TestProcessRejectsOversizedUpload(t *testing.T) {
	h := newHarness(t)
	in := mp3Input("10.0.0.1", testaudio.MP3Header(1))
	in.Size = 15 << 20

	_, err := h.gate.Process(context.Background(), in)
	require.True(t, apperr.Is(err, apperr.KindPayloadTooLarge), "got %v", err)
	require.Zero(t, h.classifier.calls)
	requireTempDirEmpty(t, h.tempDir)
}

func TestProcessRejectsDuplicateContent(t *testing.T) {
	h := newHarness(t)
	data := testaudio.WAV(1600, 2)

	_, err := h.gate.Process(context.Background(), wavInput("10.0.0.1", data))
	require.NoError(t, err)

	h.now = h.now.Add(time.Minute)
	renamed := wavInput("10.0.0.1", data)
	renamed.FileName = "other name.WAV"
	renamed.MimeType = "audio/wav; codecs=1"
	_, err = h.gate.Process(context.Background(), renamed)
	require.True(t, apperr.Is(err, apperr.KindDuplicateSubmission), "got %v", err)
	require.Equal(t, 59*time.Minute, apperr.RetryAfter(err))
	require.Equal(t, 1, h.asr.calls)
	require.Len(t, h.store.Records("10.0.0.1", h.now), 1)
	requireTempDirEmpty(t, h.tempDir)

	h.now = h.now.Add(time.Hour)
	_, err = h.gate.Process(context.Background(), wavInput("10.0.0.1", data))
	require.NoError(t, err)
}

func TestProcessEnforcesRateLimit(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 10; i++ {
		_, err := h.gate.Process(context.Background(), wavInput("10.0.0.1", testaudio.WAV(160, byte(i))))
		require.NoError(t, err, "submission %d", i+1)
		h.now = h.now.Add(time.Minute)
	}

	_, err := h.gate.Process(context.Background(), wavInput("10.0.0.1", testaudio.WAV(160, 200)))
	require.True(t, apperr.Is(err, apperr.KindRateLimitExceeded), "got %v", err)
	require.Equal(t, 10, h.asr.calls)
	require.Len(t, h.store.Records("10.0.0.1", h.now), 10)

	_, err = h.gate.Process(context.Background(), wavInput("10.0.0.2", testaudio.WAV(160, 200)))
	require.NoError(t, err, "other clients keep their own quota")
	requireTempDirEmpty(t, h.tempDir)
}

func TestProcessSkipsASRForOtherLanguages(t *testing.T) {
	h := newHarness(t)
	h.classifier.pred = classifier.Prediction{
		Language:      "Hindi",
		Confidence:    0.8,
		Probabilities: map[string]float64{"Hindi": 0.8, "Marathi": 0.2},
	}

	in := mp3Input("10.0.0.1", testaudio.MP3Header(3))
	in.Translate = true
	res, err := h.gate.Process(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 1, h.classifier.calls)
	require.Zero(t, h.asr.calls)
	require.Zero(t, h.translator.calls)
	require.Equal(t, NotMarathiMessage, res.Transcription)
	require.Equal(t, classification.Hindi, res.Language.Language)
	require.Equal(t, 0.0, res.Language.Probabilities[classification.Telugu])
	require.False(t, res.Translated)
	requireTempDirEmpty(t, h.tempDir)
}

func TestProcessTranslatesOnRequest(t *testing.T) {
	h := newHarness(t)
	in := wavInput("10.0.0.1", testaudio.WAV(160, 4))
	in.Translate = true

	res, err := h.gate.Process(context.Background(), in)
	require.NoError(t, err)
	require.True(t, res.Translated)
	require.Equal(t, "Hello", res.Translation)
	require.Equal(t, "नमस्कार", h.translator.input)
}

func TestProcessSkipsTranslationForEmptyTranscript(t *testing.T) {
	h := newHarness(t)
	h.asr.text = ""
	in := wavInput("10.0.0.1", testaudio.WAV(160, 7))
	in.Translate = true

	res, err := h.gate.Process(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, res.Transcription)
	require.False(t, res.Translated)
	require.Empty(t, res.Translation)
	require.Zero(t, h.translator.calls)
	requireTempDirEmpty(t, h.tempDir)
}

func TestProcessEmbedsTranslationFailure(t *testing.T) {
	h := newHarness(t)
	h.translator.err = apperr.Wrap(apperr.KindUpstreamTimeout, "translation timed out", context.DeadlineExceeded)
	in := wavInput("10.0.0.1", testaudio.WAV(160, 5))
	in.Translate = true

	res, err := h.gate.Process(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "नमस्कार", res.Transcription)
	require.Equal(t, "Translation error: timed out", res.Translation)
}

func TestProcessWithoutTranslatorReportsNotConfigured(t *testing.T) {
	h := newHarness(t)
	g := New(h.store, classification.New(h.classifier, time.Second, true), h.asr, nil, Options{
		TempStore: upload.TempStore{Dir: h.tempDir},
		Now:       func() time.Time { return h.now },
	})
	in := wavInput("10.0.0.1", testaudio.WAV(160, 6))
	in.Translate = true

	res, err := g.Process(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "Translation error: translation is not configured", res.Translation)
}

func TestProcessSurfacesCollaboratorFailures(t *testing.T) {
	h := newHarness(t)
	h.asr.err = apperr.Wrap(apperr.KindUpstreamTimeout, "speech recognition timed out", context.DeadlineExceeded)

	_, err := h.gate.Process(context.Background(), wavInput("10.0.0.1", testaudio.WAV(160, 7)))
	require.True(t, apperr.Is(err, apperr.KindUpstreamTimeout), "got %v", err)
	require.Len(t, h.store.Records("10.0.0.1", h.now), 1, "admitted uploads keep their slot")
	requireTempDirEmpty(t, h.tempDir)

	h.classifier.err = apperr.New(apperr.KindUpstreamError, "classifier down")
	_, err = h.gate.Process(context.Background(), mp3Input("10.0.0.1", testaudio.MP3Header(8)))
	require.True(t, apperr.Is(err, apperr.KindUpstreamError), "got %v", err)
	requireTempDirEmpty(t, h.tempDir)
}

func TestProcessRejectsDisguisedContent(t *testing.T) {
	h := newHarness(t)
	exe := append([]byte("MZ"), make([]byte, 512)...)

	_, err := h.gate.Process(context.Background(), wavInput("10.0.0.1", exe))
	require.True(t, apperr.Is(err, apperr.KindInvalidFile), "got %v", err)
	require.Empty(t, h.store.Records("10.0.0.1", h.now))
	requireTempDirEmpty(t, h.tempDir)
}

func TestProcessMissingFile(t *testing.T) {
	h := newHarness(t)
	in := wavInput("10.0.0.1", []byte("x"))
	in.File = nil

	_, err := h.gate.Process(context.Background(), in)
	require.True(t, apperr.Is(err, apperr.KindMissingFile), "got %v", err)
}

func TestProcessConcurrentSameClient(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			_, err := h.gate.Process(context.Background(), wavInput("10.0.0.9", testaudio.WAV(160, seed)))
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(byte(i))
	}
	wg.Wait()
	require.Equal(t, 10, admitted)
	requireTempDirEmpty(t, h.tempDir)
}

func TestClassifyDoesNotConsumeQuota(t *testing.T) {
	h := newHarness(t)
	h.classifier.pred = classifier.Prediction{Language: "Bengali", Confidence: 0.6}

	for i := 0; i < 12; i++ {
		res, err := h.gate.Classify(context.Background(), mp3Input("10.0.0.1", testaudio.MP3Header(9)))
		require.NoError(t, err)
		require.Equal(t, classification.Bengali, res.Language)
	}
	require.Empty(t, h.store.Records("10.0.0.1", h.now))
	require.Zero(t, h.asr.calls)
	requireTempDirEmpty(t, h.tempDir)

	_, err := h.gate.Classify(context.Background(), Input{FileName: "a.flac", MimeType: "audio/flac", Size: 3, File: bytes.NewReader([]byte("abc"))})
	require.True(t, apperr.Is(err, apperr.KindUnsupportedFormat), "got %v", err)
}
