// Package gate sequences one transcription request: validate the upload,
// store it privately, hash it, admit it against the per-client quota and
// duplicate history, then call the language, ASR and translation
// collaborators. The temp copy is released on every exit path.
package gate

import (
	"context"
	"io"
	"log/slog"
	"time"

	"vaani/internal/apperr"
	"vaani/internal/audioprobe"
	"vaani/internal/classification"
	"vaani/internal/ratelimit"
	"vaani/internal/translation"
	"vaani/internal/upload"
)

const NotMarathiMessage = "Transcription not available - System only supports Marathi transcription"

const outcomeAccepted = "accepted"

type LanguageDetector interface {
	Detect(ctx context.Context, path, fileName, ext string) (classification.Result, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path, fileName string) (string, error)
}

type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Recorder receives gate outcomes and probed audio lengths.
type Recorder interface {
	ObserveGate(outcome string)
	ObserveAudioDuration(format string, d time.Duration)
}

type Options struct {
	Validator      upload.Validator
	TempStore      upload.TempStore
	SignatureCheck bool
	Logger         *slog.Logger
	Recorder       Recorder
	// Now defaults to time.Now.
	Now func() time.Time
}

type Gate struct {
	store       ratelimit.Store
	detector    LanguageDetector
	transcriber Transcriber
	translator  Translator

	validator      upload.Validator
	temp           upload.TempStore
	signatureCheck bool
	logger         *slog.Logger
	recorder       Recorder
	now            func() time.Time
}

// New wires the gate. translator may be nil when translation is not
// configured.
func New(store ratelimit.Store, detector LanguageDetector, transcriber Transcriber, translator Translator, opts Options) *Gate {
	if store == nil {
		panic("gate: nil store")
	}
	if detector == nil {
		panic("gate: nil language detector")
	}
	if transcriber == nil {
		panic("gate: nil transcriber")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Validator.MaxBytes <= 0 {
		opts.Validator = upload.NewValidator(0)
	}
	return &Gate{
		store:          store,
		detector:       detector,
		transcriber:    transcriber,
		translator:     translator,
		validator:      opts.Validator,
		temp:           opts.TempStore,
		signatureCheck: opts.SignatureCheck,
		logger:         opts.Logger,
		recorder:       opts.Recorder,
		now:            opts.Now,
	}
}

// Input is one uploaded file plus the caller's identity.
type Input struct {
	ClientKey string
	FileName  string
	MimeType  string
	Size      int64
	File      io.Reader
	Translate bool
}

type Result struct {
	Transcription string
	Language      classification.Result
	// Translation is set only when translation was requested and a transcript
	// was produced. On failure it carries the error text instead.
	Translation string
	Translated  bool
	Digest      string
	Decision    ratelimit.Decision
	Audio       *audioprobe.Info
}

func (g *Gate) Process(ctx context.Context, in Input) (Result, error) {
	accepted, err := g.validator.Validate(in.FileName, in.MimeType, in.Size)
	if err != nil {
		return Result{}, g.reject(in.ClientKey, "", err)
	}

	tf, err := g.materialize(in.File, accepted)
	if err != nil {
		return Result{}, g.reject(in.ClientKey, "", err)
	}
	defer g.release(tf)

	digest, err := upload.HashFile(tf.Path())
	if err != nil {
		return Result{}, g.reject(in.ClientKey, "", err)
	}

	decision, err := g.store.CheckAndRecord(ctx, in.ClientKey, digest, g.now())
	if err != nil {
		return Result{}, g.reject(in.ClientKey, digest, apperr.Wrap(apperr.KindInternal, "submission store unavailable", err))
	}
	g.observeGate(outcomeAccepted)
	g.logger.Info("upload accepted",
		"client", in.ClientKey,
		"digest", digest,
		"file", accepted.Name,
		"bytes", tf.Size(),
		"count", decision.Count,
		"remaining", decision.Remaining,
	)

	res := Result{Digest: digest, Decision: decision, Audio: g.probe(tf.Path(), accepted.Extension)}

	lang, err := g.detector.Detect(ctx, tf.Path(), accepted.Name, accepted.Extension)
	if err != nil {
		g.logCollaboratorError("language detection failed", in.ClientKey, digest, err)
		return Result{}, err
	}
	res.Language = lang

	if !lang.IsMarathi() {
		res.Transcription = NotMarathiMessage
		return res, nil
	}

	text, err := g.transcriber.Transcribe(ctx, tf.Path(), accepted.Name)
	if err != nil {
		g.logCollaboratorError("transcription failed", in.ClientKey, digest, err)
		return Result{}, err
	}
	res.Transcription = text

	if in.Translate && text != "" {
		res.Translation = g.translate(ctx, text)
		res.Translated = true
	}
	return res, nil
}

// Classify runs validation and language detection only. It neither hashes
// nor consumes quota.
func (g *Gate) Classify(ctx context.Context, in Input) (classification.Result, error) {
	accepted, err := g.validator.Validate(in.FileName, in.MimeType, in.Size)
	if err != nil {
		return classification.Result{}, err
	}

	tf, err := g.materialize(in.File, accepted)
	if err != nil {
		return classification.Result{}, err
	}
	defer g.release(tf)

	lang, err := g.detector.Detect(ctx, tf.Path(), accepted.Name, accepted.Extension)
	if err != nil {
		g.logCollaboratorError("language detection failed", in.ClientKey, "", err)
		return classification.Result{}, err
	}
	return lang, nil
}

func (g *Gate) materialize(r io.Reader, accepted upload.Accepted) (*upload.TempFile, error) {
	if r == nil {
		return nil, apperr.New(apperr.KindMissingFile, "no audio file provided")
	}
	tf, err := g.temp.Materialize(r, accepted.Name)
	if err != nil {
		return nil, err
	}
	if g.signatureCheck {
		if err := upload.CheckSignature(tf.Path(), accepted.Extension); err != nil {
			g.release(tf)
			return nil, err
		}
	}
	return tf, nil
}

func (g *Gate) translate(ctx context.Context, text string) string {
	if g.translator == nil {
		return "Translation error: translation is not configured"
	}
	translated, err := g.translator.Translate(ctx, text)
	if err != nil {
		g.logger.Warn("translation failed", "error", err)
		return translation.FailureText(err)
	}
	return translated
}

func (g *Gate) probe(path, ext string) *audioprobe.Info {
	info, err := audioprobe.Probe(path, ext)
	if err != nil {
		g.logger.Debug("audio probe failed", "format", ext, "error", err)
		return nil
	}
	if g.recorder != nil && info.Duration > 0 {
		g.recorder.ObserveAudioDuration(info.Format, info.Duration)
	}
	return &info
}

func (g *Gate) release(tf *upload.TempFile) {
	if err := tf.Release(); err != nil {
		g.logger.Warn("temp cleanup failed", "path", tf.Path(), "error", err)
	}
}

func (g *Gate) reject(client, digest string, err error) error {
	kind := apperr.KindOf(err)
	g.observeGate(string(kind))
	g.logger.Warn("upload rejected",
		"client", client,
		"digest", digest,
		"kind", kind,
		"error", err,
	)
	return err
}

func (g *Gate) logCollaboratorError(msg, client, digest string, err error) {
	g.logger.Error(msg,
		"client", client,
		"digest", digest,
		"kind", apperr.KindOf(err),
		"error", err,
	)
}

func (g *Gate) observeGate(outcome string) {
	if g.recorder != nil {
		g.recorder.ObserveGate(outcome)
	}
}
