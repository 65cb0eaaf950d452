package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"vaani/internal/apperr"
	"vaani/internal/classification"
	"vaani/internal/config"
	"vaani/internal/gate"
	"vaani/internal/model"
)

type Gate interface {
	Process(ctx context.Context, in gate.Input) (gate.Result, error)
	Classify(ctx context.Context, in gate.Input) (classification.Result, error)
}

type UpstreamChecker interface {
	CheckModels(ctx context.Context) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type MetricsObserver interface {
	ObserveHTTP(route, method string, status int, duration time.Duration)
}

type Dependencies struct {
	Gate Gate
	// ASR is probed by /readyz when an API key is configured.
	ASR UpstreamChecker
	// Classifier and Store are optional readiness probes.
	Classifier     Pinger
	Store          Pinger
	Metrics        MetricsObserver
	MetricsHandler http.Handler
}

type server struct {
	cfg          config.Config
	logger       *slog.Logger
	gate         Gate
	asr          UpstreamChecker
	classifier   Pinger
	store        Pinger
	metrics      MetricsObserver
	metricsRoute http.Handler
}

type ctxKey string

const (
	requestIDHeader  = "X-Request-Id"
	requestIDContext = ctxKey("request_id")
	audioField       = "audio"
	multipartSlack   = 1 << 20
)

func NewServer(cfg config.Config, logger *slog.Logger, deps Dependencies) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Gate == nil || deps.ASR == nil {
		panic("httpapi: gate and ASR dependencies are required")
	}

	s := &server{
		cfg:          cfg,
		logger:       logger,
		gate:         deps.Gate,
		asr:          deps.ASR,
		classifier:   deps.Classifier,
		store:        deps.Store,
		metrics:      deps.Metrics,
		metricsRoute: deps.MetricsHandler,
	}

	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Use(s.requestIDMiddleware)
	if cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(securityHeadersMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.metricsRoute != nil {
		r.Handle("/metrics", s.metricsRoute)
	}

	r.Post("/transcribe", s.handleTranscribe)
	r.Post("/classify", s.handleClassify)

	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{OK: true})
}

func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			checks[name] = "unavailable"
			ready = false
			return
		}
		checks[name] = "ok"
	}

	if s.cfg.ASRAPIKey != "" {
		check("asr", s.asr.CheckModels)
	}
	if s.classifier != nil {
		check("classifier", s.classifier.Ping)
	}
	if s.store != nil {
		check("store", s.store.Ping)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, model.ReadyResponse{OK: ready, Checks: checks})
}

func (s *server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	file, header, form, err := s.readMultipartAudio(w, r)
	defer cleanupMultipartForm(form)
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer func() { _ = file.Close() }()

	translate := s.cfg.TranslationEnabled
	if raw := r.FormValue("translate"); strings.TrimSpace(raw) != "" {
		translate, err = parseOptionalBool(raw)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, "invalid_request", "translate must be a boolean")
			return
		}
	}

	result, err := s.gate.Process(r.Context(), s.gateInput(r, file, header, translate))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}

	resp := model.TranscribeResponse{
		Transcription:         result.Transcription,
		DetectedLanguage:      result.Language.Language,
		Confidence:            result.Language.Confidence,
		LanguageProbabilities: result.Language.Probabilities,
	}
	if result.Translated {
		translation := result.Translation
		resp.Translation = &translation
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleClassify(w http.ResponseWriter, r *http.Request) {
	file, header, form, err := s.readMultipartAudio(w, r)
	defer cleanupMultipartForm(form)
	if err != nil {
		s.handleMultipartReadError(w, r, err)
		return
	}
	defer func() { _ = file.Close() }()

	lang, err := s.gate.Classify(r.Context(), s.gateInput(r, file, header, false))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ClassifyResponse{
		DetectedLanguage:      lang.Language,
		Confidence:            lang.Confidence,
		LanguageProbabilities: lang.Probabilities,
	})
}

func (s *server) gateInput(r *http.Request, file multipart.File, header *multipart.FileHeader, translate bool) gate.Input {
	return gate.Input{
		ClientKey: clientKey(r),
		FileName:  header.Filename,
		MimeType:  header.Header.Get("Content-Type"),
		Size:      header.Size,
		File:      file,
		Translate: translate,
	}
}

func (s *server) readMultipartAudio(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, *multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartSlack)
	if err := r.ParseMultipartForm(min(s.cfg.MaxUploadBytes, 8<<20)); err != nil {
		return nil, nil, r.MultipartForm, err
	}
	file, header, err := r.FormFile(audioField)
	if err != nil {
		return nil, nil, r.MultipartForm, err
	}
	return file, header, r.MultipartForm, nil
}

func (s *server) handleMultipartReadError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		s.writeMappedError(w, r, apperr.Newf(apperr.KindPayloadTooLarge, "file exceeds %d bytes", s.cfg.MaxUploadBytes))
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		s.writeMappedError(w, r, apperr.New(apperr.KindMissingFile, "No audio file provided"))
	default:
		s.writeMappedError(w, r, apperr.Wrap(apperr.KindInvalidFile, "invalid multipart form data", err))
	}
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindMissingFile, apperr.KindInvalidFile, apperr.KindUnsupportedFormat, apperr.KindInvalidMimeType:
		return http.StatusBadRequest
	case apperr.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.KindRateLimitExceeded, apperr.KindDuplicateSubmission:
		return http.StatusTooManyRequests
	case apperr.KindUpstreamError:
		return http.StatusBadGateway
	case apperr.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	message := apperr.Message(err, "internal server error")

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", requestIDFromContext(r.Context()),
			"kind", kind,
			"error", err,
		)
		if kind == apperr.KindInternal {
			message = "internal server error"
		}
	}
	if retry := apperr.RetryAfter(err); retry > 0 && status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
	}
	s.writeError(w, r, status, string(kind), message)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	rid := requestIDFromContext(r.Context())
	if rid != "" {
		w.Header().Set(requestIDHeader, rid)
	}
	writeJSON(w, status, model.ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: rid,
	})
}

func (s *server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), requestIDContext, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func (s *server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		duration := time.Since(started)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, status, duration)
		}

		s.logger.Info("http_request",
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"route", route,
			"client", clientKey(r),
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", duration.Milliseconds(),
		)
	})
}

func (s *server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "request_id", requestIDFromContext(r.Context()), "panic", rec)
				s.writeError(w, r, http.StatusInternalServerError, string(apperr.KindInternal), "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// clientKey is the host part of RemoteAddr. RealIP has already rewritten
// RemoteAddr when proxy headers are trusted.
func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func parseOptionalBool(value string) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}
	return strconv.ParseBool(value)
}

func cleanupMultipartForm(form *multipart.Form) {
	if form != nil {
		_ = form.RemoveAll()
	}
}

func requestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDContext).(string)
	return value
}
