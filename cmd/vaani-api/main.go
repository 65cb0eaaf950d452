package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"vaani/internal/classification"
	"vaani/internal/config"
	"vaani/internal/gate"
	"vaani/internal/httpapi"
	"vaani/internal/observability"
	"vaani/internal/ratelimit"
	"vaani/internal/transcription"
	"vaani/internal/translation"
	"vaani/internal/upload"
	"vaani/internal/upstream/asr"
	"vaani/internal/upstream/classifier"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	upstreamHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}

	asrClient := asr.New(cfg.ASRBaseURL, cfg.ASRAPIKey, upstreamHTTPClient, asr.WithObserver(metrics.ObserveUpstream))
	classifierClient := classifier.New(cfg.ClassifierURL, upstreamHTTPClient, classifier.WithObserver(metrics.ObserveUpstream))

	var translator gate.Translator
	if cfg.TranslationAPIKey != "" {
		chat := translation.NewClient(cfg.TranslationBaseURL, cfg.TranslationAPIKey, upstreamHTTPClient)
		translator = translation.New(chat, cfg.TranslationModel, cfg.TranslationTimeout, metrics.ObserveUpstream)
	}

	store, err := ratelimit.NewStore(ctx, ratelimit.Config{
		Driver:     cfg.StoreDriver,
		Limit:      cfg.RateLimitMax,
		Window:     cfg.RateLimitWindow,
		MaxClients: cfg.RateLimitMaxClients,
		Redis: &ratelimit.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		},
	})
	if err != nil {
		return fmt.Errorf("submission store: %w", err)
	}

	g := gate.New(
		store,
		classification.New(classifierClient, cfg.ClassifierTimeout, cfg.WAVAssumesMarathi),
		transcription.New(asrClient, cfg.ASRModel, cfg.ASRTimeout),
		translator,
		gate.Options{
			Validator:      upload.NewValidator(cfg.MaxUploadBytes),
			TempStore:      upload.TempStore{Dir: cfg.TempDir},
			SignatureCheck: cfg.SignatureCheck,
			Logger:         logger,
			Recorder:       metrics,
		},
	)

	deps := httpapi.Dependencies{
		Gate:           g,
		ASR:            asrClient,
		Classifier:     classifierClient,
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	}
	if rs, ok := store.(*ratelimit.RedisStore); ok {
		deps.Store = rs
		defer func() { _ = rs.Close() }()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewServer(cfg, logger, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.ClassifierTimeout + cfg.ASRTimeout + cfg.TranslationTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("server starting",
			"addr", cfg.ListenAddr,
			"store", cfg.StoreDriver,
			"translation", translator != nil,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if ms, ok := store.(*ratelimit.MemoryStore); ok {
		group.Go(func() error {
			return ms.Run(groupCtx, cfg.RateLimitSweep, metrics.SetTrackedClients)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: slogLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
