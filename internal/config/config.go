package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	ListenAddr string
	LogLevel   string
	LogFormat  string

	ASRBaseURL string
	ASRAPIKey  string
	ASRModel   string
	ASRTimeout time.Duration

	ClassifierURL     string
	ClassifierTimeout time.Duration

	TranslationEnabled bool
	TranslationBaseURL string
	TranslationAPIKey  string
	TranslationModel   string
	TranslationTimeout time.Duration

	RequestTimeout    time.Duration
	MaxUploadBytes    int64
	WAVAssumesMarathi bool
	SignatureCheck    bool
	TempDir           string

	RateLimitMax        int
	RateLimitWindow     time.Duration
	RateLimitMaxClients int
	RateLimitSweep      time.Duration

	StoreDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	TrustProxyHeaders  bool
	CORSAllowedOrigins []string
}

type envConfig struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":5000"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`

	ASRBaseURL        string `env:"ASR_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	ASRAPIKey         string `env:"ASR_API_KEY"`
	ASRModel          string `env:"ASR_MODEL" envDefault:"marathi-asr-wav2vec2bert"`
	ASRTimeoutSeconds int    `env:"ASR_TIMEOUT_SECONDS" envDefault:"60"`

	ClassifierURL            string `env:"CLASSIFIER_URL" envDefault:"http://localhost:5001"`
	ClassifierTimeoutSeconds int    `env:"CLASSIFIER_TIMEOUT_SECONDS" envDefault:"20"`

	TranslationEnabled        bool   `env:"TRANSLATION_ENABLED" envDefault:"false"`
	TranslationBaseURL        string `env:"TRANSLATION_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	TranslationAPIKey         string `env:"TRANSLATION_API_KEY"`
	TranslationModel          string `env:"TRANSLATION_MODEL" envDefault:"llama-3.3-70b-versatile"`
	TranslationTimeoutSeconds int    `env:"TRANSLATION_TIMEOUT_SECONDS" envDefault:"20"`

	RequestTimeoutSeconds int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"90"`
	MaxUploadBytes        int64  `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	WAVAssumesMarathi     bool   `env:"WAV_ASSUMES_MARATHI" envDefault:"true"`
	SignatureCheck        bool   `env:"SIGNATURE_CHECK" envDefault:"true"`
	TempDir               string `env:"TEMP_DIR"`

	RateLimitMax           int `env:"RATE_LIMIT_MAX" envDefault:"10"`
	RateLimitWindowSeconds int `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"3600"`
	RateLimitMaxClients    int `env:"RATE_LIMIT_MAX_CLIENTS" envDefault:"10000"`
	RateLimitSweepSeconds  int `env:"RATE_LIMIT_SWEEP_SECONDS" envDefault:"60"`

	StoreDriver   string `env:"STORE_DRIVER" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"vaani:submissions:"`

	TrustProxyHeaders  bool     `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads .env from the working directory when present, then the process
// environment. Variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}
	return build(raw)
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var raw envConfig
	if err := cenv.ParseWithOptions(&raw, cenv.Options{Environment: environ}); err != nil {
		return Config{}, err
	}
	return build(raw)
}

func build(raw envConfig) (Config, error) {
	cfg := Config{
		ListenAddr: strings.TrimSpace(raw.ListenAddr),
		LogLevel:   strings.ToLower(strings.TrimSpace(raw.LogLevel)),
		LogFormat:  strings.ToLower(strings.TrimSpace(raw.LogFormat)),

		ASRBaseURL: strings.TrimRight(strings.TrimSpace(raw.ASRBaseURL), "/"),
		ASRAPIKey:  strings.TrimSpace(raw.ASRAPIKey),
		ASRModel:   strings.TrimSpace(raw.ASRModel),
		ASRTimeout: time.Duration(raw.ASRTimeoutSeconds) * time.Second,

		ClassifierURL:     strings.TrimRight(strings.TrimSpace(raw.ClassifierURL), "/"),
		ClassifierTimeout: time.Duration(raw.ClassifierTimeoutSeconds) * time.Second,

		TranslationEnabled: raw.TranslationEnabled,
		TranslationBaseURL: strings.TrimRight(strings.TrimSpace(raw.TranslationBaseURL), "/"),
		TranslationAPIKey:  strings.TrimSpace(raw.TranslationAPIKey),
		TranslationModel:   strings.TrimSpace(raw.TranslationModel),
		TranslationTimeout: time.Duration(raw.TranslationTimeoutSeconds) * time.Second,

		RequestTimeout:    time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		MaxUploadBytes:    raw.MaxUploadBytes,
		WAVAssumesMarathi: raw.WAVAssumesMarathi,
		SignatureCheck:    raw.SignatureCheck,
		TempDir:           strings.TrimSpace(raw.TempDir),

		RateLimitMax:        raw.RateLimitMax,
		RateLimitWindow:     time.Duration(raw.RateLimitWindowSeconds) * time.Second,
		RateLimitMaxClients: raw.RateLimitMaxClients,
		RateLimitSweep:      time.Duration(raw.RateLimitSweepSeconds) * time.Second,

		StoreDriver:   strings.ToLower(strings.TrimSpace(raw.StoreDriver)),
		RedisAddr:     strings.TrimSpace(raw.RedisAddr),
		RedisPassword: raw.RedisPassword,
		RedisDB:       raw.RedisDB,
		RedisPrefix:   strings.TrimSpace(raw.RedisPrefix),

		TrustProxyHeaders:  raw.TrustProxyHeaders,
		CORSAllowedOrigins: trimList(raw.CORSAllowedOrigins),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.ASRBaseURL == "" {
		return errors.New("ASR_BASE_URL must not be empty")
	}
	if c.ASRModel == "" {
		return errors.New("ASR_MODEL must not be empty")
	}
	if c.ASRTimeout <= 0 {
		return errors.New("ASR_TIMEOUT_SECONDS must be > 0")
	}
	if c.ClassifierURL == "" {
		return errors.New("CLASSIFIER_URL must not be empty")
	}
	if c.ClassifierTimeout <= 0 {
		return errors.New("CLASSIFIER_TIMEOUT_SECONDS must be > 0")
	}
	if c.TranslationEnabled && c.TranslationAPIKey == "" {
		return errors.New("TRANSLATION_API_KEY is required when TRANSLATION_ENABLED is true")
	}
	if c.TranslationModel == "" {
		return errors.New("TRANSLATION_MODEL must not be empty")
	}
	if c.TranslationTimeout <= 0 {
		return errors.New("TRANSLATION_TIMEOUT_SECONDS must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.RateLimitMax <= 0 {
		return errors.New("RATE_LIMIT_MAX must be > 0")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW_SECONDS must be > 0")
	}
	if c.RateLimitMaxClients <= 0 {
		return errors.New("RATE_LIMIT_MAX_CLIENTS must be > 0")
	}
	if c.RateLimitSweep <= 0 {
		return errors.New("RATE_LIMIT_SWEEP_SECONDS must be > 0")
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when STORE_DRIVER is redis")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be memory or redis, got %q", c.StoreDriver)
	}
	return nil
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
