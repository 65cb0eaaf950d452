// Package ratelimit enforces per-client submission quotas and rejects
// duplicate uploads inside the same trailing window.
//
// Both checks share one critical section per call: expired records are
// evicted, the count is compared with the limit, the digest is compared with
// the surviving records, and only then is the new record appended. A
// rejected call never consumes a slot.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"vaani/internal/apperr"
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"

	DefaultLimit      = 10
	DefaultWindow     = time.Hour
	DefaultMaxClients = 10000
)

// Store is the shared keyed submission history.
type Store interface {
	CheckAndRecord(ctx context.Context, clientKey, digest string, now time.Time) (Decision, error)
}

// Decision describes an admitted submission.
type Decision struct {
	// Count includes the submission just recorded.
	Count     int
	Remaining int
}

// Record is one accepted submission.
type Record struct {
	At     time.Time
	Digest string
}

type Config struct {
	Driver     string
	Limit      int
	Window     time.Duration
	MaxClients int
	Redis      *RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxClients <= 0 {
		c.MaxClients = DefaultMaxClients
	}
	return c
}

// NewStore builds the store selected by cfg.Driver.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(cfg), nil
	case DriverRedis:
		s, err := NewRedisStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported submission store driver: %s", cfg.Driver)
	}
}

func rateLimited(limit int, window, retryAfter time.Duration) error {
	return &apperr.Error{
		Kind:       apperr.KindRateLimitExceeded,
		Message:    fmt.Sprintf("rate limit exceeded: at most %d uploads per %s", limit, window),
		RetryAfter: clampRetry(retryAfter),
	}
}

func capacityExceeded(retryAfter time.Duration) error {
	return &apperr.Error{
		Kind:       apperr.KindRateLimitExceeded,
		Message:    "rate limit exceeded: too many active clients, try again later",
		RetryAfter: clampRetry(retryAfter),
	}
}

func duplicate(retryAfter time.Duration) error {
	return &apperr.Error{
		Kind:       apperr.KindDuplicateSubmission,
		Message:    "duplicate submission: this file was already uploaded recently",
		RetryAfter: clampRetry(retryAfter),
	}
}

func clampRetry(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}
