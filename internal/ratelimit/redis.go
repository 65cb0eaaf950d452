package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "vaani:submissions:"

// checkAndRecordScript runs the whole evict/count/duplicate/append sequence
// atomically on the server. Scores are unix milliseconds; members are
// "<digest>:<uuid>" so identical digests can coexist.
//
// KEYS[1] history key
// ARGV[1] cutoff score (inclusive)
// ARGV[2] limit
// ARGV[3] digest
// ARGV[4] member to add
// ARGV[5] score to add
// ARGV[6] key ttl in ms
var checkAndRecordScript = redis.NewScript(`
local key = KEYS[1]
redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[1])
local entries = redis.call('ZRANGE', key, 0, -1, 'WITHSCORES')
local count = #entries / 2
if count >= tonumber(ARGV[2]) then
  return {1, entries[2], count}
end
local prefix = ARGV[3] .. ':'
for i = 1, #entries, 2 do
  if string.sub(entries[i], 1, #prefix) == prefix then
    return {2, entries[i + 1], count}
  end
end
redis.call('ZADD', key, ARGV[5], ARGV[4])
redis.call('PEXPIRE', key, ARGV[6])
return {0, ARGV[5], count + 1}
`)

const (
	outcomeAdmitted  = 0
	outcomeRateLimit = 1
	outcomeDuplicate = 2
)

// RedisStore shares submission histories between replicas through one sorted
// set per client. Keys expire one window after the last admission, so stale
// clients disappear without a sweeper.
type RedisStore struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedisStore(ctx context.Context, cfg Config) (*RedisStore, error) {
	if cfg.Redis == nil || cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg), nil
}

func NewRedisStoreWithClient(client *redis.Client, cfg Config) *RedisStore {
	cfg = cfg.withDefaults()
	prefix := defaultRedisPrefix
	if cfg.Redis != nil && cfg.Redis.Prefix != "" {
		prefix = cfg.Redis.Prefix
	}
	return &RedisStore{
		client: client,
		limit:  cfg.Limit,
		window: cfg.Window,
		prefix: prefix,
	}
}

func (s *RedisStore) CheckAndRecord(ctx context.Context, clientKey, digest string, now time.Time) (Decision, error) {
	nowMS := now.UnixMilli()
	cutoffMS := now.Add(-s.window).UnixMilli()

	res, err := checkAndRecordScript.Run(ctx, s.client, []string{s.prefix + clientKey},
		strconv.FormatInt(cutoffMS, 10),
		strconv.Itoa(s.limit),
		digest,
		digest+":"+uuid.NewString(),
		strconv.FormatInt(nowMS, 10),
		strconv.FormatInt(s.window.Milliseconds(), 10),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("submission store: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("submission store: unexpected reply %v", res)
	}

	outcome, _ := res[0].(int64)
	count, _ := res[2].(int64)
	score, err := parseScore(res[1])
	if err != nil {
		return Decision{}, fmt.Errorf("submission store: %w", err)
	}
	retryAfter := time.UnixMilli(score).Add(s.window).Sub(now)

	switch outcome {
	case outcomeAdmitted:
		return Decision{Count: int(count), Remaining: s.limit - int(count)}, nil
	case outcomeRateLimit:
		return Decision{}, rateLimited(s.limit, s.window, retryAfter)
	case outcomeDuplicate:
		return Decision{}, duplicate(retryAfter)
	default:
		return Decision{}, fmt.Errorf("submission store: unknown outcome %d", outcome)
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseScore(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid score %q: %w", t, err)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("invalid score type %T", v)
	}
}
