package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps submission histories in process memory. A single mutex
// guards the whole map; every call is O(limit) so contention stays low.
// The number of tracked clients is bounded by MaxClients: when a new client
// would exceed it, clients without live records are dropped first. If every
// tracked client still has live records, the new client is rejected as rate
// limited until the earliest history expires.
type MemoryStore struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxClients int
	clients    map[string]*history
}

type history struct {
	records []Record
}

func NewMemoryStore(cfg Config) *MemoryStore {
	cfg = cfg.withDefaults()
	return &MemoryStore{
		limit:      cfg.Limit,
		window:     cfg.Window,
		maxClients: cfg.MaxClients,
		clients:    make(map[string]*history),
	}
}

func (s *MemoryStore) CheckAndRecord(_ context.Context, clientKey, digest string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.clients[clientKey]
	if !ok {
		if wait, full := s.makeRoomLocked(now); full {
			return Decision{}, capacityExceeded(wait)
		}
		h = &history{}
		s.clients[clientKey] = h
	}
	h.evict(now.Add(-s.window))

	if len(h.records) >= s.limit {
		return Decision{}, rateLimited(s.limit, s.window, h.records[0].At.Add(s.window).Sub(now))
	}
	for _, rec := range h.records {
		if rec.Digest == digest {
			return Decision{}, duplicate(rec.At.Add(s.window).Sub(now))
		}
	}

	at := now
	if n := len(h.records); n > 0 && at.Before(h.records[n-1].At) {
		at = h.records[n-1].At
	}
	h.records = append(h.records, Record{At: at, Digest: digest})

	return Decision{Count: len(h.records), Remaining: s.limit - len(h.records)}, nil
}

// Sweep drops clients whose records have all expired and returns how many
// were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

// Len returns the number of tracked clients.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Records returns a copy of the live history for clientKey.
func (s *MemoryStore) Records(clientKey string, now time.Time) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.clients[clientKey]
	if !ok {
		return nil
	}
	h.evict(now.Add(-s.window))
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Run sweeps on every tick until ctx is done. observe, when set, receives the
// tracked client count after each sweep.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration, observe func(tracked int)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Sweep(now)
			if observe != nil {
				observe(s.Len())
			}
		}
	}
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	cutoff := now.Add(-s.window)
	removed := 0
	for key, h := range s.clients {
		h.evict(cutoff)
		if len(h.records) == 0 {
			delete(s.clients, key)
			removed++
		}
	}
	return removed
}

// makeRoomLocked sweeps expired clients when the map is at capacity. It
// reports full when no room could be made, along with the time until the
// first tracked history expires. Clients with live records are never evicted.
func (s *MemoryStore) makeRoomLocked(now time.Time) (time.Duration, bool) {
	if len(s.clients) < s.maxClients {
		return 0, false
	}
	s.sweepLocked(now)
	if len(s.clients) < s.maxClients {
		return 0, false
	}
	wait := s.window
	for _, h := range s.clients {
		if n := len(h.records); n > 0 {
			if d := h.records[n-1].At.Add(s.window).Sub(now); d < wait {
				wait = d
			}
		}
	}
	return wait, true
}

// evict removes records at or before cutoff. Records are chronological, so
// the expired ones form a prefix.
func (h *history) evict(cutoff time.Time) {
	i := 0
	for i < len(h.records) && !h.records[i].At.After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(h.records, h.records[i:])
	clear(h.records[n:])
	h.records = h.records[:n]
}
