package collector

import (
	"sync"
	"time"

	"github.com/rpattn/segmentql/internal/repository"
)

// Sessions hands out one Collector per consumer key so that a consumer's new
// fetch supersedes only its own earlier fetch. An empty key always gets a
// fresh collector.
type Sessions struct {
	store repository.RecordStore
	opts  []Option
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

type sessionEntry struct {
	collector *Collector
	lastUsed  time.Time
}

// NewSessions creates a session table. Entries unused for longer than idle are
// pruned on access; idle <= 0 keeps them forever.
func NewSessions(store repository.RecordStore, idle time.Duration, opts ...Option) *Sessions {
	return &Sessions{
		store:   store,
		opts:    opts,
		idle:    idle,
		now:     time.Now,
		entries: map[string]*sessionEntry{},
	}
}

// For returns the collector bound to key.
func (s *Sessions) For(key string) *Collector {
	if key == "" {
		return New(s.store, s.opts...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)

	entry, ok := s.entries[key]
	if !ok {
		entry = &sessionEntry{collector: New(s.store, s.opts...)}
		s.entries[key] = entry
	}
	entry.lastUsed = now
	return entry.collector
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Sessions) prune(now time.Time) {
	if s.idle <= 0 {
		return
	}
	for key, entry := range s.entries {
		if now.Sub(entry.lastUsed) > s.idle {
			delete(s.entries, key)
		}
	}
}
