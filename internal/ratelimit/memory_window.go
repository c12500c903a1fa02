package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryWindowStore keeps hit logs in process memory. The table lock only
// guards the map; each key has its own lock so unrelated identifiers do
// not contend. At most maxKeys identifiers are tracked; beyond that the
// least recently active one is evicted.
type MemoryWindowStore struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
	maxKeys int
}

type windowEntry struct {
	mu       sync.Mutex
	hits     []time.Time // ascending
	window   time.Duration
	lastSeen atomic.Int64 // unix nanos of the latest hit attempt
	dead     bool         // removed from the table; guarded by mu
}

// NewMemoryWindowStore returns a store tracking at most maxKeys keys
// (unbounded when maxKeys <= 0).
func NewMemoryWindowStore(maxKeys int) *MemoryWindowStore {
	return &MemoryWindowStore{entries: make(map[string]*windowEntry), maxKeys: maxKeys}
}

var _ WindowStore = (*MemoryWindowStore)(nil)

// entry returns the live entry for key, creating it when missing. A new
// entry counts as seen at now so eviction does not pick it first.
func (s *MemoryWindowStore) entry(key string, window time.Duration, now time.Time) *windowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		if s.maxKeys > 0 && len(s.entries) >= s.maxKeys {
			s.evictOldestLocked()
		}
		e = &windowEntry{window: window}
		e.lastSeen.Store(now.UnixNano())
		s.entries[key] = e
	}
	return e
}

// removeLocked drops key from the table and marks its entry dead so a
// caller still holding it looks it up again. s.mu must be held.
func (s *MemoryWindowStore) removeLocked(key string, e *windowEntry) {
	e.mu.Lock()
	e.dead = true
	e.mu.Unlock()
	delete(s.entries, key)
}

// evictOldestLocked drops the least recently seen key. s.mu must be held.
func (s *MemoryWindowStore) evictOldestLocked() {
	var (
		victim string
		entry  *windowEntry
		oldest int64
	)
	for k, e := range s.entries {
		seen := e.lastSeen.Load()
		if entry == nil || seen < oldest {
			victim, entry, oldest = k, e, seen
		}
	}
	if entry != nil {
		s.removeLocked(victim, entry)
	}
}

// trim drops hits at or before now-window. e.mu must be held.
func (e *windowEntry) trim(now time.Time) {
	cut := 0
	for cut < len(e.hits) && now.Sub(e.hits[cut]) >= e.window {
		cut++
	}
	if cut > 0 {
		e.hits = append(e.hits[:0], e.hits[cut:]...)
	}
}

// state reports the trimmed log against limit. e.mu must be held.
func (e *windowEntry) state(limit int) WindowState {
	st := WindowState{Allowed: len(e.hits) < limit, Count: len(e.hits)}
	if len(e.hits) > 0 {
		st.Oldest = e.hits[0]
	}
	return st
}

// hit records now when the log has room. It returns false when the entry
// was removed from the table before the lock was taken.
func (e *windowEntry) hit(limit int, now time.Time) (WindowState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return WindowState{}, false
	}
	e.lastSeen.Store(now.UnixNano())
	e.trim(now)
	if len(e.hits) >= limit {
		return e.state(limit), true
	}
	e.hits = append(e.hits, now)
	st := e.state(limit)
	st.Allowed = true
	return st, true
}

func (s *MemoryWindowStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (WindowState, error) {
	for {
		if st, ok := s.entry(key, window, now).hit(limit, now); ok {
			return st, nil
		}
	}
}

func (s *MemoryWindowStore) Peek(_ context.Context, key string, limit int, _ time.Duration, now time.Time) (WindowState, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return WindowState{Allowed: limit > 0}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return WindowState{Allowed: limit > 0}, nil
	}
	e.trim(now)
	return e.state(limit), nil
}

// Sweep removes keys whose window has fully elapsed and trims the table
// back under its cap. It returns the number of keys removed.
func (s *MemoryWindowStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		e.mu.Lock()
		e.trim(now)
		empty := len(e.hits) == 0
		if empty {
			e.dead = true
		}
		e.mu.Unlock()
		if empty {
			delete(s.entries, k)
			removed++
		}
	}
	for s.maxKeys > 0 && len(s.entries) > s.maxKeys {
		s.evictOldestLocked()
		removed++
	}
	return removed
}

// Len reports the number of tracked keys.
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
