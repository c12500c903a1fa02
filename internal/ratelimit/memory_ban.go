package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryBanStore keeps failure records in process memory. Records that
// have not been touched for idleTTL are dropped by Sweep unless a ban is
// still running.
type MemoryBanStore struct {
	mu      sync.Mutex
	entries map[string]*BanState
	idleTTL time.Duration
}

// NewMemoryBanStore returns an empty store.
func NewMemoryBanStore(idleTTL time.Duration) *MemoryBanStore {
	return &MemoryBanStore{entries: make(map[string]*BanState), idleTTL: idleTTL}
}

var _ BanStore = (*MemoryBanStore)(nil)

// liftExpired clears a ban whose expiry has passed and restarts the count.
func liftExpired(st *BanState, now time.Time) {
	if st.Banned && !now.Before(st.BanExpiry) {
		st.Banned = false
		st.BanExpiry = time.Time{}
		st.Count = 0
	}
}

func (s *MemoryBanStore) Fail(_ context.Context, key string, threshold int, banFor time.Duration, now time.Time) (BanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[key]
	if !ok {
		st = &BanState{}
		s.entries[key] = st
	}
	liftExpired(st, now)
	st.Count++
	st.LastAttempt = now
	if !st.Banned && st.Count >= threshold {
		st.Banned = true
		st.BanExpiry = now.Add(banFor)
	}
	return *st, nil
}

func (s *MemoryBanStore) Status(_ context.Context, key string, now time.Time) (BanState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.entries[key]
	if !ok {
		return BanState{}, nil
	}
	liftExpired(st, now)
	return *st, nil
}

// Sweep drops idle records and returns how many were removed.
func (s *MemoryBanStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, st := range s.entries {
		if st.Active(now) {
			continue
		}
		if now.Sub(st.LastAttempt) >= s.idleTTL {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked records.
func (s *MemoryBanStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
