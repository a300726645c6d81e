// Package cache provides the shared read cache the UI renders from.
// The store is deliberately generic: the optimistic mutation engine depends
// only on the Store interface, never on what the values are or where
// authoritative data comes from.
//
// Reconciliation model: Invalidate marks a key stale and pulls authoritative
// data through the registered Fetcher in the background. Fetch responses
// apply last-write-wins by arrival order, not issue order, because network
// responses may arrive out of order. Evict removes a key and cancels its
// in-flight fetches; a straggling response for an evicted key is dropped so
// deleted state can never be resurrected.
package cache

import (
	"context"
	"log"
	"sync"
)

// Fetcher pulls the authoritative value for a key from the backend.
type Fetcher func(ctx context.Context, key string) (interface{}, error)

// Store is the key-value contract the mutation engine writes through.
type Store interface {
	// Get returns the cached value for key, if present.
	Get(key string) (interface{}, bool)

	// Set stores a value for key, replacing any existing value.
	Set(key string, value interface{})

	// Update atomically replaces key's value with fn(old) and returns the
	// old value. fn receives nil when the key is absent.
	Update(key string, fn func(old interface{}) interface{}) (old interface{})

	// Invalidate marks key stale and refetches authoritative data in the
	// background through the registered fetcher.
	Invalidate(key string)

	// Evict removes key entirely, cancelling any in-flight fetch. Later
	// responses for the evicted generation are dropped.
	Evict(key string)

	// CancelPending cancels in-flight fetches for key without touching
	// the cached value.
	CancelPending(key string)
}

// pendingFetch tracks one in-flight background fetch.
type pendingFetch struct {
	cancel context.CancelFunc
	gen    int
}

// MemoryStore is the in-memory Store used by the client.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]interface{}
	fetcher Fetcher

	// pending tracks in-flight fetches per key; gen is bumped on Evict so
	// responses started before the eviction cannot repopulate the key.
	pending map[string][]*pendingFetch
	gen     map[string]int
}

// NewMemoryStore creates an empty store. The fetcher may be nil, in which
// case Invalidate only drops the stale value.
func NewMemoryStore(fetcher Fetcher) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]interface{}),
		fetcher: fetcher,
		pending: make(map[string][]*pendingFetch),
		gen:     make(map[string]int),
	}
}

// Get returns the cached value for key.
func (s *MemoryStore) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// Set stores a value for key.
func (s *MemoryStore) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

// Update atomically replaces key's value with fn(old).
func (s *MemoryStore) Update(key string, fn func(old interface{}) interface{}) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.entries[key]
	s.entries[key] = fn(old)
	return old
}

// Invalidate refetches authoritative data for key in the background.
// The stale value stays visible until the fetch response lands, so the UI
// never flashes empty during reconciliation.
func (s *MemoryStore) Invalidate(key string) {
	s.mu.Lock()
	fetcher := s.fetcher
	if fetcher == nil {
		delete(s.entries, key)
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	pf := &pendingFetch{cancel: cancel, gen: s.gen[key]}
	s.pending[key] = append(s.pending[key], pf)
	s.mu.Unlock()

	go s.runFetch(ctx, key, pf, fetcher)
}

// runFetch executes one background fetch and applies the response if the
// key still exists in the same generation. Whichever response arrives last
// wins, regardless of which fetch was issued first.
func (s *MemoryStore) runFetch(ctx context.Context, key string, pf *pendingFetch, fetcher Fetcher) {
	value, err := fetcher(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removePending(key, pf)

	if err != nil {
		if ctx.Err() == nil {
			log.Printf("cache: refetch %s failed: %v", key, err)
		}
		return
	}
	if s.gen[key] != pf.gen {
		// Key was evicted while this fetch was in flight. Dropping the
		// response is required; repopulating deleted state is not.
		log.Printf("cache: dropping stale fetch response for evicted key %s", key)
		return
	}
	s.entries[key] = value
}

// Evict removes key and cancels its in-flight fetches. The generation bump
// ensures responses racing the eviction are discarded.
func (s *MemoryStore) Evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelPendingLocked(key)
	s.gen[key]++
	delete(s.entries, key)
}

// CancelPending cancels in-flight fetches for key.
func (s *MemoryStore) CancelPending(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelPendingLocked(key)
}

func (s *MemoryStore) cancelPendingLocked(key string) {
	for _, pf := range s.pending[key] {
		pf.cancel()
	}
	delete(s.pending, key)
}

func (s *MemoryStore) removePending(key string, pf *pendingFetch) {
	list := s.pending[key]
	for i, p := range list {
		if p == pf {
			s.pending[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.pending[key]) == 0 {
		delete(s.pending, key)
	}
}

// PendingCount reports in-flight fetches for key. Used by tests and the
// conversation service's delete path assertions.
func (s *MemoryStore) PendingCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[key])
}
