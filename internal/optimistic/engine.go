// Package optimistic wraps state-changing user actions so the UI reflects
// them immediately while server truth catches up.
//
// Each mutation runs a small state machine:
//
//	idle -> optimistic-applied -> reconciled    (call succeeded)
//	                           -> rolled-back   (call failed)
//	                           -> kept          (call cancelled by the user)
//
// Before the network call, the mutation stages a speculative value into the
// shared cache and snapshots the prior value. On success the key is
// invalidated so the next read pulls authoritative state — the speculative
// value is never assumed correct, since servers may transform it (assign
// ids, generate text). On failure the snapshot is restored, except for
// user-initiated cancellations: the user's partial input is preserved, not
// rolled back.
package optimistic

import (
	"context"
	"log"
	"reflect"
	"sync"

	"github.com/GenorTG/personal-assistant-sub001/internal/apperrors"
	"github.com/GenorTG/personal-assistant-sub001/internal/cache"
)

// Outcome names the terminal state of one mutation invocation.
type Outcome string

const (
	// OutcomeReconciled means the call succeeded and the key was
	// invalidated to pull authoritative data.
	OutcomeReconciled Outcome = "reconciled"

	// OutcomeRolledBack means the call failed and the pre-mutation
	// snapshot was restored.
	OutcomeRolledBack Outcome = "rolled-back"

	// OutcomeKept means the call was cancelled by the user and the
	// speculative value was left in place.
	OutcomeKept Outcome = "kept"
)

// StageFunc computes the speculative new value from the current cached
// value. It must not mutate old in place; concurrent mutations on the same
// key compose by staging on top of each other's results.
type StageFunc func(old interface{}) interface{}

// CallFunc issues the network call backing the mutation. The engine treats
// it as an opaque promise: it does not care whether the underlying
// transport is the socket request path or plain HTTP.
type CallFunc func(ctx context.Context) error

// Engine coordinates optimistic cache writes against a shared store.
type Engine struct {
	store cache.Store

	// mu guards the per-key inflight counters. Racing reconciles are not
	// serialized here; the cache's recency-by-arrival arbitration resolves
	// them (last fetch response wins).
	mu       sync.Mutex
	inflight map[string]int
}

// NewEngine creates an engine writing through the given store.
func NewEngine(store cache.Store) *Engine {
	return &Engine{
		store:    store,
		inflight: make(map[string]int),
	}
}

// Mutate applies a mutation to key: stage speculatively, call, reconcile or
// roll back. The staged value is visible to readers synchronously, before
// the call is issued, so sequential mutations on one key are observed in
// invocation order. The original call error is returned verbatim.
func (e *Engine) Mutate(ctx context.Context, key string, stage StageFunc, call CallFunc) (Outcome, error) {
	var snapshot, staged interface{}
	e.store.Update(key, func(old interface{}) interface{} {
		snapshot = old
		staged = stage(old)
		return staged
	})

	e.trackInflight(key, +1)
	err := call(ctx)
	e.trackInflight(key, -1)

	if err == nil {
		e.store.Invalidate(key)
		return OutcomeReconciled, nil
	}

	if apperrors.IsCancellation(err) {
		// User-cancelled: partial effects are preserve-on-cancel.
		log.Printf("optimistic: mutation on %s cancelled, keeping staged value", key)
		return OutcomeKept, err
	}

	e.rollback(key, snapshot, staged)
	return OutcomeRolledBack, err
}

// rollback restores the snapshot, but only when this mutation's staged
// value is still current. If another mutation composed on top of it since,
// blindly restoring the snapshot would clobber that edit; instead the key
// is invalidated so server truth resolves the pile-up.
func (e *Engine) rollback(key string, snapshot, staged interface{}) {
	restored := false
	e.store.Update(key, func(cur interface{}) interface{} {
		if reflect.DeepEqual(cur, staged) {
			restored = true
			return snapshot
		}
		return cur
	})
	if !restored {
		log.Printf("optimistic: %s changed since staging, reconciling instead of restoring", key)
		e.store.Invalidate(key)
	}
}

// InflightCount reports mutations currently awaiting their call's
// settlement for key.
func (e *Engine) InflightCount(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight[key]
}

func (e *Engine) trackInflight(key string, delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight[key] += delta
	if e.inflight[key] <= 0 {
		delete(e.inflight, key)
	}
}
