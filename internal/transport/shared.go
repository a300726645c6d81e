package transport

import "sync"

// The application uses exactly one channel per process, created on first
// use and shared by reference. It is held here rather than in any single
// component so that settings panels, the chat surface, and the health
// indicator all observe the same connection.
var (
	sharedMu sync.Mutex
	shared   *Channel
)

// Shared returns the process-wide channel, creating it on first call with
// the given config. Later calls ignore cfg and return the existing channel.
func Shared(cfg Config) *Channel {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = New(cfg)
	}
	return shared
}

// ResetShared tears down the shared channel, if any, and clears it so the
// next Shared call builds a fresh one. Tests use this to substitute fake
// or per-test channels.
func ResetShared() {
	sharedMu.Lock()
	ch := shared
	shared = nil
	sharedMu.Unlock()
	if ch != nil {
		ch.Disconnect()
	}
}
