// Package rpc implements the request/response half of the socket protocol.
// Each outgoing request is tagged with a fresh correlation id and parked in
// a pending table until its reply arrives, it times out, or the connection
// drops. Every request settles exactly once; replies for ids that are no
// longer pending are dropped silently so a stale reply can never resolve
// the wrong call.
package rpc

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GenorTG/personal-assistant-sub001/internal/apperrors"
	"github.com/GenorTG/personal-assistant-sub001/internal/wire"
)

// DefaultTimeout bounds requests whose caller passes no explicit timeout.
const DefaultTimeout = 10 * time.Second

// Sender is the outbound side of the transport. The correlator depends only
// on this, not on the concrete channel, so tests can capture frames.
type Sender interface {
	Send(*wire.Frame) error
}

// result carries a settled reply to the waiting caller.
type result struct {
	data json.RawMessage
	err  error
}

// pendingRequest is the ephemeral record of an unanswered request.
type pendingRequest struct {
	action string
	ch     chan result
	timer  *time.Timer
}

// Correlator matches replies to requests by correlation id.
type Correlator struct {
	sender Sender

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New creates a Correlator sending through the given transport.
// Wire it to the transport with:
//
//	ch.OnMessage(corr.HandleFrame)
//	ch.OnDrop(corr.FailAll)
func New(sender Sender) *Correlator {
	return &Correlator{
		sender:  sender,
		pending: make(map[string]*pendingRequest),
	}
}

// Request sends an action with a payload and waits for the matching reply.
// A timeout of zero uses DefaultTimeout. The returned error is a CodedError:
// request.timeout when no reply arrives in time, request.rejected when the
// backend answers success=false, request.cancelled when ctx is cancelled,
// or the transport's fail-fast error if the frame could not be sent.
func (c *Correlator) Request(ctx context.Context, action string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	id := uuid.New().String()
	frame, err := wire.NewRequest(id, action, payload)
	if err != nil {
		return nil, err
	}

	req := &pendingRequest{
		action: action,
		ch:     make(chan result, 1),
	}

	// The timer settles the request itself so a reply racing the timeout
	// can never settle it twice: whoever removes the entry from the
	// pending table wins. It is assigned before the entry is published so
	// a settle on the transport goroutine always sees a complete record.
	c.mu.Lock()
	req.timer = time.AfterFunc(timeout, func() {
		c.settle(id, result{err: apperrors.Timeout(action)})
	})
	c.pending[id] = req
	c.mu.Unlock()

	if err := c.sender.Send(frame); err != nil {
		c.settle(id, result{err: err})
	}

	select {
	case res := <-req.ch:
		return res.data, res.err
	case <-ctx.Done():
		c.settle(id, result{err: apperrors.Wrap(apperrors.CodeRequestCancelled,
			"request "+action+" cancelled", ctx.Err())})
		// The settle above either won (our cancellation is in the
		// channel) or lost to a concurrent reply; either way exactly
		// one result is buffered.
		res := <-req.ch
		return res.data, res.err
	}
}

// HandleFrame inspects an inbound frame and claims it if it is a reply to a
// pending request. Frames that are not rpc replies, or whose id is unknown
// (timed out, cancelled, or never ours), are ignored.
func (c *Correlator) HandleFrame(frame *wire.Frame) {
	if !frame.IsRPC() || frame.Success == nil {
		return
	}

	var res result
	if *frame.Success {
		res.data = frame.Result
	} else {
		res.err = apperrors.Rejected(frame.Error)
	}
	if !c.settle(frame.ID, res) {
		// Stale reply for a request that already settled. Dropping it
		// silently is required; resolving a wrong promise is not.
		log.Printf("rpc: dropping stale reply id=%s", frame.ID)
	}
}

// FailAll rejects every pending request with the given error. The transport
// calls this on connection loss so no caller is left dangling and the
// mutation engine's rollback logic can run immediately.
func (c *Correlator) FailAll(cause error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	for _, req := range pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		req.ch <- result{err: cause}
	}
	if len(pending) > 0 {
		log.Printf("rpc: failed %d pending request(s): %v", len(pending), cause)
	}
}

// PendingCount reports the number of unanswered requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// settle removes the pending entry for id, stops its timer, and delivers
// the result. Returns false when the id was not pending (already settled).
func (c *Correlator) settle(id string, res result) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if req.timer != nil {
		req.timer.Stop()
	}
	req.ch <- res
	return true
}
