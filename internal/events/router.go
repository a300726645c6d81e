// Package events dispatches unsolicited server pushes to subscribers.
// Subscriptions are keyed by action name; one action may have many handlers
// and they are invoked in registration order for every matching frame. A
// handler that panics does not prevent delivery to the rest.
package events

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/GenorTG/personal-assistant-sub001/internal/wire"
)

// Handler consumes the payload of a push frame.
type Handler func(payload json.RawMessage)

// subscription pairs a handler with a registration sequence number so
// removal targets exactly one instance even when the same function is
// registered twice.
type subscription struct {
	seq     int
	handler Handler
}

// Router maintains the action -> handlers table and claims event frames
// from the shared inbound stream.
type Router struct {
	mu      sync.Mutex
	subs    map[string][]subscription
	nextSeq int
}

// NewRouter creates an empty router. Wire it to the transport with:
//
//	ch.OnMessage(router.HandleFrame)
func NewRouter() *Router {
	return &Router{
		subs: make(map[string][]subscription),
	}
}

// Subscribe registers a handler for an action and returns an unsubscribe
// function. Unsubscribing removes exactly this registration; calling it
// more than once is a no-op and never affects other subscribers.
func (r *Router) Subscribe(action string, handler Handler) func() {
	r.mu.Lock()
	seq := r.nextSeq
	r.nextSeq++
	r.subs[action] = append(r.subs[action], subscription{seq: seq, handler: handler})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.subs[action]
		for i, s := range list {
			if s.seq == seq {
				r.subs[action] = append(list[:i], list[i+1:]...)
				if len(r.subs[action]) == 0 {
					delete(r.subs, action)
				}
				return
			}
		}
	}
}

// SubscriberCount reports the number of handlers for an action.
func (r *Router) SubscriberCount(action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[action])
}

// HandleFrame claims event frames from the inbound stream and dispatches
// them. RPC frames are ignored; the correlator owns those.
func (r *Router) HandleFrame(frame *wire.Frame) {
	if !frame.IsEvent() || frame.Action == "" {
		return
	}

	r.mu.Lock()
	list := append([]subscription(nil), r.subs[frame.Action]...)
	r.mu.Unlock()

	for _, s := range list {
		dispatch(frame.Action, s.handler, frame.Payload)
	}
}

// dispatch runs one handler, containing panics so the remaining handlers
// for the frame still run.
func dispatch(action string, handler Handler, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("events: handler for %s panicked: %v", action, rec)
		}
	}()
	handler(payload)
}
