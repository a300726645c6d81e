package transport

import (
	"sync"
)

// State describes the connection's lifecycle position as seen by observers.
type State string

const (
	// StateDisconnected means no connection exists and none is being
	// attempted. This is the initial state and the state after a
	// deliberate Disconnect.
	StateDisconnected State = "disconnected"

	// StateConnecting means a dial or reconnect attempt is in progress.
	StateConnecting State = "connecting"

	// StateConnected means the socket is established and usable.
	StateConnected State = "connected"

	// StateError means the connection dropped abnormally. The channel
	// moves through this state on its way back to connecting.
	StateError State = "error"
)

// StateHandler observes state transitions. Handlers run synchronously in
// registration order; they must not block.
type StateHandler func(State)

// Monitor derives the connection tri-state from the Channel and exposes it
// both synchronously and reactively. Transitions follow a fixed path:
//
//	disconnected -> connecting -> connected
//	connected    -> disconnected          (deliberate close)
//	connected    -> error -> connecting   (abnormal close)
//
// Monitor never skips a step: a request to jump across the path emits each
// intermediate state in order. Repeated requests for the current state are
// coalesced so observers never see duplicate notifications.
type Monitor struct {
	mu       sync.Mutex
	state    State
	handlers map[int]StateHandler
	order    []int
	nextID   int
}

// NewMonitor creates a monitor in the disconnected state.
func NewMonitor() *Monitor {
	return &Monitor{
		state:    StateDisconnected,
		handlers: make(map[int]StateHandler),
	}
}

// State returns the current connection state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers a handler for state transitions and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (m *Monitor) OnChange(handler StateHandler) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	m.order = append(m.order, id)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.handlers[id]; !ok {
			return
		}
		delete(m.handlers, id)
		for i, v := range m.order {
			if v == id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
}

// Transition moves the monitor toward the target state, emitting every
// intermediate state on the legal path. A transition to the current state
// is coalesced into nothing.
func (m *Monitor) Transition(target State) {
	m.mu.Lock()
	steps := pathTo(m.state, target)
	if len(steps) == 0 {
		m.mu.Unlock()
		return
	}
	// Snapshot handlers once; late subscribers see only later transitions.
	handlers := m.snapshotLocked()
	m.state = target
	m.mu.Unlock()

	for _, s := range steps {
		for _, h := range handlers {
			h(s)
		}
	}
}

// snapshotLocked returns handlers in registration order. Caller holds mu.
func (m *Monitor) snapshotLocked() []StateHandler {
	out := make([]StateHandler, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.handlers[id])
	}
	return out
}

// pathTo computes the intermediate states (inclusive of target) between
// from and target along the legal transition graph. Returns nil when the
// states are equal.
func pathTo(from, target State) []State {
	if from == target {
		return nil
	}
	var steps []State
	cur := from
	// Walk at most the full cycle; the graph is small and acyclic per hop.
	for i := 0; i < 4 && cur != target; i++ {
		cur = nextToward(cur, target)
		steps = append(steps, cur)
	}
	return steps
}

// nextToward returns the next state on the path from cur to target.
func nextToward(cur, target State) State {
	switch cur {
	case StateDisconnected:
		return StateConnecting
	case StateConnecting:
		if target == StateDisconnected {
			return StateDisconnected
		}
		return StateConnected
	case StateConnected:
		// Deliberate close goes straight to disconnected; anything else
		// is an abnormal drop routed through error.
		if target == StateDisconnected {
			return StateDisconnected
		}
		return StateError
	case StateError:
		if target == StateDisconnected {
			return StateDisconnected
		}
		return StateConnecting
	}
	return target
}
