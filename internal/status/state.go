package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/caioqm/deskchat/internal/bus"
)

// State represents the connection state of one chat session. A single enum
// covers both the status and the transport dimension: CONNECTED always means
// the realtime channel is live, DEGRADED always means the session is served
// by fallback polling. "Connected with ambiguous fallback flag" is therefore
// unrepresentable.
type State string

const (
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// Mode is the transport a session is currently served by.
type Mode string

const (
	ModeRealtime Mode = "realtime"
	ModeFallback Mode = "fallback"
)

// Mode returns the transport mode implied by the state.
func (s State) Mode() Mode {
	if s == Degraded {
		return ModeFallback
	}
	return ModeRealtime
}

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Connecting:   {Connected, Reconnecting, Degraded, Error},
	Connected:    {Connecting, Reconnecting, Error},
	Reconnecting: {Connecting, Connected, Degraded, Error},
	Degraded:     {Connecting, Error},
	Error:        {Connecting},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Connecting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Connecting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition
// is invalid. A transition to the current state is a no-op and emits nothing.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnStateChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
				Mode: to.Mode(),
			},
		})
	}
	return nil
}

// StateChange is the payload for state change events.
type StateChange struct {
	From State
	To   State
	Mode Mode
}
