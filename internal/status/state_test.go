package status

import (
	"testing"

	"github.com/caioqm/deskchat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Connecting {
		t.Errorf("initial state = %s, want CONNECTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Connecting, Connected},
		{Connecting, Reconnecting},
		{Connecting, Degraded},
		{Connected, Reconnecting},
		{Reconnecting, Connecting},
		{Reconnecting, Degraded},
		{Degraded, Connecting},
		{Error, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Degraded)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DEGRADED -> CONNECTED) should fail; must retry via CONNECTING")
	}
}

func TestSelfTransitionIsNoOp(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("self transition: %v", err)
	}
	select {
	case evt := <-ch:
		t.Errorf("self transition emitted event: %v", evt)
	default:
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connected); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnStateChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindConnStateChanged)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != Connecting || change.To != Connected {
		t.Errorf("change = %v -> %v, want CONNECTING -> CONNECTED", change.From, change.To)
	}
	if change.Mode != ModeRealtime {
		t.Errorf("mode = %s, want realtime", change.Mode)
	}
}

// TestDegradedImpliesFallbackMode verifies the mode is derived from the
// state, so a session can never report connected-realtime while polling.
func TestDegradedImpliesFallbackMode(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Degraded)
	if m.Current().Mode() != ModeFallback {
		t.Errorf("mode = %s, want fallback", m.Current().Mode())
	}
}

// TestDropReconnectCycle verifies the channel-drop loop:
// CONNECTED → RECONNECTING → CONNECTING → CONNECTED.
func TestDropReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	steps := []State{Reconnecting, Connecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

// TestFallbackEntryAfterRepeatedFailures simulates the dial-failure path:
// CONNECTING → RECONNECTING → … → DEGRADED, then a manual retry back out.
func TestFallbackEntryAfterRepeatedFailures(t *testing.T) {
	m := NewMachine(nil)

	steps := []State{Reconnecting, Connecting, Reconnecting, Degraded, Connecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Connecting:   {},
		Connected:    {Connected},
		Reconnecting: {Reconnecting},
		Degraded:     {Reconnecting, Degraded},
		Error:        {Error},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
