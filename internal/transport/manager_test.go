package transport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/caioqm/deskchat/internal/backend"
	"github.com/caioqm/deskchat/internal/bus"
	"github.com/caioqm/deskchat/internal/status"
	"go.uber.org/zap"
)

type fakeChannel struct {
	events chan Event
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan Event, 16)}
}

func (c *fakeChannel) Events() <-chan Event { return c.events }

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}

// fakeDialer fails the first failN dials, then hands out fresh channels.
type fakeDialer struct {
	mu    sync.Mutex
	failN int
	calls int
	chans []*fakeChannel
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failN {
		return nil, fmt.Errorf("dial refused")
	}
	ch := newFakeChannel()
	d.chans = append(d.chans, ch)
	return ch, nil
}

func (d *fakeDialer) dialCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDialer) lastChannel() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.chans) == 0 {
		return nil
	}
	return d.chans[len(d.chans)-1]
}

type fakePoller struct {
	mu    sync.Mutex
	calls []int64
	msgs  []backend.Message
}

func (p *fakePoller) FetchSince(_ context.Context, _ string, since int64) ([]backend.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, since)
	var out []backend.Message
	for _, m := range p.msgs {
		if m.Sequence > since {
			out = append(out, m)
		}
	}
	return out, nil
}

func (p *fakePoller) pollCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeChecks struct {
	mu  sync.Mutex
	seq int64
}

func (c *fakeChecks) LastAckSequence(string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, nil
}

func (c *fakeChecks) set(seq int64) {
	c.mu.Lock()
	c.seq = seq
	c.mu.Unlock()
}

func testManager(t *testing.T, d Dialer, p Poller, c Checkpoints, b *bus.Bus) (*Manager, *status.Machine) {
	t.Helper()
	machine := status.NewMachine(b)
	logger := zap.NewNop()
	m := NewManager(d, p, c, machine, b, logger, Config{
		DialFailureLimit: 3,
		PollInterval:     20 * time.Millisecond,
		BackoffInitial:   time.Millisecond,
		BackoffMax:       5 * time.Millisecond,
	})
	t.Cleanup(m.Close)
	return m, machine
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestOpenIdempotent(t *testing.T) {
	d := &fakeDialer{}
	b := bus.New()
	m, machine := testManager(t, d, &fakePoller{}, &fakeChecks{}, b)

	m.Open("c1")
	waitFor(t, "connected", func() bool { return machine.Current() == status.Connected })

	// Re-opening the same chat must not tear down or redial.
	m.Open("c1")
	time.Sleep(50 * time.Millisecond)
	if got := d.dialCalls(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
}

func TestReopenOnChatChange(t *testing.T) {
	d := &fakeDialer{}
	b := bus.New()
	m, machine := testManager(t, d, &fakePoller{}, &fakeChecks{}, b)

	m.Open("c1")
	waitFor(t, "connected", func() bool { return machine.Current() == status.Connected })

	m.Open("c2")
	waitFor(t, "second dial", func() bool { return d.dialCalls() >= 2 })
}

func TestRealtimeEventsReachBus(t *testing.T) {
	d := &fakeDialer{}
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindConnInbound, 16)
	defer unsub()

	m, machine := testManager(t, d, &fakePoller{}, &fakeChecks{}, b)
	m.Open("c1")
	waitFor(t, "connected", func() bool { return machine.Current() == status.Connected })

	d.lastChannel().events <- Event{Message: &backend.Message{ID: "m1", From: "agent", Body: "hi", Sequence: 1}}

	select {
	case evt := <-ch:
		inbound, ok := evt.Payload.(InboundMessage)
		if !ok {
			t.Fatalf("payload type = %T", evt.Payload)
		}
		if inbound.ChatID != "c1" || inbound.Message.ID != "m1" {
			t.Errorf("inbound = %+v", inbound)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for inbound event")
	}
}

func TestReconnectAfterChannelDrop(t *testing.T) {
	d := &fakeDialer{}
	b := bus.New()
	m, machine := testManager(t, d, &fakePoller{}, &fakeChecks{}, b)

	m.Open("c1")
	waitFor(t, "connected", func() bool { return machine.Current() == status.Connected })

	// Server closes the channel; manager must dial again.
	d.lastChannel().Close()
	waitFor(t, "redial", func() bool { return d.dialCalls() >= 2 })
	waitFor(t, "reconnected", func() bool { return machine.Current() == status.Connected })
}

// TestFallbackAfterConsecutiveFailures exercises the degrade path: three
// failed dials switch the session to fallback polling, inbound messages
// still arrive via polls, and the poller is asked only for messages after
// the acknowledged sequence.
func TestFallbackAfterConsecutiveFailures(t *testing.T) {
	d := &fakeDialer{failN: 1 << 20} // never connects
	p := &fakePoller{msgs: []backend.Message{
		{ID: "m1", From: "agent", Body: "hello", Sequence: 1},
		{ID: "m2", From: "agent", Body: "still here", Sequence: 2},
	}}
	checks := &fakeChecks{}
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindConnInbound, 64)
	defer unsub()

	m, machine := testManager(t, d, p, checks, b)
	m.Open("c1")

	waitFor(t, "degraded", func() bool { return machine.Current() == status.Degraded })
	if machine.Current().Mode() != status.ModeFallback {
		t.Errorf("mode = %s, want fallback", machine.Current().Mode())
	}
	if d.dialCalls() != 3 {
		t.Errorf("dial calls before degrade = %d, want 3", d.dialCalls())
	}

	// Both messages arrive over the poll path.
	got := map[string]bool{}
	for len(got) < 2 {
		select {
		case evt := <-ch:
			got[evt.Payload.(InboundMessage).Message.ID] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout; got %v", got)
		}
	}

	// Once the log has acknowledged sequence 2, later polls must not
	// re-deliver m1/m2.
	checks.set(2)
	waitFor(t, "another poll", func() bool { return p.pollCalls() >= 3 })
	base := p.pollCalls()
	waitFor(t, "post-ack poll", func() bool { return p.pollCalls() > base })
	select {
	case evt := <-ch:
		// Drain anything published before the checkpoint moved.
		if msg := evt.Payload.(InboundMessage).Message; msg.Sequence > 2 {
			t.Errorf("unexpected message past checkpoint: %+v", msg)
		}
	default:
	}
}

func TestRetryConnectionLeavesFallback(t *testing.T) {
	d := &fakeDialer{failN: 3}
	b := bus.New()
	m, machine := testManager(t, d, &fakePoller{}, &fakeChecks{}, b)

	m.Open("c1")
	waitFor(t, "degraded", func() bool { return machine.Current() == status.Degraded })

	// The dialer succeeds from call 4 on; an explicit retry must bring the
	// session back to realtime.
	m.RetryConnection()
	waitFor(t, "connected after retry", func() bool { return machine.Current() == status.Connected })
}
