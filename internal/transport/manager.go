package transport

import (
	"context"
	"sync"
	"time"

	"github.com/caioqm/deskchat/internal/bus"
	"github.com/caioqm/deskchat/internal/status"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Config tunes the manager's failure handling.
type Config struct {
	// DialFailureLimit is the number of consecutive realtime connect
	// failures before the session degrades to fallback polling.
	DialFailureLimit int
	// PollInterval is the fallback poll period.
	PollInterval time.Duration
	// BackoffInitial and BackoffMax bound the jittered reconnect backoff.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Manager maintains exactly one active transport for one open chat. It
// drives the session state machine, publishes inbound events on the bus,
// and degrades to fallback polling after repeated realtime failures rather
// than surfacing a hard error. Once degraded it polls indefinitely; only an
// explicit RetryConnection moves it back to realtime attempts.
type Manager struct {
	dialer  Dialer
	poller  Poller
	checks  Checkpoints
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	cfg     Config

	mu     sync.Mutex
	chatID string
	cancel context.CancelFunc
	retry  chan struct{}
}

// NewManager creates a connection manager. It does nothing until Open.
func NewManager(dialer Dialer, poller Poller, checks Checkpoints, machine *status.Machine, b *bus.Bus, logger *zap.Logger, cfg Config) *Manager {
	if cfg.DialFailureLimit <= 0 {
		cfg.DialFailureLimit = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Manager{
		dialer:  dialer,
		poller:  poller,
		checks:  checks,
		machine: machine,
		bus:     b,
		logger:  logger,
		cfg:     cfg,
	}
}

// Open starts the transport for a chat. Idempotent: opening the chat that
// is already open is a no-op; opening a different chat tears the session
// down and reopens.
func (m *Manager) Open(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		if m.chatID == chatID {
			return
		}
		m.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.chatID = chatID
	m.cancel = cancel
	m.retry = make(chan struct{}, 1)
	go m.run(ctx, chatID, m.retry)
}

// RetryConnection forces the manager out of its current wait: it skips a
// pending reconnect delay, resets backoff, and leaves fallback polling to
// attempt realtime again.
func (m *Manager) RetryConnection() {
	m.mu.Lock()
	retry := m.retry
	m.mu.Unlock()
	if retry == nil {
		return
	}
	select {
	case retry <- struct{}{}:
	default:
	}
}

// Close cancels the open session: pending polls and reconnect timers stop.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.chatID = ""
		m.retry = nil
	}
}

// State returns the current session state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

func (m *Manager) run(ctx context.Context, chatID string, retry chan struct{}) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.BackoffInitial
	bo.MaxInterval = m.cfg.BackoffMax

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}
		_ = m.machine.Transition(status.Connecting)

		ch, err := m.dialer.Dial(ctx, chatID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			m.logger.Warn("realtime connect failed",
				zap.Error(err), zap.String("chat", chatID), zap.Int("consecutive", failures))
			if failures >= m.cfg.DialFailureLimit {
				if !m.pollLoop(ctx, chatID, retry) {
					return
				}
				failures = 0
				bo.Reset()
				continue
			}
			_ = m.machine.Transition(status.Reconnecting)
			if !m.wait(ctx, bo, retry) {
				return
			}
			continue
		}

		failures = 0
		bo.Reset()
		_ = m.machine.Transition(status.Connected)
		m.logger.Info("realtime channel connected", zap.String("chat", chatID))

		// Catch up on anything missed while disconnected; the log's
		// sequence checkpoint guarantees nothing is requested twice.
		m.pollOnce(ctx, chatID)

		m.consume(ctx, chatID, ch)
		_ = ch.Close()
		if ctx.Err() != nil {
			return
		}
		_ = m.machine.Transition(status.Reconnecting)
		if !m.wait(ctx, bo, retry) {
			return
		}
	}
}

func (m *Manager) consume(ctx context.Context, chatID string, ch Channel) {
	for {
		select {
		case evt, ok := <-ch.Events():
			if !ok {
				return
			}
			m.publish(chatID, evt)
		case <-ctx.Done():
			return
		}
	}
}

// pollLoop serves the session via periodic fetches. Returns false on
// shutdown, true when an explicit retry asks for realtime again.
func (m *Manager) pollLoop(ctx context.Context, chatID string, retry chan struct{}) bool {
	_ = m.machine.Transition(status.Degraded)
	m.logger.Warn("degraded to fallback polling", zap.String("chat", chatID))

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.pollOnce(ctx, chatID)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-retry:
			m.logger.Info("leaving fallback on explicit retry", zap.String("chat", chatID))
			return true
		case <-ticker.C:
			m.pollOnce(ctx, chatID)
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context, chatID string) {
	since, err := m.checks.LastAckSequence(chatID)
	if err != nil {
		m.logger.Error("read ack sequence", zap.Error(err))
		return
	}
	msgs, err := m.poller.FetchSince(ctx, chatID, since)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("poll failed", zap.Error(err), zap.String("chat", chatID))
		}
		return
	}
	for i := range msgs {
		m.publish(chatID, Event{Message: &msgs[i]})
	}
}

func (m *Manager) wait(ctx context.Context, bo *backoff.ExponentialBackOff, retry chan struct{}) bool {
	timer := time.NewTimer(bo.NextBackOff())
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-retry:
		bo.Reset()
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) publish(chatID string, evt Event) {
	switch {
	case evt.Message != nil:
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnInbound,
			Timestamp: time.Now(),
			Payload:   InboundMessage{ChatID: chatID, Message: *evt.Message},
		})
	case evt.Status != nil:
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnStatus,
			Timestamp: time.Now(),
			Payload:   InboundStatus{ChatID: chatID, Event: *evt.Status},
		})
	}
}
