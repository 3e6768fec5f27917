// Package readtrack sends read receipts for inbound messages. It watches
// the log for appended agent and system messages and acknowledges the
// newest one, deduplicating so the backend never sees the same receipt
// twice.
package readtrack

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caioqm/deskchat/internal/bus"
	"github.com/caioqm/deskchat/internal/store"
)

const ackTimeout = 10 * time.Second

// API is the backend surface the tracker needs.
type API interface {
	MarkRead(ctx context.Context, chatID, lastMessageID string) error
}

// Tracker acknowledges inbound messages as read. The last acknowledged log
// position is persisted per chat, so a restart does not replay receipts.
type Tracker struct {
	db     *store.DB
	api    API
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewTracker(db *store.DB, api API, b *bus.Bus, logger *zap.Logger) *Tracker {
	return &Tracker{db: db, api: api, bus: b, logger: logger.Named("readtrack")}
}

// Start subscribes to appended messages. Calling Start on a running
// tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	events, unsub := t.bus.Subscribe(bus.KindMessageAppended, 128)
	go t.run(ctx, events, unsub, t.done)
}

// Stop halts the tracker and waits for the loop to drain.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Tracker) run(ctx context.Context, events <-chan bus.Event, unsub func(), done chan struct{}) {
	defer close(done)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			msg, ok := evt.Payload.(store.Message)
			if !ok {
				continue
			}
			t.observe(ctx, &msg)
		}
	}
}

// observe acknowledges an inbound message. Own sends never produce
// receipts, and a message at or before the persisted position is already
// acknowledged.
func (t *Tracker) observe(ctx context.Context, msg *store.Message) {
	if msg.Sender == store.SenderClient || msg.ServerID == "" {
		return
	}
	last, err := t.lastAcked(msg.ChatID)
	if err != nil {
		t.logger.Error("failed to read receipt checkpoint", zap.Error(err))
		return
	}
	if msg.LocalID <= last {
		return
	}

	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	err = t.api.MarkRead(ackCtx, msg.ChatID, msg.ServerID)
	cancel()
	if err != nil {
		// Receipt delivery is best effort; the next inbound message
		// retries implicitly.
		t.logger.Warn("failed to send read receipt",
			zap.String("chat_id", msg.ChatID),
			zap.String("server_id", msg.ServerID),
			zap.Error(err))
		return
	}
	if err := t.setLastAcked(msg.ChatID, msg.LocalID); err != nil {
		t.logger.Error("failed to persist receipt checkpoint", zap.Error(err))
	}
}

func (t *Tracker) lastAcked(chatID string) (int64, error) {
	raw, err := t.db.GetCheckpoint(store.ReadAckKey(chatID))
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (t *Tracker) setLastAcked(chatID string, localID int64) error {
	return t.db.SetCheckpoint(store.ReadAckKey(chatID), strconv.FormatInt(localID, 10))
}
