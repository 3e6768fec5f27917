// Package sync applies inbound transport events to the message log. It is
// the single writer for server-originated mutations: appends, delivery-status
// advances and the per-chat acknowledged-sequence checkpoint.
package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caioqm/deskchat/internal/backend"
	"github.com/caioqm/deskchat/internal/bus"
	"github.com/caioqm/deskchat/internal/store"
	"github.com/caioqm/deskchat/internal/transport"
)

// Engine consumes transport events off the bus and folds them into the
// store. Every applied mutation is re-published as a message.* event so the
// renderer and other subscribers see only real changes.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{db: db, bus: b, logger: logger.Named("sync")}
}

// Start subscribes to transport events and begins applying them. Calling
// Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	events, unsub := e.bus.Subscribe("conn.", 128)
	go e.run(ctx, events, unsub, e.done)
}

// Stop halts the engine and waits for the event loop to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *Engine) run(ctx context.Context, events <-chan bus.Event, unsub func(), done chan struct{}) {
	defer close(done)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-events:
			switch payload := evt.Payload.(type) {
			case transport.InboundMessage:
				e.applyMessage(payload.ChatID, &payload.Message)
			case transport.InboundStatus:
				e.applyStatus(payload.ChatID, &payload.Event)
			}
		}
	}
}

func (e *Engine) applyMessage(chatID string, wire *backend.Message) {
	msg := wire.ToStoreMessage(chatID)
	added, err := e.db.AppendInbound(msg)
	if err != nil {
		e.logger.Error("failed to append inbound message",
			zap.String("chat_id", chatID),
			zap.String("server_id", wire.ID),
			zap.Error(err))
		return
	}
	if added {
		e.publish(bus.KindMessageAppended, *msg)
	}
	e.advanceCheckpoint(chatID, wire.Sequence)
}

func (e *Engine) applyStatus(chatID string, evt *backend.StatusEvent) {
	next, ok := wireStatus(evt.Status)
	if !ok {
		e.logger.Warn("unknown delivery status",
			zap.String("chat_id", chatID),
			zap.String("server_id", evt.ID),
			zap.String("status", evt.Status))
		return
	}
	changed, err := e.db.UpdateStatus(chatID, evt.ID, next)
	if err != nil {
		e.logger.Error("failed to update delivery status",
			zap.String("server_id", evt.ID),
			zap.Error(err))
		return
	}
	if !changed {
		return
	}
	msg, err := e.db.GetByServer(chatID, evt.ID)
	if err != nil {
		e.logger.Error("failed to load updated message", zap.Error(err))
		return
	}
	e.publish(bus.KindMessageUpdated, *msg)
}

// advanceCheckpoint records the highest sequence applied for a chat. The
// checkpoint only moves forward; re-delivered messages from a poll never
// rewind it.
func (e *Engine) advanceCheckpoint(chatID string, seq int64) {
	if seq <= 0 {
		return
	}
	last, err := e.db.LastAckSequence(chatID)
	if err != nil {
		e.logger.Error("failed to read ack checkpoint", zap.Error(err))
		return
	}
	if seq <= last {
		return
	}
	if err := e.db.SetLastAckSequence(chatID, seq); err != nil {
		e.logger.Error("failed to advance ack checkpoint", zap.Error(err))
		return
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.KindSyncApplied,
		Timestamp: time.Now(),
		Payload:   Checkpoint{ChatID: chatID, Sequence: seq},
	})
}

func (e *Engine) publish(kind string, msg store.Message) {
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: msg})
}

// Checkpoint is the payload of sync.applied events.
type Checkpoint struct {
	ChatID   string
	Sequence int64
}

func wireStatus(s string) (store.Status, bool) {
	switch s {
	case "sent":
		return store.StatusSent, true
	case "delivered":
		return store.StatusDelivered, true
	case "read":
		return store.StatusRead, true
	default:
		return "", false
	}
}
