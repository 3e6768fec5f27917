package outbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caioqm/deskchat/internal/backend"
	"github.com/caioqm/deskchat/internal/bus"
	"github.com/caioqm/deskchat/internal/store"
)

const (
	defaultTickInterval = 500 * time.Millisecond
	sendTimeout         = 15 * time.Second
)

// API is the backend surface the sender needs.
type API interface {
	SendMessage(ctx context.Context, chatID string, req backend.SendRequest) (*backend.SendResponse, error)
}

// Sender drains the outbox. Each tick it picks up queued entries, marks them
// sending and delivers them one at a time; an entry is never in flight
// twice because only queued entries are picked up.
type Sender struct {
	db     *store.DB
	api    API
	bus    *bus.Bus
	logger *zap.Logger
	tick   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSender(db *store.DB, api API, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		api:    api,
		bus:    b,
		logger: logger.Named("outbox"),
		tick:   defaultTickInterval,
	}
}

// Start begins the send loop. Calling Start on a running sender is a no-op.
func (s *Sender) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop halts the send loop and waits for an in-flight delivery to finish.
func (s *Sender) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sender) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Sender) drain(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to list pending outbox", zap.Error(err))
		return
	}
	for i := range pending {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, &pending[i])
	}
}

func (s *Sender) deliver(ctx context.Context, entry *store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.TempID); err != nil {
		s.logger.Error("failed to mark outbox entry sending",
			zap.String("temp_id", entry.TempID), zap.Error(err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	resp, err := s.api.SendMessage(sendCtx, entry.ChatID, backend.SendRequest{
		TempID:      entry.TempID,
		Body:        entry.Body,
		Attachments: backend.WireAttachments(entry.Attachments),
	})
	cancel()
	if err != nil {
		s.fail(entry, err)
		return
	}
	s.ack(entry, resp)
}

func (s *Sender) ack(entry *store.OutboxEntry, resp *backend.SendResponse) {
	if err := s.db.MarkOutboxSent(entry.TempID, resp.ID); err != nil {
		s.logger.Error("failed to mark outbox entry sent",
			zap.String("temp_id", entry.TempID), zap.Error(err))
		return
	}
	final := store.StatusSent
	if st, ok := ackStatus(resp.Status); ok {
		final = st
	}
	changed, err := s.db.Reconcile(entry.TempID, resp.ID, final)
	if err != nil {
		s.logger.Error("failed to reconcile message",
			zap.String("temp_id", entry.TempID),
			zap.String("server_id", resp.ID),
			zap.Error(err))
		return
	}
	s.logger.Info("message sent",
		zap.String("temp_id", entry.TempID),
		zap.String("server_id", resp.ID))
	if !changed {
		return
	}
	msg, err := s.db.GetByTemp(entry.TempID)
	if err != nil {
		s.logger.Error("failed to load reconciled message", zap.Error(err))
		return
	}
	s.publish(bus.KindMessageSendAck, *msg)
}

func (s *Sender) fail(entry *store.OutboxEntry, sendErr error) {
	s.logger.Warn("message send failed",
		zap.String("temp_id", entry.TempID),
		zap.Error(sendErr))
	if err := s.db.MarkOutboxFailed(entry.TempID, sendErr.Error()); err != nil {
		s.logger.Error("failed to mark outbox entry failed", zap.Error(err))
		return
	}
	changed, err := s.db.UpdateStatusByTemp(entry.TempID, store.StatusFailed)
	if err != nil {
		s.logger.Error("failed to mark message failed", zap.Error(err))
		return
	}
	if !changed {
		return
	}
	msg, err := s.db.GetByTemp(entry.TempID)
	if err != nil {
		s.logger.Error("failed to load failed message", zap.Error(err))
		return
	}
	s.publish(bus.KindMessageSendFailed, *msg)
}

func (s *Sender) publish(kind string, msg store.Message) {
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: msg})
}

func ackStatus(s string) (store.Status, bool) {
	switch s {
	case "sent":
		return store.StatusSent, true
	case "delivered":
		return store.StatusDelivered, true
	default:
		return "", false
	}
}
