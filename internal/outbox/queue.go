// Package outbox implements optimistic sends. A send appends a local entry
// at sending, queues it for delivery, and reconciles the entry with the
// server identity once the backend acknowledges it. A failed entry stays in
// the log and can be retried under the same temp id.
package outbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caioqm/deskchat/internal/bus"
	"github.com/caioqm/deskchat/internal/store"
)

// ErrEmptyMessage rejects a send with neither body nor attachments. The
// check runs before any local mutation, so nothing enters the log.
var ErrEmptyMessage = errors.New("message has no body and no attachments")

// attachmentPlaceholder is the display body for an attachment-only message.
const attachmentPlaceholder = "attachment"

// Queue is the local side of the outbox: it appends optimistic entries and
// queues them. Delivery is the Sender's job.
type Queue struct {
	db  *store.DB
	bus *bus.Bus
}

func NewQueue(db *store.DB, b *bus.Bus) *Queue {
	return &Queue{db: db, bus: b}
}

// Send appends an optimistic message to the chat log and queues it for
// delivery. It returns the stored entry so callers can render it
// immediately.
func (q *Queue) Send(chatID, body string, atts []store.Attachment) (*store.Message, error) {
	if body == "" && len(atts) == 0 {
		return nil, ErrEmptyMessage
	}
	if body == "" {
		body = attachmentPlaceholder
	}
	msg := &store.Message{
		ChatID:      chatID,
		TempID:      uuid.NewString(),
		Sender:      store.SenderClient,
		Body:        body,
		Attachments: atts,
		Status:      store.StatusSending,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := q.db.AppendOptimistic(msg); err != nil {
		return nil, fmt.Errorf("failed to append optimistic message: %w", err)
	}
	if err := q.db.QueueOutbox(msg.TempID, chatID, body, atts); err != nil {
		return nil, fmt.Errorf("failed to queue message: %w", err)
	}
	stored, err := q.db.GetByTemp(msg.TempID)
	if err != nil {
		return nil, err
	}
	q.publish(bus.KindMessageAppended, *stored)
	return stored, nil
}

// Retry requeues a failed send under its original temp id. Retrying an
// entry that is not failed is a no-op.
func (q *Queue) Retry(tempID string) error {
	requeued, err := q.db.RequeueOutbox(tempID)
	if err != nil {
		return err
	}
	if !requeued {
		return nil
	}
	changed, err := q.db.UpdateStatusByTemp(tempID, store.StatusSending)
	if err != nil {
		return err
	}
	if changed {
		msg, err := q.db.GetByTemp(tempID)
		if err != nil {
			return err
		}
		q.publish(bus.KindMessageUpdated, *msg)
	}
	return nil
}

func (q *Queue) publish(kind string, msg store.Message) {
	q.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: msg})
}
