// Package transport owns the live channel lifecycle for one chat session
// and degrades transparently to polling when the channel cannot be kept up.
package transport

import (
	"context"

	"github.com/caioqm/deskchat/internal/backend"
)

// Event is one inbound envelope from the server: either a new message or a
// delivery-status change.
type Event struct {
	Message *backend.Message
	Status  *backend.StatusEvent
}

// Channel is one live realtime connection. Events is closed when the
// connection dies; Close tears it down early.
type Channel interface {
	Events() <-chan Event
	Close() error
}

// Dialer opens the realtime channel for a chat.
type Dialer interface {
	Dial(ctx context.Context, chatID string) (Channel, error)
}

// Poller fetches messages after a stream sequence. It serves both fallback
// polling and post-reconnect resync.
type Poller interface {
	FetchSince(ctx context.Context, chatID string, since int64) ([]backend.Message, error)
}

// Checkpoints exposes the highest inbound sequence already applied, so
// polls and resyncs never re-request what the log has.
type Checkpoints interface {
	LastAckSequence(chatID string) (int64, error)
}

// InboundMessage is the bus payload for a message event.
type InboundMessage struct {
	ChatID  string
	Message backend.Message
}

// InboundStatus is the bus payload for a delivery-status event.
type InboundStatus struct {
	ChatID string
	Event  backend.StatusEvent
}
