package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/caioqm/deskchat/internal/backend"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// wireEnvelope is the websocket wire format for server-pushed events.
type wireEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	wireMessageNew    = "message.new"
	wireMessageStatus = "message.status"
)

// WSDialer dials the backend's websocket stream for a chat.
type WSDialer struct {
	client    *backend.Client
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewWSDialer creates a websocket dialer. heartbeat is the ping period used
// to detect a dead connection.
func NewWSDialer(client *backend.Client, heartbeat time.Duration, logger *zap.Logger) *WSDialer {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &WSDialer{client: client, heartbeat: heartbeat, logger: logger}
}

// Dial opens the live channel. The returned channel's Events stream is
// closed when the connection drops for any reason.
func (d *WSDialer) Dial(ctx context.Context, chatID string) (Channel, error) {
	conn, _, err := websocket.Dial(ctx, d.client.RealtimeURL(chatID), nil)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(ctx)
	ch := &wsChannel{
		conn:   conn,
		events: make(chan Event, 64),
		cancel: cancel,
	}
	go ch.readLoop(connCtx, d.logger)
	go ch.heartbeatLoop(connCtx, d.heartbeat)
	return ch, nil
}

type wsChannel struct {
	conn   *websocket.Conn
	events chan Event
	cancel context.CancelFunc
}

func (c *wsChannel) Events() <-chan Event {
	return c.events
}

func (c *wsChannel) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "client close")
}

func (c *wsChannel) readLoop(ctx context.Context, logger *zap.Logger) {
	defer close(c.events)
	defer c.cancel()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("realtime channel read failed", zap.Error(err))
			}
			return
		}

		var env wireEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("malformed realtime envelope", zap.Error(err))
			continue
		}

		switch env.Type {
		case wireMessageNew:
			var msg backend.Message
			if err := json.Unmarshal(env.Payload, &msg); err != nil {
				logger.Warn("malformed message payload", zap.Error(err))
				continue
			}
			c.emit(ctx, Event{Message: &msg})
		case wireMessageStatus:
			var st backend.StatusEvent
			if err := json.Unmarshal(env.Payload, &st); err != nil {
				logger.Warn("malformed status payload", zap.Error(err))
				continue
			}
			c.emit(ctx, Event{Status: &st})
		}
	}
}

func (c *wsChannel) emit(ctx context.Context, evt Event) {
	select {
	case c.events <- evt:
	case <-ctx.Done():
	}
}

// heartbeatLoop pings the server periodically. A failed ping closes the
// connection, which surfaces as a read error and ends the channel.
func (c *wsChannel) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				_ = c.conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}
