package bus

import "time"

// Event kinds published by the sync core. Subscribers filter by namespace
// prefix, e.g. "message." receives every message event.
const (
	KindMessageAppended   = "message.appended"
	KindMessageUpdated    = "message.updated"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindConnStateChanged = "conn.state_changed"
	KindConnInbound      = "conn.inbound"
	KindConnStatus       = "conn.status"

	KindSyncApplied = "sync.applied"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
