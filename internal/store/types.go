package store

// Sender identifies who produced a message.
type Sender string

const (
	SenderClient Sender = "client"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

// Status is the delivery state of a message. Inbound messages enter the log
// at Delivered; client-originated messages walk Sending → Sent → Delivered →
// Read, with Failed reachable from Sending or Sent.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// canTransition reports whether a status change from cur to next is allowed.
// Status only moves forward; Failed is a side exit from Sending/Sent, and a
// user retry moves Failed back to Sending.
func canTransition(cur, next Status) bool {
	switch {
	case cur == next:
		return false
	case next == StatusFailed:
		return cur == StatusSending || cur == StatusSent
	case cur == StatusFailed:
		return next == StatusSending
	default:
		return statusRank[next] > statusRank[cur]
	}
}

// Attachment is a stable reference to an uploaded file.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

// Message is one entry in a chat's log.
type Message struct {
	// LocalID is the append sequence; iteration order is LocalID order.
	LocalID int64
	ChatID  string
	// ServerID is the server-assigned identity, empty until acknowledged.
	ServerID string
	// TempID is the client-assigned identity of an optimistic send, stable
	// across retries. Empty for inbound messages.
	TempID      string
	Sender      Sender
	Body        string
	Attachments []Attachment
	Status      Status
	// Seq is the server stream sequence, 0 for unacknowledged sends.
	Seq int64
	// CreatedAt is a display timestamp in unix millis. It never affects
	// log order.
	CreatedAt int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	TempID       string
	ChatID       string
	Body         string
	Attachments  []Attachment
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerID     string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
