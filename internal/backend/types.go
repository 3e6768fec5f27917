package backend

import "github.com/caioqm/deskchat/internal/store"

// Attachment is the wire form of an uploaded file reference.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

// Message is the wire form of an inbound chat message. Sequence is the
// server's monotonically increasing stream position, used to resume without
// loss or duplication.
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   int64        `json:"createdAt"`
	Sequence    int64        `json:"sequence"`
}

// StatusEvent reports a delivery-status change for a server-known message.
type StatusEvent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SendRequest is the payload of POST /chats/{id}/messages. TempID is the
// client-generated idempotency key, stable across retries.
type SendRequest struct {
	TempID      string       `json:"tempId"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// SendResponse acknowledges a send with the server-assigned identity.
type SendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// UploadResponse is the stable reference returned by POST /attachments.
type UploadResponse struct {
	FileName   string `json:"fileName"`
	FileType   string `json:"fileType"`
	StorageURL string `json:"storageUrl"`
}

// ToStoreMessage converts a wire message into a log entry for the given
// chat. Inbound messages enter the log at delivered.
func (m *Message) ToStoreMessage(chatID string) *store.Message {
	atts := make([]store.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		atts = append(atts, store.Attachment{Name: a.Name, URL: a.URL, MimeType: a.MimeType})
	}
	if len(atts) == 0 {
		atts = nil
	}
	return &store.Message{
		ChatID:      chatID,
		ServerID:    m.ID,
		Sender:      store.Sender(m.From),
		Body:        m.Body,
		Attachments: atts,
		Status:      store.StatusDelivered,
		Seq:         m.Sequence,
		CreatedAt:   m.CreatedAt,
	}
}

// WireAttachments converts store attachments to their wire form.
func WireAttachments(atts []store.Attachment) []Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(atts))
	for _, a := range atts {
		out = append(out, Attachment{Name: a.Name, URL: a.URL, MimeType: a.MimeType})
	}
	return out
}
