package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AppendInbound appends a server-delivered message. It is idempotent on
// (chat_id, server_id): appending a message whose server id is already in
// the log is a no-op. Returns whether a row was appended.
func (db *DB) AppendInbound(m *Message) (bool, error) {
	if m.ServerID == "" {
		return false, fmt.Errorf("inbound message without server id")
	}
	atts, err := marshalAttachments(m.Attachments)
	if err != nil {
		return false, err
	}
	status := m.Status
	if status == "" {
		status = StatusDelivered
	}
	res, err := db.Exec(`
		INSERT OR IGNORE INTO messages (chat_id, server_id, sender, body, attachments, status, seq, created_at, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.ServerID, m.Sender, m.Body, atts, status, m.Seq, m.CreatedAt, time.Now().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendOptimistic appends a client-composed message before the server has
// acknowledged it. The message must carry a fresh temp id; status starts at
// Sending.
func (db *DB) AppendOptimistic(m *Message) error {
	if m.TempID == "" {
		return fmt.Errorf("optimistic message without temp id")
	}
	atts, err := marshalAttachments(m.Attachments)
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO messages (chat_id, temp_id, sender, body, attachments, status, created_at, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.TempID, SenderClient, m.Body, atts, StatusSending, m.CreatedAt, time.Now().UnixMilli())
	return err
}

// Reconcile matches an optimistic message to its server identity and
// advances its status. Unknown temp ids are a no-op, not an error (the log
// may have been cleared). The status never moves backward: reconciling to
// Sent after the message was already marked Read leaves Read in place.
// Returns whether anything changed.
//
// The server's copy of the message may have already arrived inbound, as a
// realtime echo or a poll that raced the send ack. That row carries the
// same server id with no temp id; reconciling by UPDATE alone would then
// trip the unique (chat_id, server_id) index and strand the duplicate. The
// optimistic row keeps its log position, absorbs the echo's status and
// sequence, and the echo row is removed.
func (db *DB) Reconcile(tempID, serverID string, finalStatus Status) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var chatID string
	var cur Status
	var curServer sql.NullString
	var seq int64
	err = tx.QueryRow(`SELECT chat_id, status, server_id, seq FROM messages WHERE temp_id = ?`, tempID).
		Scan(&chatID, &cur, &curServer, &seq)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var echoID, echoSeq int64
	var echoStatus Status
	err = tx.QueryRow(`SELECT id, status, seq FROM messages WHERE chat_id = ? AND server_id = ? AND temp_id IS NULL`,
		chatID, serverID).Scan(&echoID, &echoStatus, &echoSeq)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return false, err
	default:
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, echoID); err != nil {
			return false, err
		}
		if canTransition(finalStatus, echoStatus) {
			finalStatus = echoStatus
		}
		if echoSeq > seq {
			seq = echoSeq
		}
	}

	next := cur
	if canTransition(cur, finalStatus) {
		next = finalStatus
	}
	changed := next != cur || curServer.String != serverID

	if _, err := tx.Exec(`UPDATE messages SET server_id = ?, status = ?, seq = ? WHERE temp_id = ?`,
		serverID, next, seq, tempID); err != nil {
		return false, err
	}
	return changed, tx.Commit()
}

// UpdateStatus advances the status of the message with the given server id.
// Backward moves are ignored. Returns whether the status changed.
func (db *DB) UpdateStatus(chatID, serverID string, next Status) (bool, error) {
	return db.advanceStatus(`SELECT status FROM messages WHERE chat_id = ? AND server_id = ?`,
		`UPDATE messages SET status = ? WHERE chat_id = ? AND server_id = ?`,
		next, chatID, serverID)
}

// UpdateStatusByTemp advances the status of an unacknowledged optimistic
// message, identified by temp id.
func (db *DB) UpdateStatusByTemp(tempID string, next Status) (bool, error) {
	return db.advanceStatus(`SELECT status FROM messages WHERE temp_id = ?`,
		`UPDATE messages SET status = ? WHERE temp_id = ?`,
		next, tempID)
}

func (db *DB) advanceStatus(selectQ, updateQ string, next Status, keys ...any) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var cur Status
	err = tx.QueryRow(selectQ, keys...).Scan(&cur)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !canTransition(cur, next) {
		return false, nil
	}

	args := append([]any{next}, keys...)
	if _, err := tx.Exec(updateQ, args...); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ListMessages returns a chat's log in append order, starting after the
// given local id (0 for the beginning). limit <= 0 means no limit.
func (db *DB) ListMessages(chatID string, afterLocalID int64, limit int) ([]Message, error) {
	q := `
		SELECT id, chat_id, server_id, temp_id, sender, body, attachments, status, seq, created_at
		FROM messages
		WHERE chat_id = ? AND id > ?
		ORDER BY id ASC`
	args := []any{chatID, afterLocalID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// GetByTemp returns the message with the given temp id, or nil.
func (db *DB) GetByTemp(tempID string) (*Message, error) {
	return db.getMessage(`WHERE temp_id = ?`, tempID)
}

// GetByServer returns the message with the given server id, or nil.
func (db *DB) GetByServer(chatID, serverID string) (*Message, error) {
	return db.getMessage(`WHERE chat_id = ? AND server_id = ?`, chatID, serverID)
}

func (db *DB) getMessage(where string, args ...any) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, chat_id, server_id, temp_id, sender, body, attachments, status, seq, created_at
		FROM messages `+where, args...)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var serverID, tempID sql.NullString
	var atts string
	if err := r.Scan(&m.LocalID, &m.ChatID, &serverID, &tempID, &m.Sender, &m.Body, &atts, &m.Status, &m.Seq, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ServerID = serverID.String
	m.TempID = tempID.String
	var err error
	m.Attachments, err = unmarshalAttachments(atts)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func marshalAttachments(atts []Attachment) (string, error) {
	if len(atts) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(atts)
	if err != nil {
		return "", fmt.Errorf("marshal attachments: %w", err)
	}
	return string(b), nil
}

func unmarshalAttachments(s string) ([]Attachment, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var atts []Attachment
	if err := json.Unmarshal([]byte(s), &atts); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	return atts, nil
}
