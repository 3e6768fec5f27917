package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// SetCheckpoint stores a sync checkpoint value.
func (db *DB) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value, or "" if unset.
func (db *DB) GetCheckpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// AckSequenceKey is the checkpoint key for a chat's highest applied inbound
// sequence.
func AckSequenceKey(chatID string) string {
	return "last_ack_sequence:" + chatID
}

// ReadAckKey is the checkpoint key for a chat's last read-acknowledged
// server message id.
func ReadAckKey(chatID string) string {
	return "read_ack:" + chatID
}

// LastAckSequence returns the highest inbound sequence applied for a chat,
// 0 if none.
func (db *DB) LastAckSequence(chatID string) (int64, error) {
	v, err := db.GetCheckpoint(AckSequenceKey(chatID))
	if err != nil || v == "" {
		return 0, err
	}
	seq, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt ack sequence %q: %w", v, err)
	}
	return seq, nil
}

// SetLastAckSequence records the highest inbound sequence applied for a chat.
func (db *DB) SetLastAckSequence(chatID string, seq int64) error {
	return db.SetCheckpoint(AckSequenceKey(chatID), strconv.FormatInt(seq, 10))
}
