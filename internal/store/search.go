package store

import "database/sql"

// SearchMessages performs a full-text search on message bodies. This backs
// the local API's chat-wide search; the in-conversation find-with-navigation
// lives in the search package and scans the log directly.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.chat_id, m.server_id, m.temp_id, m.sender, m.body,
		       m.attachments, m.status, m.seq, m.created_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if chatID != "" {
		q += " AND m.chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var serverID, tempID sql.NullString
		var atts string
		if err := rows.Scan(
			&r.Message.LocalID, &r.Message.ChatID, &serverID, &tempID,
			&r.Message.Sender, &r.Message.Body, &atts, &r.Message.Status,
			&r.Message.Seq, &r.Message.CreatedAt, &r.Snippet,
		); err != nil {
			return nil, err
		}
		r.Message.ServerID = serverID.String
		r.Message.TempID = tempID.String
		r.Message.Attachments, err = unmarshalAttachments(atts)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
