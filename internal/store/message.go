package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// InsertMessage persists a new message and advances the conversation's
// last-message pointer in the same transaction.
func (db *DB) InsertMessage(m *Message) error {
	attachments, err := json.Marshal(m.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	mentions, err := json.Marshal(m.Mentions)
	if err != nil {
		return fmt.Errorf("marshal mentions: %w", err)
	}
	if m.Attachments == nil {
		attachments = []byte("[]")
	}
	if m.Mentions == nil {
		mentions = []byte("[]")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO messages (id, conversation_id, sender_id, type, content,
			attachments, reply_to_id, forwarded_from_id, mentions, recalled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Type, m.Content,
		string(attachments), m.ReplyToID, m.ForwardedFromID, string(mentions), m.CreatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE conversations SET last_message_id = ?, last_activity_at = ?
		WHERE id = ?`, m.ID, m.CreatedAt, m.ConversationID); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMessage returns a message by id, or nil if absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	row := db.QueryRow(`
		SELECT id, conversation_id, sender_id, type, content, attachments,
			reply_to_id, forwarded_from_id, mentions, recalled, created_at
		FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func scanMessage(row *sql.Row) (*Message, error) {
	var m Message
	var attachments, mentions string
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Content,
		&attachments, &m.ReplyToID, &m.ForwardedFromID, &mentions, &m.Recalled, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
		return nil, fmt.Errorf("unmarshal attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(mentions), &m.Mentions); err != nil {
		return nil, fmt.Errorf("unmarshal mentions: %w", err)
	}
	return &m, nil
}

// ListMessages returns messages for a conversation using keyset pagination
// by creation timestamp.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, type, content, attachments,
			reply_to_id, forwarded_from_id, mentions, recalled, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var attachments, mentions string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Content,
			&attachments, &m.ReplyToID, &m.ForwardedFromID, &mentions, &m.Recalled, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
		if err := json.Unmarshal([]byte(mentions), &m.Mentions); err != nil {
			return nil, fmt.Errorf("unmarshal mentions: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListVisibleMessages returns conversation messages from the viewer's
// perspective: messages the viewer soft-deleted are omitted. Keyset
// pagination by creation timestamp.
func (db *DB) ListVisibleMessages(conversationID, viewerID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, type, content, attachments,
			reply_to_id, forwarded_from_id, mentions, recalled, created_at
		FROM messages m
		WHERE conversation_id = ? AND created_at < ?
			AND NOT EXISTS (
				SELECT 1 FROM delete_markers d
				WHERE d.message_id = m.id AND d.user_id = ?)
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, viewerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var attachments, mentions string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Content,
			&attachments, &m.ReplyToID, &m.ForwardedFromID, &mentions, &m.Recalled, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
		if err := json.Unmarshal([]byte(mentions), &m.Mentions); err != nil {
			return nil, fmt.Errorf("unmarshal mentions: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecallMessage clears the message's content and attachments and flips its
// type to recalled. The guard re-checks the recalled flag inside the
// transaction so concurrent recalls commit at most once.
func (db *DB) RecallMessage(id string) (bool, error) {
	res, err := db.Exec(`
		UPDATE messages SET content = '', attachments = '[]', type = ?, recalled = 1
		WHERE id = ? AND recalled = 0`, TypeRecalled, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkRead records a read receipt for one viewer. Returns false when the
// viewer already has a receipt for this message.
func (db *DB) MarkRead(messageID, userID string, at int64) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO read_receipts (message_id, user_id, read_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id, user_id) DO NOTHING`,
		messageID, userID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkConversationRead records receipts for every message in the
// conversation the viewer has not read and did not send. Returns the number
// of receipts added.
func (db *DB) MarkConversationRead(conversationID, userID string, at int64) (int, error) {
	res, err := db.Exec(`
		INSERT INTO read_receipts (message_id, user_id, read_at)
		SELECT m.id, ?, ?
		FROM messages m
		WHERE m.conversation_id = ? AND m.sender_id != ?
			AND NOT EXISTS (
				SELECT 1 FROM read_receipts r
				WHERE r.message_id = m.id AND r.user_id = ?)`,
		userID, at, conversationID, userID, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Receipts returns all read receipts for a message.
func (db *DB) Receipts(messageID string) ([]ReadReceipt, error) {
	rows, err := db.Query(`
		SELECT message_id, user_id, read_at
		FROM read_receipts WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var receipts []ReadReceipt
	for rows.Next() {
		var r ReadReceipt
		if err := rows.Scan(&r.MessageID, &r.UserID, &r.ReadAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// AddDeleteMarker flags a message deleted for one viewer only. Returns
// false when the viewer already flagged it.
func (db *DB) AddDeleteMarker(messageID, userID string, at int64) (bool, error) {
	res, err := db.Exec(`
		INSERT INTO delete_markers (message_id, user_id, deleted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id, user_id) DO NOTHING`,
		messageID, userID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// HasDeleteMarker reports whether the viewer flagged the message deleted.
func (db *DB) HasDeleteMarker(messageID, userID string) (bool, error) {
	var one int
	err := db.QueryRow(`
		SELECT 1 FROM delete_markers WHERE message_id = ? AND user_id = ?`,
		messageID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
