package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PairKey returns the canonical key for a 1:1 conversation between two users.
func PairKey(a, b string) string {
	ua, ub := pairOf(a, b)
	return ua + ":" + ub
}

// GetOrCreateDirect returns the single 1:1 conversation between two users,
// creating it (with both participants) if it does not exist. The second
// return value reports whether a new conversation was created.
func (db *DB) GetOrCreateDirect(a, b string) (*Conversation, bool, error) {
	key := PairKey(a, b)

	existing, err := db.getByPairKey(key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UnixMilli()
	id := uuid.New().String()

	tx, err := db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// A concurrent caller may have created the pair between our check and
	// the insert; the unique pair_key index makes this insert a no-op then.
	res, err := tx.Exec(`
		INSERT INTO conversations (id, pair_key, is_group, last_activity_at, created_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(pair_key) WHERE pair_key IS NOT NULL DO NOTHING`,
		id, key, now, now)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		for _, userID := range []string{a, b} {
			if _, err := tx.Exec(`
				INSERT INTO participants (conversation_id, user_id) VALUES (?, ?)`,
				id, userID); err != nil {
				return nil, false, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	conv, err := db.getByPairKey(key)
	if err != nil {
		return nil, false, err
	}
	return conv, n > 0, nil
}

func (db *DB) getByPairKey(key string) (*Conversation, error) {
	var c Conversation
	var pairKey sql.NullString
	err := db.QueryRow(`
		SELECT id, pair_key, is_group, last_message_id, last_activity_at, created_at
		FROM conversations WHERE pair_key = ?`, key).
		Scan(&c.ID, &pairKey, &c.IsGroup, &c.LastMessageID, &c.LastActivityAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.PairKey = pairKey.String
	return &c, nil
}

// GetConversation returns a conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	var pairKey sql.NullString
	err := db.QueryRow(`
		SELECT id, pair_key, is_group, last_message_id, last_activity_at, created_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &pairKey, &c.IsGroup, &c.LastMessageID, &c.LastActivityAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.PairKey = pairKey.String
	return &c, nil
}

// Participants returns the user ids participating in a conversation.
func (db *DB) Participants(conversationID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT user_id FROM participants WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsParticipant reports whether the user participates in the conversation.
func (db *DB) IsParticipant(conversationID, userID string) (bool, error) {
	var one int
	err := db.QueryRow(`
		SELECT 1 FROM participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetLastMessage updates the conversation's last-message pointer and
// last-activity timestamp.
func (db *DB) SetLastMessage(conversationID, messageID string, at int64) error {
	_, err := db.Exec(`
		UPDATE conversations SET last_message_id = ?, last_activity_at = ?
		WHERE id = ?`, messageID, at, conversationID)
	return err
}
