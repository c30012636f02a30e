package store

import (
	"database/sql"
	"time"
)

// pairOf returns the canonical (sorted) ordering of two user ids.
func pairOf(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// AddFriendship records a friendship between two users. Returns false when
// the pair is already linked.
func (db *DB) AddFriendship(a, b string) (bool, error) {
	ua, ub := pairOf(a, b)
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT INTO friendships (user_a, user_b, created_at, last_interaction_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_a, user_b) DO NOTHING`,
		ua, ub, now, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetFriendship returns the friendship between two users, or nil if absent.
func (db *DB) GetFriendship(a, b string) (*Friendship, error) {
	ua, ub := pairOf(a, b)
	var f Friendship
	err := db.QueryRow(`
		SELECT user_a, user_b, created_at, last_interaction_at
		FROM friendships WHERE user_a = ? AND user_b = ?`, ua, ub).
		Scan(&f.UserA, &f.UserB, &f.CreatedAt, &f.LastInteractionAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// TouchFriendship updates the pair's last-interaction timestamp. A missing
// friendship is a no-op.
func (db *DB) TouchFriendship(a, b string, at int64) error {
	ua, ub := pairOf(a, b)
	_, err := db.Exec(`
		UPDATE friendships SET last_interaction_at = ?
		WHERE user_a = ? AND user_b = ?`, at, ua, ub)
	return err
}
