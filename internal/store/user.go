package store

import (
	"database/sql"
	"time"
)

// UpsertUser inserts or updates a user record.
func (db *DB) UpsertUser(u *User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, display_name, avatar_url, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url`,
		u.ID, u.DisplayName, u.AvatarURL, now)
	return err
}

// GetUser returns a user by id, or nil if absent.
func (db *DB) GetUser(id string) (*User, error) {
	var u User
	err := db.QueryRow(`
		SELECT id, display_name, avatar_url, created_at
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.DisplayName, &u.AvatarURL, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
