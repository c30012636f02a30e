package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateGroup provisions a group, its linked conversation, and the initial
// membership (creator as admin) in one transaction. The conversation's
// participant set mirrors the member list.
func (db *DB) CreateGroup(g *Group, memberIDs []string) error {
	now := time.Now().UnixMilli()
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.ConversationID == "" {
		g.ConversationID = uuid.New().String()
	}
	g.Active = true
	g.CreatedAt = now

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO conversations (id, pair_key, is_group, last_activity_at, created_at)
		VALUES (?, NULL, 1, ?, ?)`,
		g.ConversationID, now, now); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO groups (id, name, description, avatar_url, creator_id,
			conversation_id, allow_member_edit, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		g.ID, g.Name, g.Description, g.AvatarURL, g.CreatorID,
		g.ConversationID, g.AllowMemberEdit, now); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, userID := range append([]string{g.CreatorID}, memberIDs...) {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		role := RoleMember
		if userID == g.CreatorID {
			role = RoleAdmin
		}
		if _, err := tx.Exec(`
			INSERT INTO group_members (group_id, user_id, role, added_by, added_at)
			VALUES (?, ?, ?, ?, ?)`,
			g.ID, userID, role, g.CreatorID, now); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO participants (conversation_id, user_id) VALUES (?, ?)`,
			g.ConversationID, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetGroup returns a group by id, or nil if absent.
func (db *DB) GetGroup(id string) (*Group, error) {
	var g Group
	err := db.QueryRow(`
		SELECT id, name, description, avatar_url, creator_id, conversation_id,
			allow_member_edit, active, created_at
		FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.Description, &g.AvatarURL, &g.CreatorID,
			&g.ConversationID, &g.AllowMemberEdit, &g.Active, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetGroupByConversation returns the group linked to a conversation, or
// nil when the conversation is not group-backed.
func (db *DB) GetGroupByConversation(conversationID string) (*Group, error) {
	var g Group
	err := db.QueryRow(`
		SELECT id, name, description, avatar_url, creator_id, conversation_id,
			allow_member_edit, active, created_at
		FROM groups WHERE conversation_id = ?`, conversationID).
		Scan(&g.ID, &g.Name, &g.Description, &g.AvatarURL, &g.CreatorID,
			&g.ConversationID, &g.AllowMemberEdit, &g.Active, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupMembers returns all member entries of a group.
func (db *DB) GroupMembers(groupID string) ([]GroupMember, error) {
	rows, err := db.Query(`
		SELECT group_id, user_id, role, added_by, added_at, last_read_message_id
		FROM group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.AddedBy, &m.AddedAt, &m.LastReadMessageID); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetGroupMember returns one member entry, or nil if the user is not a member.
func (db *DB) GetGroupMember(groupID, userID string) (*GroupMember, error) {
	var m GroupMember
	err := db.QueryRow(`
		SELECT group_id, user_id, role, added_by, added_at, last_read_message_id
		FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID).
		Scan(&m.GroupID, &m.UserID, &m.Role, &m.AddedBy, &m.AddedAt, &m.LastReadMessageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AdminCount returns the number of admins in a group.
func (db *DB) AdminCount(groupID string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM group_members WHERE group_id = ? AND role = ?`,
		groupID, RoleAdmin).Scan(&n)
	return n, err
}

// AddGroupMember inserts a member entry and mirrors it into the linked
// conversation's participant set in one transaction. Returns false when the
// user is already a member.
func (db *DB) AddGroupMember(m *GroupMember, conversationID string) (bool, error) {
	if m.AddedAt == 0 {
		m.AddedAt = time.Now().UnixMilli()
	}
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO group_members (group_id, user_id, role, added_by, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id, user_id) DO NOTHING`,
		m.GroupID, m.UserID, m.Role, m.AddedBy, m.AddedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.Exec(`
		INSERT INTO participants (conversation_id, user_id)
		VALUES (?, ?)
		ON CONFLICT(conversation_id, user_id) DO NOTHING`,
		conversationID, m.UserID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// RemoveGroupMember deletes a member entry and its participant mirror in
// one transaction. Returns false when the user was not a member.
func (db *DB) RemoveGroupMember(groupID, userID, conversationID string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		DELETE FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.Exec(`
		DELETE FROM participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// UpdateMemberRole changes one member's role.
func (db *DB) UpdateMemberRole(groupID, userID string, role Role) error {
	_, err := db.Exec(`
		UPDATE group_members SET role = ? WHERE group_id = ? AND user_id = ?`,
		role, groupID, userID)
	return err
}

// SetMemberLastRead advances a member's last-read message pointer.
func (db *DB) SetMemberLastRead(groupID, userID, messageID string) error {
	_, err := db.Exec(`
		UPDATE group_members SET last_read_message_id = ?
		WHERE group_id = ? AND user_id = ?`, messageID, groupID, userID)
	return err
}

// UpdateGroupInfo applies the non-nil fields of upd to the group.
func (db *DB) UpdateGroupInfo(groupID string, upd GroupUpdate) error {
	g, err := db.GetGroup(groupID)
	if err != nil {
		return err
	}
	if g == nil {
		return sql.ErrNoRows
	}
	if upd.Name != nil {
		g.Name = *upd.Name
	}
	if upd.Description != nil {
		g.Description = *upd.Description
	}
	if upd.AvatarURL != nil {
		g.AvatarURL = *upd.AvatarURL
	}
	if upd.AllowMemberEdit != nil {
		g.AllowMemberEdit = *upd.AllowMemberEdit
	}
	_, err = db.Exec(`
		UPDATE groups SET name = ?, description = ?, avatar_url = ?, allow_member_edit = ?
		WHERE id = ?`,
		g.Name, g.Description, g.AvatarURL, g.AllowMemberEdit, groupID)
	return err
}

// DissolveGroup tombstones the group (members still render history) and
// removes its conversation. Messages are retained. Returns false when the
// group was already dissolved.
func (db *DB) DissolveGroup(groupID, conversationID string) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE groups SET active = 0 WHERE id = ? AND active = 1`, groupID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
