// Package group maintains role-gated membership for multi-party
// conversations. It is the only writer of member/role changes and keeps
// the owning conversation's participant set consistent with group
// membership as a side effect of every mutation.
package group

import (
	"fmt"
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/dispatch"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/event"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/fault"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Permission is the result of a role check.
type Permission struct {
	IsMember      bool       `json:"isMember"`
	Role          store.Role `json:"role,omitempty"`
	HasPermission bool       `json:"hasPermission"`
}

// Authority enforces group membership and role rules. Invariants live
// here, not in callers: a group always retains at least one admin while
// active, and duplicate membership is a conflict.
type Authority struct {
	db         *store.DB
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// NewAuthority creates the role authority.
func NewAuthority(db *store.DB, d *dispatch.Dispatcher, logger *zap.Logger) *Authority {
	return &Authority{db: db, dispatcher: d, logger: logger}
}

// CheckPermission reports the identity's membership, role, and whether it
// meets the required role. Pass an empty required role to check bare
// membership.
func (a *Authority) CheckPermission(groupID, userID string, required store.Role) (Permission, error) {
	group, err := a.db.GetGroup(groupID)
	if err != nil {
		return Permission{}, fault.Wrap(fault.Upstream, err, "group lookup")
	}
	if group == nil {
		return Permission{}, fault.New(fault.NotFound, "group not found")
	}
	member, err := a.db.GetGroupMember(groupID, userID)
	if err != nil {
		return Permission{}, fault.Wrap(fault.Upstream, err, "membership lookup")
	}
	if member == nil {
		return Permission{}, nil
	}
	return Permission{
		IsMember:      true,
		Role:          member.Role,
		HasPermission: required == "" || member.Role.AtLeast(required),
	}, nil
}

// CreateGroup provisions a group with its linked conversation, the creator
// as admin, and the given initial members. Each member is notified
// directly; a system message opens the conversation.
func (a *Authority) CreateGroup(creatorID, name, description string, memberIDs []string) (*store.Group, error) {
	if name == "" {
		return nil, fault.New(fault.InvalidState, "group name must not be empty")
	}
	creator, err := a.db.GetUser(creatorID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "user lookup")
	}
	if creator == nil {
		return nil, fault.New(fault.NotFound, "user not found")
	}

	g := &store.Group{
		Name:        name,
		Description: description,
		CreatorID:   creatorID,
	}
	if err := a.db.CreateGroup(g, memberIDs); err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "create group")
	}

	a.systemMessage(g, creatorID, fmt.Sprintf("%s created the group %q", creator.DisplayName, name))

	members, err := a.db.GroupMembers(g.ID)
	if err != nil {
		a.logger.Error("member list lookup after create", zap.Error(err))
	}
	for _, m := range members {
		a.dispatcher.ToUser(m.UserID, event.GroupCreated, event.GroupPayload{Group: g})
	}
	a.logger.Info("group created",
		zap.String("group_id", g.ID), zap.String("creator_id", creatorID))
	return g, nil
}

// AddMember adds a user to the group. Requires moderator or above. Adding
// an already-present member is a Conflict.
func (a *Authority) AddMember(groupID, actorID, userID string) (*store.GroupMember, error) {
	g, actor, err := a.requireRole(groupID, actorID, store.RoleModerator)
	if err != nil {
		return nil, err
	}
	target, err := a.db.GetUser(userID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "user lookup")
	}
	if target == nil {
		return nil, fault.New(fault.NotFound, "user not found")
	}

	member := &store.GroupMember{
		GroupID: groupID,
		UserID:  userID,
		Role:    store.RoleMember,
		AddedBy: actorID,
	}
	added, err := a.db.AddGroupMember(member, g.ConversationID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "add member")
	}
	if !added {
		return nil, fault.New(fault.Conflict, "already a member of this group")
	}

	a.systemMessage(g, actorID, fmt.Sprintf("%s added %s", a.displayName(actor), target.DisplayName))
	payload := event.MemberAddedPayload{GroupID: groupID, Member: member, AddedBy: actorID}
	a.dispatcher.ToGroup(groupID, event.MemberAdded, payload)
	// The new member has no room joined yet; tell their devices directly.
	a.dispatcher.ToUser(userID, event.MemberAdded, payload)
	return member, nil
}

// RemoveMember removes a user from the group. Requires admin. Removing the
// sole remaining admin is rejected; self-removal goes through Leave.
func (a *Authority) RemoveMember(groupID, actorID, userID string) error {
	g, actor, err := a.requireRole(groupID, actorID, store.RoleAdmin)
	if err != nil {
		return err
	}
	if actorID == userID {
		return fault.New(fault.InvalidState, "cannot remove yourself; leave the group instead")
	}
	member, err := a.db.GetGroupMember(groupID, userID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "membership lookup")
	}
	if member == nil {
		return fault.New(fault.NotFound, "not a member of this group")
	}
	if member.Role == store.RoleAdmin {
		if err := a.requireSpareAdmin(groupID); err != nil {
			return err
		}
	}

	removed, err := a.db.RemoveGroupMember(groupID, userID, g.ConversationID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "remove member")
	}
	if !removed {
		return fault.New(fault.NotFound, "not a member of this group")
	}

	a.systemMessage(g, actorID, fmt.Sprintf("%s removed %s", a.displayName(actor), a.displayNameByID(userID)))
	a.dispatcher.ToGroup(groupID, event.MemberRemoved, event.MemberRemovedPayload{
		GroupID: groupID, UserID: userID, RemovedBy: actorID,
	})
	a.dispatcher.ToUser(userID, event.MemberRemoved, event.MemberRemovedPayload{
		GroupID: groupID, UserID: userID, RemovedBy: actorID,
	})
	return nil
}

// UpdateRole changes a member's role. Requires admin. Demoting the sole
// remaining admin is rejected.
func (a *Authority) UpdateRole(groupID, actorID, userID string, role store.Role) error {
	if role.Rank() == 0 {
		return fault.Newf(fault.InvalidState, "unknown role %q", role)
	}
	g, actor, err := a.requireRole(groupID, actorID, store.RoleAdmin)
	if err != nil {
		return err
	}
	member, err := a.db.GetGroupMember(groupID, userID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "membership lookup")
	}
	if member == nil {
		return fault.New(fault.NotFound, "not a member of this group")
	}
	if member.Role == role {
		return fault.New(fault.InvalidState, "member already has this role")
	}
	if member.Role == store.RoleAdmin && role != store.RoleAdmin {
		if err := a.requireSpareAdmin(groupID); err != nil {
			return err
		}
	}

	if err := a.db.UpdateMemberRole(groupID, userID, role); err != nil {
		return fault.Wrap(fault.Upstream, err, "update role")
	}

	a.systemMessage(g, actorID, fmt.Sprintf("%s made %s a %s", a.displayName(actor), a.displayNameByID(userID), role))
	a.dispatcher.ToGroup(groupID, event.MemberRoleUpdated, event.MemberRoleUpdatedPayload{
		GroupID: groupID, UserID: userID, Role: role, UpdatedBy: actorID,
	})
	return nil
}

// Leave removes the caller from the group. The sole remaining admin cannot
// leave; dissolving the group is the way out.
func (a *Authority) Leave(groupID, userID string) error {
	g, err := a.activeGroup(groupID)
	if err != nil {
		return err
	}
	member, err := a.db.GetGroupMember(groupID, userID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "membership lookup")
	}
	if member == nil {
		return fault.New(fault.NotFound, "not a member of this group")
	}
	if member.Role == store.RoleAdmin {
		if err := a.requireSpareAdmin(groupID); err != nil {
			return err
		}
	}

	removed, err := a.db.RemoveGroupMember(groupID, userID, g.ConversationID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "leave group")
	}
	if !removed {
		return fault.New(fault.NotFound, "not a member of this group")
	}

	a.systemMessage(g, userID, fmt.Sprintf("%s left the group", a.displayNameByID(userID)))
	a.dispatcher.ToGroup(groupID, event.MemberLeft, event.MemberLeftPayload{
		GroupID: groupID, UserID: userID,
	})
	return nil
}

// UpdateInfo changes the group's name/description/avatar/settings. Plain
// members may edit only when the group's settings allow it; moderators and
// admins always may.
func (a *Authority) UpdateInfo(groupID, actorID string, upd store.GroupUpdate) (*store.Group, error) {
	g, err := a.activeGroup(groupID)
	if err != nil {
		return nil, err
	}
	member, err := a.db.GetGroupMember(groupID, actorID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "membership lookup")
	}
	if member == nil {
		return nil, fault.New(fault.Authorization, "not a member of this group")
	}
	if !g.AllowMemberEdit && !member.Role.AtLeast(store.RoleModerator) {
		return nil, fault.New(fault.Authorization, "insufficient role to edit group info")
	}
	if upd.Name != nil && *upd.Name == "" {
		return nil, fault.New(fault.InvalidState, "group name must not be empty")
	}

	if err := a.db.UpdateGroupInfo(groupID, upd); err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "update group info")
	}
	updated, err := a.db.GetGroup(groupID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "group lookup")
	}

	a.systemMessage(updated, actorID, fmt.Sprintf("%s updated the group info", a.displayNameByID(actorID)))
	a.dispatcher.ToGroup(groupID, event.GroupUpdated, event.GroupPayload{Group: updated})
	return updated, nil
}

// Dissolve tombstones the group and removes its conversation. Requires
// admin. Members are notified directly since the conversation's room goes
// away with it.
func (a *Authority) Dissolve(groupID, actorID string) error {
	g, _, err := a.requireRole(groupID, actorID, store.RoleAdmin)
	if err != nil {
		return err
	}
	members, err := a.db.GroupMembers(groupID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "member list lookup")
	}

	dissolved, err := a.db.DissolveGroup(groupID, g.ConversationID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "dissolve group")
	}
	if !dissolved {
		return fault.New(fault.InvalidState, "group already dissolved")
	}

	payload := event.GroupDissolvedPayload{GroupID: groupID, DissolvedBy: actorID}
	a.dispatcher.ToGroup(groupID, event.GroupDissolved, payload)
	for _, m := range members {
		a.dispatcher.ToUser(m.UserID, event.GroupDissolved, payload)
	}
	a.logger.Info("group dissolved",
		zap.String("group_id", groupID), zap.String("actor_id", actorID))
	return nil
}

func (a *Authority) activeGroup(groupID string) (*store.Group, error) {
	g, err := a.db.GetGroup(groupID)
	if err != nil {
		return nil, fault.Wrap(fault.Upstream, err, "group lookup")
	}
	if g == nil || !g.Active {
		return nil, fault.New(fault.NotFound, "group not found")
	}
	return g, nil
}

func (a *Authority) requireRole(groupID, actorID string, required store.Role) (*store.Group, *store.GroupMember, error) {
	g, err := a.activeGroup(groupID)
	if err != nil {
		return nil, nil, err
	}
	actor, err := a.db.GetGroupMember(groupID, actorID)
	if err != nil {
		return nil, nil, fault.Wrap(fault.Upstream, err, "membership lookup")
	}
	if actor == nil {
		return nil, nil, fault.New(fault.Authorization, "not a member of this group")
	}
	if !actor.Role.AtLeast(required) {
		return nil, nil, fault.Newf(fault.Authorization, "requires %s role", required)
	}
	return g, actor, nil
}

// requireSpareAdmin rejects mutations that would leave an active group
// without any admin.
func (a *Authority) requireSpareAdmin(groupID string) error {
	n, err := a.db.AdminCount(groupID)
	if err != nil {
		return fault.Wrap(fault.Upstream, err, "admin count")
	}
	if n <= 1 {
		return fault.New(fault.InvalidState, "group must retain at least one admin")
	}
	return nil
}

func (a *Authority) displayName(m *store.GroupMember) string {
	return a.displayNameByID(m.UserID)
}

// displayNameByID falls back to the raw id when the user record is
// unavailable; a system message is not worth failing a mutation over.
func (a *Authority) displayNameByID(userID string) string {
	u, err := a.db.GetUser(userID)
	if err != nil || u == nil {
		return userID
	}
	return u.DisplayName
}

// systemMessage appends a system-authored message describing a membership
// change to the group's conversation and broadcasts it.
func (a *Authority) systemMessage(g *store.Group, actorID, content string) {
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: g.ConversationID,
		SenderID:       actorID,
		Type:           store.TypeSystem,
		Content:        content,
		CreatedAt:      time.Now().UnixMilli(),
	}
	if err := a.db.InsertMessage(msg); err != nil {
		a.logger.Error("system message insert failed",
			zap.String("group_id", g.ID), zap.Error(err))
		return
	}
	a.dispatcher.ToConversation(g.ConversationID, event.NewMessage, event.NewMessagePayload{Message: msg})
}
