// ABOUTME: Connection lifecycle coordinator: keeps presence in step with sockets and memberships
// ABOUTME: Handles connect/disconnect, client invocations, and out-of-band membership changes

package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chathub/internal/chaterr"
	"github.com/2389/chathub/internal/dispatch"
	"github.com/2389/chathub/internal/fanout"
	"github.com/2389/chathub/internal/pins"
	"github.com/2389/chathub/internal/presence"
	"github.com/2389/chathub/internal/store"
)

// Store is every persistence call the hub makes directly.
type Store interface {
	store.UserStore
	store.MembershipStore
	store.MessageStore
	GetGroup(ctx context.Context, id string) (*store.Group, error)
}

// Hub reacts to connection events and routes client invocations.
type Hub struct {
	store      Store
	registry   *presence.Registry
	notifier   fanout.Sender
	dispatcher *dispatch.Dispatcher
	pins       *pins.Manager
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Hub.
func New(s Store, registry *presence.Registry, notifier fanout.Sender, dispatcher *dispatch.Dispatcher, pinManager *pins.Manager, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:      s,
		registry:   registry,
		notifier:   notifier,
		dispatcher: dispatcher,
		pins:       pinManager,
		logger:     logger.With("component", "hub"),
		now:        time.Now,
	}
}

// OnConnect registers a new socket and subscribes it to the user's personal
// channel and every group the user belongs to.
//
// The connection is registered before memberships are read, so a concurrent
// MemberJoined always finds the user online. Each group from the snapshot is
// checked again after subscribing, so a concurrent MemberLeft cannot be undone
// by a stale read.
func (h *Hub) OnConnect(ctx context.Context, userID, connID string) error {
	if userID == "" {
		return chaterr.Authentication("not authenticated")
	}

	h.registry.AddConnection(userID, connID)
	h.registry.AddUserToChannel(presence.UserChannel(userID), userID)

	if err := h.subscribeGroups(ctx, userID); err != nil {
		h.registry.RemoveConnection(userID, connID)
		return err
	}

	h.logger.Info("=== CLIENT CONNECTED ===",
		"user_id", userID,
		"conn_id", connID,
		"channels", len(h.registry.ChannelsOf(userID)),
		"devices", len(h.registry.ConnectionsOf(userID)))
	return nil
}

func (h *Hub) subscribeGroups(ctx context.Context, userID string) error {
	groupIDs, err := h.store.MembershipsOf(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading memberships: %w", err)
	}

	for _, groupID := range groupIDs {
		channelID := presence.GroupChannel(groupID)
		h.registry.AddUserToChannel(channelID, userID)

		member, err := h.store.IsMember(ctx, groupID, userID)
		if err != nil {
			h.registry.RemoveUserFromChannel(channelID, userID)
			return fmt.Errorf("checking membership: %w", err)
		}
		if !member {
			h.registry.RemoveUserFromChannel(channelID, userID)
			h.logger.Debug("membership ended while connecting", "user_id", userID, "group_id", groupID)
		}
	}
	return nil
}

// OnDisconnect forgets the socket. The last socket of a user takes the user
// out of every channel.
func (h *Hub) OnDisconnect(userID, connID string) {
	last := h.registry.RemoveConnection(userID, connID)
	h.logger.Info("=== CLIENT DISCONNECTED ===",
		"user_id", userID,
		"conn_id", connID,
		"offline", last)
}

// Methods accepted by OnInvoke.
const (
	MethodSendMessage           = "sendMessage"
	MethodJoinChannel           = "joinChannel"
	MethodLeaveChannel          = "leaveChannel"
	MethodRemoveUserFromChannel = "removeUserFromChannel"
	MethodTyping                = "typing"
	MethodPinMessage            = "pinMessage"
	MethodUnpinMessage          = "unpinMessage"
	MethodListPins              = "listPins"
)

type channelParams struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId,omitempty"`
}

type typingParams struct {
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

type pinParams struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
	GroupID        string `json:"groupId,omitempty"`
}

func (p pinParams) scope() pins.Scope {
	return pins.Scope{ConversationID: p.ConversationID, GroupID: p.GroupID}
}

func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		params = []byte("{}")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return chaterr.Validation("invalid params: %v", err)
	}
	return nil
}

// OnInvoke runs a client method on behalf of the socket's user.
func (h *Hub) OnInvoke(ctx context.Context, userID, connID, method string, params json.RawMessage) (any, error) {
	if userID == "" {
		return nil, chaterr.Authentication("not authenticated")
	}

	switch method {
	case MethodSendMessage:
		var req dispatch.Request
		if err := decode(params, &req); err != nil {
			return nil, err
		}
		return h.dispatcher.Send(ctx, userID, req)

	case MethodJoinChannel:
		var p channelParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return h.JoinChannel(ctx, userID, p.ChannelID)

	case MethodLeaveChannel:
		var p channelParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return h.LeaveChannel(userID, p.ChannelID)

	case MethodRemoveUserFromChannel:
		var p channelParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return h.RemoveUserFromChannel(ctx, userID, p.ChannelID, p.UserID)

	case MethodTyping:
		var p typingParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return nil, h.Typing(ctx, userID, p.ReceiverID, p.GroupID)

	case MethodPinMessage:
		var p pinParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		return h.pins.Pin(ctx, p.MessageID, p.scope(), userID)

	case MethodUnpinMessage:
		var p pinParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		ok, err := h.pins.Unpin(ctx, p.MessageID, p.scope(), userID)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"unpinned": ok}, nil

	case MethodListPins:
		var p pinParams
		if err := decode(params, &p); err != nil {
			return nil, err
		}
		list, err := h.pins.List(ctx, p.scope(), userID)
		if err != nil {
			return nil, err
		}
		return &PinList{Pins: list, Limit: h.pins.Limit()}, nil

	default:
		return nil, chaterr.Validation("unknown method %q", method)
	}
}

// PinList is returned by listPins.
type PinList struct {
	Pins  []*store.PinnedMessage `json:"pins"`
	Limit int                    `json:"limit"`
}

// ChannelResult is returned by the channel membership methods.
type ChannelResult struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Present   bool   `json:"present"`
}

// groupIDOf accepts either a bare group id or a "group:" channel id.
func groupIDOf(channelID string) (string, error) {
	if channelID == "" {
		return "", chaterr.Validation("channelId is required")
	}
	kind, id, ok := presence.ParseChannel(channelID)
	if !ok {
		return channelID, nil
	}
	if kind != "group" || id == "" {
		return "", chaterr.Validation("only group channels can be joined or left")
	}
	return id, nil
}

// JoinChannel subscribes the user's live connections to a group they belong to.
func (h *Hub) JoinChannel(ctx context.Context, userID, channelID string) (*ChannelResult, error) {
	groupID, err := groupIDOf(channelID)
	if err != nil {
		return nil, err
	}
	if err := h.requireMember(ctx, groupID, userID); err != nil {
		return nil, err
	}

	present := h.registry.AddUserToChannel(presence.GroupChannel(groupID), userID)
	return &ChannelResult{ChannelID: groupID, UserID: userID, Present: present}, nil
}

// LeaveChannel stops live delivery of a group to the user. The membership record stays.
func (h *Hub) LeaveChannel(userID, channelID string) (*ChannelResult, error) {
	groupID, err := groupIDOf(channelID)
	if err != nil {
		return nil, err
	}
	h.registry.RemoveUserFromChannel(presence.GroupChannel(groupID), userID)
	return &ChannelResult{ChannelID: groupID, UserID: userID, Present: false}, nil
}

// RemoveUserFromChannel drops every live connection of target from the group
// channel without waiting for the target to disconnect. Only group admins may do this.
func (h *Hub) RemoveUserFromChannel(ctx context.Context, actorID, channelID, targetID string) (*ChannelResult, error) {
	groupID, err := groupIDOf(channelID)
	if err != nil {
		return nil, err
	}
	if targetID == "" {
		return nil, chaterr.Validation("userId is required")
	}

	admin, err := h.store.IsAdmin(ctx, groupID, actorID)
	if err != nil {
		return nil, fmt.Errorf("checking admin: %w", err)
	}
	if !admin {
		return nil, chaterr.Forbidden("only group admins can remove users from %s", groupID)
	}

	h.registry.RemoveUserFromChannel(presence.GroupChannel(groupID), targetID)
	h.logger.Info("user removed from channel",
		"group_id", groupID,
		"user_id", targetID,
		"removed_by", actorID)
	return &ChannelResult{ChannelID: groupID, UserID: targetID, Present: false}, nil
}

// TypingEvent is the payload of the typing event.
type TypingEvent struct {
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

// Typing relays a typing hint. Nothing is persisted.
func (h *Hub) Typing(ctx context.Context, userID, receiverID, groupID string) error {
	switch {
	case (receiverID == "") == (groupID == ""):
		return chaterr.Validation("typing needs exactly one of receiverId or groupId")
	case groupID != "":
		if err := h.requireMember(ctx, groupID, userID); err != nil {
			return err
		}
		h.notifier.ToChannel(presence.GroupChannel(groupID), fanout.EventTyping,
			TypingEvent{UserID: userID, GroupID: groupID}, userID)
	default:
		if !h.registry.IsOnline(receiverID) {
			return nil
		}
		h.notifier.ToChannel(presence.UserChannel(receiverID), fanout.EventTyping,
			TypingEvent{UserID: userID, ReceiverID: receiverID})
	}
	return nil
}

func (h *Hub) requireMember(ctx context.Context, groupID, userID string) error {
	if _, err := h.store.GetGroup(ctx, groupID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chaterr.NotFound("group %s not found", groupID)
		}
		return fmt.Errorf("getting group: %w", err)
	}
	member, err := h.store.IsMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return chaterr.Forbidden("not a member of group %s", groupID)
	}
	return nil
}

// Member identifies a user in membership events.
type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// MemberJoinedEvent is the payload of member-joined.
type MemberJoinedEvent struct {
	ChannelID           string                  `json:"channelId"`
	NewMember           Member                  `json:"newMember"`
	NotificationMessage *dispatch.MessageRecord `json:"notificationMessage,omitempty"`
}

// MemberLeftEvent is the payload of member-left.
type MemberLeftEvent struct {
	ChannelID           string                  `json:"channelId"`
	MemberID            string                  `json:"memberId"`
	NotificationMessage *dispatch.MessageRecord `json:"notificationMessage,omitempty"`
	NewMemberCount      int                     `json:"newMemberCount"`
}

// ChannelDeletedEvent is the payload of channel-deleted.
type ChannelDeletedEvent struct {
	ChannelID string `json:"channelId"`
}

// MemberJoined runs after a membership record was added. If the new member is
// online their sockets start receiving the group right away.
func (h *Hub) MemberJoined(ctx context.Context, groupID, userID string) error {
	member := h.member(ctx, userID)
	note := h.notify(ctx, groupID, userID, fmt.Sprintf("%s joined the group", member.DisplayName))

	present := h.registry.AddUserToChannel(presence.GroupChannel(groupID), userID)
	h.notifier.ToChannel(presence.GroupChannel(groupID), fanout.EventMemberJoined, MemberJoinedEvent{
		ChannelID:           groupID,
		NewMember:           member,
		NotificationMessage: note,
	})

	h.logger.Info("member joined", "group_id", groupID, "user_id", userID, "online", present)
	return nil
}

// MemberLeft runs after a membership record was removed. actorID is the user
// who removed the member, or the member themselves when leaving.
func (h *Hub) MemberLeft(ctx context.Context, groupID, userID, actorID string) error {
	count, err := h.store.CountMembers(ctx, groupID)
	if err != nil {
		return fmt.Errorf("counting members: %w", err)
	}

	member := h.member(ctx, userID)
	text := fmt.Sprintf("%s left the group", member.DisplayName)
	if actorID != "" && actorID != userID {
		text = fmt.Sprintf("%s was removed by %s", member.DisplayName, h.member(ctx, actorID).DisplayName)
	}
	note := h.notify(ctx, groupID, actorOr(actorID, userID), text)

	// Recipients are snapshotted now, so the leaving user still gets the event
	h.notifier.ToChannel(presence.GroupChannel(groupID), fanout.EventMemberLeft, MemberLeftEvent{
		ChannelID:           groupID,
		MemberID:            userID,
		NotificationMessage: note,
		NewMemberCount:      count,
	})
	h.registry.RemoveUserFromChannel(presence.GroupChannel(groupID), userID)

	h.logger.Info("member left", "group_id", groupID, "user_id", userID, "members", count)
	return nil
}

// ChannelDeleted runs after a group was deleted and clears its live channel.
func (h *Hub) ChannelDeleted(ctx context.Context, groupID string) error {
	channelID := presence.GroupChannel(groupID)
	h.notifier.ToChannel(channelID, fanout.EventChannelDeleted, ChannelDeletedEvent{ChannelID: groupID})
	dropped := h.registry.DropChannel(channelID)

	h.logger.Info("channel deleted", "group_id", groupID, "present_members", len(dropped))
	return nil
}

func actorOr(actorID, fallback string) string {
	if actorID != "" {
		return actorID
	}
	return fallback
}

func (h *Hub) member(ctx context.Context, userID string) Member {
	u, err := h.store.GetUser(ctx, userID)
	if err != nil {
		return Member{ID: userID, DisplayName: userID}
	}
	return Member{ID: u.ID, DisplayName: u.DisplayName}
}

// notify persists a group notification message. A failure is logged and
// yields nil so the event still goes out.
func (h *Hub) notify(ctx context.Context, groupID, senderID, text string) *dispatch.MessageRecord {
	msg := &store.Message{
		ID:        uuid.New().String(),
		Content:   text,
		Type:      store.MessageTypeNotification,
		SenderID:  senderID,
		GroupID:   groupID,
		CreatedAt: h.now().UTC(),
	}
	if err := h.store.SaveMessage(ctx, msg); err != nil {
		h.logger.Error("failed to save notification", "group_id", groupID, "error", err)
		return nil
	}
	return dispatch.NewRecord(msg, h.member(ctx, senderID).DisplayName)
}
