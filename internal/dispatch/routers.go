// ABOUTME: Direct and group routing strategies for outbound messages
// ABOUTME: Each validates its target, persists the message, and fans it out to the right channel

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/chathub/internal/chaterr"
	"github.com/2389/chathub/internal/conversation"
	"github.com/2389/chathub/internal/fanout"
	"github.com/2389/chathub/internal/presence"
	"github.com/2389/chathub/internal/store"
)

// DirectStore is what the direct router reads and writes.
type DirectStore interface {
	store.UserStore
	store.ConversationStore
	store.MessageStore
}

// GroupStore is what the group router reads and writes.
type GroupStore interface {
	store.UserStore
	store.MembershipStore
	GetGroup(ctx context.Context, id string) (*store.Group, error)
	store.MessageStore
}

func lookupUser(ctx context.Context, users store.UserStore, userID string) (*store.User, error) {
	u, err := users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, chaterr.NotFound("user %s not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// DirectRouter delivers person-to-person messages.
type DirectRouter struct {
	store    DirectStore
	resolver *conversation.Resolver
	notifier fanout.Sender
	logger   *slog.Logger
	now      func() time.Time
}

// NewDirectRouter creates a DirectRouter.
func NewDirectRouter(s DirectStore, resolver *conversation.Resolver, notifier fanout.Sender, logger *slog.Logger) *DirectRouter {
	return &DirectRouter{store: s, resolver: resolver, notifier: notifier, logger: logger, now: time.Now}
}

// Route persists the message against the pair's conversation and pushes it
// to the receiver's personal channel only. The sender keeps its own copy.
func (r *DirectRouter) Route(ctx context.Context, messageID string, send DirectSend) (*MessageRecord, error) {
	receiver, err := lookupUser(ctx, r.store, send.ReceiverID)
	if err != nil {
		return nil, err
	}
	sender, err := lookupUser(ctx, r.store, send.SenderID)
	if err != nil {
		return nil, err
	}

	var conv *store.Conversation
	isNew := false
	if send.ConversationID != "" {
		conv, err = r.resolver.Get(ctx, send.ConversationID, send.SenderID)
		if err != nil {
			return nil, err
		}
		if conv.Other(send.SenderID) != receiver.ID {
			return nil, chaterr.Validation("conversation %s is not with %s", conv.ID, receiver.ID)
		}
	} else {
		conv, isNew, err = r.resolver.GetOrCreate(ctx, send.SenderID, receiver.ID)
		if err != nil {
			return nil, err
		}
	}

	msg := newMessage(messageID, send.SenderID, send.Content, send.File, r.now().UTC())
	msg.ConversationID = conv.ID
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	// Persisted messages are never rolled back, so a failed touch is only logged
	if err := r.store.TouchConversation(ctx, conv.ID, msg.CreatedAt); err != nil {
		r.logger.Warn("failed to update conversation timestamp",
			"conversation_id", conv.ID,
			"error", err)
	}

	record := NewRecord(msg, sender.DisplayName)
	record.ReceiverID = receiver.ID
	record.IsNewConversation = isNew
	record.ClientMessageID = send.ClientID

	r.notifier.ToChannel(presence.UserChannel(receiver.ID), fanout.EventMessageReceived, record)

	r.logger.Debug("direct message dispatched",
		"message_id", msg.ID,
		"conversation_id", conv.ID,
		"new_conversation", isNew)
	return record, nil
}

// GroupRouter delivers messages to a group channel.
type GroupRouter struct {
	store    GroupStore
	notifier fanout.Sender
	logger   *slog.Logger
	now      func() time.Time
}

// NewGroupRouter creates a GroupRouter.
func NewGroupRouter(s GroupStore, notifier fanout.Sender, logger *slog.Logger) *GroupRouter {
	return &GroupRouter{store: s, notifier: notifier, logger: logger, now: time.Now}
}

// Route persists the message against the group and pushes it to every user
// present in the group channel at this moment.
func (r *GroupRouter) Route(ctx context.Context, messageID string, send GroupSend) (*MessageRecord, error) {
	group, err := r.store.GetGroup(ctx, send.GroupID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, chaterr.NotFound("group %s not found", send.GroupID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting group: %w", err)
	}

	member, err := r.store.IsMember(ctx, group.ID, send.SenderID)
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return nil, chaterr.Forbidden("not a member of group %s", group.ID)
	}

	sender, err := lookupUser(ctx, r.store, send.SenderID)
	if err != nil {
		return nil, err
	}

	msg := newMessage(messageID, send.SenderID, send.Content, send.File, r.now().UTC())
	msg.GroupID = group.ID
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("saving message: %w", err)
	}

	record := NewRecord(msg, sender.DisplayName)
	record.GroupName = group.Name
	record.ClientMessageID = send.ClientID

	r.notifier.ToChannel(presence.GroupChannel(group.ID), fanout.EventMessageReceived, record)

	r.logger.Debug("group message dispatched", "message_id", msg.ID, "group_id", group.ID)
	return record, nil
}
