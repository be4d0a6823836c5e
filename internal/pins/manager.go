// ABOUTME: Pins and unpins messages within a conversation or group, capped per scope
// ABOUTME: Announces each change with a persisted notification message and a fanout event

package pins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chathub/internal/chaterr"
	"github.com/2389/chathub/internal/conversation"
	"github.com/2389/chathub/internal/dispatch"
	"github.com/2389/chathub/internal/fanout"
	"github.com/2389/chathub/internal/presence"
	"github.com/2389/chathub/internal/store"
)

// DefaultLimit is the number of messages a scope may hold pinned at once.
const DefaultLimit = 10

// Scope is the conversation or group a pin lives in.
type Scope = store.Scope

// Store is every persistence call the manager makes.
type Store interface {
	store.UserStore
	store.MembershipStore
	store.MessageStore
	store.PinStore
	GetGroup(ctx context.Context, id string) (*store.Group, error)
}

// Event is the payload of message-pinned and message-unpinned.
type Event struct {
	ConversationID      string                  `json:"conversationId,omitempty"`
	GroupID             string                  `json:"groupId,omitempty"`
	MessageID           string                  `json:"messageId"`
	Pin                 *store.PinnedMessage    `json:"pin,omitempty"`
	NotificationMessage *dispatch.MessageRecord `json:"notificationMessage,omitempty"`
}

// Manager enforces pin rules. Changes within one scope are serialized
// in-process, and the store's guarded insert keeps the cap across processes.
type Manager struct {
	store    Store
	resolver *conversation.Resolver
	notifier fanout.Sender
	limit    int
	locks    *keyedMutex
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a Manager. A non-positive limit means DefaultLimit.
func NewManager(s Store, resolver *conversation.Resolver, notifier fanout.Sender, limit int, logger *slog.Logger) *Manager {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    s,
		resolver: resolver,
		notifier: notifier,
		limit:    limit,
		locks:    newKeyedMutex(),
		logger:   logger.With("component", "pins"),
		now:      time.Now,
	}
}

// Limit returns the per-scope pin cap.
func (m *Manager) Limit() int { return m.limit }

func validateScope(scope Scope) error {
	if (scope.ConversationID == "") == (scope.GroupID == "") {
		return chaterr.Validation("scope needs exactly one of conversationId or groupId")
	}
	return nil
}

func scopeKey(scope Scope) string {
	if scope.IsGroup() {
		return presence.GroupChannel(scope.GroupID)
	}
	return "conversation:" + scope.ConversationID
}

// audience is who hears about changes in a scope.
type audience struct {
	groupChannel string   // set for group scopes
	users        []string // both participants for conversation scopes
}

// authorize checks the scope exists and the user may act in it.
func (m *Manager) authorize(ctx context.Context, scope Scope, userID string) (audience, error) {
	if scope.IsGroup() {
		if _, err := m.store.GetGroup(ctx, scope.GroupID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return audience{}, chaterr.NotFound("group %s not found", scope.GroupID)
			}
			return audience{}, fmt.Errorf("getting group: %w", err)
		}
		member, err := m.store.IsMember(ctx, scope.GroupID, userID)
		if err != nil {
			return audience{}, fmt.Errorf("checking membership: %w", err)
		}
		if !member {
			return audience{}, chaterr.Forbidden("not a member of group %s", scope.GroupID)
		}
		return audience{groupChannel: presence.GroupChannel(scope.GroupID)}, nil
	}

	other, err := m.resolver.OtherParticipant(ctx, scope.ConversationID, userID)
	if err != nil {
		return audience{}, err
	}
	return audience{users: []string{userID, other}}, nil
}

func (m *Manager) prepare(ctx context.Context, messageID string, scope Scope, userID string) (audience, error) {
	if err := validateScope(scope); err != nil {
		return audience{}, err
	}
	if messageID == "" {
		return audience{}, chaterr.Validation("messageId is required")
	}
	return m.authorize(ctx, scope, userID)
}

// Pin pins a message in its scope.
func (m *Manager) Pin(ctx context.Context, messageID string, scope Scope, requestedBy string) (*store.PinnedMessage, error) {
	aud, err := m.prepare(ctx, messageID, scope, requestedBy)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(scopeKey(scope))
	defer unlock()

	msg, err := m.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, chaterr.NotFound("message %s not found", messageID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}
	if !scope.Contains(msg) {
		return nil, chaterr.NotFound("message %s not found in this scope", messageID)
	}

	if _, err := m.store.GetPin(ctx, messageID, scope); err == nil {
		return nil, chaterr.Validation("message %s is already pinned", messageID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("getting pin: %w", err)
	}

	count, err := m.store.CountPins(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("counting pins: %w", err)
	}
	if count >= m.limit {
		return nil, chaterr.Capacity("pin limit of %d reached", m.limit)
	}

	pin := &store.PinnedMessage{
		ID:             uuid.New().String(),
		MessageID:      messageID,
		PinnedByUserID: requestedBy,
		ConversationID: scope.ConversationID,
		GroupID:        scope.GroupID,
		CreatedAt:      m.now().UTC(),
	}
	if err := m.store.CreatePin(ctx, pin, m.limit); err != nil {
		switch {
		case errors.Is(err, store.ErrPinLimit):
			return nil, chaterr.Capacity("pin limit of %d reached", m.limit)
		case errors.Is(err, store.ErrDuplicatePin):
			return nil, chaterr.RaceOutcome(err, "message %s was pinned concurrently", messageID)
		case errors.Is(err, store.ErrNotFound):
			return nil, chaterr.NotFound("message %s not found", messageID)
		default:
			return nil, fmt.Errorf("creating pin: %w", err)
		}
	}

	m.logger.Info("message pinned",
		"message_id", messageID,
		"scope", scopeKey(scope),
		"pinned_by", requestedBy)

	m.announce(ctx, aud, scope, requestedBy, fanout.EventMessagePinned, "pinned a message", Event{
		ConversationID: scope.ConversationID,
		GroupID:        scope.GroupID,
		MessageID:      messageID,
		Pin:            pin,
	})
	return pin, nil
}

// Unpin removes a message's pin from its scope.
func (m *Manager) Unpin(ctx context.Context, messageID string, scope Scope, requestedBy string) (bool, error) {
	aud, err := m.prepare(ctx, messageID, scope, requestedBy)
	if err != nil {
		return false, err
	}

	unlock := m.locks.Lock(scopeKey(scope))
	defer unlock()

	if err := m.store.DeletePin(ctx, messageID, scope); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, chaterr.NotFound("message %s is not pinned", messageID)
		}
		return false, fmt.Errorf("deleting pin: %w", err)
	}

	m.logger.Info("message unpinned",
		"message_id", messageID,
		"scope", scopeKey(scope),
		"unpinned_by", requestedBy)

	m.announce(ctx, aud, scope, requestedBy, fanout.EventMessageUnpinned, "unpinned a message", Event{
		ConversationID: scope.ConversationID,
		GroupID:        scope.GroupID,
		MessageID:      messageID,
	})
	return true, nil
}

// List returns the active pins of a scope, oldest first.
func (m *Manager) List(ctx context.Context, scope Scope, requestedBy string) ([]*store.PinnedMessage, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	if _, err := m.authorize(ctx, scope, requestedBy); err != nil {
		return nil, err
	}
	pins, err := m.store.ListPins(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("listing pins: %w", err)
	}
	if pins == nil {
		pins = []*store.PinnedMessage{}
	}
	return pins, nil
}

// announce persists a notification message and pushes the event. Failures
// are logged; the pin change itself already happened.
func (m *Manager) announce(ctx context.Context, aud audience, scope Scope, actorID, event, verb string, payload Event) {
	name := actorID
	if u, err := m.store.GetUser(ctx, actorID); err == nil {
		name = u.DisplayName
	}

	note := &store.Message{
		ID:             uuid.New().String(),
		Content:        fmt.Sprintf("%s %s", name, verb),
		Type:           store.MessageTypeNotification,
		SenderID:       actorID,
		ConversationID: scope.ConversationID,
		GroupID:        scope.GroupID,
		CreatedAt:      m.now().UTC(),
	}
	if err := m.store.SaveMessage(ctx, note); err != nil {
		m.logger.Error("failed to save pin notification", "error", err, "message_id", payload.MessageID)
	} else {
		payload.NotificationMessage = dispatch.NewRecord(note, name)
	}

	if aud.groupChannel != "" {
		m.notifier.ToChannel(aud.groupChannel, event, payload)
		return
	}
	for _, userID := range aud.users {
		m.notifier.ToChannel(presence.UserChannel(userID), event, payload)
	}
}
