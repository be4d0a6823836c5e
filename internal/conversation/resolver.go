// ABOUTME: Resolves the single direct conversation for an unordered pair of users
// ABOUTME: Relies on the store's pair uniqueness and re-reads the winner after a lost insert

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chathub/internal/chaterr"
	"github.com/2389/chathub/internal/store"
)

// Resolver finds or creates direct conversations.
type Resolver struct {
	store  store.ConversationStore
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver. Pass nil logger for default.
func NewResolver(s store.ConversationStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:  s,
		logger: logger.With("component", "conversation"),
		now:    time.Now,
	}
}

// GetOrCreate returns the conversation between a and b in either order,
// creating it if the pair has none. created is true only for the caller whose
// insert won.
func (r *Resolver) GetOrCreate(ctx context.Context, a, b string) (conv *store.Conversation, created bool, err error) {
	if a == "" || b == "" {
		return nil, false, chaterr.Validation("conversation needs two users")
	}
	if a == b {
		return nil, false, chaterr.Validation("cannot start a conversation with yourself")
	}

	conv, err = r.store.GetConversationByPair(ctx, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("looking up conversation: %w", err)
	}

	now := r.now().UTC()
	conv = &store.Conversation{
		ID:            uuid.New().String(),
		UserAID:       a,
		UserBID:       b,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	err = r.store.CreateConversation(ctx, conv)
	if err == nil {
		r.logger.Debug("created conversation", "conversation_id", conv.ID, "user_a", a, "user_b", b)
		return conv, true, nil
	}
	if !errors.Is(err, store.ErrDuplicateConversation) {
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}

	// Another request created the pair between our lookup and insert
	existing, lookupErr := r.store.GetConversationByPair(ctx, a, b)
	if lookupErr == nil {
		r.logger.Debug("found existing conversation after race", "conversation_id", existing.ID)
		return existing, false, nil
	}
	if errors.Is(lookupErr, store.ErrNotFound) {
		return nil, false, chaterr.RaceOutcome(err, "conversation for %s and %s vanished after duplicate insert", a, b)
	}
	return nil, false, fmt.Errorf("looking up conversation after race: %w", lookupErr)
}

// Get returns a conversation the user participates in.
func (r *Resolver) Get(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, chaterr.NotFound("conversation %s not found", conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, chaterr.Forbidden("not a participant of conversation %s", conversationID)
	}
	return conv, nil
}

// OtherParticipant returns the user on the other side of the conversation from userID.
func (r *Resolver) OtherParticipant(ctx context.Context, conversationID, userID string) (string, error) {
	conv, err := r.Get(ctx, conversationID, userID)
	if err != nil {
		return "", err
	}
	return conv.Other(userID), nil
}
