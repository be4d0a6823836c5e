// ABOUTME: Entry point for sendMessage: classify, dedupe client retries, and route
// ABOUTME: Resolves the classified send with an exhaustive type switch over the two routers

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/chathub/internal/chaterr"
	"github.com/2389/chathub/internal/conversation"
	"github.com/2389/chathub/internal/dedupe"
	"github.com/2389/chathub/internal/fanout"
	"github.com/2389/chathub/internal/store"
)

// Store is every persistence call the dispatcher makes.
type Store interface {
	DirectStore
	store.MembershipStore
	GetGroup(ctx context.Context, id string) (*store.Group, error)
}

// Dispatcher routes outbound messages to the direct or group strategy.
type Dispatcher struct {
	store  Store
	direct *DirectRouter
	group  *GroupRouter
	seen   *dedupe.Cache // nil disables client retry detection
	logger *slog.Logger
}

// New creates a Dispatcher. seen may be nil.
func New(s Store, resolver *conversation.Resolver, notifier fanout.Sender, seen *dedupe.Cache, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dispatch")
	return &Dispatcher{
		store:  s,
		direct: NewDirectRouter(s, resolver, notifier, logger),
		group:  NewGroupRouter(s, notifier, logger),
		seen:   seen,
		logger: logger,
	}
}

// Send classifies and delivers a request from senderID.
func (d *Dispatcher) Send(ctx context.Context, senderID string, req Request) (*MessageRecord, error) {
	send, err := Classify(senderID, req)
	if err != nil {
		return nil, err
	}
	return d.Dispatch(ctx, send)
}

// Dispatch delivers an already classified send.
func (d *Dispatcher) Dispatch(ctx context.Context, send Send) (*MessageRecord, error) {
	messageID := uuid.New().String()

	var key string
	if d.seen != nil && send.clientMessageID() != "" {
		key = dedupe.Key(send.sender(), send.clientMessageID())
		if existing, dup := d.seen.Claim(key, messageID); dup {
			d.logger.Debug("duplicate client message", "sender_id", send.sender(), "message_id", existing)
			return d.replay(ctx, existing, send)
		}
	}

	var (
		record *MessageRecord
		err    error
	)
	switch s := send.(type) {
	case DirectSend:
		record, err = d.direct.Route(ctx, messageID, s)
	case GroupSend:
		record, err = d.group.Route(ctx, messageID, s)
	default:
		err = fmt.Errorf("unhandled send type %T", send)
	}

	if err != nil && key != "" {
		// Let the client retry a send that never landed
		d.seen.Release(key)
	}
	return record, err
}

// replay answers a resent client message id with the record stored by the
// first send. Nothing is fanned out again. A first send that has not been
// persisted yet is reported as a race the client may retry later.
func (d *Dispatcher) replay(ctx context.Context, messageID string, send Send) (*MessageRecord, error) {
	msg, err := d.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, chaterr.RaceOutcome(nil, "message %s with client id %s is still being sent", messageID, send.clientMessageID())
	}
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}

	sender, err := lookupUser(ctx, d.store, send.sender())
	if err != nil {
		return nil, err
	}
	record := NewRecord(msg, sender.DisplayName)
	record.ClientMessageID = send.clientMessageID()
	return record, nil
}
