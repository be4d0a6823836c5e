// ABOUTME: Tests for the pin manager
// ABOUTME: Covers the per-scope cap, unpin symmetry, authorization, notifications, and concurrency

package pins

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chathub/internal/chaterr"
	"github.com/2389/chathub/internal/conversation"
	"github.com/2389/chathub/internal/fanout"
	"github.com/2389/chathub/internal/presence"
	"github.com/2389/chathub/internal/store"
)

type sentEvent struct {
	channel string
	event   string
	payload Event
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingNotifier) ToChannel(channelID, event string, payload any, exclude ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, _ := payload.(Event)
	r.events = append(r.events, sentEvent{channel: channelID, event: event, payload: ev})
}

func (r *recordingNotifier) ToUser(userID, event string, payload any) {
	r.ToChannel(presence.UserChannel(userID), event, payload)
}

func (r *recordingNotifier) sent() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.events...)
}

type fixture struct {
	store    *store.MockStore
	notifier *recordingNotifier
	manager  *Manager
	convID   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := store.NewMockStore()
	ctx := context.Background()
	now := time.Now()

	for _, u := range []store.User{{ID: "alice", DisplayName: "Alice"}, {ID: "bob", DisplayName: "Bob"}, {ID: "mallory", DisplayName: "Mallory"}} {
		u.CreatedAt = now
		require.NoError(t, s.CreateUser(ctx, &u))
	}
	require.NoError(t, s.CreateGroup(ctx, &store.Group{ID: "g1", Name: "Team", CreatedBy: "alice", CreatedAt: now}))
	require.NoError(t, s.AddGroupMember(ctx, &store.GroupMember{GroupID: "g1", UserID: "alice", IsAdmin: true, JoinedAt: now}))
	require.NoError(t, s.AddGroupMember(ctx, &store.GroupMember{GroupID: "g1", UserID: "bob", JoinedAt: now}))

	resolver := conversation.NewResolver(s, nil)
	conv, _, err := resolver.GetOrCreate(ctx, "alice", "bob")
	require.NoError(t, err)

	n := &recordingNotifier{}
	return &fixture{
		store:    s,
		notifier: n,
		manager:  NewManager(s, resolver, n, DefaultLimit, nil),
		convID:   conv.ID,
	}
}

func (f *fixture) groupMessages(t *testing.T, count int) []string {
	t.Helper()
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("gm-%d", i)
		require.NoError(t, f.store.SaveMessage(context.Background(), &store.Message{
			ID: ids[i], Content: "hi", SenderID: "alice", GroupID: "g1", CreatedAt: time.Now(),
		}))
	}
	return ids
}

func TestPin_EleventhPinHitsCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := Scope{GroupID: "g1"}
	ids := f.groupMessages(t, DefaultLimit+1)

	for _, id := range ids[:DefaultLimit] {
		_, err := f.manager.Pin(ctx, id, scope, "alice")
		require.NoError(t, err)
	}

	before, err := f.manager.List(ctx, scope, "alice")
	require.NoError(t, err)
	require.Len(t, before, DefaultLimit)

	_, err = f.manager.Pin(ctx, ids[DefaultLimit], scope, "alice")
	assert.ErrorIs(t, err, chaterr.ErrCapacity)

	after, err := f.manager.List(ctx, scope, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)
}

func TestUnpin_NotPinnedThenPinAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := Scope{GroupID: "g1"}
	ids := f.groupMessages(t, 1)

	ok, err := f.manager.Unpin(ctx, ids[0], scope, "bob")
	assert.ErrorIs(t, err, chaterr.ErrNotFound)
	assert.False(t, ok)

	_, err = f.manager.Pin(ctx, ids[0], scope, "bob")
	require.NoError(t, err)

	ok, err = f.manager.Unpin(ctx, ids[0], scope, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.manager.Unpin(ctx, ids[0], scope, "bob")
	assert.ErrorIs(t, err, chaterr.ErrNotFound)

	_, err = f.manager.Pin(ctx, ids[0], scope, "bob")
	require.NoError(t, err)
}

func TestPin_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.groupMessages(t, 1)

	tests := []struct {
		name    string
		msgID   string
		scope   Scope
		user    string
		wantErr error
	}{
		{"empty scope", ids[0], Scope{}, "alice", chaterr.ErrValidation},
		{"both scopes", ids[0], Scope{GroupID: "g1", ConversationID: f.convID}, "alice", chaterr.ErrValidation},
		{"missing message id", "", Scope{GroupID: "g1"}, "alice", chaterr.ErrValidation},
		{"unknown message", "nope", Scope{GroupID: "g1"}, "alice", chaterr.ErrNotFound},
		{"message from another scope", ids[0], Scope{ConversationID: f.convID}, "alice", chaterr.ErrNotFound},
		{"unknown group", ids[0], Scope{GroupID: "g9"}, "alice", chaterr.ErrNotFound},
		{"unknown conversation", ids[0], Scope{ConversationID: "c9"}, "alice", chaterr.ErrNotFound},
		{"not a group member", ids[0], Scope{GroupID: "g1"}, "mallory", chaterr.ErrForbidden},
		{"not a participant", ids[0], Scope{ConversationID: f.convID}, "mallory", chaterr.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Pin(ctx, tt.msgID, tt.scope, tt.user)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, f.notifier.sent())
}

func TestPin_AlreadyPinned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.groupMessages(t, 1)

	_, err := f.manager.Pin(ctx, ids[0], Scope{GroupID: "g1"}, "alice")
	require.NoError(t, err)

	_, err = f.manager.Pin(ctx, ids[0], Scope{GroupID: "g1"}, "bob")
	assert.ErrorIs(t, err, chaterr.ErrValidation)
}

func TestPin_GroupNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.groupMessages(t, 1)

	pin, err := f.manager.Pin(ctx, ids[0], Scope{GroupID: "g1"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", pin.PinnedByUserID)
	assert.Equal(t, "g1", pin.GroupID)

	sent := f.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, presence.GroupChannel("g1"), sent[0].channel)
	assert.Equal(t, fanout.EventMessagePinned, sent[0].event)
	assert.Equal(t, ids[0], sent[0].payload.MessageID)
	require.NotNil(t, sent[0].payload.NotificationMessage)
	assert.Equal(t, "Bob pinned a message", sent[0].payload.NotificationMessage.Content)
	assert.Equal(t, store.MessageTypeNotification, sent[0].payload.NotificationMessage.Type)

	stored, err := f.store.GetMessage(ctx, sent[0].payload.NotificationMessage.ID)
	require.NoError(t, err)
	assert.Equal(t, "g1", stored.GroupID)
}

func TestPin_ConversationNotifiesBothParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := Scope{ConversationID: f.convID}
	require.NoError(t, f.store.SaveMessage(ctx, &store.Message{
		ID: "dm-1", Content: "remember this", SenderID: "bob", ConversationID: f.convID, CreatedAt: time.Now(),
	}))

	_, err := f.manager.Pin(ctx, "dm-1", scope, "alice")
	require.NoError(t, err)
	_, err = f.manager.Unpin(ctx, "dm-1", scope, "bob")
	require.NoError(t, err)

	sent := f.notifier.sent()
	require.Len(t, sent, 4)

	var pinned, unpinned []string
	for _, ev := range sent {
		assert.Equal(t, f.convID, ev.payload.ConversationID)
		switch ev.event {
		case fanout.EventMessagePinned:
			pinned = append(pinned, ev.channel)
		case fanout.EventMessageUnpinned:
			unpinned = append(unpinned, ev.channel)
			assert.Equal(t, "Bob unpinned a message", ev.payload.NotificationMessage.Content)
		}
	}
	both := []string{presence.UserChannel("alice"), presence.UserChannel("bob")}
	assert.ElementsMatch(t, both, pinned)
	assert.ElementsMatch(t, both, unpinned)
}

func TestPin_ConcurrentRequestsRespectLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := Scope{GroupID: "g1"}
	ids := f.groupMessages(t, 25)

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.manager.Pin(ctx, id, scope, "alice")
		}(i, id)
	}
	wg.Wait()

	pinned, capped := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			pinned++
		case chaterr.KindOf(err) == chaterr.KindCapacity:
			capped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, DefaultLimit, pinned)
	assert.Equal(t, len(ids)-DefaultLimit, capped)

	n, err := f.store.CountPins(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, n)
	assert.Zero(t, f.manager.locks.size(), "scope locks are released")
}

// racingStore pretends another process pinned the message between the
// pre-check and the insert.
type racingStore struct {
	*store.MockStore
}

func (racingStore) CreatePin(context.Context, *store.PinnedMessage, int) error {
	return store.ErrDuplicatePin
}

func TestPin_DuplicateAfterPrecheckIsRaceOutcome(t *testing.T) {
	f := newFixture(t)
	ids := f.groupMessages(t, 1)
	m := NewManager(racingStore{f.store}, conversation.NewResolver(f.store, nil), f.notifier, DefaultLimit, nil)

	_, err := m.Pin(context.Background(), ids[0], Scope{GroupID: "g1"}, "alice")
	assert.ErrorIs(t, err, chaterr.ErrRaceOutcome)
}

func TestManager_CustomLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.groupMessages(t, 3)
	m := NewManager(f.store, conversation.NewResolver(f.store, nil), f.notifier, 2, nil)
	assert.Equal(t, 2, m.Limit())

	for _, id := range ids[:2] {
		_, err := m.Pin(ctx, id, Scope{GroupID: "g1"}, "alice")
		require.NoError(t, err)
	}
	_, err := m.Pin(ctx, ids[2], Scope{GroupID: "g1"}, "alice")
	assert.ErrorIs(t, err, chaterr.ErrCapacity)
}

func TestList_EmptyScope(t *testing.T) {
	f := newFixture(t)

	pins, err := f.manager.List(context.Background(), Scope{ConversationID: f.convID}, "bob")
	require.NoError(t, err)
	assert.NotNil(t, pins)
	assert.Empty(t, pins)

	_, err = f.manager.List(context.Background(), Scope{GroupID: "g1"}, "mallory")
	assert.ErrorIs(t, err, chaterr.ErrForbidden)
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("scope")
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Zero(t, k.size())
}
