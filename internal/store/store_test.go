// ABOUTME: Behavioral tests run against both SQLiteStore and MockStore
// ABOUTME: Keeps the mock honest by asserting the same constraints the schema enforces

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("mock", func(t *testing.T) { fn(t, NewMockStore()) })
}

func seedGroup(t *testing.T, s Store, groupID string, members ...string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.CreateGroup(ctx, &Group{ID: groupID, Name: groupID, CreatedBy: members[0], CreatedAt: now}))
	for i, userID := range members {
		require.NoError(t, s.AddGroupMember(ctx, &GroupMember{
			GroupID:  groupID,
			UserID:   userID,
			IsAdmin:  i == 0,
			JoinedAt: now.Add(time.Duration(i) * time.Millisecond),
		}))
	}
}

func TestStore_Users(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		created := time.Now().UTC().Truncate(time.Millisecond)

		require.NoError(t, s.CreateUser(ctx, &User{ID: "alice", DisplayName: "Alice", CreatedAt: created}))

		got, err := s.GetUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", got.DisplayName)
		assert.True(t, created.Equal(got.CreatedAt))

		_, err = s.GetUser(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_GroupMembership(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedGroup(t, s, "g1", "alice", "bob")
		seedGroup(t, s, "g2", "bob")

		isMember, err := s.IsMember(ctx, "g1", "bob")
		require.NoError(t, err)
		assert.True(t, isMember)

		isAdmin, err := s.IsAdmin(ctx, "g1", "alice")
		require.NoError(t, err)
		assert.True(t, isAdmin)

		isAdmin, err = s.IsAdmin(ctx, "g1", "bob")
		require.NoError(t, err)
		assert.False(t, isAdmin)

		groups, err := s.MembershipsOf(ctx, "bob")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"g1", "g2"}, groups)

		n, err := s.CountMembers(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		members, err := s.ListGroupMembers(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "alice", members[0].UserID)

		err = s.AddGroupMember(ctx, &GroupMember{GroupID: "g1", UserID: "bob", JoinedAt: time.Now()})
		assert.ErrorIs(t, err, ErrDuplicateMember)

		err = s.AddGroupMember(ctx, &GroupMember{GroupID: "missing", UserID: "bob", JoinedAt: time.Now()})
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.RemoveGroupMember(ctx, "g1", "bob"))
		assert.ErrorIs(t, s.RemoveGroupMember(ctx, "g1", "bob"), ErrNotFound)

		n, err = s.CountMembers(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStore_DeleteGroupCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seedGroup(t, s, "g1", "alice", "bob")
		now := time.Now().UTC()

		require.NoError(t, s.SaveMessage(ctx, &Message{ID: "m1", Content: "hi", SenderID: "alice", GroupID: "g1", CreatedAt: now}))
		require.NoError(t, s.CreatePin(ctx, &PinnedMessage{ID: "p1", MessageID: "m1", PinnedByUserID: "alice", GroupID: "g1", CreatedAt: now}, 10))

		require.NoError(t, s.DeleteGroup(ctx, "g1"))

		_, err := s.GetGroup(ctx, "g1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetMessage(ctx, "m1")
		assert.ErrorIs(t, err, ErrNotFound)

		n, err := s.CountPins(ctx, Scope{GroupID: "g1"})
		require.NoError(t, err)
		assert.Zero(t, n)

		isMember, err := s.IsMember(ctx, "g1", "bob")
		require.NoError(t, err)
		assert.False(t, isMember)

		assert.ErrorIs(t, s.DeleteGroup(ctx, "g1"), ErrNotFound)
	})
}

func TestStore_Conversations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		conv := &Conversation{ID: "c1", UserAID: "alice", UserBID: "bob", LastMessageAt: now, CreatedAt: now}
		require.NoError(t, s.CreateConversation(ctx, conv))

		// Either order finds it
		got, err := s.GetConversationByPair(ctx, "bob", "alice")
		require.NoError(t, err)
		assert.Equal(t, "c1", got.ID)
		assert.Equal(t, "alice", got.UserAID)

		err = s.CreateConversation(ctx, &Conversation{ID: "c2", UserAID: "bob", UserBID: "alice", LastMessageAt: now, CreatedAt: now})
		assert.ErrorIs(t, err, ErrDuplicateConversation)

		later := now.Add(time.Minute)
		require.NoError(t, s.TouchConversation(ctx, "c1", later))
		got, err = s.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, later.Equal(got.LastMessageAt))

		assert.ErrorIs(t, s.TouchConversation(ctx, "missing", later), ErrNotFound)

		_, err = s.GetConversationByPair(ctx, "alice", "carol")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_Messages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)
		require.NoError(t, s.CreateConversation(ctx, &Conversation{ID: "c1", UserAID: "alice", UserBID: "bob", LastMessageAt: now, CreatedAt: now}))

		msg := &Message{
			ID:             "m1",
			Content:        "look",
			Type:           MessageTypeImage,
			SenderID:       "alice",
			ConversationID: "c1",
			FileURL:        "https://files.example/cat.png",
			FileName:       "cat.png",
			FileType:       "image/png",
			FileSize:       2048,
			CreatedAt:      now,
		}
		require.NoError(t, s.SaveMessage(ctx, msg))

		got, err := s.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, MessageTypeImage, got.Type)
		assert.Equal(t, "c1", got.ConversationID)
		assert.Empty(t, got.GroupID)
		assert.Equal(t, "cat.png", got.FileName)
		assert.Equal(t, int64(2048), got.FileSize)
		assert.False(t, got.IsRead)

		require.NoError(t, s.SaveMessage(ctx, &Message{ID: "m2", Content: "plain", SenderID: "bob", ConversationID: "c1", CreatedAt: now}))
		got, err = s.GetMessage(ctx, "m2")
		require.NoError(t, err)
		assert.Equal(t, MessageTypeText, got.Type)

		require.NoError(t, s.DeleteMessage(ctx, "m2"))
		_, err = s.GetMessage(ctx, "m2")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.DeleteMessage(ctx, "m2"), ErrNotFound)
	})
}

func TestStore_Pins(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		seedGroup(t, s, "g1", "alice")
		scope := Scope{GroupID: "g1"}

		for _, id := range []string{"m1", "m2", "m3"} {
			require.NoError(t, s.SaveMessage(ctx, &Message{ID: id, Content: id, SenderID: "alice", GroupID: "g1", CreatedAt: now}))
		}

		require.NoError(t, s.CreatePin(ctx, &PinnedMessage{ID: "p1", MessageID: "m1", PinnedByUserID: "alice", GroupID: "g1", CreatedAt: now}, 2))
		require.NoError(t, s.CreatePin(ctx, &PinnedMessage{ID: "p2", MessageID: "m2", PinnedByUserID: "alice", GroupID: "g1", CreatedAt: now.Add(time.Second)}, 2))

		err := s.CreatePin(ctx, &PinnedMessage{ID: "p3", MessageID: "m1", PinnedByUserID: "alice", GroupID: "g1", CreatedAt: now}, 5)
		assert.ErrorIs(t, err, ErrDuplicatePin)

		err = s.CreatePin(ctx, &PinnedMessage{ID: "p4", MessageID: "m3", PinnedByUserID: "alice", GroupID: "g1", CreatedAt: now}, 2)
		assert.ErrorIs(t, err, ErrPinLimit)

		err = s.CreatePin(ctx, &PinnedMessage{ID: "p5", MessageID: "ghost", PinnedByUserID: "alice", GroupID: "g1", CreatedAt: now}, 5)
		assert.ErrorIs(t, err, ErrNotFound)

		pin, err := s.GetPin(ctx, "m1", scope)
		require.NoError(t, err)
		assert.Equal(t, "alice", pin.PinnedByUserID)
		assert.Equal(t, scope, pin.Scope())

		pins, err := s.ListPins(ctx, scope)
		require.NoError(t, err)
		require.Len(t, pins, 2)
		assert.Equal(t, "m1", pins[0].MessageID)
		assert.Equal(t, "m2", pins[1].MessageID)

		require.NoError(t, s.DeletePin(ctx, "m1", scope))
		assert.ErrorIs(t, s.DeletePin(ctx, "m1", scope), ErrNotFound)
		_, err = s.GetPin(ctx, "m1", scope)
		assert.ErrorIs(t, err, ErrNotFound)

		// Deleting a message removes its pin
		require.NoError(t, s.DeleteMessage(ctx, "m2"))
		n, err := s.CountPins(ctx, scope)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestMockStore_DisablePairConstraint(t *testing.T) {
	s := NewMockStore()
	s.DisablePairConstraint = true
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateConversation(ctx, &Conversation{ID: "c1", UserAID: "alice", UserBID: "bob", CreatedAt: now}))
	require.NoError(t, s.CreateConversation(ctx, &Conversation{ID: "c2", UserAID: "bob", UserBID: "alice", CreatedAt: now.Add(time.Second)}))

	assert.Equal(t, 2, s.CountConversationsByPair("alice", "bob"))

	got, err := s.GetConversationByPair(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID, "oldest row wins lookups")
}

func TestPairKey(t *testing.T) {
	assert.Equal(t, PairKey("alice", "bob"), PairKey("bob", "alice"))
	assert.NotEqual(t, PairKey("alice", "bob"), PairKey("alice", "carol"))
}

func TestScopeContains(t *testing.T) {
	groupMsg := &Message{GroupID: "g1"}
	directMsg := &Message{ConversationID: "c1"}

	assert.True(t, Scope{GroupID: "g1"}.Contains(groupMsg))
	assert.False(t, Scope{GroupID: "g2"}.Contains(groupMsg))
	assert.True(t, Scope{ConversationID: "c1"}.Contains(directMsg))
	assert.False(t, Scope{ConversationID: "c1"}.Contains(groupMsg))
}
