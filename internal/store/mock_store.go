// ABOUTME: Mock Store implementation for testing
// ABOUTME: In-memory store that mirrors SQLiteStore constraints, with a switch to drop pair uniqueness

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	groups        map[string]*Group
	members       map[string]map[string]*GroupMember // groupID -> userID -> member
	conversations map[string]*Conversation
	messages      map[string]*Message
	pins          map[string]*PinnedMessage // keyed by pinKey

	// DisablePairConstraint lets CreateConversation insert a second row for the
	// same unordered pair, like a schema without the unique index.
	DisablePairConstraint bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		groups:        make(map[string]*Group),
		members:       make(map[string]map[string]*GroupMember),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
		pins:          make(map[string]*PinnedMessage),
	}
}

func pinKey(messageID string, scope Scope) string {
	kind, id := scope.columns()
	return messageID + "|" + kind + "|" + id
}

// CreateUser stores a user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// CreateGroup stores a group.
func (m *MockStore) CreateGroup(ctx context.Context, group *Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := *group
	m.groups[g.ID] = &g
	return nil
}

// GetGroup retrieves a group by ID.
func (m *MockStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *g
	return &result, nil
}

// DeleteGroup removes a group with its members, messages and pins.
func (m *MockStore) DeleteGroup(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return ErrNotFound
	}
	delete(m.groups, id)
	delete(m.members, id)
	for msgID, msg := range m.messages {
		if msg.GroupID == id {
			m.deleteMessageLocked(msgID)
		}
	}
	for key, pin := range m.pins {
		if pin.GroupID == id {
			delete(m.pins, key)
		}
	}
	return nil
}

// AddGroupMember stores a membership.
func (m *MockStore) AddGroupMember(ctx context.Context, member *GroupMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[member.GroupID]; !ok {
		return ErrNotFound
	}
	set, ok := m.members[member.GroupID]
	if !ok {
		set = make(map[string]*GroupMember)
		m.members[member.GroupID] = set
	}
	if _, exists := set[member.UserID]; exists {
		return ErrDuplicateMember
	}
	gm := *member
	set[gm.UserID] = &gm
	return nil
}

// RemoveGroupMember deletes a membership.
func (m *MockStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.members[groupID]
	if _, ok := set[userID]; !ok {
		return ErrNotFound
	}
	delete(set, userID)
	return nil
}

// ListGroupMembers returns the members of a group in join order.
func (m *MockStore) ListGroupMembers(ctx context.Context, groupID string) ([]*GroupMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var members []*GroupMember
	for _, gm := range m.members[groupID] {
		c := *gm
		members = append(members, &c)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

// MembershipsOf returns the group ids the user belongs to.
func (m *MockStore) MembershipsOf(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var groupIDs []string
	for groupID, set := range m.members {
		if _, ok := set[userID]; ok {
			groupIDs = append(groupIDs, groupID)
		}
	}
	sort.Strings(groupIDs)
	return groupIDs, nil
}

// IsMember reports whether the user belongs to the group.
func (m *MockStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[groupID][userID]
	return ok, nil
}

// IsAdmin reports whether the user is an admin of the group.
func (m *MockStore) IsAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	gm, ok := m.members[groupID][userID]
	return ok && gm.IsAdmin, nil
}

// CountMembers returns the number of members in the group.
func (m *MockStore) CountMembers(ctx context.Context, groupID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members[groupID]), nil
}

// CreateConversation stores a conversation, enforcing pair uniqueness unless disabled.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.DisablePairConstraint {
		key := PairKey(conv.UserAID, conv.UserBID)
		for _, existing := range m.conversations {
			if PairKey(existing.UserAID, existing.UserBID) == key {
				return ErrDuplicateConversation
			}
		}
	}

	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetConversationByPair retrieves the oldest conversation for the unordered pair.
func (m *MockStore) GetConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matches := m.conversationsByPairLocked(userA, userB)
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	result := *matches[0]
	return &result, nil
}

// CountConversationsByPair reports how many rows exist for the unordered pair.
func (m *MockStore) CountConversationsByPair(userA, userB string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversationsByPairLocked(userA, userB))
}

func (m *MockStore) conversationsByPairLocked(userA, userB string) []*Conversation {
	key := PairKey(userA, userB)
	var matches []*Conversation
	for _, c := range m.conversations {
		if PairKey(c.UserAID, c.UserBID) == key {
			matches = append(matches, c)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches
}

// TouchConversation sets LastMessageAt.
func (m *MockStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageAt = at
	return nil
}

// SaveMessage stores a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *msg
	if c.Type == "" {
		c.Type = MessageTypeText
	}
	m.messages[c.ID] = &c
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	return &result, nil
}

// Messages returns every stored message, oldest first.
func (m *MockStore) Messages() []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Message, 0, len(m.messages))
	for _, msg := range m.messages {
		c := *msg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DeleteMessage removes a message and its pins.
func (m *MockStore) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return ErrNotFound
	}
	m.deleteMessageLocked(id)
	return nil
}

func (m *MockStore) deleteMessageLocked(id string) {
	delete(m.messages, id)
	for key, pin := range m.pins {
		if pin.MessageID == id {
			delete(m.pins, key)
		}
	}
}

// CreatePin stores a pin unless the scope is full or the message is already pinned.
func (m *MockStore) CreatePin(ctx context.Context, pin *PinnedMessage, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := pin.Scope()
	if _, ok := m.messages[pin.MessageID]; !ok {
		return ErrNotFound
	}
	key := pinKey(pin.MessageID, scope)
	if _, exists := m.pins[key]; exists {
		return ErrDuplicatePin
	}
	if m.countPinsLocked(scope) >= limit {
		return ErrPinLimit
	}

	p := *pin
	m.pins[key] = &p
	return nil
}

// GetPin retrieves the pin of a message in a scope.
func (m *MockStore) GetPin(ctx context.Context, messageID string, scope Scope) (*PinnedMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pins[pinKey(messageID, scope)]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// DeletePin removes the pin of a message in a scope.
func (m *MockStore) DeletePin(ctx context.Context, messageID string, scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pinKey(messageID, scope)
	if _, ok := m.pins[key]; !ok {
		return ErrNotFound
	}
	delete(m.pins, key)
	return nil
}

// ListPins returns the pins of a scope, oldest first.
func (m *MockStore) ListPins(ctx context.Context, scope Scope) ([]*PinnedMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pins []*PinnedMessage
	for _, p := range m.pins {
		if p.Scope() == scope {
			c := *p
			pins = append(pins, &c)
		}
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].CreatedAt.Before(pins[j].CreatedAt) })
	return pins, nil
}

// CountPins returns the number of active pins in a scope.
func (m *MockStore) CountPins(ctx context.Context, scope Scope) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countPinsLocked(scope), nil
}

func (m *MockStore) countPinsLocked(scope Scope) int {
	n := 0
	for _, p := range m.pins {
		if p.Scope() == scope {
			n++
		}
	}
	return n
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error { return nil }
