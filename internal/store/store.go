// ABOUTME: Store interfaces and data types for chathub persistence
// ABOUTME: Defines users, groups, conversations, messages and pins plus the collaborator interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a conversation already exists for the unordered user pair
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicatePin is returned when the message is already pinned in the scope
var ErrDuplicatePin = errors.New("message already pinned")

// ErrPinLimit is returned when the scope already holds the maximum number of pins
var ErrPinLimit = errors.New("pin limit reached")

// ErrDuplicateMember is returned when adding a user that is already a group member
var ErrDuplicateMember = errors.New("already a member")

// MessageType is the kind of content a message carries
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeImage        MessageType = "image"
	MessageTypeFile         MessageType = "file"
	MessageTypeNotification MessageType = "notification" // system generated (joined, left, pinned...)
)

// User is the minimal view of an account this core needs
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Group is a group chat
type Group struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// GroupMember is a membership record; the source of truth for channel subscriptions
type GroupMember struct {
	GroupID  string
	UserID   string
	IsAdmin  bool
	JoinedAt time.Time
}

// Conversation backs direct messages between exactly two users.
// UserAID/UserBID keep the order of first contact (sender, receiver);
// uniqueness is enforced on the unordered pair.
type Conversation struct {
	ID            string
	UserAID       string
	UserBID       string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// PairKey returns the order-independent key for a user pair
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// HasParticipant reports whether userID is one of the two participants
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// Other returns the participant that is not userID
func (c *Conversation) Other(userID string) string {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}

// Message is a persisted chat message. Exactly one of ConversationID/GroupID is set.
type Message struct {
	ID             string
	Content        string
	Type           MessageType
	SenderID       string
	ConversationID string
	GroupID        string
	FileURL        string
	FileName       string
	FileType       string
	FileSize       int64
	IsRead         bool
	CreatedAt      time.Time
}

// Scope identifies a pin context: a conversation or a group, never both
type Scope struct {
	ConversationID string `json:"conversationId,omitempty"`
	GroupID        string `json:"groupId,omitempty"`
}

// IsGroup reports whether the scope targets a group
func (s Scope) IsGroup() bool { return s.GroupID != "" }

// kind and id as stored in the pinned_messages table
func (s Scope) columns() (string, string) {
	if s.IsGroup() {
		return "group", s.GroupID
	}
	return "conversation", s.ConversationID
}

// Contains reports whether the message was posted in this scope
func (s Scope) Contains(msg *Message) bool {
	if s.IsGroup() {
		return msg.GroupID == s.GroupID
	}
	return msg.ConversationID != "" && msg.ConversationID == s.ConversationID
}

// PinnedMessage is an active pin of a message within a scope
type PinnedMessage struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"messageId"`
	PinnedByUserID string    `json:"pinnedByUserId"`
	ConversationID string    `json:"conversationId,omitempty"`
	GroupID        string    `json:"groupId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Scope returns the scope of the pin
func (p *PinnedMessage) Scope() Scope {
	return Scope{ConversationID: p.ConversationID, GroupID: p.GroupID}
}

// UserStore reads user accounts
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
}

// MembershipStore is the membership lookup collaborator
type MembershipStore interface {
	// MembershipsOf returns the ids of every group the user belongs to
	MembershipsOf(ctx context.Context, userID string) ([]string, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	IsAdmin(ctx context.Context, groupID, userID string) (bool, error)
	CountMembers(ctx context.Context, groupID string) (int, error)
}

// GroupStore manages groups and their members
type GroupStore interface {
	CreateGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	DeleteGroup(ctx context.Context, id string) error
	AddGroupMember(ctx context.Context, member *GroupMember) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	ListGroupMembers(ctx context.Context, groupID string) ([]*GroupMember, error)
}

// ConversationStore persists direct conversations
type ConversationStore interface {
	// CreateConversation returns ErrDuplicateConversation if the unordered pair already has one
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

// MessageStore persists messages
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	// DeleteMessage also removes every pin of the message
	DeleteMessage(ctx context.Context, id string) error
}

// PinStore persists pins
type PinStore interface {
	// CreatePin inserts the pin unless the scope already holds limit pins (ErrPinLimit)
	// or the message is already pinned there (ErrDuplicatePin). The check and the
	// insert are a single atomic step.
	CreatePin(ctx context.Context, pin *PinnedMessage, limit int) error
	GetPin(ctx context.Context, messageID string, scope Scope) (*PinnedMessage, error)
	DeletePin(ctx context.Context, messageID string, scope Scope) error
	ListPins(ctx context.Context, scope Scope) ([]*PinnedMessage, error)
	CountPins(ctx context.Context, scope Scope) (int, error)
}

// Store is the full persistence collaborator
type Store interface {
	UserStore
	MembershipStore
	GroupStore
	ConversationStore
	MessageStore
	PinStore

	// Close releases any resources held by the store
	Close() error
}
