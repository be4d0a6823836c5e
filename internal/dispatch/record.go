// ABOUTME: Outward-facing message record returned to the sender and pushed to recipients
// ABOUTME: Carries denormalized names so the transport never re-queries the store

package dispatch

import (
	"strings"
	"time"

	"github.com/2389/chathub/internal/store"
)

// MessageRecord is a fully materialized message.
type MessageRecord struct {
	ID                string            `json:"id"`
	Content           string            `json:"content"`
	Type              store.MessageType `json:"type"`
	SenderID          string            `json:"senderId"`
	SenderName        string            `json:"senderName"`
	ReceiverID        string            `json:"receiverId,omitempty"`
	ConversationID    string            `json:"conversationId,omitempty"`
	GroupID           string            `json:"groupId,omitempty"`
	GroupName         string            `json:"groupName,omitempty"`
	FileURL           string            `json:"fileUrl,omitempty"`
	FileName          string            `json:"fileName,omitempty"`
	FileType          string            `json:"fileType,omitempty"`
	FileSize          int64             `json:"fileSize,omitempty"`
	IsRead            bool              `json:"isRead"`
	IsNewConversation bool              `json:"isNewConversation"`
	ClientMessageID   string            `json:"clientMessageId,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// NewRecord builds a record from a stored message.
func NewRecord(msg *store.Message, senderName string) *MessageRecord {
	return &MessageRecord{
		ID:             msg.ID,
		Content:        msg.Content,
		Type:           msg.Type,
		SenderID:       msg.SenderID,
		SenderName:     senderName,
		ConversationID: msg.ConversationID,
		GroupID:        msg.GroupID,
		FileURL:        msg.FileURL,
		FileName:       msg.FileName,
		FileType:       msg.FileType,
		FileSize:       msg.FileSize,
		IsRead:         msg.IsRead,
		CreatedAt:      msg.CreatedAt,
	}
}

// MessageTypeFor derives the stored type from the attachment, if any.
func MessageTypeFor(file *Attachment) store.MessageType {
	switch {
	case file == nil:
		return store.MessageTypeText
	case strings.HasPrefix(strings.ToLower(file.Type), "image/"):
		return store.MessageTypeImage
	default:
		return store.MessageTypeFile
	}
}

func newMessage(id, senderID, content string, file *Attachment, now time.Time) *store.Message {
	msg := &store.Message{
		ID:        id,
		Content:   content,
		Type:      MessageTypeFor(file),
		SenderID:  senderID,
		CreatedAt: now,
	}
	if file != nil {
		msg.FileURL = file.URL
		msg.FileName = file.Name
		msg.FileType = file.Type
		msg.FileSize = file.Size
	}
	return msg
}
