// ABOUTME: Wire request for sendMessage and its classification into a direct or group send
// ABOUTME: Classify is the only place a raw request is inspected; routers receive typed sends

package dispatch

import (
	"strings"

	"github.com/2389/chathub/internal/chaterr"
)

// Target types accepted in Request.Type.
const (
	TargetUser  = "user"
	TargetGroup = "group"
)

// Request is the sendMessage payload as sent by clients.
type Request struct {
	Type            string `json:"type"`
	ReceiverID      string `json:"receiverId,omitempty"`
	ConversationID  string `json:"conversationId,omitempty"`
	GroupID         string `json:"groupId,omitempty"`
	Content         string `json:"content,omitempty"`
	FileURL         string `json:"fileUrl,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	FileType        string `json:"fileType,omitempty"`
	FileSize        int64  `json:"fileSize,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// Attachment is an uploaded file referenced by a message.
type Attachment struct {
	URL  string
	Name string
	Type string
	Size int64
}

// Send is a classified request: either DirectSend or GroupSend.
type Send interface {
	sender() string
	clientMessageID() string
}

// DirectSend is a person-to-person message.
type DirectSend struct {
	SenderID       string
	ReceiverID     string
	ConversationID string // optional; resolved from the pair when empty
	Content        string
	File           *Attachment
	ClientID       string
}

// GroupSend is a message to every member of a group.
type GroupSend struct {
	SenderID string
	GroupID  string
	Content  string
	File     *Attachment
	ClientID string
}

func (d DirectSend) sender() string          { return d.SenderID }
func (d DirectSend) clientMessageID() string { return d.ClientID }
func (g GroupSend) sender() string           { return g.SenderID }
func (g GroupSend) clientMessageID() string  { return g.ClientID }

// Classify turns a raw request into a DirectSend or GroupSend. A request that
// names no usable target fails with a validation error.
func Classify(senderID string, req Request) (Send, error) {
	if senderID == "" {
		return nil, chaterr.Authentication("not authenticated")
	}

	var file *Attachment
	if req.FileURL != "" {
		file = &Attachment{URL: req.FileURL, Name: req.FileName, Type: req.FileType, Size: req.FileSize}
	}
	if strings.TrimSpace(req.Content) == "" && file == nil {
		return nil, chaterr.Validation("message needs content or a file")
	}

	switch {
	case req.Type == TargetUser && req.ReceiverID != "":
		if req.ReceiverID == senderID {
			return nil, chaterr.Validation("cannot send a direct message to yourself")
		}
		return DirectSend{
			SenderID:       senderID,
			ReceiverID:     req.ReceiverID,
			ConversationID: req.ConversationID,
			Content:        req.Content,
			File:           file,
			ClientID:       req.ClientMessageID,
		}, nil
	case req.Type == TargetGroup && req.GroupID != "":
		return GroupSend{
			SenderID: senderID,
			GroupID:  req.GroupID,
			Content:  req.Content,
			File:     file,
			ClientID: req.ClientMessageID,
		}, nil
	default:
		return nil, chaterr.Validation("no route for request")
	}
}
