// ABOUTME: Names of the events pushed to connected clients
// ABOUTME: Shared by the dispatcher, pin manager and hub so clients see one vocabulary

package fanout

const (
	EventMessageReceived = "message-received"
	EventMemberJoined    = "member-joined"
	EventMemberLeft      = "member-left"
	EventChannelDeleted  = "channel-deleted"
	EventMessagePinned   = "message-pinned"
	EventMessageUnpinned = "message-unpinned"
	EventTyping          = "typing"
)

// Sender is the delivery surface consumers depend on. *Notifier implements it.
type Sender interface {
	ToChannel(channelID, event string, payload any, exclude ...string)
	ToUser(userID, event string, payload any)
}
