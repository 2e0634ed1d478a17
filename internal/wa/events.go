package wa

import (
	"time"

	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Event is a session lifecycle or message notification emitted by the Manager.
// The concrete types are QRUpdated, Paired, Connected, Disconnected, LoggedOut,
// Removed and MessageReceived.
type Event interface {
	SessionID() string
	isEvent()
}

// QRUpdated carries a refreshed pairing code.
type QRUpdated struct {
	Session string
	Code    string
}

// Paired is emitted once a phone scans the pairing code.
type Paired struct {
	Session string
	JID     types.JID
}

// Connected is emitted when the session is ready to send and receive.
type Connected struct {
	Session string
}

// Disconnected is emitted on a transport drop; whatsmeow reconnects by itself.
type Disconnected struct {
	Session string
}

// LoggedOut is emitted when the device was unlinked and must pair again.
type LoggedOut struct {
	Session string
	Reason  string
}

// Removed is emitted when a session is stopped through Manager.Remove.
type Removed struct {
	Session string
}

// MessageReceived carries one inbound chat message.
type MessageReceived struct {
	Session string
	Message InboundMessage
}

func (e QRUpdated) SessionID() string { return e.Session }
func (e Paired) SessionID() string { return e.Session }
func (e Connected) SessionID() string { return e.Session }
func (e Disconnected) SessionID() string { return e.Session }
func (e LoggedOut) SessionID() string { return e.Session }
func (e Removed) SessionID() string { return e.Session }
func (e MessageReceived) SessionID() string { return e.Session }

func (QRUpdated) isEvent() {}
func (Paired) isEvent() {}
func (Connected) isEvent() {}
func (Disconnected) isEvent() {}
func (LoggedOut) isEvent() {}
func (Removed) isEvent() {}
func (MessageReceived) isEvent() {}

// InboundMessage is the subset of a whatsmeow message the gateway acts on.
type InboundMessage struct {
	ID        types.MessageID
	Chat      types.JID
	Sender    types.JID
	PushName  string
	FromMe    bool
	IsGroup   bool
	Text      string
	Timestamp time.Time
}

// NewInboundMessage flattens a whatsmeow message event.
func NewInboundMessage(evt *events.Message) InboundMessage {
	return InboundMessage{
		ID:        evt.Info.ID,
		Chat:      evt.Info.Chat,
		Sender:    evt.Info.Sender.ToNonAD(),
		PushName:  evt.Info.PushName,
		FromMe:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup,
		Text:      MessageText(evt.Message),
		Timestamp: evt.Info.Timestamp,
	}
}

// MessageText returns the plain text of a conversation or extended text
// message, or "" for any other shape.
func MessageText(msg *waProto.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}
