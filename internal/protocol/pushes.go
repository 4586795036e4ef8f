package protocol

import (
	"time"

	"telecare/internal/domain"
)

const (
	EventNewMessage          = "new-message"
	EventMessageNotification = "message-notification"
	EventUserStatusChange    = "user-status-change"
	EventUserConversations   = "user-conversations"
	EventChatHistory         = "chat-history"
	EventMessagesRead        = "messages-read"
	EventIncomingCall        = "incoming-call"
	EventInvitationSent      = "invitation-sent"
	EventCallAccepted        = "call-accepted"
	EventCallRejected        = "call-rejected"
	EventCallCanceled        = "call-canceled"
	EventCallTimeout         = "call-timeout"
	EventUserStatus          = "user-status"
	EventError               = "error"
)

type NewMessage struct {
	ConversationID string         `json:"conversationId"`
	Message        domain.Message `json:"message"`
}

// MessageNotification is the light cross-conversation notice. ConversationFor
// is the role of the recipient the notice is meant for.
type MessageNotification struct {
	ConversationFor domain.Role `json:"conversationFor"`
	ConversationID  string      `json:"conversationId"`
	SenderID        string      `json:"senderId"`
}

type UserStatusChange struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type UserConversations struct {
	Conversations []domain.Conversation `json:"conversations"`
}

type ChatHistory struct {
	ConversationID string           `json:"conversationId"`
	Messages       []domain.Message `json:"messages"`
}

type MessagesRead struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type IncomingCall struct {
	CallID   string      `json:"callId"`
	Caller   domain.Peer `json:"caller"`
	Deadline time.Time   `json:"deadline"`
}

type InvitationSent struct {
	CallID   string      `json:"callId"`
	Callee   domain.Peer `json:"callee"`
	Deadline time.Time   `json:"deadline"`
}

type CallAccepted struct {
	CallID string      `json:"callId"`
	RoomID string      `json:"roomId"`
	Caller domain.Peer `json:"caller"`
	Callee domain.Peer `json:"callee"`
}

type CallRejected struct {
	CallID string `json:"callId"`
}

type CallCanceled struct {
	CallID string `json:"callId"`
}

// CallTimeout is sent to both sides. Reason tells a ring timeout apart from
// the callee disconnecting while the call was ringing.
type CallTimeout struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

type UserStatus struct {
	UserID     string      `json:"userId"`
	Role       domain.Role `json:"role,omitempty"`
	IsOnline   bool        `json:"isOnline"`
	LastActive *time.Time  `json:"lastActive,omitempty"`
}

type Error struct {
	Request string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (*NewMessage) Event() string          { return EventNewMessage }
func (*MessageNotification) Event() string { return EventMessageNotification }
func (*UserStatusChange) Event() string    { return EventUserStatusChange }
func (*UserConversations) Event() string   { return EventUserConversations }
func (*ChatHistory) Event() string         { return EventChatHistory }
func (*MessagesRead) Event() string        { return EventMessagesRead }
func (*IncomingCall) Event() string        { return EventIncomingCall }
func (*InvitationSent) Event() string      { return EventInvitationSent }
func (*CallAccepted) Event() string        { return EventCallAccepted }
func (*CallRejected) Event() string        { return EventCallRejected }
func (*CallCanceled) Event() string        { return EventCallCanceled }
func (*CallTimeout) Event() string         { return EventCallTimeout }
func (*UserStatus) Event() string          { return EventUserStatus }
func (*Error) Event() string               { return EventError }

func (*NewMessage) push()          {}
func (*MessageNotification) push() {}
func (*UserStatusChange) push()    {}
func (*UserConversations) push()   {}
func (*ChatHistory) push()         {}
func (*MessagesRead) push()        {}
func (*IncomingCall) push()        {}
func (*InvitationSent) push()      {}
func (*CallAccepted) push()        {}
func (*CallRejected) push()        {}
func (*CallCanceled) push()        {}
func (*CallTimeout) push()         {}
func (*UserStatus) push()          {}
func (*Error) push()               {}
