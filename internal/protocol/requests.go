package protocol

const (
	EventSendMessage      = "send-message"
	EventGetConversations = "get-conversations"
	EventGetChatHistory   = "get-chat-history"
	EventMarkMessagesRead = "mark-messages-read"
	EventSendInvitation   = "sendInvitation"
	EventAccept           = "accept"
	EventReject           = "reject"
	EventCancel           = "cancel"
	EventGetUserStatus    = "get-user-status"
)

type SendMessage struct {
	SenderID     string `json:"senderId" validate:"required"`
	ReceiverID   string `json:"receiverId" validate:"required"`
	Text         string `json:"text"`
	SenderType   string `json:"senderType" validate:"required"`
	ReceiverType string `json:"receiverType" validate:"required"`
}

// GetConversations lists the conversations of UserID, the session owner when empty.
type GetConversations struct {
	UserID string `json:"userId"`
}

type GetChatHistory struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type MarkMessagesRead struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId"`
}

type SendInvitation struct {
	CallerID string `json:"callerId"`
	CalleeID string `json:"calleeId" validate:"required"`
}

type AcceptCall struct {
	InvitationID string `json:"invitationId" validate:"required"`
}

type RejectCall struct {
	InvitationID string `json:"invitationId" validate:"required"`
}

type CancelCall struct {
	InvitationID string `json:"invitationId" validate:"required"`
}

type GetUserStatus struct {
	UserID string `json:"userId" validate:"required"`
}

func (*SendMessage) Event() string      { return EventSendMessage }
func (*GetConversations) Event() string { return EventGetConversations }
func (*GetChatHistory) Event() string   { return EventGetChatHistory }
func (*MarkMessagesRead) Event() string { return EventMarkMessagesRead }
func (*SendInvitation) Event() string   { return EventSendInvitation }
func (*AcceptCall) Event() string       { return EventAccept }
func (*RejectCall) Event() string       { return EventReject }
func (*CancelCall) Event() string       { return EventCancel }
func (*GetUserStatus) Event() string    { return EventGetUserStatus }

func (*SendMessage) request()      {}
func (*GetConversations) request() {}
func (*GetChatHistory) request()   {}
func (*MarkMessagesRead) request() {}
func (*SendInvitation) request()   {}
func (*AcceptCall) request()       {}
func (*RejectCall) request()       {}
func (*CancelCall) request()       {}
func (*GetUserStatus) request()    {}
