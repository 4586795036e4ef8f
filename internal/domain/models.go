package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Role distinguishes the two classes of participants.
type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
)

// ParseRole accepts the canonical role names and the legacy "user"/"doctor" aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient", "user":
		return RolePatient, nil
	case "clinician", "doctor":
		return RoleClinician, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleClinician
}

// Peer identifies a participant together with its role.
type Peer struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Participant is the presence view of a patient or clinician.
type Participant struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	IsOnline   bool      `json:"isOnline"`
	LastActive time.Time `json:"lastActive"`
}

// ParticipantRef is one side of a conversation with its unread counter.
type ParticipantRef struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	UnreadCount int    `json:"unreadCount"`
}

// LastMessage is the denormalized summary shown in conversation listings.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the durable thread between exactly two participants.
// Messages are kept in append order; Seq is strictly increasing.
type Conversation struct {
	ID           string            `json:"_id"`
	Participants [2]ParticipantRef `json:"participants"`
	LastMessage  *LastMessage      `json:"lastMessage,omitempty"`
	Messages     []Message         `json:"messages,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// Message is immutable once appended, except for Read which only goes false -> true.
type Message struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"senderId"`
	SenderRole     Role      `json:"senderType"`
	ReceiverID     string    `json:"receiverId"`
	ReceiverRole   Role      `json:"receiverType"`
	Text           string    `json:"text"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewConversation builds an empty conversation for the pair, ordered by PairKey.
func NewConversation(id string, a, b Peer, at time.Time) Conversation {
	if b.ID < a.ID {
		a, b = b, a
	}
	return Conversation{
		ID: id,
		Participants: [2]ParticipantRef{
			{ID: a.ID, Role: a.Role},
			{ID: b.ID, Role: b.Role},
		},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func (c *Conversation) Has(participantID string) bool {
	return c.index(participantID) >= 0
}

// Counterpart returns the other side of the conversation.
func (c *Conversation) Counterpart(participantID string) (ParticipantRef, bool) {
	switch c.index(participantID) {
	case 0:
		return c.Participants[1], true
	case 1:
		return c.Participants[0], true
	}
	return ParticipantRef{}, false
}

func (c *Conversation) UnreadFor(participantID string) int {
	if i := c.index(participantID); i >= 0 {
		return c.Participants[i].UnreadCount
	}
	return 0
}

// Ref returns a pointer to the participant slot so stores can mutate counters in place.
func (c *Conversation) Ref(participantID string) *ParticipantRef {
	if i := c.index(participantID); i >= 0 {
		return &c.Participants[i]
	}
	return nil
}

// Summary returns a copy without the message history.
func (c Conversation) Summary() Conversation {
	c.Messages = nil
	if c.LastMessage != nil {
		lm := *c.LastMessage
		c.LastMessage = &lm
	}
	return c
}

// SortTime is the instant conversation listings are ordered by.
func (c *Conversation) SortTime() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.Timestamp
	}
	return c.CreatedAt
}

func (c *Conversation) index(participantID string) int {
	for i := range c.Participants {
		if c.Participants[i].ID == participantID {
			return i
		}
	}
	return -1
}

// PairKey is the identity of an unordered participant pair. The first id is
// length-prefixed so ids containing the separator cannot collide.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + "|" + b
}

// CallState is a state of the call invitation machine.
type CallState string

// A pair with no invitation is idle; that state has no session to carry it.
const (
	CallRinging  CallState = "ringing"
	CallAccepted CallState = "accepted"
	CallRejected CallState = "rejected"
	CallCanceled CallState = "canceled"
	CallTimedOut CallState = "timed_out"
	CallEnded    CallState = "ended"
)

func (s CallState) Terminal() bool {
	switch s {
	case CallAccepted, CallRejected, CallCanceled, CallTimedOut:
		return true
	}
	return false
}

// CallSession is the transient record of one invitation. Once discarded it
// reports State=CallEnded and Outcome holds the terminal state it went through.
type CallSession struct {
	ID        string    `json:"callId"`
	Caller    Peer      `json:"caller"`
	Callee    Peer      `json:"callee"`
	State     CallState `json:"state"`
	Outcome   CallState `json:"outcome,omitempty"`
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	Deadline  time.Time `json:"deadline"`
}

// Involves reports whether the participant is the caller or the callee.
func (s *CallSession) Involves(participantID string) bool {
	return s.Caller.ID == participantID || s.Callee.ID == participantID
}

// Clone returns a deep copy including the message history.
func (c Conversation) Clone() Conversation {
	out := c.Summary()
	if c.Messages != nil {
		out.Messages = append([]Message(nil), c.Messages...)
	}
	return out
}
