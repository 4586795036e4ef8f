package domain

import (
	"context"
	"time"
)

// ConversationStore is the persistence contract for conversations and their messages.
// All mutations are atomic with respect to one conversation record.
type ConversationStore interface {
	// FindByParticipantPair returns nil, nil when the pair has no conversation yet.
	FindByParticipantPair(ctx context.Context, a, b string) (*Conversation, error)
	// CreateOrGet is idempotent on the unordered pair.
	CreateOrGet(ctx context.Context, a, b Peer) (*Conversation, error)
	// AppendMessage assigns ID, Seq and CreatedAt, updates LastMessage and
	// increments the receiver's unread counter.
	AppendMessage(ctx context.Context, conversationID string, m Message) (*Message, error)
	// MarkRead zeroes the participant's unread counter and flips Read on the
	// messages addressed to them. It returns how many messages were flipped.
	MarkRead(ctx context.Context, conversationID, participantID string) (int, error)
	// ListForParticipant returns summaries ordered by last message time, newest first.
	ListForParticipant(ctx context.Context, participantID string) ([]Conversation, error)
	// GetConversation returns the full conversation or ErrNotFound.
	GetConversation(ctx context.Context, conversationID string) (*Conversation, error)
	Close() error
}

// ParticipantDirectory keeps the online flag and last-active time of participants.
type ParticipantDirectory interface {
	SetStatus(ctx context.Context, p Peer, online bool, at time.Time) error
	// Get returns nil, nil for a participant that was never seen.
	Get(ctx context.Context, participantID string) (*Participant, error)
}
