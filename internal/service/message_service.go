package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"

	"telecare/internal/domain"
	"telecare/internal/keylock"
	"telecare/internal/notify"
	"telecare/internal/protocol"
)

// MessageService routes messages between participants. Every send is
// persisted before anything is pushed; pushes for one conversation leave in
// append order.
type MessageService struct {
	store    domain.ConversationStore
	presence Presence
	offline  notify.OfflineNotifier
	locks    *keylock.Locker
	policy   *bluemonday.Policy
	log      *slog.Logger

	MaxMessageLength int
}

func NewMessageService(
	store domain.ConversationStore,
	presence Presence,
	offline notify.OfflineNotifier,
	maxMessageLength int,
	log *slog.Logger,
) *MessageService {
	if offline == nil {
		offline = notify.Nop{}
	}
	return &MessageService{
		store:            store,
		presence:         presence,
		offline:          offline,
		locks:            keylock.New(),
		policy:           bluemonday.StrictPolicy(),
		log:              log,
		MaxMessageLength: maxMessageLength,
	}
}

type SendInput struct {
	SenderID     string
	SenderRole   domain.Role
	ReceiverID   string
	ReceiverRole domain.Role
	Text         string
}

// cleanText strips markup and surrounding whitespace. Entities escaped by the
// sanitizer are decoded again since clients render text, not HTML.
func (s *MessageService) cleanText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

func (s *MessageService) validate(in *SendInput) error {
	in.Text = s.cleanText(in.Text)
	switch {
	case in.Text == "":
		return fmt.Errorf("%w: message text is empty", domain.ErrValidation)
	case s.MaxMessageLength > 0 && utf8.RuneCountInString(in.Text) > s.MaxMessageLength:
		return fmt.Errorf("%w: message exceeds %d characters", domain.ErrValidation, s.MaxMessageLength)
	case in.SenderID == "" || in.ReceiverID == "":
		return fmt.Errorf("%w: sender and receiver are required", domain.ErrValidation)
	case in.SenderID == in.ReceiverID:
		return fmt.Errorf("%w: cannot send a message to yourself", domain.ErrValidation)
	case !in.SenderRole.Valid() || !in.ReceiverRole.Valid():
		return fmt.Errorf("%w: invalid participant role", domain.ErrValidation)
	}
	return nil
}

// Send persists a message and pushes it to whoever is connected.
func (s *MessageService) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	sender := domain.Peer{ID: in.SenderID, Role: in.SenderRole}
	receiver := domain.Peer{ID: in.ReceiverID, Role: in.ReceiverRole}

	conv, err := s.store.CreateOrGet(ctx, sender, receiver)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(conv.ID)
	defer unlock()

	msg, err := s.store.AppendMessage(ctx, conv.ID, domain.Message{
		SenderID:     sender.ID,
		SenderRole:   sender.Role,
		ReceiverID:   receiver.ID,
		ReceiverRole: receiver.Role,
		Text:         in.Text,
	})
	if err != nil {
		return nil, err
	}

	push := &protocol.NewMessage{ConversationID: conv.ID, Message: *msg}
	s.presence.Push(sender.ID, push)
	if s.presence.Push(receiver.ID, push) {
		s.presence.Push(receiver.ID, &protocol.MessageNotification{
			ConversationFor: receiver.Role,
			ConversationID:  conv.ID,
			SenderID:        sender.ID,
		})
		return msg, nil
	}

	if err := s.offline.NotifyOffline(ctx, *msg); err != nil {
		s.log.Warn("messages: offline notification failed",
			"conversation", conv.ID, "message", msg.ID, "receiver", receiver.ID, "err", err)
	}
	return msg, nil
}

// Conversations lists the participant's conversations, most recent first.
// A conversation exists for its participants from its first message on, so a
// pair left empty by a failed append is not listed.
func (s *MessageService) Conversations(ctx context.Context, participantID string) ([]domain.Conversation, error) {
	if participantID == "" {
		return nil, fmt.Errorf("%w: participant id is required", domain.ErrValidation)
	}
	convs, err := s.store.ListForParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return lo.Filter(convs, func(c domain.Conversation, _ int) bool {
		return c.LastMessage != nil
	}), nil
}

// History returns the ordered messages of a conversation the requester belongs to.
func (s *MessageService) History(ctx context.Context, conversationID, requesterID string) ([]domain.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Has(requesterID) {
		return nil, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, conversationID)
	}
	return conv.Messages, nil
}

// MarkRead clears the participant's unread messages. The counterpart gets a
// read receipt when something actually changed.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, participantID string) (int, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	flipped, err := s.store.MarkRead(ctx, conversationID, participantID)
	if err != nil || flipped == 0 {
		return flipped, err
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		s.log.Warn("messages: read receipt skipped", "conversation", conversationID, "err", err)
		return flipped, nil
	}
	if other, ok := conv.Counterpart(participantID); ok {
		s.presence.Push(other.ID, &protocol.MessagesRead{ConversationID: conversationID, UserID: participantID})
	}
	return flipped, nil
}
