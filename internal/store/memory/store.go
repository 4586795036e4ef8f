// Package memory is an in-process ConversationStore. Each conversation has its
// own mutex so unrelated conversations never contend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecare/internal/domain"
	"telecare/internal/store"
)

type entry struct {
	mu   sync.Mutex
	conv domain.Conversation
}

type Store struct {
	mu      sync.RWMutex
	convs   map[string]*entry
	pairs   map[string]string
	members map[string]map[string]struct{}

	now func() time.Time
}

var _ domain.ConversationStore = (*Store)(nil)

func New() *Store {
	return &Store{
		convs:   make(map[string]*entry),
		pairs:   make(map[string]string),
		members: make(map[string]map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FindByParticipantPair(_ context.Context, a, b string) (*domain.Conversation, error) {
	s.mu.RLock()
	id, ok := s.pairs[domain.PairKey(a, b)]
	e := s.convs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return e.summary(), nil
}

func (s *Store) CreateOrGet(_ context.Context, a, b domain.Peer) (*domain.Conversation, error) {
	if err := store.CheckPair(a, b); err != nil {
		return nil, err
	}
	key := domain.PairKey(a.ID, b.ID)

	s.mu.Lock()
	if id, ok := s.pairs[key]; ok {
		e := s.convs[id]
		s.mu.Unlock()
		return e.summary(), nil
	}
	conv := domain.NewConversation(uuid.NewString(), a, b, s.now())
	e := &entry{conv: conv}
	s.convs[conv.ID] = e
	s.pairs[key] = conv.ID
	for _, p := range conv.Participants {
		if s.members[p.ID] == nil {
			s.members[p.ID] = make(map[string]struct{})
		}
		s.members[p.ID][conv.ID] = struct{}{}
	}
	s.mu.Unlock()

	return e.summary(), nil
}

func (s *Store) AppendMessage(_ context.Context, conversationID string, m domain.Message) (*domain.Message, error) {
	e, err := s.entry(conversationID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := store.CheckMessage(&e.conv, m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.ConversationID = conversationID
	m.Seq = int64(len(e.conv.Messages)) + 1
	m.Read = false
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}

	e.conv.Messages = append(e.conv.Messages, m)
	e.conv.LastMessage = &domain.LastMessage{Text: m.Text, SenderID: m.SenderID, Timestamp: m.CreatedAt}
	e.conv.UpdatedAt = m.CreatedAt
	e.conv.Ref(m.ReceiverID).UnreadCount++

	return &m, nil
}

func (s *Store) MarkRead(_ context.Context, conversationID, participantID string) (int, error) {
	e, err := s.entry(conversationID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ref := e.conv.Ref(participantID)
	if ref == nil {
		return 0, store.NotFound(conversationID)
	}
	flipped := 0
	for i := range e.conv.Messages {
		msg := &e.conv.Messages[i]
		if msg.ReceiverID == participantID && !msg.Read {
			msg.Read = true
			flipped++
		}
	}
	ref.UnreadCount = 0
	return flipped, nil
}

func (s *Store) ListForParticipant(_ context.Context, participantID string) ([]domain.Conversation, error) {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.members[participantID]))
	for id := range s.members[participantID] {
		entries = append(entries, s.convs[id])
	}
	s.mu.RUnlock()

	out := make([]domain.Conversation, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.summary())
	}
	store.SortSummaries(out)
	return out, nil
}

func (s *Store) GetConversation(_ context.Context, conversationID string) (*domain.Conversation, error) {
	e, err := s.entry(conversationID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conv.Clone()
	if c.Messages == nil {
		c.Messages = []domain.Message{}
	}
	return &c, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) entry(conversationID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.convs[conversationID]
	if !ok {
		return nil, store.NotFound(conversationID)
	}
	return e, nil
}

func (e *entry) summary() *domain.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.conv.Summary()
	return &c
}
