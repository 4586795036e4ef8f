// Package presence tracks which participants have a live session and which
// session serves each of them.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"telecare/internal/domain"
	"telecare/internal/protocol"
)

const (
	// CloseSessionReplaced is sent to a session evicted by a newer registration.
	CloseSessionReplaced = 4001
)

var ErrClosed = errors.New("presence registry is shut down")

// Session is a live, pushable connection of one participant.
type Session interface {
	ID() string
	Peer() domain.Peer
	Push(p protocol.Push) error
	Close(code int, reason string)
}

// ConversationLister resolves who should hear about a participant's status.
type ConversationLister interface {
	ListForParticipant(ctx context.Context, participantID string) ([]domain.Conversation, error)
}

// Registry is the process-wide map of participant id to current session.
// It starts empty; Shutdown closes every session and refuses new ones.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	closed   bool

	directory     domain.ParticipantDirectory
	conversations ConversationLister
	log           *slog.Logger
	now           func() time.Time
}

func NewRegistry(directory domain.ParticipantDirectory, conversations ConversationLister, log *slog.Logger) *Registry {
	return &Registry{
		sessions:      make(map[string]Session),
		directory:     directory,
		conversations: conversations,
		log:           log,
		now:           time.Now,
	}
}

// Register makes s the current session of its participant. A previous session
// is replaced and closed.
func (r *Registry) Register(ctx context.Context, s Session) error {
	peer := s.Peer()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	previous := r.sessions[peer.ID]
	r.sessions[peer.ID] = s
	r.mu.Unlock()

	if previous != nil && previous != s {
		r.log.Info("presence: session replaced", "participant", peer.ID, "previous", previous.ID(), "session", s.ID())
		previous.Close(CloseSessionReplaced, "session replaced")
	}
	r.announce(ctx, peer, true)
	return nil
}

// Unregister drops whatever session currently serves the participant.
func (r *Registry) Unregister(ctx context.Context, participantID string) {
	r.mu.Lock()
	s, ok := r.sessions[participantID]
	delete(r.sessions, participantID)
	r.mu.Unlock()

	if ok {
		r.announce(ctx, s.Peer(), false)
	}
}

// Release unregisters s only if it is still the current session of its
// participant. It reports whether it did.
func (r *Registry) Release(ctx context.Context, s Session) bool {
	peer := s.Peer()

	r.mu.Lock()
	current, ok := r.sessions[peer.ID]
	if !ok || current != s {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, peer.ID)
	r.mu.Unlock()

	r.announce(ctx, peer, false)
	return true
}

func (r *Registry) IsOnline(participantID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[participantID]
	return ok
}

func (r *Registry) SessionFor(participantID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[participantID]
	return s, ok
}

// PeerFor returns the identity behind the participant's current session.
func (r *Registry) PeerFor(participantID string) (domain.Peer, bool) {
	s, ok := r.SessionFor(participantID)
	if !ok {
		return domain.Peer{}, false
	}
	return s.Peer(), true
}

// Push delivers p to the participant's current session. A failed push is a
// drop: the caller relies on persisted state for delivery.
func (r *Registry) Push(participantID string, p protocol.Push) bool {
	s, ok := r.SessionFor(participantID)
	if !ok {
		return false
	}
	if err := s.Push(p); err != nil {
		r.log.Warn("presence: push dropped", "participant", participantID, "event", p.Event(), "err", err)
		return false
	}
	return true
}

// Online returns the ids of all connected participants in sorted order.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := lo.Keys(r.sessions)
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Shutdown closes every session, marks their participants offline and
// rejects later registrations.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	sessions := lo.Values(r.sessions)
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(websocket.CloseGoingAway, "server shutdown")
		if err := r.directory.SetStatus(ctx, s.Peer(), false, r.now()); err != nil {
			r.log.Error("presence: set offline on shutdown", "participant", s.Peer().ID, "err", err)
		}
	}
	r.log.Info("presence: registry drained", "sessions", len(sessions))
}

// announce records the new status and tells every online counterpart.
func (r *Registry) announce(ctx context.Context, peer domain.Peer, online bool) {
	if err := r.directory.SetStatus(ctx, peer, online, r.now()); err != nil {
		r.log.Error("presence: set status", "participant", peer.ID, "online", online, "err", err)
	}

	convs, err := r.conversations.ListForParticipant(ctx, peer.ID)
	if err != nil {
		r.log.Error("presence: list contacts", "participant", peer.ID, "err", err)
		return
	}
	contacts := lo.Uniq(lo.FilterMap(convs, func(c domain.Conversation, _ int) (string, bool) {
		ref, ok := c.Counterpart(peer.ID)
		return ref.ID, ok
	}))
	for _, id := range contacts {
		r.Push(id, &protocol.UserStatusChange{UserID: peer.ID, IsOnline: online})
	}
}
