package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"telecare/internal/domain"
	"telecare/internal/protocol"
)

const (
	ReasonNoAnswer           = "no_answer"
	ReasonCalleeDisconnected = "callee_disconnected"
)

// ErrCallsClosed is returned once Close ran. It reports as unreachable.
var ErrCallsClosed = fmt.Errorf("%w: call coordinator is closed", domain.ErrUnreachable)

type call struct {
	seq     uint64
	mu      sync.Mutex
	session domain.CallSession
	timer   *time.Timer
}

// CallService drives the invitation state machine. Each invitation has its
// own mutex; every way out of ringing goes through resolve, so exactly one
// of accept, reject, cancel, timeout or disconnect wins.
//
// Lock order is s.mu then call.mu. s.mu is never acquired while a call.mu is held.
type CallService struct {
	mu     sync.Mutex
	calls  map[string]*call
	pairs  map[string]string
	seq    uint64
	closed bool

	presence Presence
	timeout  time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewCallService(presence Presence, timeout time.Duration, log *slog.Logger) *CallService {
	return &CallService{
		calls:    make(map[string]*call),
		pairs:    make(map[string]string),
		presence: presence,
		timeout:  timeout,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func newRoomID() string {
	return "room_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Invite rings the callee. It fails with ErrUnreachable when the callee has no
// live session and with ErrAlreadyInProgress while the pair already has a
// ringing invitation.
func (s *CallService) Invite(_ context.Context, caller domain.Peer, calleeID string) (*domain.CallSession, error) {
	if calleeID == "" || caller.ID == calleeID {
		return nil, fmt.Errorf("%w: invalid callee %q", domain.ErrValidation, calleeID)
	}
	callee, ok := s.presence.PeerFor(calleeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s is offline", domain.ErrUnreachable, calleeID)
	}

	key := domain.PairKey(caller.ID, calleeID)
	now := s.now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrCallsClosed
	}
	if id, ok := s.pairs[key]; ok && s.ringing(id) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: invitation %s is ringing", domain.ErrAlreadyInProgress, id)
	}
	s.seq++
	c := &call{seq: s.seq, session: domain.CallSession{
		ID:        uuid.NewString(),
		Caller:    caller,
		Callee:    callee,
		State:     domain.CallRinging,
		RoomID:    newRoomID(),
		CreatedAt: now,
		Deadline:  now.Add(s.timeout),
	}}
	id := c.session.ID
	c.timer = time.AfterFunc(s.timeout, func() { s.expire(id) })
	s.calls[id] = c
	s.pairs[key] = id
	session := c.session
	s.mu.Unlock()

	s.log.Info("calls: ringing", "call", id, "caller", caller.ID, "callee", callee.ID)
	s.presence.Push(callee.ID, &protocol.IncomingCall{CallID: id, Caller: caller, Deadline: session.Deadline})
	s.presence.Push(caller.ID, &protocol.InvitationSent{CallID: id, Callee: callee, Deadline: session.Deadline})
	return &session, nil
}

// ringing reports whether the invitation is still live. Caller holds s.mu.
func (s *CallService) ringing(id string) bool {
	c, ok := s.calls[id]
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.State == domain.CallRinging
}

// Accept is the callee answering. Both sides learn the media room.
func (s *CallService) Accept(_ context.Context, actorID, invitationID string) (*domain.CallSession, error) {
	ended, err := s.resolve(invitationID, domain.CallAccepted, calleeOnly(actorID))
	if err != nil {
		return nil, err
	}
	push := &protocol.CallAccepted{CallID: ended.ID, RoomID: ended.RoomID, Caller: ended.Caller, Callee: ended.Callee}
	s.presence.Push(ended.Caller.ID, push)
	s.presence.Push(ended.Callee.ID, push)
	return ended, nil
}

func (s *CallService) Reject(_ context.Context, actorID, invitationID string) (*domain.CallSession, error) {
	ended, err := s.resolve(invitationID, domain.CallRejected, calleeOnly(actorID))
	if err != nil {
		return nil, err
	}
	s.presence.Push(ended.Caller.ID, &protocol.CallRejected{CallID: ended.ID})
	return ended, nil
}

func (s *CallService) Cancel(_ context.Context, actorID, invitationID string) (*domain.CallSession, error) {
	ended, err := s.resolve(invitationID, domain.CallCanceled, callerOnly(actorID))
	if err != nil {
		return nil, err
	}
	s.presence.Push(ended.Callee.ID, &protocol.CallCanceled{CallID: ended.ID})
	return ended, nil
}

func (s *CallService) expire(id string) {
	ended, err := s.resolve(id, domain.CallTimedOut, nil)
	if err != nil {
		// lost the race against another transition
		return
	}
	s.log.Info("calls: timed out", "call", id)
	push := &protocol.CallTimeout{CallID: id, Reason: ReasonNoAnswer}
	s.presence.Push(ended.Caller.ID, push)
	s.presence.Push(ended.Callee.ID, push)
}

// Checkpoint marks the invitations created so far. A session takes one just
// before it is released so DisconnectParticipant leaves later invitations,
// which belong to a newer session, alone.
func (s *CallService) Checkpoint() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// DisconnectParticipant ends every ringing invitation the participant is part
// of that was created up to checkpoint: as caller it counts as a cancel, as
// callee as a timeout.
func (s *CallService) DisconnectParticipant(participantID string, checkpoint uint64) {
	s.mu.Lock()
	involved := lo.Filter(lo.Values(s.calls), func(c *call, _ int) bool {
		if c.seq > checkpoint {
			return false
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.session.Involves(participantID)
	})
	s.mu.Unlock()

	for _, c := range involved {
		c.mu.Lock()
		session := c.session
		c.mu.Unlock()

		if session.Caller.ID == participantID {
			if ended, err := s.resolve(session.ID, domain.CallCanceled, nil); err == nil {
				s.presence.Push(ended.Callee.ID, &protocol.CallCanceled{CallID: ended.ID})
			}
			continue
		}
		if ended, err := s.resolve(session.ID, domain.CallTimedOut, nil); err == nil {
			s.presence.Push(ended.Caller.ID, &protocol.CallTimeout{CallID: ended.ID, Reason: ReasonCalleeDisconnected})
		}
	}
}

// Get returns a live invitation.
func (s *CallService) Get(invitationID string) (*domain.CallSession, bool) {
	s.mu.Lock()
	c, ok := s.calls[invitationID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	session := c.session
	return &session, true
}

// Active counts ringing invitations.
func (s *CallService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Close stops every timer and drops all invitations.
func (s *CallService) Close() {
	s.mu.Lock()
	s.closed = true
	calls := lo.Values(s.calls)
	s.calls = make(map[string]*call)
	s.pairs = make(map[string]string)
	s.mu.Unlock()

	for _, c := range calls {
		c.mu.Lock()
		c.timer.Stop()
		c.session.Outcome = domain.CallCanceled
		c.session.State = domain.CallEnded
		c.mu.Unlock()
	}
}

// resolve is the only transition out of ringing. It stops the timer, discards
// the session and returns it as ended, with Outcome set to the terminal state.
func (s *CallService) resolve(id string, to domain.CallState, check func(*domain.CallSession) error) (*domain.CallSession, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("%w: %s is not a terminal state", domain.ErrInvalidState, to)
	}
	s.mu.Lock()
	c, ok := s.calls[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown or finished invitation %s", domain.ErrInvalidState, id)
	}

	c.mu.Lock()
	if c.session.State != domain.CallRinging {
		state := c.session.State
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: invitation %s is %s", domain.ErrInvalidState, id, state)
	}
	if check != nil {
		if err := check(&c.session); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	c.timer.Stop()
	c.session.State = domain.CallEnded
	c.session.Outcome = to
	ended := c.session
	c.mu.Unlock()

	s.mu.Lock()
	delete(s.calls, id)
	key := domain.PairKey(ended.Caller.ID, ended.Callee.ID)
	if s.pairs[key] == id {
		delete(s.pairs, key)
	}
	s.mu.Unlock()

	s.log.Debug("calls: resolved", "call", id, "outcome", to)
	return &ended, nil
}

func calleeOnly(actorID string) func(*domain.CallSession) error {
	return func(cs *domain.CallSession) error {
		if cs.Callee.ID != actorID {
			return fmt.Errorf("%w: only the callee can answer invitation %s", domain.ErrInvalidState, cs.ID)
		}
		return nil
	}
}

func callerOnly(actorID string) func(*domain.CallSession) error {
	return func(cs *domain.CallSession) error {
		if cs.Caller.ID != actorID {
			return fmt.Errorf("%w: only the caller can cancel invitation %s", domain.ErrInvalidState, cs.ID)
		}
		return nil
	}
}
