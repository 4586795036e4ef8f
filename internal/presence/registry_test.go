package presence

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"telecare/internal/domain"
	"telecare/internal/protocol"
)

type fakeSession struct {
	id   string
	peer domain.Peer

	mu     sync.Mutex
	pushes []protocol.Push
	closed int
}

func newFakeSession(id string, role domain.Role) *fakeSession {
	return &fakeSession{id: uuid.NewString(), peer: domain.Peer{ID: id, Role: role}}
}

func (s *fakeSession) ID() string        { return s.id }
func (s *fakeSession) Peer() domain.Peer { return s.peer }

func (s *fakeSession) Push(p protocol.Push) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes = append(s.pushes, p)
	return nil
}

func (s *fakeSession) Close(code int, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = code
}

func (s *fakeSession) received() []protocol.Push {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Push(nil), s.pushes...)
}

func (s *fakeSession) closeCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fixedConversations []domain.Conversation

func (f fixedConversations) ListForParticipant(_ context.Context, id string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	for _, c := range f {
		if c.Has(id) {
			out = append(out, c)
		}
	}
	return out, nil
}

var (
	alice = domain.Peer{ID: "alice", Role: domain.RolePatient}
	bob   = domain.Peer{ID: "bob", Role: domain.RoleClinician}
	carol = domain.Peer{ID: "carol", Role: domain.RolePatient}
)

func newTestRegistry(convs ...domain.Conversation) (*Registry, *MemoryDirectory) {
	dir := NewMemoryDirectory()
	return NewRegistry(dir, fixedConversations(convs), logs.GetLoggerFromLevel(slog.LevelDebug)), dir
}

func TestRegistry_Register_Marks_Online(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, dir := newTestRegistry()
	s := newFakeSession(alice.ID, alice.Role)

	// Given nobody is connected
	req.Empty(registry.Online())
	req.False(registry.IsOnline(alice.ID))

	// When alice registers
	req.NoError(registry.Register(ctx, s))

	// Then she is online and her directory entry says so
	req.True(registry.IsOnline(alice.ID))
	got, ok := registry.SessionFor(alice.ID)
	req.True(ok)
	req.Equal(s, got)
	p, err := dir.Get(ctx, alice.ID)
	req.NoError(err)
	req.NotNil(p)
	req.True(p.IsOnline)
	req.Equal(domain.RolePatient, p.Role)
	req.WithinDuration(time.Now(), p.LastActive, time.Second)
}

func TestRegistry_Newest_Registration_Wins(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, _ := newTestRegistry()
	first := newFakeSession(alice.ID, alice.Role)
	second := newFakeSession(alice.ID, alice.Role)

	req.NoError(registry.Register(ctx, first))
	req.NoError(registry.Register(ctx, second))

	// Then the first session is closed and no longer current
	req.Equal(CloseSessionReplaced, first.closeCode())
	req.Zero(second.closeCode())
	current, _ := registry.SessionFor(alice.ID)
	req.Equal(second, current)

	// And releasing the stale session leaves the new one in place
	req.False(registry.Release(ctx, first))
	req.True(registry.IsOnline(alice.ID))
	req.True(registry.Release(ctx, second))
	req.False(registry.IsOnline(alice.ID))
}

func TestRegistry_Status_Change_Reaches_Counterparts_Only(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	conv := domain.NewConversation(uuid.NewString(), alice, bob, time.Now())
	registry, dir := newTestRegistry(conv)
	bobSession := newFakeSession(bob.ID, bob.Role)
	carolSession := newFakeSession(carol.ID, carol.Role)
	req.NoError(registry.Register(ctx, bobSession))
	req.NoError(registry.Register(ctx, carolSession))

	// When alice connects then disconnects
	aliceSession := newFakeSession(alice.ID, alice.Role)
	req.NoError(registry.Register(ctx, aliceSession))
	registry.Unregister(ctx, alice.ID)

	// Then bob, who shares a conversation, saw both transitions
	req.Equal([]protocol.Push{
		&protocol.UserStatusChange{UserID: alice.ID, IsOnline: true},
		&protocol.UserStatusChange{UserID: alice.ID, IsOnline: false},
	}, bobSession.received())
	// And carol heard nothing
	req.Empty(carolSession.received())

	p, err := dir.Get(ctx, alice.ID)
	req.NoError(err)
	req.False(p.IsOnline)
}

func TestRegistry_Push_To_Offline_Participant(t *testing.T) {
	req := require.New(t)
	registry, _ := newTestRegistry()

	req.False(registry.Push(bob.ID, &protocol.UserStatusChange{UserID: alice.ID}))
}

func TestRegistry_Shutdown_Closes_Everything(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, dir := newTestRegistry()
	a := newFakeSession(alice.ID, alice.Role)
	b := newFakeSession(bob.ID, bob.Role)
	req.NoError(registry.Register(ctx, a))
	req.NoError(registry.Register(ctx, b))
	req.Equal([]string{alice.ID, bob.ID}, registry.Online())

	// When the registry shuts down
	registry.Shutdown(ctx)

	// Then sessions are closed, everyone is offline and new sessions are refused
	req.NotZero(a.closeCode())
	req.NotZero(b.closeCode())
	req.Empty(registry.Online())
	p, err := dir.Get(ctx, bob.ID)
	req.NoError(err)
	req.False(p.IsOnline)
	req.ErrorIs(registry.Register(ctx, newFakeSession(carol.ID, carol.Role)), ErrClosed)
}

func TestRegistry_Concurrent_Register_Unregister(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, _ := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := newFakeSession(uuid.NewString(), domain.RolePatient)
			_ = registry.Register(ctx, s)
			_ = registry.IsOnline(s.peer.ID)
			if i%2 == 0 {
				registry.Release(ctx, s)
			}
		}(i)
	}
	wg.Wait()

	req.Len(registry.Online(), 25)
}

func TestMemoryDirectory_Unknown_Participant(t *testing.T) {
	p, err := NewMemoryDirectory().Get(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, p)
}
