package service_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"telecare/internal/domain"
	"telecare/internal/protocol"
)

// fakePresence records pushes per participant.
type fakePresence struct {
	mu     sync.Mutex
	online map[string]domain.Peer
	pushes map[string][]protocol.Push
}

func newFakePresence(online ...domain.Peer) *fakePresence {
	p := &fakePresence{online: make(map[string]domain.Peer), pushes: make(map[string][]protocol.Push)}
	for _, peer := range online {
		p.online[peer.ID] = peer
	}
	return p
}

func (p *fakePresence) PeerFor(id string) (domain.Peer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer, ok := p.online[id]
	return peer, ok
}

func (p *fakePresence) Push(id string, push protocol.Push) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.online[id]; !ok {
		return false
	}
	p.pushes[id] = append(p.pushes[id], push)
	return true
}

func (p *fakePresence) connect(peer domain.Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[peer.ID] = peer
}

func (p *fakePresence) disconnect(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, id)
}

func (p *fakePresence) received(id string) []protocol.Push {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Push(nil), p.pushes[id]...)
}

func (p *fakePresence) events(id string) []string {
	var out []string
	for _, push := range p.received(id) {
		out = append(out, push.Event())
	}
	return out
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyOffline(ctx context.Context, msg domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
