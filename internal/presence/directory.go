package presence

import (
	"context"
	"sync"
	"time"

	"telecare/internal/domain"
)

// MemoryDirectory keeps participant status in process memory.
type MemoryDirectory struct {
	mu           sync.RWMutex
	participants map[string]domain.Participant
}

var _ domain.ParticipantDirectory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{participants: make(map[string]domain.Participant)}
}

func (d *MemoryDirectory) SetStatus(_ context.Context, p domain.Peer, online bool, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.participants[p.ID] = domain.Participant{
		ID:         p.ID,
		Role:       p.Role,
		IsOnline:   online,
		LastActive: at,
	}
	return nil
}

func (d *MemoryDirectory) Get(_ context.Context, participantID string) (*domain.Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[participantID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}
