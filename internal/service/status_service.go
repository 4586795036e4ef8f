package service

import (
	"context"

	"telecare/internal/domain"
)

// StatusService answers "is this participant reachable" for peers and REST clients.
type StatusService struct {
	directory domain.ParticipantDirectory
	presence  Presence
}

func NewStatusService(directory domain.ParticipantDirectory, presence Presence) *StatusService {
	return &StatusService{directory: directory, presence: presence}
}

// Status merges the live registry with the last known directory entry.
// A participant that was never seen is reported offline.
func (s *StatusService) Status(ctx context.Context, participantID string) (*domain.Participant, error) {
	p, err := s.directory.Get(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &domain.Participant{ID: participantID}
	}
	if peer, ok := s.presence.PeerFor(participantID); ok {
		p.IsOnline = true
		p.Role = peer.Role
	} else {
		p.IsOnline = false
	}
	return p, nil
}
