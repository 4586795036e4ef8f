// Package service holds the message router and the call signaling
// coordinator. Both talk to connected participants through Presence.
package service

import (
	"telecare/internal/domain"
	"telecare/internal/protocol"
)

// Presence is the view of the live session registry the services need.
type Presence interface {
	PeerFor(participantID string) (domain.Peer, bool)
	Push(participantID string, p protocol.Push) bool
}
