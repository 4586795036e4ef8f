// Package store holds the pieces shared by the conversation store adapters.
package store

import (
	"fmt"
	"sort"

	"telecare/internal/domain"
)

// CheckPair validates the two sides of a conversation before creation.
func CheckPair(a, b domain.Peer) error {
	if a.ID == "" || b.ID == "" {
		return fmt.Errorf("%w: participant id is required", domain.ErrValidation)
	}
	if a.ID == b.ID {
		return fmt.Errorf("%w: a conversation needs two distinct participants", domain.ErrValidation)
	}
	if !a.Role.Valid() || !b.Role.Valid() {
		return fmt.Errorf("%w: invalid participant role", domain.ErrValidation)
	}
	return nil
}

// CheckMessage validates that m travels between the two sides of c.
func CheckMessage(c *domain.Conversation, m domain.Message) error {
	if m.SenderID == m.ReceiverID {
		return fmt.Errorf("%w: sender and receiver must differ", domain.ErrValidation)
	}
	if !c.Has(m.SenderID) || !c.Has(m.ReceiverID) {
		return fmt.Errorf("%w: message participants do not match conversation %s", domain.ErrValidation, c.ID)
	}
	return nil
}

// SortSummaries orders conversations newest activity first, ties broken by id.
func SortSummaries(convs []domain.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		ti, tj := convs[i].SortTime(), convs[j].SortTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return convs[i].ID < convs[j].ID
	})
}

// Unavailable wraps a backend failure so callers see ErrStorageUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

func NotFound(conversationID string) error {
	return fmt.Errorf("%w: conversation %s", domain.ErrNotFound, conversationID)
}
