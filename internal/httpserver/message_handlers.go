package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"telecare/internal/domain"
	"telecare/internal/protocol"
	"telecare/internal/service"
)

type messageCreateRequest struct {
	ReceiverID   string `json:"receiverId" validate:"required"`
	ReceiverType string `json:"receiverType" validate:"required"`
	Text         string `json:"text" validate:"required"`
}

// handleCreateMessage is the REST twin of the send-message event. The sender
// is always the token holder.
func handleCreateMessage(messages *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := CurrentPeer(r)

		var req messageCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: invalid JSON body", domain.ErrValidation))
			return
		}
		if err := protocol.Validate(&req); err != nil {
			writeError(w, err)
			return
		}
		receiverRole, err := domain.ParseRole(req.ReceiverType)
		if err != nil {
			writeError(w, err)
			return
		}

		msg, err := messages.Send(r.Context(), service.SendInput{
			SenderID:     me.ID,
			SenderRole:   me.Role,
			ReceiverID:   req.ReceiverID,
			ReceiverRole: receiverRole,
			Text:         req.Text,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}
