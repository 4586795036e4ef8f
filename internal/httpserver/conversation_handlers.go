package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"telecare/internal/protocol"
	"telecare/internal/service"
)

func handleListConversations(messages *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := CurrentPeer(r)
		convs, err := messages.Conversations(r.Context(), me.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, protocol.UserConversations{Conversations: convs})
	}
}

func handleListMessages(messages *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := CurrentPeer(r)
		id := chi.URLParam(r, "conversationID")
		msgs, err := messages.History(r.Context(), id, me.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, protocol.ChatHistory{ConversationID: id, Messages: msgs})
	}
}

type markReadResponse struct {
	Status string `json:"status"`
	Marked int    `json:"marked"`
}

func handleMarkConversationRead(messages *service.MessageService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := CurrentPeer(r)
		n, err := messages.MarkRead(r.Context(), chi.URLParam(r, "conversationID"), me.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, markReadResponse{Status: "success", Marked: n})
	}
}
