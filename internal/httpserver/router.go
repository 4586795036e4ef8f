package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"telecare/internal/config"
	"telecare/internal/domain"
	"telecare/internal/presence"
	"telecare/internal/security"
	"telecare/internal/service"
)

// API groups what the REST mirrors and the health endpoint read from.
type API struct {
	Tokens   *security.TokenService
	Messages *service.MessageService
	Status   *service.StatusService
	Registry *presence.Registry
	Log      *slog.Logger
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
// gateway serves /ws.
func NewRouter(cfg *config.Config, api API, gateway http.Handler) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName, "env": cfg.Env})
	})
	r.Get("/health", handleHealth(api.Registry, api.Log))

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(api.Tokens))

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(api.Messages))
			r.Get("/{conversationID}/messages", handleListMessages(api.Messages))
			r.Post("/{conversationID}/read", handleMarkConversationRead(api.Messages))
		})
		r.Post("/messages", handleCreateMessage(api.Messages))
		r.Get("/participants/{participantID}/status", handleParticipantStatus(api.Status))
	})

	r.Get("/ws", gateway.ServeHTTP)

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError maps a domain error onto its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnreachable),
		errors.Is(err, domain.ErrAlreadyInProgress),
		errors.Is(err, domain.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
