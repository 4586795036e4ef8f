package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"telecare/internal/domain"
	"telecare/internal/security"
)

type contextKey string

const peerContextKey contextKey = "currentPeer"

// WithPeer returns a new context carrying the authenticated participant.
func WithPeer(ctx context.Context, p domain.Peer) context.Context {
	return context.WithValue(ctx, peerContextKey, p)
}

// CurrentPeer extracts the authenticated participant from context, if any.
func CurrentPeer(r *http.Request) (domain.Peer, bool) {
	p, ok := r.Context().Value(peerContextKey).(domain.Peer)
	return p, ok
}

// AuthMiddleware validates the Bearer token and attaches the participant to the context.
func AuthMiddleware(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				writeError(w, fmt.Errorf("%w: missing or invalid Authorization header", domain.ErrUnauthorized))
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			peer, err := tokens.Authenticate(tokenStr)
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPeer(r.Context(), peer)))
		})
	}
}
