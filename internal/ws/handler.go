package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"telecare/internal/presence"
	"telecare/internal/protocol"
	"telecare/internal/security"
	"telecare/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin accepts listed origins only. A "*" entry accepts any origin,
// and requests without an Origin header (non-browser clients) always pass.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	_, anyOrigin := allowed["*"]

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" || anyOrigin {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// Gateway holds what every connection needs.
type Gateway struct {
	Tokens         *security.TokenService
	Registry       *presence.Registry
	Dispatcher     *Dispatcher
	Calls          *service.CallService
	AllowedOrigins []string
	SendBuffer     int
	Log            *slog.Logger
}

// MakeHandler returns the HTTP handler for the /ws endpoint.
// The participant authenticates with a bearer token (Authorization header or
// Sec-WebSocket-Protocol "bearer, <token>"), is registered as online, and then
// exchanges {"event","data"} frames until either side hangs up.
func MakeHandler(g Gateway) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(g.AllowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			if authErr, ok := err.(wsAuthError); ok {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		peer, err := g.Tokens.Authenticate(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.Log.Debug("ws: upgrade failed", "participant", peer.ID, "err", err)
			return
		}

		ctx := context.WithoutCancel(r.Context())
		conn := NewConnection(peer, ws, g.SendBuffer, g.Log)
		if err := g.Registry.Register(ctx, conn); err != nil {
			conn.Close(websocket.CloseTryAgainLater, "server shutting down")
			return
		}
		conn.Start()
		g.Log.Info("ws: connected", "participant", peer.ID, "role", peer.Role, "session", conn.ID())

		defer func() {
			conn.Close(websocket.CloseNormalClosure, "")
			checkpoint := g.Calls.Checkpoint()
			if g.Registry.Release(ctx, conn) {
				g.Calls.DisconnectParticipant(peer.ID, checkpoint)
			}
			g.Log.Info("ws: disconnected", "participant", peer.ID, "session", conn.ID())
		}()

		err = conn.ReadLoop(func(raw []byte) {
			req, err := protocol.Decode(raw)
			if err != nil {
				_ = conn.Push(protocol.NewError(protocol.EventOf(raw), err))
				return
			}
			g.Dispatcher.Dispatch(ctx, conn, req)
		})
		if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			g.Log.Debug("ws: read loop ended", "participant", peer.ID, "err", err)
		}
	}
}
