package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"telecare/internal/domain"
	"telecare/internal/presence"
	"telecare/internal/protocol"
	"telecare/internal/security"
	"telecare/internal/service"
	"telecare/internal/store/memory"
)

type testServer struct {
	*httptest.Server
	tokens   *security.TokenService
	registry *presence.Registry
	calls    *service.CallService
}

func newTestServer(t *testing.T, callTimeout time.Duration) *testServer {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store := memory.New()
	dir := presence.NewMemoryDirectory()
	registry := presence.NewRegistry(dir, store, log)
	messages := service.NewMessageService(store, registry, nil, 5000, log)
	calls := service.NewCallService(registry, callTimeout, log)
	status := service.NewStatusService(dir, registry)
	tokens := security.NewTokenService("test-secret", time.Hour)

	srv := httptest.NewServer(MakeHandler(Gateway{
		Tokens:         tokens,
		Registry:       registry,
		Dispatcher:     NewDispatcher(messages, calls, status, log),
		Calls:          calls,
		AllowedOrigins: []string{"http://app.example"},
		SendBuffer:     64,
		Log:            log,
	}))
	t.Cleanup(func() {
		calls.Close()
		srv.Close()
	})
	return &testServer{Server: srv, tokens: tokens, registry: registry, calls: calls}
}

func (s *testServer) dial(t *testing.T, peer domain.Peer) *websocket.Conn {
	token, err := s.tokens.Issue(peer)
	require.NoError(t, err)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL, "http"), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return s.registry.IsOnline(peer.ID) }, time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, req protocol.Request) {
	raw, err := protocol.EncodeRequest(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

// await reads frames until one carries event, skipping the others.
func await(t *testing.T, conn *websocket.Conn, event string, into any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		if env.Event == event {
			if into != nil {
				require.NoError(t, json.Unmarshal(env.Data, into))
			}
			return
		}
	}
}

var (
	patientA   = domain.Peer{ID: "patient-a", Role: domain.RolePatient}
	clinicianB = domain.Peer{ID: "clinician-b", Role: domain.RoleClinician}
)

func TestGateway_Hello_Reaches_Online_Clinician(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, time.Minute)
	a := srv.dial(t, patientA)
	b := srv.dial(t, clinicianB)

	// When A sends "Hello" to B
	send(t, a, &protocol.SendMessage{
		SenderID:     patientA.ID,
		ReceiverID:   clinicianB.ID,
		Text:         "Hello",
		SenderType:   "patient",
		ReceiverType: "doctor",
	})

	// Then B receives it in a conversation whose last message is "Hello"
	var got protocol.NewMessage
	await(t, b, protocol.EventNewMessage, &got)
	req.Equal("Hello", got.Message.Text)
	req.Equal(patientA.ID, got.Message.SenderID)

	var note protocol.MessageNotification
	await(t, b, protocol.EventMessageNotification, &note)
	req.Equal(domain.RoleClinician, note.ConversationFor)

	send(t, b, &protocol.GetConversations{})
	var list protocol.UserConversations
	await(t, b, protocol.EventUserConversations, &list)
	req.Len(list.Conversations, 1)
	req.Equal(got.ConversationID, list.Conversations[0].ID)
	req.Equal("Hello", list.Conversations[0].LastMessage.Text)

	send(t, b, &protocol.GetChatHistory{ConversationID: got.ConversationID})
	var history protocol.ChatHistory
	await(t, b, protocol.EventChatHistory, &history)
	req.Len(history.Messages, 1)
}

func TestGateway_Offline_Receiver_Sees_Unread_On_Reconnect(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, time.Minute)
	a := srv.dial(t, patientA)

	send(t, a, &protocol.SendMessage{
		SenderID: patientA.ID, ReceiverID: clinicianB.ID, Text: "Are you there?",
		SenderType: "patient", ReceiverType: "clinician",
	})
	// the sender's echo proves the message was stored
	await(t, a, protocol.EventNewMessage, nil)

	b := srv.dial(t, clinicianB)
	// A hears that B came online
	var status protocol.UserStatusChange
	await(t, a, protocol.EventUserStatusChange, &status)
	req.Equal(protocol.UserStatusChange{UserID: clinicianB.ID, IsOnline: true}, status)

	send(t, b, &protocol.GetConversations{UserID: clinicianB.ID})
	var list protocol.UserConversations
	await(t, b, protocol.EventUserConversations, &list)
	req.Len(list.Conversations, 1)
	req.Equal(1, list.Conversations[0].UnreadFor(clinicianB.ID))

	send(t, b, &protocol.MarkMessagesRead{ConversationID: list.Conversations[0].ID})
	var receipt protocol.MessagesRead
	await(t, a, protocol.EventMessagesRead, &receipt)
	req.Equal(clinicianB.ID, receipt.UserID)
}

func TestGateway_Rejects_Impersonation_And_Bad_Frames(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, time.Minute)
	a := srv.dial(t, patientA)

	send(t, a, &protocol.GetConversations{UserID: clinicianB.ID})
	var e protocol.Error
	await(t, a, protocol.EventError, &e)
	req.Equal(protocol.EventGetConversations, e.Request)
	req.Equal("unauthorized", e.Code)

	req.NoError(a.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing","data":{}}`)))
	await(t, a, protocol.EventError, &e)
	req.Equal("typing", e.Request)
	req.Equal("validation_error", e.Code)

	send(t, a, &protocol.GetChatHistory{ConversationID: "nope"})
	await(t, a, protocol.EventError, &e)
	req.Equal("not_found", e.Code)
}

func TestGateway_Call_Invitation_Flow(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, time.Minute)
	x := srv.dial(t, clinicianB)

	// Callee offline
	send(t, x, &protocol.SendInvitation{CalleeID: patientA.ID})
	var e protocol.Error
	await(t, x, protocol.EventError, &e)
	req.Equal("unreachable", e.Code)

	y := srv.dial(t, patientA)
	send(t, x, &protocol.SendInvitation{CallerID: clinicianB.ID, CalleeID: patientA.ID})
	var incoming protocol.IncomingCall
	await(t, y, protocol.EventIncomingCall, &incoming)
	req.Equal(clinicianB, incoming.Caller)
	var sent protocol.InvitationSent
	await(t, x, protocol.EventInvitationSent, &sent)
	req.Equal(incoming.CallID, sent.CallID)

	send(t, y, &protocol.AcceptCall{InvitationID: incoming.CallID})
	var accepted protocol.CallAccepted
	await(t, x, protocol.EventCallAccepted, &accepted)
	req.NotEmpty(accepted.RoomID)
	await(t, y, protocol.EventCallAccepted, nil)

	// a late cancel is stale
	send(t, x, &protocol.CancelCall{InvitationID: incoming.CallID})
	await(t, x, protocol.EventError, &e)
	req.Equal("invalid_state", e.Code)
}

func TestGateway_Call_Timeout_Reaches_Both(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, 50*time.Millisecond)
	x := srv.dial(t, clinicianB)
	y := srv.dial(t, patientA)

	send(t, x, &protocol.SendInvitation{CalleeID: patientA.ID})
	var incoming protocol.IncomingCall
	await(t, y, protocol.EventIncomingCall, &incoming)

	var timeout protocol.CallTimeout
	await(t, x, protocol.EventCallTimeout, &timeout)
	req.Equal(incoming.CallID, timeout.CallID)
	await(t, y, protocol.EventCallTimeout, nil)

	send(t, y, &protocol.AcceptCall{InvitationID: incoming.CallID})
	var e protocol.Error
	await(t, y, protocol.EventError, &e)
	req.Equal("invalid_state", e.Code)
}

func TestGateway_Disconnect_While_Ringing(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, time.Minute)
	x := srv.dial(t, clinicianB)
	y := srv.dial(t, patientA)

	send(t, x, &protocol.SendInvitation{CalleeID: patientA.ID})
	await(t, y, protocol.EventIncomingCall, nil)

	// When the callee drops
	req.NoError(y.Close())

	// Then the caller is told and the pair is free again
	var timeout protocol.CallTimeout
	await(t, x, protocol.EventCallTimeout, &timeout)
	req.Equal(service.ReasonCalleeDisconnected, timeout.Reason)
	req.Eventually(func() bool { return srv.calls.Active() == 0 }, time.Second, 5*time.Millisecond)
	req.Eventually(func() bool { return !srv.registry.IsOnline(patientA.ID) }, time.Second, 5*time.Millisecond)
}

func TestGateway_Newest_Session_Replaces_Older(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, time.Minute)
	first := srv.dial(t, patientA)
	second := srv.dial(t, patientA)

	// The first socket is closed with the replacement code
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = first.ReadMessage()
	}
	req.True(websocket.IsCloseError(err, presence.CloseSessionReplaced))

	// And the participant stays online through the second one
	req.True(srv.registry.IsOnline(patientA.ID))
	send(t, second, &protocol.GetUserStatus{UserID: patientA.ID})
	var status protocol.UserStatus
	await(t, second, protocol.EventUserStatus, &status)
	req.True(status.IsOnline)
}

func TestGateway_Refuses_Bad_Credentials(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t, time.Minute)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	_, resp, err = websocket.DefaultDialer.Dial(url, header)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)

	token, err := srv.tokens.Issue(patientA)
	req.NoError(err)
	header.Set("Authorization", "Bearer "+token)
	header.Set("Origin", "http://evil.example")
	_, resp, err = websocket.DefaultDialer.Dial(url, header)
	req.Error(err)
	req.Equal(http.StatusForbidden, resp.StatusCode)
}

func TestGateway_Token_In_Subprotocol(t *testing.T) {
	srv := newTestServer(t, time.Minute)
	token, err := srv.tokens.Issue(clinicianB)
	require.NoError(t, err)

	dialer := websocket.Dialer{Subprotocols: []string{"bearer", token}}
	header := http.Header{}
	header.Set("Origin", "http://app.example")
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, "bearer", conn.Subprotocol())
	require.Eventually(t, func() bool { return srv.registry.IsOnline(clinicianB.ID) }, time.Second, 5*time.Millisecond)
}
