package service_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"telecare/internal/domain"
	"telecare/internal/protocol"
	"telecare/internal/service"
	"telecare/internal/store/memory"
)

var (
	patient   = domain.Peer{ID: "patient-a", Role: domain.RolePatient}
	clinician = domain.Peer{ID: "clinician-b", Role: domain.RoleClinician}
)

func sendInput(from, to domain.Peer, text string) service.SendInput {
	return service.SendInput{
		SenderID:     from.ID,
		SenderRole:   from.Role,
		ReceiverID:   to.ID,
		ReceiverRole: to.Role,
		Text:         text,
	}
}

func newMessageService(presence service.Presence, notifier *MockNotifier) (*service.MessageService, *memory.Store) {
	store := memory.New()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	if notifier == nil {
		return service.NewMessageService(store, presence, nil, 5000, log), store
	}
	return service.NewMessageService(store, presence, notifier, 5000, log), store
}

func TestSend_To_Online_Receiver(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	presence := newFakePresence(patient, clinician)
	svc, store := newMessageService(presence, nil)

	// When the patient says hello to an online clinician
	msg, err := svc.Send(ctx, sendInput(patient, clinician, "Hello"))
	req.NoError(err)

	// Then the clinician gets the message and the notification
	got := presence.received(clinician.ID)
	req.Len(got, 2)
	newMsg, ok := got[0].(*protocol.NewMessage)
	req.True(ok)
	req.Equal("Hello", newMsg.Message.Text)
	req.Equal(msg.ConversationID, newMsg.ConversationID)
	req.Equal(&protocol.MessageNotification{
		ConversationFor: domain.RoleClinician,
		ConversationID:  msg.ConversationID,
		SenderID:        patient.ID,
	}, got[1])

	// And the sender gets the stored copy back
	req.Equal([]string{protocol.EventNewMessage}, presence.events(patient.ID))

	// And the conversation summary carries the text
	conv, err := store.FindByParticipantPair(ctx, clinician.ID, patient.ID)
	req.NoError(err)
	req.Equal("Hello", conv.LastMessage.Text)
	req.Equal(1, conv.UnreadFor(clinician.ID))
}

func TestSend_To_Offline_Receiver_Persists_And_Notifies(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	presence := newFakePresence(patient)
	notifier := new(MockNotifier)
	notifier.On("NotifyOffline", mock.Anything, mock.MatchedBy(func(m domain.Message) bool {
		return m.ReceiverID == clinician.ID && m.Text == "Are you there?"
	})).Return(nil).Once()
	svc, _ := newMessageService(presence, notifier)

	// Given the clinician is offline
	_, err := svc.Send(ctx, sendInput(patient, clinician, "Are you there?"))
	req.NoError(err)
	req.Empty(presence.received(clinician.ID))
	notifier.AssertExpectations(t)

	// When the clinician reconnects and lists conversations
	presence.connect(clinician)
	convs, err := svc.Conversations(ctx, clinician.ID)
	req.NoError(err)

	// Then the message waits there unread
	req.Len(convs, 1)
	req.Equal(1, convs[0].UnreadFor(clinician.ID))
	req.Equal("Are you there?", convs[0].LastMessage.Text)
}

func TestSend_Offline_Notifier_Failure_Does_Not_Fail_Send(t *testing.T) {
	presence := newFakePresence(patient)
	notifier := new(MockNotifier)
	notifier.On("NotifyOffline", mock.Anything, mock.Anything).Return(errors.New("queue down"))
	svc, _ := newMessageService(presence, notifier)

	msg, err := svc.Send(context.Background(), sendInput(patient, clinician, "ping"))
	require.NoError(t, err)
	require.NotNil(t, msg)
}

func TestSend_Rejects_Invalid_Input(t *testing.T) {
	presence := newFakePresence(patient, clinician)
	svc, store := newMessageService(presence, nil)
	ctx := context.Background()

	cases := map[string]service.SendInput{
		"empty":       sendInput(patient, clinician, ""),
		"blank":       sendInput(patient, clinician, "   \n\t "),
		"markup only": sendInput(patient, clinician, "<b></b><script>alert(1)</script>"),
		"self":        sendInput(patient, patient, "hi me"),
		"too long":    sendInput(patient, clinician, strings.Repeat("é", 5001)),
		"bad role":    {SenderID: patient.ID, SenderRole: "nurse", ReceiverID: clinician.ID, ReceiverRole: domain.RoleClinician, Text: "hi"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Send(ctx, in)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	// Then nothing was persisted or pushed
	convs, err := store.ListForParticipant(ctx, patient.ID)
	require.NoError(t, err)
	assert.Empty(t, convs)
	assert.Empty(t, presence.received(clinician.ID))
}

func TestSend_Strips_Markup(t *testing.T) {
	presence := newFakePresence(patient, clinician)
	svc, _ := newMessageService(presence, nil)

	msg, err := svc.Send(context.Background(), sendInput(patient, clinician, "  <b>Tom & Jerry</b> <script>x()</script> "))
	require.NoError(t, err)
	assert.Equal(t, "Tom & Jerry", msg.Text)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) AppendMessage(context.Context, string, domain.Message) (*domain.Message, error) {
	return nil, fmt.Errorf("%w: disk full", domain.ErrStorageUnavailable)
}

func TestSend_Storage_Failure_Pushes_Nothing(t *testing.T) {
	presence := newFakePresence(patient, clinician)
	svc := service.NewMessageService(failingStore{memory.New()}, presence, nil, 5000, logs.GetLoggerFromLevel(slog.LevelDebug))

	_, err := svc.Send(context.Background(), sendInput(patient, clinician, "Hello"))
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Empty(t, presence.received(clinician.ID))
	assert.Empty(t, presence.received(patient.ID))
}

func TestConversations_Hides_Pair_Left_Empty_By_Failed_Append(t *testing.T) {
	req := require.New(t)
	store := failingStore{memory.New()}
	svc := service.NewMessageService(store, newFakePresence(patient, clinician), nil, 5000, logs.GetLoggerFromLevel(slog.LevelDebug))

	// Given a send whose append failed after the pair was created
	_, err := svc.Send(context.Background(), sendInput(patient, clinician, "Hello"))
	req.ErrorIs(err, domain.ErrStorageUnavailable)
	stored, err := store.ListForParticipant(context.Background(), patient.ID)
	req.NoError(err)
	req.Len(stored, 1)

	// When either side lists conversations
	mine, err := svc.Conversations(context.Background(), patient.ID)
	req.NoError(err)
	theirs, err := svc.Conversations(context.Background(), clinician.ID)
	req.NoError(err)

	// Then nothing shows up
	req.Empty(mine)
	req.Empty(theirs)
}

func TestSend_Delivers_In_Append_Order(t *testing.T) {
	req := require.New(t)
	presence := newFakePresence(patient, clinician)
	svc, _ := newMessageService(presence, nil)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Send(context.Background(), sendInput(patient, clinician, fmt.Sprintf("m%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var seqs []int64
	for _, p := range presence.received(clinician.ID) {
		if nm, ok := p.(*protocol.NewMessage); ok {
			seqs = append(seqs, nm.Message.Seq)
		}
	}
	req.Len(seqs, 30)
	for i, seq := range seqs {
		req.Equal(int64(i+1), seq)
	}
}

func TestHistory(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	presence := newFakePresence(patient, clinician)
	svc, _ := newMessageService(presence, nil)

	first, err := svc.Send(ctx, sendInput(patient, clinician, "first"))
	req.NoError(err)
	_, err = svc.Send(ctx, sendInput(clinician, patient, "second"))
	req.NoError(err)

	msgs, err := svc.History(ctx, first.ConversationID, clinician.ID)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal("first", msgs[0].Text)
	req.Equal("second", msgs[1].Text)

	// an outsider cannot tell the conversation exists
	_, err = svc.History(ctx, first.ConversationID, "someone-else")
	req.ErrorIs(err, domain.ErrNotFound)
	_, err = svc.History(ctx, "missing", patient.ID)
	req.ErrorIs(err, domain.ErrNotFound)
}

func TestMarkRead_Is_Idempotent_And_Sends_Receipt(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	presence := newFakePresence(patient, clinician)
	svc, _ := newMessageService(presence, nil)

	msg, err := svc.Send(ctx, sendInput(patient, clinician, "Hello"))
	req.NoError(err)
	before := len(presence.received(patient.ID))

	flipped, err := svc.MarkRead(ctx, msg.ConversationID, clinician.ID)
	req.NoError(err)
	req.Equal(1, flipped)

	flipped, err = svc.MarkRead(ctx, msg.ConversationID, clinician.ID)
	req.NoError(err)
	req.Zero(flipped)

	// Then exactly one receipt reached the sender
	got := presence.received(patient.ID)[before:]
	req.Equal([]protocol.Push{&protocol.MessagesRead{ConversationID: msg.ConversationID, UserID: clinician.ID}}, got)

	convs, err := svc.Conversations(ctx, clinician.ID)
	req.NoError(err)
	req.Zero(convs[0].UnreadFor(clinician.ID))
}
