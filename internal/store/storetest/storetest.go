// Package storetest is the behavioural suite every ConversationStore adapter
// must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"telecare/internal/domain"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) domain.ConversationStore

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s domain.ConversationStore)
	}{
		{"CreateOrGet_Is_Symmetric", testCreateOrGetSymmetric},
		{"CreateOrGet_Rejects_Self_Pair", testCreateOrGetSelf},
		{"FindByParticipantPair_Absent", testFindAbsent},
		{"AppendMessage_Keeps_Arrival_Order", testAppendOrder},
		{"AppendMessage_Updates_Summary", testAppendSummary},
		{"AppendMessage_Rejects_Outsider", testAppendOutsider},
		{"AppendMessage_Unknown_Conversation", testAppendUnknown},
		{"Concurrent_Appends_Keep_Every_Increment", testConcurrentAppends},
		{"MarkRead_Is_Idempotent", testMarkReadIdempotent},
		{"MarkRead_Requires_Membership", testMarkReadMembership},
		{"ListForParticipant_Newest_First", testListOrder},
		{"GetConversation_Unknown", testGetUnknown},
		{"Pair_Ids_Containing_Separators", testSeparatorIds},
		{"ListForParticipant_Ignores_Id_Prefixes", testListPrefixIds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func peers() (domain.Peer, domain.Peer) {
	return domain.Peer{ID: "patient-" + uuid.NewString(), Role: domain.RolePatient},
		domain.Peer{ID: "clinician-" + uuid.NewString(), Role: domain.RoleClinician}
}

func message(from, to domain.Peer, text string) domain.Message {
	return domain.Message{
		SenderID:     from.ID,
		SenderRole:   from.Role,
		ReceiverID:   to.ID,
		ReceiverRole: to.Role,
		Text:         text,
	}
}

func testCreateOrGetSymmetric(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	a, b := peers()

	first, err := s.CreateOrGet(ctx, a, b)
	req.NoError(err)
	second, err := s.CreateOrGet(ctx, b, a)
	req.NoError(err)

	req.Equal(first.ID, second.ID)
	req.True(first.Has(a.ID))
	req.True(first.Has(b.ID))
	req.Zero(first.UnreadFor(a.ID))

	found, err := s.FindByParticipantPair(ctx, b.ID, a.ID)
	req.NoError(err)
	req.NotNil(found)
	req.Equal(first.ID, found.ID)
}

func testCreateOrGetSelf(t *testing.T, s domain.ConversationStore) {
	a, _ := peers()
	_, err := s.CreateOrGet(context.Background(), a, a)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func testFindAbsent(t *testing.T, s domain.ConversationStore) {
	a, b := peers()
	c, err := s.FindByParticipantPair(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	require.Nil(t, c)
}

func testAppendOrder(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	a, b := peers()
	conv, err := s.CreateOrGet(ctx, a, b)
	req.NoError(err)

	var want []string
	for i := 0; i < 10; i++ {
		from, to := a, b
		if i%3 == 0 {
			from, to = b, a
		}
		text := fmt.Sprintf("message %d", i)
		m, err := s.AppendMessage(ctx, conv.ID, message(from, to, text))
		req.NoError(err)
		req.NotEmpty(m.ID)
		req.Equal(int64(i+1), m.Seq)
		req.Equal(conv.ID, m.ConversationID)
		req.False(m.CreatedAt.IsZero())
		want = append(want, text)
	}

	full, err := s.GetConversation(ctx, conv.ID)
	req.NoError(err)
	req.Len(full.Messages, len(want))
	for i, m := range full.Messages {
		req.Equal(want[i], m.Text)
		req.Equal(int64(i+1), m.Seq)
	}
}

func testAppendSummary(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	a, b := peers()
	conv, err := s.CreateOrGet(ctx, a, b)
	req.NoError(err)

	m, err := s.AppendMessage(ctx, conv.ID, message(a, b, "Hello"))
	req.NoError(err)
	req.False(m.Read)
	req.Equal(a.Role, m.SenderRole)
	req.Equal(b.Role, m.ReceiverRole)

	got, err := s.FindByParticipantPair(ctx, a.ID, b.ID)
	req.NoError(err)
	req.NotNil(got.LastMessage)
	req.Equal("Hello", got.LastMessage.Text)
	req.Equal(a.ID, got.LastMessage.SenderID)
	req.WithinDuration(m.CreatedAt, got.LastMessage.Timestamp, time.Millisecond)
	req.Equal(1, got.UnreadFor(b.ID))
	req.Equal(0, got.UnreadFor(a.ID))
}

func testAppendOutsider(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	a, b := peers()
	outsider, _ := peers()
	conv, err := s.CreateOrGet(ctx, a, b)
	req.NoError(err)

	_, err = s.AppendMessage(ctx, conv.ID, message(outsider, b, "psst"))
	req.ErrorIs(err, domain.ErrValidation)

	full, err := s.GetConversation(ctx, conv.ID)
	req.NoError(err)
	req.Empty(full.Messages)
	req.Nil(full.LastMessage)
}

func testAppendUnknown(t *testing.T, s domain.ConversationStore) {
	a, b := peers()
	_, err := s.AppendMessage(context.Background(), uuid.NewString(), message(a, b, "hi"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testConcurrentAppends(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	a, b := peers()
	conv, err := s.CreateOrGet(ctx, a, b)
	req.NoError(err)

	const perSide = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*perSide)
	for i := 0; i < perSide; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessage(ctx, conv.ID, message(a, b, fmt.Sprintf("a%d", i)))
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessage(ctx, conv.ID, message(b, a, fmt.Sprintf("b%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	full, err := s.GetConversation(ctx, conv.ID)
	req.NoError(err)
	req.Len(full.Messages, 2*perSide)
	req.Equal(perSide, full.UnreadFor(a.ID))
	req.Equal(perSide, full.UnreadFor(b.ID))
	for i, m := range full.Messages {
		req.Equal(int64(i+1), m.Seq)
	}
	last := full.Messages[len(full.Messages)-1]
	req.Equal(last.Text, full.LastMessage.Text)
}

func testMarkReadIdempotent(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	a, b := peers()
	conv, err := s.CreateOrGet(ctx, a, b)
	req.NoError(err)
	for _, text := range []string{"one", "two", "three"} {
		_, err := s.AppendMessage(ctx, conv.ID, message(a, b, text))
		req.NoError(err)
	}
	_, err = s.AppendMessage(ctx, conv.ID, message(b, a, "reply"))
	req.NoError(err)

	flipped, err := s.MarkRead(ctx, conv.ID, b.ID)
	req.NoError(err)
	req.Equal(3, flipped)

	flipped, err = s.MarkRead(ctx, conv.ID, b.ID)
	req.NoError(err)
	req.Zero(flipped)

	full, err := s.GetConversation(ctx, conv.ID)
	req.NoError(err)
	req.Zero(full.UnreadFor(b.ID))
	req.Equal(1, full.UnreadFor(a.ID))
	for _, m := range full.Messages {
		req.Equal(m.ReceiverID == b.ID, m.Read, m.Text)
	}
}

func testMarkReadMembership(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	a, b := peers()
	outsider, _ := peers()
	conv, err := s.CreateOrGet(ctx, a, b)
	req.NoError(err)

	_, err = s.MarkRead(ctx, conv.ID, outsider.ID)
	req.ErrorIs(err, domain.ErrNotFound)
	_, err = s.MarkRead(ctx, uuid.NewString(), a.ID)
	req.ErrorIs(err, domain.ErrNotFound)
}

func testListOrder(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	me, first := peers()
	_, second := peers()
	_, quiet := peers()

	c1, err := s.CreateOrGet(ctx, me, first)
	req.NoError(err)
	c2, err := s.CreateOrGet(ctx, me, second)
	req.NoError(err)
	_, err = s.CreateOrGet(ctx, me, quiet)
	req.NoError(err)

	_, err = s.AppendMessage(ctx, c1.ID, message(first, me, "older"))
	req.NoError(err)
	time.Sleep(5 * time.Millisecond)
	_, err = s.AppendMessage(ctx, c2.ID, message(second, me, "newer"))
	req.NoError(err)

	list, err := s.ListForParticipant(ctx, me.ID)
	req.NoError(err)
	req.Len(list, 3)
	req.Equal(c2.ID, list[0].ID)
	req.Equal(c1.ID, list[1].ID)
	for _, c := range list {
		req.Empty(c.Messages)
	}

	others, err := s.ListForParticipant(ctx, first.ID)
	req.NoError(err)
	req.Len(others, 1)

	none, err := s.ListForParticipant(ctx, "nobody")
	req.NoError(err)
	req.Empty(none)
}

func testGetUnknown(t *testing.T, s domain.ConversationStore) {
	_, err := s.GetConversation(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testSeparatorIds(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	suffix := uuid.NewString()
	// Given two distinct pairs whose joined ids read the same
	a := domain.Peer{ID: "a|b" + suffix, Role: domain.RolePatient}
	b := domain.Peer{ID: "c" + suffix, Role: domain.RoleClinician}
	x := domain.Peer{ID: "a", Role: domain.RolePatient}
	y := domain.Peer{ID: "b" + suffix + "|c" + suffix, Role: domain.RoleClinician}

	// When both get a conversation
	first, err := s.CreateOrGet(ctx, a, b)
	req.NoError(err)
	second, err := s.CreateOrGet(ctx, x, y)
	req.NoError(err)

	// Then they are separate and both can exchange messages
	req.NotEqual(first.ID, second.ID)
	req.True(second.Has(y.ID))
	_, err = s.AppendMessage(ctx, second.ID, message(x, y, "hi"))
	req.NoError(err)
	_, err = s.AppendMessage(ctx, first.ID, message(b, a, "hello"))
	req.NoError(err)
}

func testListPrefixIds(t *testing.T, s domain.ConversationStore) {
	req := require.New(t)
	ctx := context.Background()
	suffix := uuid.NewString()
	short := domain.Peer{ID: "p" + suffix, Role: domain.RolePatient}
	long := domain.Peer{ID: "p" + suffix + ":2", Role: domain.RolePatient}
	doc := domain.Peer{ID: "doc" + suffix, Role: domain.RoleClinician}

	mine, err := s.CreateOrGet(ctx, short, doc)
	req.NoError(err)
	_, err = s.CreateOrGet(ctx, long, doc)
	req.NoError(err)

	list, err := s.ListForParticipant(ctx, short.ID)
	req.NoError(err)
	req.Len(list, 1)
	req.Equal(mine.ID, list[0].ID)

	list, err = s.ListForParticipant(ctx, doc.ID)
	req.NoError(err)
	req.Len(list, 2)
}
