package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"telecare/internal/domain"
	"telecare/internal/security"
	"telecare/internal/store"
)

// Store is a ConversationStore on PostgreSQL. Appends lock the conversation
// row, so concurrent writers to one conversation queue in the database.
type Store struct {
	pool  *pgxpool.Pool
	codec security.TextCodec
	now   func() time.Time
}

var _ domain.ConversationStore = (*Store)(nil)

func New(pool *pgxpool.Pool, codec security.TextCodec) *Store {
	if codec == nil {
		codec = security.Plaintext{}
	}
	return &Store{pool: pool, codec: codec, now: func() time.Time { return time.Now().UTC() }}
}

const conversationColumns = `id, a_id, a_role, a_unread, b_id, b_role, b_unread,
	last_text, last_sender, last_at, created_at, updated_at`

func (s *Store) scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var (
		c          domain.Conversation
		a, b       domain.ParticipantRef
		aRole      string
		bRole      string
		lastText   *string
		lastSender *string
		lastAt     *time.Time
	)
	if err := row.Scan(
		&c.ID,
		&a.ID, &aRole, &a.UnreadCount,
		&b.ID, &bRole, &b.UnreadCount,
		&lastText, &lastSender, &lastAt,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Role, b.Role = domain.Role(aRole), domain.Role(bRole)
	c.Participants = [2]domain.ParticipantRef{a, b}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if lastAt != nil {
		lm := &domain.LastMessage{Timestamp: lastAt.UTC()}
		if lastSender != nil {
			lm.SenderID = *lastSender
		}
		if lastText != nil {
			text, err := s.codec.Open(*lastText)
			if err != nil {
				return nil, err
			}
			lm.Text = text
		}
		c.LastMessage = lm
	}
	return &c, nil
}

func (s *Store) FindByParticipantPair(ctx context.Context, a, b string) (*domain.Conversation, error) {
	c, err := s.scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE pair_key = $1`, domain.PairKey(a, b)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Unavailable("find pair", err)
	}
	return c, nil
}

func (s *Store) CreateOrGet(ctx context.Context, a, b domain.Peer) (*domain.Conversation, error) {
	if err := store.CheckPair(a, b); err != nil {
		return nil, err
	}
	conv := domain.NewConversation(uuid.NewString(), a, b, s.now())
	first, second := conv.Participants[0], conv.Participants[1]

	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, pair_key, a_id, a_role, b_id, b_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (pair_key) DO NOTHING
	`, conv.ID, domain.PairKey(a.ID, b.ID), first.ID, string(first.Role), second.ID, string(second.Role), conv.CreatedAt)
	if err != nil {
		return nil, store.Unavailable("create conversation", err)
	}

	c, err := s.FindByParticipantPair(ctx, a.ID, b.ID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, store.Unavailable("create conversation", errors.New("conversation vanished after insert"))
	}
	return c, nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID string, m domain.Message) (*domain.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, store.Unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx)

	conv, err := s.scanConversation(tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 FOR UPDATE`, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound(conversationID)
	}
	if err != nil {
		return nil, store.Unavailable("lock conversation", err)
	}
	if err := store.CheckMessage(conv, m); err != nil {
		return nil, err
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.ConversationID = conversationID
	m.Read = false
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	sealed, err := s.codec.Seal(m.Text)
	if err != nil {
		return nil, store.Unavailable("seal text", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE conversations SET
			next_seq    = next_seq + 1,
			a_unread    = a_unread + CASE WHEN a_id = $1 THEN 1 ELSE 0 END,
			b_unread    = b_unread + CASE WHEN b_id = $1 THEN 1 ELSE 0 END,
			last_text   = $2,
			last_sender = $3,
			last_at     = $4,
			updated_at  = $4
		WHERE id = $5
		RETURNING next_seq
	`, m.ReceiverID, sealed, m.SenderID, m.CreatedAt, conversationID).Scan(&m.Seq)
	if err != nil {
		return nil, store.Unavailable("update conversation", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, sender_role, receiver_id, receiver_role, text, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
	`, m.ID, conversationID, m.Seq, m.SenderID, string(m.SenderRole), m.ReceiverID, string(m.ReceiverRole),
		sealed, m.CreatedAt); err != nil {
		return nil, store.Unavailable("insert message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, store.Unavailable("commit", err)
	}
	return &m, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, participantID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, store.Unavailable("begin tx", err)
	}
	defer tx.Rollback(ctx)

	var member bool
	err = tx.QueryRow(ctx,
		`SELECT a_id = $1 OR b_id = $1 FROM conversations WHERE id = $2 FOR UPDATE`,
		participantID, conversationID).Scan(&member)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !member) {
		return 0, store.NotFound(conversationID)
	}
	if err != nil {
		return 0, store.Unavailable("lock conversation", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read
	`, conversationID, participantID)
	if err != nil {
		return 0, store.Unavailable("mark messages", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET
			a_unread = CASE WHEN a_id = $1 THEN 0 ELSE a_unread END,
			b_unread = CASE WHEN b_id = $1 THEN 0 ELSE b_unread END
		WHERE id = $2
	`, participantID, conversationID); err != nil {
		return 0, store.Unavailable("reset unread", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, store.Unavailable("commit", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListForParticipant(ctx context.Context, participantID string) ([]domain.Conversation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE a_id = $1 OR b_id = $1`, participantID)
	if err != nil {
		return nil, store.Unavailable("list conversations", err)
	}
	defer rows.Close()

	res := []domain.Conversation{}
	for rows.Next() {
		c, err := s.scanConversation(rows)
		if err != nil {
			return nil, store.Unavailable("scan conversation", err)
		}
		res = append(res, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("list conversations", err)
	}
	store.SortSummaries(res)
	return res, nil
}

func (s *Store) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	c, err := s.scanConversation(s.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, conversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.NotFound(conversationID)
	}
	if err != nil {
		return nil, store.Unavailable("get conversation", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, seq, sender_id, sender_role, receiver_id, receiver_role, text, is_read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, store.Unavailable("load messages", err)
	}
	defer rows.Close()

	c.Messages = []domain.Message{}
	for rows.Next() {
		var senderRole, receiverRole string
		m := domain.Message{ConversationID: conversationID}
		if err := rows.Scan(
			&m.ID, &m.Seq,
			&m.SenderID, &senderRole,
			&m.ReceiverID, &receiverRole,
			&m.Text, &m.Read, &m.CreatedAt,
		); err != nil {
			return nil, store.Unavailable("scan message", err)
		}
		if m.Text, err = s.codec.Open(m.Text); err != nil {
			return nil, store.Unavailable("open text", err)
		}
		m.SenderRole, m.ReceiverRole = domain.Role(senderRole), domain.Role(receiverRole)
		m.CreatedAt = m.CreatedAt.UTC()
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("load messages", err)
	}
	return c, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
