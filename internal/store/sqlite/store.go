package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"telecare/internal/domain"
	"telecare/internal/security"
	"telecare/internal/store"
)

// Store is a ConversationStore on database/sql with the modernc SQLite driver.
// Message text is sealed through codec before it is written.
type Store struct {
	db    *sql.DB
	codec security.TextCodec
	now   func() time.Time
}

var _ domain.ConversationStore = (*Store)(nil)

func New(db *sql.DB, codec security.TextCodec) *Store {
	if codec == nil {
		codec = security.Plaintext{}
	}
	return &Store{db: db, codec: codec, now: func() time.Time { return time.Now().UTC() }}
}

const conversationColumns = `id, a_id, a_role, a_unread, b_id, b_role, b_unread,
	last_text, last_sender, last_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		c          domain.Conversation
		a, b       domain.ParticipantRef
		lastText   sql.NullString
		lastSender sql.NullString
		lastAt     sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&a.ID, &a.Role, &a.UnreadCount,
		&b.ID, &b.Role, &b.UnreadCount,
		&lastText, &lastSender, &lastAt,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Participants = [2]domain.ParticipantRef{a, b}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if lastAt.Valid {
		text, err := s.codec.Open(lastText.String)
		if err != nil {
			return nil, err
		}
		c.LastMessage = &domain.LastMessage{Text: text, SenderID: lastSender.String, Timestamp: lastAt.Time.UTC()}
	}
	return &c, nil
}

func (s *Store) FindByParticipantPair(ctx context.Context, a, b string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE pair_key = ?`, domain.PairKey(a, b))
	c, err := s.scanConversation(row)
	if err == sql.ErrNoRows {
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, pair_key, a_id, a_role, b_id, b_role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_key) DO NOTHING
	`, conv.ID, domain.PairKey(a.ID, b.ID), first.ID, string(first.Role), second.ID, string(second.Role),
		conv.CreatedAt, conv.UpdatedAt)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Unavailable("begin tx", err)
	}
	defer tx.Rollback()

	conv, err := s.scanConversation(tx.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, conversationID))
	if err == sql.ErrNoRows {
		return nil, store.NotFound(conversationID)
	}
	if err != nil {
		return nil, store.Unavailable("load conversation", err)
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

	// The counter bump and the sequence assignment are one statement.
	err = tx.QueryRowContext(ctx, `
		UPDATE conversations SET
			next_seq    = next_seq + 1,
			a_unread    = a_unread + CASE WHEN a_id = ? THEN 1 ELSE 0 END,
			b_unread    = b_unread + CASE WHEN b_id = ? THEN 1 ELSE 0 END,
			last_text   = ?,
			last_sender = ?,
			last_at     = ?,
			updated_at  = ?
		WHERE id = ?
		RETURNING next_seq
	`, m.ReceiverID, m.ReceiverID, sealed, m.SenderID, m.CreatedAt, m.CreatedAt, conversationID).Scan(&m.Seq)
	if err != nil {
		return nil, store.Unavailable("update conversation", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, sender_id, sender_role, receiver_id, receiver_role, text, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, m.ID, conversationID, m.Seq, m.SenderID, string(m.SenderRole), m.ReceiverID, string(m.ReceiverRole),
		sealed, m.CreatedAt); err != nil {
		return nil, store.Unavailable("insert message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, store.Unavailable("commit", err)
	}
	return &m, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, participantID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, store.Unavailable("begin tx", err)
	}
	defer tx.Rollback()

	var member bool
	err = tx.QueryRowContext(ctx,
		`SELECT a_id = ? OR b_id = ? FROM conversations WHERE id = ?`,
		participantID, participantID, conversationID).Scan(&member)
	if err == sql.ErrNoRows || (err == nil && !member) {
		return 0, store.NotFound(conversationID)
	}
	if err != nil {
		return 0, store.Unavailable("load conversation", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0
	`, conversationID, participantID)
	if err != nil {
		return 0, store.Unavailable("mark messages", err)
	}
	flipped, err := res.RowsAffected()
	if err != nil {
		return 0, store.Unavailable("mark messages", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			a_unread = CASE WHEN a_id = ? THEN 0 ELSE a_unread END,
			b_unread = CASE WHEN b_id = ? THEN 0 ELSE b_unread END
		WHERE id = ?
	`, participantID, participantID, conversationID); err != nil {
		return 0, store.Unavailable("reset unread", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, store.Unavailable("commit", err)
	}
	return int(flipped), nil
}

func (s *Store) ListForParticipant(ctx context.Context, participantID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE a_id = ? OR b_id = ?`,
		participantID, participantID)
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
	c, err := s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, conversationID))
	if err == sql.ErrNoRows {
		return nil, store.NotFound(conversationID)
	}
	if err != nil {
		return nil, store.Unavailable("get conversation", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, sender_id, sender_role, receiver_id, receiver_role, text, is_read, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, store.Unavailable("load messages", err)
	}
	defer rows.Close()

	c.Messages = []domain.Message{}
	for rows.Next() {
		m := domain.Message{ConversationID: conversationID}
		if err := rows.Scan(
			&m.ID, &m.Seq,
			&m.SenderID, &m.SenderRole,
			&m.ReceiverID, &m.ReceiverRole,
			&m.Text, &m.Read, &m.CreatedAt,
		); err != nil {
			return nil, store.Unavailable("scan message", err)
		}
		if m.Text, err = s.codec.Open(m.Text); err != nil {
			return nil, store.Unavailable("open text", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("load messages", err)
	}
	return c, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
