// Package badgerdb is a ConversationStore on an embedded Badger database.
//
// Layout:
//
//	conv:{id}                      conversation record without messages
//	pair:{pairKey}                 conversation id of an unordered pair
//	member:{participant}:{conv}    membership index for listings
//	msg:{conv}:{seq, 19 digits}    one message, prefix scans return append order
package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"telecare/internal/domain"
	"telecare/internal/keylock"
	"telecare/internal/store"
)

type record struct {
	domain.Conversation
	LastSeq int64 `json:"lastSeq"`
}

type Store struct {
	db    *badger.DB
	locks *keylock.Locker
	log   *slog.Logger
	now   func() time.Time
}

var _ domain.ConversationStore = (*Store)(nil)

// Open opens (or creates) the database directory at path.
func Open(path string, log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return New(db, log), nil
}

// New wraps an already opened database. Close closes it.
func New(db *badger.DB, log *slog.Logger) *Store {
	return &Store{
		db:    db,
		locks: keylock.New(),
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func convKey(id string) []byte {
	return []byte("conv:" + id)
}

func pairKey(key string) []byte {
	return []byte("pair:" + key)
}

// memberPrefix length-prefixes the participant so "p" never scans the keys of "p:2".
func memberPrefix(participant string) []byte {
	return []byte(fmt.Sprintf("member:%d:%s:", len(participant), participant))
}

func memberKey(participant, conv string) []byte {
	return append(memberPrefix(participant), conv...)
}

func msgPrefix(conv string) []byte {
	return []byte("msg:" + conv + ":")
}

func msgKey(conv string, seq int64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d", conv, seq))
}

func (s *Store) FindByParticipantPair(_ context.Context, a, b string) (*domain.Conversation, error) {
	var out *domain.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, pairKey(domain.PairKey(a, b)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		c := rec.Summary()
		out = &c
		return nil
	})
	if err != nil {
		return nil, store.Unavailable("find pair", err)
	}
	return out, nil
}

func (s *Store) CreateOrGet(_ context.Context, a, b domain.Peer) (*domain.Conversation, error) {
	if err := store.CheckPair(a, b); err != nil {
		return nil, err
	}
	key := domain.PairKey(a.ID, b.ID)
	unlock := s.locks.Lock("pair:" + key)
	defer unlock()

	var out domain.Conversation
	err := s.db.Update(func(txn *badger.Txn) error {
		id, err := getString(txn, pairKey(key))
		switch {
		case err == nil:
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			out = rec.Summary()
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		rec := record{Conversation: domain.NewConversation(uuid.NewString(), a, b, s.now())}
		if err := putRecord(txn, rec); err != nil {
			return err
		}
		if err := txn.Set(pairKey(key), []byte(rec.ID)); err != nil {
			return err
		}
		for _, p := range rec.Participants {
			if err := txn.Set(memberKey(p.ID, rec.ID), nil); err != nil {
				return err
			}
		}
		out = rec.Summary()
		return nil
	})
	if err != nil {
		return nil, store.Unavailable("create conversation", err)
	}
	s.log.Debug("badger: conversation ready", "conversation", out.ID, "pair", key)
	return &out, nil
}

func (s *Store) AppendMessage(_ context.Context, conversationID string, m domain.Message) (*domain.Message, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var validation error
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, conversationID)
		if err != nil {
			return err
		}
		if validation = store.CheckMessage(&rec.Conversation, m); validation != nil {
			return nil
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		rec.LastSeq++
		m.ConversationID = conversationID
		m.Seq = rec.LastSeq
		m.Read = false
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now()
		}

		raw, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := txn.Set(msgKey(conversationID, m.Seq), raw); err != nil {
			return err
		}
		rec.LastMessage = &domain.LastMessage{Text: m.Text, SenderID: m.SenderID, Timestamp: m.CreatedAt}
		rec.UpdatedAt = m.CreatedAt
		rec.Ref(m.ReceiverID).UnreadCount++
		return putRecord(txn, rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.NotFound(conversationID)
	}
	if err != nil {
		return nil, store.Unavailable("append message", err)
	}
	if validation != nil {
		return nil, validation
	}
	return &m, nil
}

func (s *Store) MarkRead(_ context.Context, conversationID, participantID string) (int, error) {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	flipped := 0
	member := true
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, conversationID)
		if err != nil {
			return err
		}
		ref := rec.Ref(participantID)
		if ref == nil {
			member = false
			return nil
		}

		msgs, err := scanMessages(txn, conversationID)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if msg.ReceiverID != participantID || msg.Read {
				continue
			}
			msg.Read = true
			raw, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Set(msgKey(conversationID, msg.Seq), raw); err != nil {
				return err
			}
			flipped++
		}
		if ref.UnreadCount == 0 && flipped == 0 {
			return nil
		}
		ref.UnreadCount = 0
		return putRecord(txn, rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) || !member {
		return 0, store.NotFound(conversationID)
	}
	if err != nil {
		return 0, store.Unavailable("mark read", err)
	}
	return flipped, nil
}

func (s *Store) ListForParticipant(_ context.Context, participantID string) ([]domain.Conversation, error) {
	out := []domain.Conversation{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := memberPrefix(participantID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		for _, id := range ids {
			rec, err := getRecord(txn, id)
			if err != nil {
				return fmt.Errorf("conversation %s: %w", id, err)
			}
			out = append(out, rec.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, store.Unavailable("list conversations", err)
	}
	store.SortSummaries(out)
	return out, nil
}

func (s *Store) GetConversation(_ context.Context, conversationID string) (*domain.Conversation, error) {
	var out domain.Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, conversationID)
		if err != nil {
			return err
		}
		msgs, err := scanMessages(txn, conversationID)
		if err != nil {
			return err
		}
		out = rec.Summary()
		out.Messages = msgs
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.NotFound(conversationID)
	}
	if err != nil {
		return nil, store.Unavailable("get conversation", err)
	}
	return &out, nil
}

// Each walks every conversation record. Used by the inspection tool.
func (s *Store) Each(fn func(c domain.Conversation, messages int)) error {
	return s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("conv:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return err
			}
			fn(rec.Summary(), int(rec.LastSeq))
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		return "", err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func getRecord(txn *badger.Txn, id string) (record, error) {
	var rec record
	item, err := txn.Get(convKey(id))
	if err != nil {
		return rec, err
	}
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

func putRecord(txn *badger.Txn, rec record) error {
	rec.Messages = nil
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(convKey(rec.ID), raw)
}

func scanMessages(txn *badger.Txn, conversationID string) ([]domain.Message, error) {
	prefix := msgPrefix(conversationID)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	msgs := []domain.Message{}
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var m domain.Message
		if err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &m)
		}); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
