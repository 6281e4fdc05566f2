// internal/storage/badger.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"messenger/internal/model"
)

var (
	messagePrefix = []byte("msg:")
	accountPrefix = []byte("account:")
	messageSeqKey = []byte("seq:messages")
)

// Badger is an embedded store for single node deployments and tests.
// Its change feed is backed by badger's key subscription.
type Badger struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

type diskMessage struct {
	ID     uuid.UUID    `json:"id"`
	Seq    int64        `json:"seq"`
	Author string       `json:"username"`
	Body   string       `json:"message"`
	SentAt model.SentAt `json:"timestamp"`
}

type diskAccount struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
}

func NewBadger(path string, log *slog.Logger) (*Badger, error) {
	if path == "" {
		return nil, errors.New("badger: empty database directory")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", path, err)
	}
	seq, err := db.GetSequence(messageSeqKey, 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to lease message sequence: %w", err)
	}
	return &Badger{db: db, seq: seq, log: log}, nil
}

// messageKey is "msg:{seq}" zero padded to keep keys in insertion order.
func messageKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%s%019d", messagePrefix, seq))
}

func accountKey(email string) []byte {
	return append(append([]byte{}, accountPrefix...), email...)
}

func (s *Badger) InsertMessage(_ context.Context, in model.MessageInput) (model.Message, error) {
	n, err := s.seq.Next()
	if err != nil {
		return model.Message{}, fmt.Errorf("next message sequence: %w", err)
	}
	dm := diskMessage{
		ID:     uuid.New(),
		Seq:    int64(n) + 1,
		Author: in.Author,
		Body:   in.Body,
		SentAt: in.SentAt,
	}
	value, err := json.Marshal(dm)
	if err != nil {
		return model.Message{}, err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(dm.Seq), value)
	}); err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return dm.toModel(), nil
}

func (s *Badger) ListMessages(_ context.Context) ([]model.Message, error) {
	var disk []diskMessage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = messagePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(messagePrefix); it.ValidForPrefix(messagePrefix); it.Next() {
			var dm diskMessage
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &dm)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			disk = append(disk, dm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := lo.Map(disk, func(dm diskMessage, _ int) model.Message { return dm.toModel() })
	SortMessages(messages)
	return messages, nil
}

// UpsertAccount keeps the existing id when the email is already known.
func (s *Badger) UpsertAccount(_ context.Context, a model.Account) (model.Account, error) {
	da := diskAccount{
		ID:           uuid.New(),
		Email:        a.Email,
		Username:     a.Username,
		PasswordHash: a.PasswordHash,
	}
	key := accountKey(a.Email)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing diskAccount
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &existing) }); err != nil {
				return err
			}
			da.ID = existing.ID
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		value, err := json.Marshal(da)
		if err != nil {
			return err
		}
		return txn.Set(key, value)
	})
	if err != nil {
		return model.Account{}, fmt.Errorf("upsert account: %w", err)
	}
	return da.toModel(), nil
}

func (s *Badger) ListAccounts(_ context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = accountPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(accountPrefix); it.ValidForPrefix(accountPrefix); it.Next() {
			var da diskAccount
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &da) }); err != nil {
				return err
			}
			accounts = append(accounts, da.toModel())
		}
		return nil
	})
	return accounts, err
}

// Watch subscribes to writes under the message prefix. Badger registers the
// subscription asynchronously, so writes racing with Watch may be missed.
func (s *Badger) Watch(_ context.Context) (Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := newFeedSubscription(func() error {
		cancel()
		return nil
	})
	sub.spawn(func(<-chan struct{}) {
		err := s.db.Subscribe(ctx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				var dm diskMessage
				if err := json.Unmarshal(kv.Value, &dm); err != nil {
					s.log.Warn("Ignoring undecodable message write", "key", string(kv.Key), "error", err)
					continue
				}
				ev := model.ChangeEvent{Operation: model.OperationInsert, MessageID: dm.ID, Seq: dm.Seq}
				if !sub.push(ev) {
					return context.Canceled
				}
			}
			return nil
		}, []pb.Match{{Prefix: messagePrefix}})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("Change feed stopped", "error", err)
		}
	})
	return sub, nil
}

func (s *Badger) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn("Failed to release message sequence", "error", err)
	}
	return s.db.Close()
}

func (dm diskMessage) toModel() model.Message {
	return model.Message{ID: dm.ID, Author: dm.Author, Body: dm.Body, SentAt: dm.SentAt, Seq: dm.Seq}
}

func (da diskAccount) toModel() model.Account {
	return model.Account{ID: da.ID, Email: da.Email, Username: da.Username, PasswordHash: da.PasswordHash}
}
