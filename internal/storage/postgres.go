// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"messenger/internal/model"
)

// NotifyChannel is the LISTEN/NOTIFY channel fed by the messages insert trigger.
const NotifyChannel = "messages_inserted"

const listenTimeout = 10 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	seq BIGSERIAL PRIMARY KEY,
	id UUID NOT NULL UNIQUE,
	username TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	sent_at TEXT NOT NULL DEFAULT 'null',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL,
	password_hash TEXT NOT NULL
);

CREATE OR REPLACE FUNCTION notify_message_inserted() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('` + NotifyChannel + `', json_build_object(
		'operationType', 'insert',
		'id', NEW.id,
		'seq', NEW.seq
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS messages_notify_insert ON messages;
CREATE TRIGGER messages_notify_insert
	AFTER INSERT ON messages
	FOR EACH ROW EXECUTE FUNCTION notify_message_inserted();
`

type Postgres struct {
	DB  *sql.DB
	dsn string
	log *slog.Logger
}

func NewPostgres(ctx context.Context, dsn string, log *slog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Postgres{DB: db, dsn: dsn, log: log}, nil
}

// EnsureSchema creates the tables and the insert trigger if missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// InsertMessage inserts a message. The row is committed before the trigger's
// notification is delivered to listeners.
func (s *Postgres) InsertMessage(ctx context.Context, in model.MessageInput) (model.Message, error) {
	sentAt, err := json.Marshal(in.SentAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("encode timestamp: %w", err)
	}

	m := model.Message{
		ID:     uuid.New(),
		Author: in.Author,
		Body:   in.Body,
		SentAt: in.SentAt,
	}
	query := `
		INSERT INTO messages (id, username, message, sent_at)
		VALUES ($1, $2, $3, $4)
		RETURNING seq
	`
	if err := s.DB.QueryRowContext(ctx, query, m.ID, m.Author, m.Body, string(sentAt)).Scan(&m.Seq); err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ListMessages reads the whole table. Any scan error fails the whole call.
func (s *Postgres) ListMessages(ctx context.Context) ([]model.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT seq, id, username, message, sent_at
		FROM messages
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var m model.Message
		var sentAt string
		if err := rows.Scan(&m.Seq, &m.ID, &m.Author, &m.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if err := json.Unmarshal([]byte(sentAt), &m.SentAt); err != nil {
			return nil, fmt.Errorf("decode timestamp of %s: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	SortMessages(messages)
	return messages, nil
}

func (s *Postgres) UpsertAccount(ctx context.Context, a model.Account) (model.Account, error) {
	query := `
		INSERT INTO accounts (id, email, username, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET username = EXCLUDED.username, password_hash = EXCLUDED.password_hash
		RETURNING id, email, username, password_hash
	`
	var saved model.Account
	err := s.DB.QueryRowContext(ctx, query, uuid.New(), a.Email, a.Username, a.PasswordHash).
		Scan(&saved.ID, &saved.Email, &saved.Username, &saved.PasswordHash)
	if err != nil {
		return model.Account{}, fmt.Errorf("upsert account: %w", err)
	}
	return saved, nil
}

func (s *Postgres) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, email, username, password_hash FROM accounts ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Watch opens a dedicated LISTEN connection on NotifyChannel. It waits for the
// listener to connect so that a failed setup is reported to the caller.
func (s *Postgres) Watch(ctx context.Context) (Subscription, error) {
	connected := make(chan error, 1)
	listener := pq.NewListener(s.dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			select {
			case connected <- nil:
			default:
			}
		case pq.ListenerEventConnectionAttemptFailed:
			select {
			case connected <- err:
			default:
			}
		case pq.ListenerEventDisconnected:
			s.log.Warn("Change feed disconnected", "error", err)
		case pq.ListenerEventReconnected:
			s.log.Info("Change feed reconnected")
		}
	})

	timer := time.NewTimer(listenTimeout)
	defer timer.Stop()
	select {
	case err := <-connected:
		if err != nil {
			_ = listener.Close()
			return nil, fmt.Errorf("change feed connect: %w", err)
		}
	case <-timer.C:
		_ = listener.Close()
		return nil, errors.New("change feed connect: timed out")
	case <-ctx.Done():
		_ = listener.Close()
		return nil, ctx.Err()
	}

	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}

	sub := newFeedSubscription(listener.Close)
	sub.spawn(func(stop <-chan struct{}) {
		for {
			select {
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil is sent after a reconnect; events in the gap are lost
				if n == nil {
					continue
				}
				var ev model.ChangeEvent
				if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
					s.log.Warn("Ignoring malformed change notification", "payload", n.Extra, "error", err)
					continue
				}
				if !sub.push(ev) {
					return
				}
			case <-stop:
				return
			}
		}
	})
	return sub, nil
}

func (s *Postgres) Close() error {
	return s.DB.Close()
}
