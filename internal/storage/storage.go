//go:generate go run go.uber.org/mock/mockgen -source=storage.go -destination=../mocks/mock_storage.go -package=mocks
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"messenger/internal/model"
)

var ErrUnsupportedScheme = errors.New("unsupported store scheme")

// MessageStore is the append-only source of truth for chat messages.
type MessageStore interface {
	// InsertMessage appends a message and returns it with its store assigned id.
	InsertMessage(ctx context.Context, in model.MessageInput) (model.Message, error)
	// ListMessages returns every message ordered by SentAt, ties in insertion order.
	ListMessages(ctx context.Context) ([]model.Message, error)
}

type AccountStore interface {
	// UpsertAccount creates or replaces the account keyed by email.
	UpsertAccount(ctx context.Context, a model.Account) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

// ChangeFeed emits one event per message insert.
type ChangeFeed interface {
	Watch(ctx context.Context) (Subscription, error)
}

type Store interface {
	MessageStore
	AccountStore
	ChangeFeed
	Close() error
}

// Open connects to the store named by rawURL. Postgres urls get their
// schema created on first use.
func Open(ctx context.Context, rawURL string, log *slog.Logger) (Store, error) {
	scheme, rest, _ := strings.Cut(rawURL, "://")
	switch scheme {
	case "postgres", "postgresql":
		pg, err := NewPostgres(ctx, rawURL, log)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	case "badger":
		return NewBadger(rest, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
}
