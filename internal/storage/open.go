package storage

import (
	"context"
	"time"

	logx "iranfinance/pkg/logx"
)

// Store is the persistence API used by the bot.
type Store interface {
	// Catalogue.
	Upsert(ctx context.Context, name string, value float64, at time.Time) error
	ListNames(ctx context.Context) ([]string, error)
	Get(ctx context.Context, names []string) (map[string]Item, error)

	// Subscribers.
	EnsureSubscriber(ctx context.Context, id int64, displayName string) error
	Subscriber(ctx context.Context, id int64) (Subscriber, error)
	Subscriptions(ctx context.Context, id int64) ([]string, error)
	ReplaceSubscriptions(ctx context.Context, id int64, names []string) error
	ActiveSubscribers(ctx context.Context) ([]Subscriber, error)
	SetPointer(ctx context.Context, id int64, messageID int) error

	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open opens (and migrates) the SQLite database at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
