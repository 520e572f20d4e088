// Package store defines the persistence interface for the ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every state change happens inside Update, which commits all writes of
// one operation atomically or none of them.
package store

import (
	"context"
	"errors"

	"github.com/atmx/energy-ledger/internal/model"
)

// ErrReadOnly is returned by write methods of a transaction opened with View.
var ErrReadOnly = errors.New("store: read-only transaction")

// Tx is the logical key/value surface one operation reads and writes.
// Lookups of absent records return the zero value (balances) or nil
// (profiles, trades, stats) with a nil error.
type Tx interface {
	// --- Accounts ---

	// GetBalance returns the balance for (user, key), zero if never written.
	GetBalance(ctx context.Context, user, key string) (uint64, error)

	// SetBalance overwrites the balance for (user, key).
	SetBalance(ctx context.Context, user, key string, amount uint64) error

	// AppendJournal records an immutable balance movement.
	AppendJournal(ctx context.Context, entry *model.JournalEntry) error

	// --- Profiles ---

	GetProducer(ctx context.Context, user string) (*model.Producer, error)
	PutProducer(ctx context.Context, p *model.Producer) error
	GetConsumer(ctx context.Context, user string) (*model.Consumer, error)
	PutConsumer(ctx context.Context, c *model.Consumer) error

	// --- Trades ---

	GetTrade(ctx context.Context, id uint64) (*model.Trade, error)
	PutTrade(ctx context.Context, t *model.Trade) error

	// --- Global state ---

	GetStats(ctx context.Context) (*model.GlobalStats, error)
	PutStats(ctx context.Context, s *model.GlobalStats) error
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// Update runs fn in a serialized read-write transaction. If fn returns
	// an error no write is applied.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error

	// ListTrades returns trades matching the filter ordered by ID.
	ListTrades(ctx context.Context, filter model.TradeFilter) ([]model.Trade, error)

	// JournalByUser returns all balance movements of a user in commit order.
	JournalByUser(ctx context.Context, user string) ([]model.JournalEntry, error)
}
