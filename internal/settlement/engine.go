// Package settlement orchestrates every public ledger operation:
// registration, deposits and withdrawals, conversions at fixed rates, and
// the trade lifecycle with escrow.
//
// Each operation runs inside one store.Update. All preconditions are
// checked before the first write, and any error discards every staged
// write, so an operation either commits in full or leaves no trace.
// Events are published only after commit.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/energy-ledger/internal/book"
	"github.com/atmx/energy-ledger/internal/events"
	"github.com/atmx/energy-ledger/internal/ledger"
	"github.com/atmx/energy-ledger/internal/metrics"
	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/pricing"
	"github.com/atmx/energy-ledger/internal/registry"
	"github.com/atmx/energy-ledger/internal/store"
)

// ErrNotInitialized is returned when the global state record is missing.
var ErrNotInitialized = errors.New("settlement: ledger not initialized")

// Treasury is the host's transfer primitive for settlement currency
// entering and leaving the ledger.
type Treasury interface {
	// Pull moves amount from the user's external funds into the ledger.
	Pull(ctx context.Context, user string, amount uint64) error
	// Push pays amount out of the ledger to the user.
	Push(ctx context.Context, user string, amount uint64) error
}

// Options configures an Engine.
type Options struct {
	// Owner is the only identity allowed to run admin operations. It is
	// fixed when the ledger is first initialized.
	Owner          string
	MinTradeAmount uint64
	ExpiryWindow   uint64
	Rates          *pricing.Table
	Treasury       Treasury
	Publisher      events.Publisher
	Logger         *slog.Logger
}

// Engine runs ledger operations against a Store.
type Engine struct {
	store     store.Store
	rates     *pricing.Table
	window    uint64
	treasury  Treasury
	publisher events.Publisher
	logger    *slog.Logger
}

// New creates an engine and initializes the global state record on first
// use. An existing record is kept as is, including its owner.
func New(ctx context.Context, st store.Store, opts Options) (*Engine, error) {
	if opts.Owner == "" {
		return nil, errors.New("settlement: owner is required")
	}
	if opts.Rates == nil {
		opts.Rates = pricing.Default()
	}
	if opts.ExpiryWindow == 0 {
		opts.ExpiryWindow = book.DefaultExpiryWindow
	}
	if opts.MinTradeAmount == 0 {
		opts.MinTradeAmount = 1
	}
	if opts.Treasury == nil {
		opts.Treasury = NopTreasury{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.LogPublisher{Logger: opts.Logger}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Engine{
		store:     st,
		rates:     opts.Rates,
		window:    opts.ExpiryWindow,
		treasury:  opts.Treasury,
		publisher: opts.Publisher,
		logger:    opts.Logger,
	}

	err := st.Update(ctx, func(tx store.Tx) error {
		stats, err := tx.GetStats(ctx)
		if err != nil {
			return err
		}
		if stats != nil {
			if stats.Owner != opts.Owner {
				e.logger.Warn("configured owner ignored, ledger already initialized",
					"owner", stats.Owner, "configured", opts.Owner)
			}
			return nil
		}
		return tx.PutStats(ctx, &model.GlobalStats{
			Owner:          opts.Owner,
			NextTradeID:    1,
			TradingEnabled: true,
			MinTradeAmount: opts.MinTradeAmount,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("initialize ledger: %w", err)
	}

	open, err := st.ListTrades(ctx, model.TradeFilter{State: model.TradeOpen})
	if err != nil {
		return nil, fmt.Errorf("count open trades: %w", err)
	}
	metrics.OpenTrades.Set(float64(len(open)))
	return e, nil
}

// Rates exposes the engine's rate table.
func (e *Engine) Rates() *pricing.Table { return e.rates }

// session bundles the per-transaction components of one operation.
type session struct {
	tx       store.Tx
	stats    *model.GlobalStats
	accounts *ledger.Accounts
	registry *registry.Registry
	book     *book.Book
}

func (s *session) requireTrading() error {
	if !s.stats.TradingEnabled {
		return fmt.Errorf("%w: trading is disabled", model.ErrNotAuthorized)
	}
	return nil
}

func (s *session) requireOwner(caller string) error {
	if caller == "" || caller != s.stats.Owner {
		return fmt.Errorf("%w: %s is not the owner", model.ErrNotAuthorized, caller)
	}
	return nil
}

// stamp allocates the next event sequence number. Read-write transactions
// are serialized, so sequence order is commit order.
func (s *session) stamp() (uint64, error) {
	if err := accrue(&s.stats.EventSeq, 1); err != nil {
		return 0, err
	}
	return s.stats.EventSeq, nil
}

// settleStats adds one settlement's trade count, fee and volumes to the
// global counters.
func (s *session) settleStats(trades, fee, assetQty, currency uint64) error {
	for _, c := range []struct {
		dst   *uint64
		delta uint64
	}{
		{&s.stats.TotalTrades, trades},
		{&s.stats.FeePool, fee},
		{&s.stats.TotalAssetVolume, assetQty},
		{&s.stats.TotalCurrencyVolume, currency},
	} {
		if err := accrue(c.dst, c.delta); err != nil {
			return err
		}
	}
	return nil
}

// accrue adds delta to a counter and fails instead of wrapping.
func accrue(counter *uint64, delta uint64) error {
	v, err := pricing.Add(*counter, delta)
	if err != nil {
		return fmt.Errorf("stats counter: %w", err)
	}
	*counter = v
	return nil
}

// run executes fn in one serialized transaction and records metrics.
// Stats are written back after fn succeeds.
func (e *Engine) run(ctx context.Context, op string, c model.Caller, fn func(s *session) error) error {
	start := time.Now()
	err := func() error {
		if c.ID == "" {
			return fmt.Errorf("%w: caller identity required", model.ErrNotAuthorized)
		}
		return e.store.Update(ctx, func(tx store.Tx) error {
			stats, err := tx.GetStats(ctx)
			if err != nil {
				return err
			}
			if stats == nil {
				return ErrNotInitialized
			}
			accounts := ledger.New(tx, c.Now)
			s := &session{
				tx:       tx,
				stats:    stats,
				accounts: accounts,
				registry: registry.New(tx),
				book:     book.New(tx, accounts),
			}
			if err := fn(s); err != nil {
				return err
			}
			return tx.PutStats(ctx, stats)
		})
	}()
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.OperationsTotal.WithLabelValues(op, Outcome(err)).Inc()
	if err != nil {
		e.logger.Debug("operation rejected", "op", op, "user", c.ID, "err", err)
	}
	return err
}

// view runs fn against a read-only snapshot.
func (e *Engine) view(ctx context.Context, fn func(s *session) error) error {
	return e.store.View(ctx, func(tx store.Tx) error {
		stats, err := tx.GetStats(ctx)
		if err != nil {
			return err
		}
		if stats == nil {
			return ErrNotInitialized
		}
		accounts := ledger.New(tx, 0)
		return fn(&session{
			tx:       tx,
			stats:    stats,
			accounts: accounts,
			registry: registry.New(tx),
			book:     book.New(tx, accounts),
		})
	})
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("event publish failed", "type", ev.Type, "event_id", ev.EventID, "err", err)
	}
}

// Outcome maps an operation error to a metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, model.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, model.ErrInsufficientAsset):
		return "insufficient_asset"
	case errors.Is(err, model.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, model.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, model.ErrTradeNotFound):
		return "trade_not_found"
	case errors.Is(err, model.ErrTradeExpired):
		return "trade_expired"
	case errors.Is(err, model.ErrAlreadyProcessed):
		return "already_processed"
	default:
		return "error"
	}
}

// NopTreasury accepts every transfer. It stands in for a host without an
// external settlement rail.
type NopTreasury struct{}

func (NopTreasury) Pull(context.Context, string, uint64) error { return nil }
func (NopTreasury) Push(context.Context, string, uint64) error { return nil }
