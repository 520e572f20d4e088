package settlement

import (
	"context"

	"github.com/atmx/energy-ledger/internal/model"
)

// TradeView is a trade plus its derived expiry at the query clock.
type TradeView struct {
	model.Trade
	Expired bool `json:"expired"`
}

// StatsView is the global state plus derived statistics.
type StatsView struct {
	model.GlobalStats
	AverageTradeSize uint64 `json:"average_trade_size"`
	FeeBps           uint64 `json:"fee_bps"`
}

// AverageTradeSize is total asset volume per completed trade, zero when
// nothing has traded yet.
func AverageTradeSize(s model.GlobalStats) uint64 {
	if s.TotalTrades == 0 {
		return 0
	}
	return s.TotalAssetVolume / s.TotalTrades
}

// Balance returns one balance; unknown keys read as zero.
func (e *Engine) Balance(ctx context.Context, user, key string) (uint64, error) {
	var bal uint64
	err := e.view(ctx, func(s *session) error {
		var err error
		bal, err = s.accounts.Balance(ctx, user, key)
		return err
	})
	return bal, err
}

// Balances returns every balance of user.
func (e *Engine) Balances(ctx context.Context, user string) (model.Balances, error) {
	var out model.Balances
	err := e.view(ctx, func(s *session) error {
		var err error
		out, err = s.accounts.Snapshot(ctx, user)
		return err
	})
	return out, err
}

// Trade returns a trade with its expiry evaluated at now.
func (e *Engine) Trade(ctx context.Context, id, now uint64) (*TradeView, error) {
	var out *TradeView
	err := e.view(ctx, func(s *session) error {
		t, err := s.book.Get(ctx, id)
		if err != nil {
			return err
		}
		out = &TradeView{Trade: *t, Expired: t.Expired(now)}
		return nil
	})
	return out, err
}

// ListTrades returns trades matching filter with expiry evaluated at now.
func (e *Engine) ListTrades(ctx context.Context, filter model.TradeFilter, now uint64) ([]TradeView, error) {
	trades, err := e.store.ListTrades(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]TradeView, 0, len(trades))
	for i := range trades {
		out = append(out, TradeView{Trade: trades[i], Expired: trades[i].Expired(now)})
	}
	return out, nil
}

// Profile returns the tagged registration view of user.
func (e *Engine) Profile(ctx context.Context, user string) (model.Profile, error) {
	var out model.Profile
	err := e.view(ctx, func(s *session) error {
		var err error
		out, err = s.registry.Profile(ctx, user)
		return err
	})
	return out, err
}

// Stats returns the global counters with derived statistics.
func (e *Engine) Stats(ctx context.Context) (StatsView, error) {
	var out StatsView
	err := e.view(ctx, func(s *session) error {
		out = StatsView{
			GlobalStats:      *s.stats,
			AverageTradeSize: AverageTradeSize(*s.stats),
			FeeBps:           e.rates.FeeBps(),
		}
		return nil
	})
	return out, err
}

// Journal returns the balance movements of user in commit order.
func (e *Engine) Journal(ctx context.Context, user string) ([]model.JournalEntry, error) {
	entries, err := e.store.JournalByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	return entries, nil
}
