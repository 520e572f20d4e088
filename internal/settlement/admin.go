package settlement

import (
	"context"
	"fmt"

	"github.com/atmx/energy-ledger/internal/events"
	"github.com/atmx/energy-ledger/internal/model"
)

// ToggleTrading flips the trading flag and returns its new value.
func (e *Engine) ToggleTrading(ctx context.Context, c model.Caller) (bool, error) {
	var enabled bool
	var seq uint64
	err := e.run(ctx, "toggle_trading", c, func(s *session) error {
		if err := s.requireOwner(c.ID); err != nil {
			return err
		}
		s.stats.TradingEnabled = !s.stats.TradingEnabled
		enabled = s.stats.TradingEnabled
		var err error
		seq, err = s.stamp()
		return err
	})
	if err != nil {
		return false, err
	}
	e.logger.Info("trading toggled", "owner", c.ID, "enabled", enabled)
	e.publishToggle(ctx, c, enabled, seq)
	return enabled, nil
}

// EmergencyPause disables trading. Pausing a paused ledger is a no-op.
func (e *Engine) EmergencyPause(ctx context.Context, c model.Caller) error {
	var seq uint64
	err := e.run(ctx, "emergency_pause", c, func(s *session) error {
		if err := s.requireOwner(c.ID); err != nil {
			return err
		}
		s.stats.TradingEnabled = false
		var err error
		seq, err = s.stamp()
		return err
	})
	if err != nil {
		return err
	}
	e.logger.Warn("emergency pause", "owner", c.ID)
	e.publishToggle(ctx, c, false, seq)
	return nil
}

// SetMinTradeAmount sets the smallest quantity create_trade accepts.
func (e *Engine) SetMinTradeAmount(ctx context.Context, c model.Caller, amount uint64) error {
	err := e.run(ctx, "set_min_trade_amount", c, func(s *session) error {
		if err := s.requireOwner(c.ID); err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("%w: minimum trade amount must be positive", model.ErrInvalidAmount)
		}
		s.stats.MinTradeAmount = amount
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("minimum trade amount set", "owner", c.ID, "amount", amount)
	return nil
}

// WithdrawFees pays amount out of the fee pool to the owner and returns
// what remains in the pool.
func (e *Engine) WithdrawFees(ctx context.Context, c model.Caller, amount uint64) (uint64, error) {
	var remaining uint64
	err := e.run(ctx, "withdraw_fees", c, func(s *session) error {
		if err := s.requireOwner(c.ID); err != nil {
			return err
		}
		if amount == 0 {
			return fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
		}
		if amount > s.stats.FeePool {
			return fmt.Errorf("%w: fee pool holds %d, requested %d", model.ErrInsufficientBalance, s.stats.FeePool, amount)
		}
		s.stats.FeePool -= amount
		remaining = s.stats.FeePool
		if err := e.treasury.Push(ctx, c.ID, amount); err != nil {
			return fmt.Errorf("treasury push: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("fees withdrawn", "owner", c.ID, "amount", amount, "remaining", remaining)
	return remaining, nil
}

func (e *Engine) publishToggle(ctx context.Context, c model.Caller, enabled bool, seq uint64) {
	ev := events.New(events.TypeTradingToggled, c.ID, c.Now)
	ev.Enabled, ev.Seq = &enabled, seq
	e.publish(ctx, ev)
}
