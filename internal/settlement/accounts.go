package settlement

import (
	"context"
	"fmt"

	"github.com/atmx/energy-ledger/internal/ledger"
	"github.com/atmx/energy-ledger/internal/model"
)

// RegisterProducer marks the caller as a verified producer of types.
func (e *Engine) RegisterProducer(ctx context.Context, c model.Caller, types []model.Asset) (*model.Producer, error) {
	var out *model.Producer
	err := e.run(ctx, "register_producer", c, func(s *session) error {
		p, err := s.registry.RegisterProducer(ctx, c.ID, types)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("producer registered", "user", c.ID, "asset_types", out.AssetTypes)
	return out, nil
}

// RegisterConsumer creates a zeroed consumer profile for the caller.
func (e *Engine) RegisterConsumer(ctx context.Context, c model.Caller, preferred []model.Asset) (*model.Consumer, error) {
	var out *model.Consumer
	err := e.run(ctx, "register_consumer", c, func(s *session) error {
		cons, err := s.registry.RegisterConsumer(ctx, c.ID, preferred)
		out = cons
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("consumer registered", "user", c.ID)
	return out, nil
}

// DepositAsset credits produced asset units to a verified producer and
// returns the new balance.
func (e *Engine) DepositAsset(ctx context.Context, c model.Caller, asset model.Asset, amount uint64) (uint64, error) {
	var bal uint64
	err := e.run(ctx, "deposit_asset", c, func(s *session) error {
		if !asset.Valid() {
			return fmt.Errorf("%w: unknown asset type %q", model.ErrInvalidAmount, asset)
		}
		if amount == 0 {
			return fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
		}
		if _, err := s.registry.RequireVerifiedProducer(ctx, c.ID); err != nil {
			return err
		}
		if err := s.accounts.Credit(ctx, c.ID, string(asset), amount, ledger.Ref{Reason: model.ReasonDeposit}); err != nil {
			return err
		}
		var err error
		bal, err = s.accounts.Asset(ctx, c.ID, asset)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("asset deposited", "user", c.ID, "asset", asset, "amount", amount, "balance", bal)
	return bal, nil
}

// DepositCurrency pulls amount from the caller through the treasury and
// credits it. The pull is the last step, so a failed pull leaves no trace.
func (e *Engine) DepositCurrency(ctx context.Context, c model.Caller, amount uint64) (uint64, error) {
	var bal uint64
	err := e.run(ctx, "deposit_currency", c, func(s *session) error {
		if amount == 0 {
			return fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
		}
		if err := s.accounts.Credit(ctx, c.ID, model.CurrencyKey, amount, ledger.Ref{Reason: model.ReasonDeposit}); err != nil {
			return err
		}
		var err error
		if bal, err = s.accounts.Currency(ctx, c.ID); err != nil {
			return err
		}
		if err := e.treasury.Pull(ctx, c.ID, amount); err != nil {
			return fmt.Errorf("treasury pull: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("currency deposited", "user", c.ID, "amount", amount, "balance", bal)
	return bal, nil
}

// WithdrawCurrency debits amount and pushes it to the caller.
func (e *Engine) WithdrawCurrency(ctx context.Context, c model.Caller, amount uint64) (uint64, error) {
	var bal uint64
	err := e.run(ctx, "withdraw_currency", c, func(s *session) error {
		if amount == 0 {
			return fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
		}
		if err := s.accounts.Require(ctx, c.ID, model.CurrencyKey, amount); err != nil {
			return err
		}
		if err := s.accounts.Debit(ctx, c.ID, model.CurrencyKey, amount, ledger.Ref{Reason: model.ReasonWithdraw}); err != nil {
			return err
		}
		var err error
		if bal, err = s.accounts.Currency(ctx, c.ID); err != nil {
			return err
		}
		if err := e.treasury.Push(ctx, c.ID, amount); err != nil {
			return fmt.Errorf("treasury push: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("currency withdrawn", "user", c.ID, "amount", amount, "balance", bal)
	return bal, nil
}
