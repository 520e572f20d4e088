// Package ledger is the account layer: per-(user, key) unsigned balances
// where key is an asset name or model.CurrencyKey. Every balance mutation
// in the system goes through Accounts, which also appends a journal entry
// for each movement in the same transaction.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/store"
)

// Ref describes why a movement happened.
type Ref struct {
	Reason  string
	TradeID uint64
}

// Accounts is bound to one transaction and one logical clock value.
type Accounts struct {
	tx    store.Tx
	clock uint64
}

// New binds the account layer to tx. clock stamps journal entries.
func New(tx store.Tx, clock uint64) *Accounts {
	return &Accounts{tx: tx, clock: clock}
}

// Balance returns the balance for (user, key); unseen keys are zero.
func (a *Accounts) Balance(ctx context.Context, user, key string) (uint64, error) {
	return a.tx.GetBalance(ctx, user, key)
}

// Currency is shorthand for the settlement currency balance.
func (a *Accounts) Currency(ctx context.Context, user string) (uint64, error) {
	return a.tx.GetBalance(ctx, user, model.CurrencyKey)
}

// Asset is shorthand for an asset balance.
func (a *Accounts) Asset(ctx context.Context, user string, asset model.Asset) (uint64, error) {
	return a.tx.GetBalance(ctx, user, string(asset))
}

// Require fails with the insufficiency error matching key when the
// balance is below amount. It never mutates.
func (a *Accounts) Require(ctx context.Context, user, key string, amount uint64) error {
	bal, err := a.Balance(ctx, user, key)
	if err != nil {
		return err
	}
	if amount > bal {
		return insufficient(key, user, bal, amount)
	}
	return nil
}

// Credit increases (user, key) by amount.
func (a *Accounts) Credit(ctx context.Context, user, key string, amount uint64, ref Ref) error {
	if amount == 0 {
		return nil
	}
	bal, err := a.Balance(ctx, user, key)
	if err != nil {
		return err
	}
	next := bal + amount
	if next < bal {
		return fmt.Errorf("%w: credit of %d overflows %s balance of %s", model.ErrInvalidAmount, amount, key, user)
	}
	if err := a.tx.SetBalance(ctx, user, key, next); err != nil {
		return fmt.Errorf("credit %s/%s: %w", user, key, err)
	}
	return a.journal(ctx, user, key, true, amount, ref)
}

// Debit decreases (user, key) by amount, failing with
// ErrInsufficientBalance (currency) or ErrInsufficientAsset (assets) when
// the balance is too small.
func (a *Accounts) Debit(ctx context.Context, user, key string, amount uint64, ref Ref) error {
	if amount == 0 {
		return nil
	}
	bal, err := a.Balance(ctx, user, key)
	if err != nil {
		return err
	}
	if amount > bal {
		return insufficient(key, user, bal, amount)
	}
	if err := a.tx.SetBalance(ctx, user, key, bal-amount); err != nil {
		return fmt.Errorf("debit %s/%s: %w", user, key, err)
	}
	return a.journal(ctx, user, key, false, amount, ref)
}

// Snapshot returns every balance of user, zero-filled for the full asset set.
func (a *Accounts) Snapshot(ctx context.Context, user string) (model.Balances, error) {
	out := model.Balances{User: user, Assets: make(map[model.Asset]uint64)}
	cur, err := a.Currency(ctx, user)
	if err != nil {
		return out, err
	}
	out.Currency = cur
	for _, asset := range model.Assets() {
		bal, err := a.Asset(ctx, user, asset)
		if err != nil {
			return out, err
		}
		out.Assets[asset] = bal
	}
	return out, nil
}

func (a *Accounts) journal(ctx context.Context, user, key string, credit bool, amount uint64, ref Ref) error {
	return a.tx.AppendJournal(ctx, &model.JournalEntry{
		ID:      uuid.NewString(),
		User:    user,
		Key:     key,
		Credit:  credit,
		Amount:  amount,
		Reason:  ref.Reason,
		TradeID: ref.TradeID,
		Clock:   a.clock,
	})
}

func insufficient(key, user string, have, want uint64) error {
	kind := model.ErrInsufficientAsset
	if key == model.CurrencyKey {
		kind = model.ErrInsufficientBalance
	}
	return fmt.Errorf("%w: %s holds %d %s, needs %d", kind, user, have, key, want)
}
