// Package book holds trade records and drives the trade state machine:
//
//	Open -> Completed   (purchase)
//	Open -> Cancelled   (cancel by seller)
//
// Both targets are terminal. Expiry is derived from the clock and never
// stored; an expired trade stays Open until its seller cancels it, so the
// escrow is released only by purchase or cancel.
package book

import (
	"context"
	"fmt"

	"github.com/atmx/energy-ledger/internal/ledger"
	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/store"
)

// DefaultExpiryWindow is how many clock ticks an Open trade may be bought
// for (one day of Unix seconds).
const DefaultExpiryWindow uint64 = 86_400

// Book is bound to one transaction and its account layer.
type Book struct {
	tx       store.Tx
	accounts *ledger.Accounts
}

// New binds the book to tx; escrow moves through accounts.
func New(tx store.Tx, accounts *ledger.Accounts) *Book {
	return &Book{tx: tx, accounts: accounts}
}

// Get loads a trade or fails with ErrTradeNotFound.
func (b *Book) Get(ctx context.Context, id uint64) (*model.Trade, error) {
	t, err := b.tx.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %d", model.ErrTradeNotFound, id)
	}
	return t, nil
}

// Open escrows qty of the seller's asset and stores a new Open trade with
// the next ID from stats. The caller validates everything except the
// seller's asset balance, which Debit enforces.
func (b *Book) Open(ctx context.Context, stats *model.GlobalStats, seller string, asset model.Asset, qty, price, now, window uint64) (*model.Trade, error) {
	id := stats.NextTradeID
	if id == 0 {
		id = 1
	}
	expires := now + window
	if expires < now {
		return nil, fmt.Errorf("%w: expiry overflows clock", model.ErrInvalidAmount)
	}

	if err := b.accounts.Debit(ctx, seller, string(asset), qty, ledger.Ref{Reason: model.ReasonEscrow, TradeID: id}); err != nil {
		return nil, err
	}

	t := &model.Trade{
		ID:        id,
		Seller:    seller,
		Asset:     asset,
		Quantity:  qty,
		Price:     price,
		CreatedAt: now,
		ExpiresAt: expires,
		State:     model.TradeOpen,
	}
	if err := b.tx.PutTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("put trade %d: %w", id, err)
	}
	stats.NextTradeID = id + 1
	return t, nil
}

// CheckPurchasable validates a purchase against the trade without
// mutating anything. Order: state, expiry, self-purchase.
func CheckPurchasable(t *model.Trade, buyer string, now uint64) error {
	if t.State != model.TradeOpen {
		return fmt.Errorf("%w: trade %d is %s", model.ErrAlreadyProcessed, t.ID, t.State)
	}
	if t.Expired(now) {
		return fmt.Errorf("%w: trade %d expired at %d", model.ErrTradeExpired, t.ID, t.ExpiresAt)
	}
	if buyer == t.Seller {
		return fmt.Errorf("%w: seller cannot buy own trade %d", model.ErrNotAuthorized, t.ID)
	}
	return nil
}

// CheckCancellable validates a cancel without mutating anything.
func CheckCancellable(t *model.Trade, caller string) error {
	if caller != t.Seller {
		return fmt.Errorf("%w: only the seller may cancel trade %d", model.ErrNotAuthorized, t.ID)
	}
	if t.State != model.TradeOpen {
		return fmt.Errorf("%w: trade %d is %s", model.ErrAlreadyProcessed, t.ID, t.State)
	}
	return nil
}

// Complete releases the escrow to buyer and marks the trade Completed.
// Currency legs are settled by the caller in the same transaction.
func (b *Book) Complete(ctx context.Context, t *model.Trade, buyer string, now uint64) error {
	if err := CheckPurchasable(t, buyer, now); err != nil {
		return err
	}
	if err := t.Transition(model.TradeCompleted); err != nil {
		return err
	}
	t.Buyer = buyer
	if err := b.accounts.Credit(ctx, buyer, string(t.Asset), t.Quantity, ledger.Ref{Reason: model.ReasonSettle, TradeID: t.ID}); err != nil {
		return err
	}
	return b.tx.PutTrade(ctx, t)
}

// Cancel returns the escrowed quantity to the seller, without fee, and
// marks the trade Cancelled.
func (b *Book) Cancel(ctx context.Context, t *model.Trade, caller string) error {
	if err := CheckCancellable(t, caller); err != nil {
		return err
	}
	if err := t.Transition(model.TradeCancelled); err != nil {
		return err
	}
	if err := b.accounts.Credit(ctx, t.Seller, string(t.Asset), t.Quantity, ledger.Ref{Reason: model.ReasonEscrowRelease, TradeID: t.ID}); err != nil {
		return err
	}
	return b.tx.PutTrade(ctx, t)
}
