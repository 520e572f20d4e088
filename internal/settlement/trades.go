package settlement

import (
	"context"
	"fmt"

	"github.com/atmx/energy-ledger/internal/book"
	"github.com/atmx/energy-ledger/internal/events"
	"github.com/atmx/energy-ledger/internal/ledger"
	"github.com/atmx/energy-ledger/internal/metrics"
	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/pricing"
)

// Receipt describes a completed purchase.
type Receipt struct {
	Trade *model.Trade `json:"trade"`
	Fee   uint64       `json:"fee"`
	Paid  uint64       `json:"paid"` // price + fee, debited from the buyer
}

// CreateTrade lists qty of a verified producer's asset for price and
// escrows the quantity until purchase or cancel.
func (e *Engine) CreateTrade(ctx context.Context, c model.Caller, asset model.Asset, qty, price uint64) (*model.Trade, error) {
	var t *model.Trade
	var seq uint64
	err := e.run(ctx, "create_trade", c, func(s *session) error {
		if err := s.requireTrading(); err != nil {
			return err
		}
		if !asset.Valid() {
			return fmt.Errorf("%w: unknown asset type %q", model.ErrInvalidAmount, asset)
		}
		if qty < s.stats.MinTradeAmount || qty == 0 {
			return fmt.Errorf("%w: quantity %d below minimum %d", model.ErrInvalidAmount, qty, s.stats.MinTradeAmount)
		}
		if price == 0 {
			return fmt.Errorf("%w: price must be positive", model.ErrInvalidAmount)
		}
		if _, err := s.registry.RequireVerifiedProducer(ctx, c.ID); err != nil {
			return err
		}
		if err := s.accounts.Require(ctx, c.ID, string(asset), qty); err != nil {
			return err
		}
		var err error
		if t, err = s.book.Open(ctx, s.stats, c.ID, asset, qty, price, c.Now, e.window); err != nil {
			return err
		}
		seq, err = s.stamp()
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(asset), string(model.TradeOpen)).Inc()
	metrics.OpenTrades.Inc()
	e.logger.Info("trade created",
		"trade_id", t.ID, "seller", c.ID, "asset", asset,
		"qty", qty, "price", price, "expires_at", t.ExpiresAt)

	ev := events.New(events.TypeTradeCreated, c.ID, c.Now)
	ev.TradeID, ev.Asset, ev.Quantity, ev.Amount = t.ID, asset, qty, price
	ev.Seq = seq
	e.publish(ctx, ev)
	return t, nil
}

// Purchase buys an open, unexpired trade. The buyer pays price plus fee;
// the seller receives price; the fee goes to the pool; the escrowed
// quantity goes to the buyer.
func (e *Engine) Purchase(ctx context.Context, c model.Caller, tradeID uint64) (*Receipt, error) {
	var r Receipt
	var seq uint64
	err := e.run(ctx, "purchase", c, func(s *session) error {
		if err := s.requireTrading(); err != nil {
			return err
		}
		t, err := s.book.Get(ctx, tradeID)
		if err != nil {
			return err
		}
		if err := book.CheckPurchasable(t, c.ID, c.Now); err != nil {
			return err
		}
		fee, err := e.rates.Fee(t.Price)
		if err != nil {
			return err
		}
		total, err := pricing.Add(t.Price, fee)
		if err != nil {
			return err
		}
		if err := s.accounts.Require(ctx, c.ID, model.CurrencyKey, total); err != nil {
			return err
		}

		ref := ledger.Ref{Reason: model.ReasonSettle, TradeID: t.ID}
		if err := s.accounts.Debit(ctx, c.ID, model.CurrencyKey, total, ref); err != nil {
			return err
		}
		if err := s.accounts.Credit(ctx, t.Seller, model.CurrencyKey, t.Price, ref); err != nil {
			return err
		}
		if err := s.book.Complete(ctx, t, c.ID, c.Now); err != nil {
			return err
		}
		if err := s.registry.RecordProducerSale(ctx, t.Seller, t.Quantity); err != nil {
			return err
		}
		if err := s.registry.RecordConsumerPurchase(ctx, c.ID, t.Quantity); err != nil {
			return err
		}
		if err := s.settleStats(1, fee, t.Quantity, t.Price); err != nil {
			return err
		}
		if seq, err = s.stamp(); err != nil {
			return err
		}

		r = Receipt{Trade: t, Fee: fee, Paid: total}
		return nil
	})
	if err != nil {
		return nil, err
	}

	t := r.Trade
	metrics.TradesTotal.WithLabelValues(string(t.Asset), string(model.TradeCompleted)).Inc()
	metrics.OpenTrades.Dec()
	metrics.AssetVolume.WithLabelValues(string(t.Asset), "trade").Add(float64(t.Quantity))
	metrics.FeesAccrued.WithLabelValues("trade").Add(float64(r.Fee))
	e.logger.Info("trade purchased",
		"trade_id", t.ID, "seller", t.Seller, "buyer", c.ID,
		"asset", t.Asset, "qty", t.Quantity, "price", t.Price, "fee", r.Fee)

	ev := events.New(events.TypeTradeCompleted, c.ID, c.Now)
	ev.TradeID, ev.Asset, ev.Quantity, ev.Amount, ev.Fee = t.ID, t.Asset, t.Quantity, t.Price, r.Fee
	ev.Seq = seq
	e.publish(ctx, ev)
	return &r, nil
}

// CancelTrade returns the escrow of an open trade to its seller. Expired
// trades stay cancellable. Cancelling is allowed while trading is paused.
func (e *Engine) CancelTrade(ctx context.Context, c model.Caller, tradeID uint64) (*model.Trade, error) {
	var t *model.Trade
	var seq uint64
	err := e.run(ctx, "cancel_trade", c, func(s *session) error {
		var err error
		if t, err = s.book.Get(ctx, tradeID); err != nil {
			return err
		}
		if err := book.CheckCancellable(t, c.ID); err != nil {
			return err
		}
		if err := s.book.Cancel(ctx, t, c.ID); err != nil {
			return err
		}
		seq, err = s.stamp()
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.TradesTotal.WithLabelValues(string(t.Asset), string(model.TradeCancelled)).Inc()
	metrics.OpenTrades.Dec()
	e.logger.Info("trade cancelled", "trade_id", t.ID, "seller", t.Seller, "asset", t.Asset, "qty", t.Quantity)

	ev := events.New(events.TypeTradeCancelled, c.ID, c.Now)
	ev.TradeID, ev.Asset, ev.Quantity = t.ID, t.Asset, t.Quantity
	ev.Seq = seq
	e.publish(ctx, ev)
	return t, nil
}
