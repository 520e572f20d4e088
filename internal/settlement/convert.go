package settlement

import (
	"context"
	"fmt"

	"github.com/atmx/energy-ledger/internal/events"
	"github.com/atmx/energy-ledger/internal/ledger"
	"github.com/atmx/energy-ledger/internal/metrics"
	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/pricing"
)

// ConvertAssetToCurrency sells qty of a producer's asset to the platform
// at the fixed rate. The producer receives gross minus fee.
func (e *Engine) ConvertAssetToCurrency(ctx context.Context, c model.Caller, asset model.Asset, qty uint64) (pricing.AssetQuote, error) {
	var q pricing.AssetQuote
	var seq uint64
	err := e.run(ctx, "convert_asset_to_currency", c, func(s *session) error {
		if err := s.requireTrading(); err != nil {
			return err
		}
		if !asset.Valid() {
			return fmt.Errorf("%w: unknown asset type %q", model.ErrInvalidAmount, asset)
		}
		if _, err := s.registry.RequireVerifiedProducer(ctx, c.ID); err != nil {
			return err
		}
		if err := s.accounts.Require(ctx, c.ID, string(asset), qty); err != nil {
			return err
		}
		var err error
		if q, err = e.rates.AssetToCurrency(asset, qty); err != nil {
			return err
		}

		ref := ledger.Ref{Reason: model.ReasonConvert}
		if err := s.accounts.Debit(ctx, c.ID, string(asset), qty, ref); err != nil {
			return err
		}
		if err := s.accounts.Credit(ctx, c.ID, model.CurrencyKey, q.Net, ref); err != nil {
			return err
		}
		if err := s.settleStats(0, q.Fee, qty, q.Gross); err != nil {
			return err
		}
		if err := s.registry.RecordProducerSale(ctx, c.ID, qty); err != nil {
			return err
		}
		seq, err = s.stamp()
		return err
	})
	if err != nil {
		return pricing.AssetQuote{}, err
	}

	metrics.AssetVolume.WithLabelValues(string(asset), "conversion").Add(float64(qty))
	metrics.FeesAccrued.WithLabelValues("conversion").Add(float64(q.Fee))
	e.logger.Info("asset converted to currency",
		"user", c.ID, "asset", asset, "qty", qty,
		"gross", q.Gross, "fee", q.Fee, "net", q.Net)

	ev := events.New(events.TypeConversion, c.ID, c.Now)
	ev.Asset, ev.Quantity, ev.Amount, ev.Fee = asset, qty, q.Net, q.Fee
	ev.Seq = seq
	e.publish(ctx, ev)
	return q, nil
}

// ConvertCurrencyToAsset buys asset from the platform with amount of
// currency. The caller pays amount plus fee.
func (e *Engine) ConvertCurrencyToAsset(ctx context.Context, c model.Caller, asset model.Asset, amount uint64) (pricing.CurrencyQuote, error) {
	var q pricing.CurrencyQuote
	var seq uint64
	err := e.run(ctx, "convert_currency_to_asset", c, func(s *session) error {
		if err := s.requireTrading(); err != nil {
			return err
		}
		if !asset.Valid() {
			return fmt.Errorf("%w: unknown asset type %q", model.ErrInvalidAmount, asset)
		}
		var err error
		if q, err = e.rates.CurrencyToAsset(asset, amount); err != nil {
			return err
		}
		if err := s.accounts.Require(ctx, c.ID, model.CurrencyKey, q.Total); err != nil {
			return err
		}

		ref := ledger.Ref{Reason: model.ReasonConvert}
		if err := s.accounts.Debit(ctx, c.ID, model.CurrencyKey, q.Total, ref); err != nil {
			return err
		}
		if err := s.accounts.Credit(ctx, c.ID, string(asset), q.Quantity, ref); err != nil {
			return err
		}
		if err := s.settleStats(0, q.Fee, 0, 0); err != nil {
			return err
		}
		if err := s.registry.RecordConsumerPurchase(ctx, c.ID, q.Quantity); err != nil {
			return err
		}
		seq, err = s.stamp()
		return err
	})
	if err != nil {
		return pricing.CurrencyQuote{}, err
	}

	metrics.AssetVolume.WithLabelValues(string(asset), "conversion").Add(float64(q.Quantity))
	metrics.FeesAccrued.WithLabelValues("conversion").Add(float64(q.Fee))
	e.logger.Info("currency converted to asset",
		"user", c.ID, "asset", asset, "amount", amount, "qty", q.Quantity, "fee", q.Fee)

	ev := events.New(events.TypeConversion, c.ID, c.Now)
	ev.Asset, ev.Quantity, ev.Amount, ev.Fee = asset, q.Quantity, amount, q.Fee
	ev.Seq = seq
	e.publish(ctx, ev)
	return q, nil
}

// PreviewAssetToCurrency quotes a conversion without touching any state.
func (e *Engine) PreviewAssetToCurrency(asset model.Asset, qty uint64) (pricing.AssetQuote, error) {
	return e.rates.AssetToCurrency(asset, qty)
}

// PreviewCurrencyToAsset quotes a conversion without touching any state.
func (e *Engine) PreviewCurrencyToAsset(asset model.Asset, amount uint64) (pricing.CurrencyQuote, error) {
	return e.rates.CurrencyToAsset(asset, amount)
}
