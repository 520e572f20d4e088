// Package pricing implements the fixed rate table and the fee arithmetic
// used by conversions and trade settlement.
//
// Rates are fixed-point: currency minor units per Scale asset units.
// Every division truncates toward zero, so converting one way and back
// always loses value to truncation and fees. That loss is intended.
//
// Intermediate products are computed with shopspring/decimal so that
// large quantities cannot silently wrap around uint64.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/energy-ledger/internal/model"
)

const (
	// Scale is the fixed-point denominator of every rate.
	Scale uint64 = 1000

	// DefaultFeeBps is the platform fee in basis points (1%).
	DefaultFeeBps uint64 = 100

	bpsDenominator uint64 = 10000
)

// ErrOverflow is returned when a computed amount does not fit in uint64.
var ErrOverflow = errors.New("pricing: amount overflows uint64")

// DefaultRates is the rate table of the reference deployment.
var DefaultRates = map[model.Asset]uint64{
	model.AssetSolar:   1_200_000,
	model.AssetWind:    1_000_000,
	model.AssetHydro:   800_000,
	model.AssetBiomass: 600_000,
}

// Table is an immutable rate lookup plus fee rate. It is stateless beyond
// its construction arguments and safe for concurrent use.
type Table struct {
	rates  map[model.Asset]uint64
	feeBps uint64
}

// NewTable validates and copies the given rates. Every asset of the closed
// set must have a positive rate, and no other asset may appear.
func NewTable(rates map[model.Asset]uint64, feeBps uint64) (*Table, error) {
	if feeBps >= bpsDenominator {
		return nil, fmt.Errorf("pricing: fee %d bps must be below %d", feeBps, bpsDenominator)
	}
	t := &Table{rates: make(map[model.Asset]uint64, len(rates)), feeBps: feeBps}
	for a, r := range rates {
		if !a.Valid() {
			return nil, fmt.Errorf("pricing: rate for unknown asset %q", a)
		}
		if r == 0 {
			return nil, fmt.Errorf("pricing: rate for %s must be positive", a)
		}
		t.rates[a] = r
	}
	for _, a := range model.Assets() {
		if _, ok := t.rates[a]; !ok {
			return nil, fmt.Errorf("pricing: missing rate for %s", a)
		}
	}
	return t, nil
}

// Default returns the reference rate table with the default fee.
func Default() *Table {
	t, err := NewTable(DefaultRates, DefaultFeeBps)
	if err != nil {
		panic(err)
	}
	return t
}

// FeeBps returns the fee rate in basis points.
func (t *Table) FeeBps() uint64 { return t.feeBps }

// Rate returns the fixed rate for a. Unknown assets are rejected; there is
// no fallback rate.
func (t *Table) Rate(a model.Asset) (uint64, error) {
	r, ok := t.rates[a]
	if !ok {
		return 0, fmt.Errorf("%w: no rate for asset %q", model.ErrInvalidAmount, a)
	}
	return r, nil
}

// Rates returns a copy of the whole table.
func (t *Table) Rates() map[model.Asset]uint64 {
	out := make(map[model.Asset]uint64, len(t.rates))
	for a, r := range t.rates {
		out[a] = r
	}
	return out
}

// Fee returns floor(amount * feeBps / 10000).
func (t *Table) Fee(amount uint64) (uint64, error) {
	return MulDiv(amount, t.feeBps, bpsDenominator)
}

// AssetQuote is the outcome of selling qty of an asset for currency.
type AssetQuote struct {
	Asset    model.Asset `json:"asset"`
	Quantity uint64      `json:"quantity"`
	Gross    uint64      `json:"gross"`
	Fee      uint64      `json:"fee"`
	Net      uint64      `json:"net"`
}

// AssetToCurrency computes gross = qty*rate/Scale, fee on gross, net = gross-fee.
func (t *Table) AssetToCurrency(a model.Asset, qty uint64) (AssetQuote, error) {
	if qty == 0 {
		return AssetQuote{}, fmt.Errorf("%w: quantity must be positive", model.ErrInvalidAmount)
	}
	rate, err := t.Rate(a)
	if err != nil {
		return AssetQuote{}, err
	}
	gross, err := MulDiv(qty, rate, Scale)
	if err != nil {
		return AssetQuote{}, err
	}
	fee, err := t.Fee(gross)
	if err != nil {
		return AssetQuote{}, err
	}
	return AssetQuote{Asset: a, Quantity: qty, Gross: gross, Fee: fee, Net: gross - fee}, nil
}

// CurrencyQuote is the outcome of spending amount of currency on an asset.
// Total is what the buyer must hold: amount plus fee.
type CurrencyQuote struct {
	Asset    model.Asset `json:"asset"`
	Amount   uint64      `json:"amount"`
	Quantity uint64      `json:"quantity"`
	Fee      uint64      `json:"fee"`
	Total    uint64      `json:"total"`
}

// CurrencyToAsset computes qty = amount*Scale/rate and fee on amount.
// An amount too small to buy a single unit is rejected.
func (t *Table) CurrencyToAsset(a model.Asset, amount uint64) (CurrencyQuote, error) {
	if amount == 0 {
		return CurrencyQuote{}, fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	rate, err := t.Rate(a)
	if err != nil {
		return CurrencyQuote{}, err
	}
	qty, err := MulDiv(amount, Scale, rate)
	if err != nil {
		return CurrencyQuote{}, err
	}
	if qty == 0 {
		return CurrencyQuote{}, fmt.Errorf("%w: amount %d buys no %s", model.ErrInvalidAmount, amount, a)
	}
	fee, err := t.Fee(amount)
	if err != nil {
		return CurrencyQuote{}, err
	}
	total, err := Add(amount, fee)
	if err != nil {
		return CurrencyQuote{}, err
	}
	return CurrencyQuote{Asset: a, Amount: amount, Quantity: qty, Fee: fee, Total: total}, nil
}

// MulDiv returns floor(a*b/c) without intermediate overflow.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, errors.New("pricing: division by zero")
	}
	q, _ := decimal.NewFromUint64(a).
		Mul(decimal.NewFromUint64(b)).
		QuoRem(decimal.NewFromUint64(c), 0)
	return toUint64(q)
}

// Add returns a+b, failing instead of wrapping.
func Add(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, fmt.Errorf("%w: %w", model.ErrInvalidAmount, ErrOverflow)
	}
	return s, nil
}

func toUint64(d decimal.Decimal) (uint64, error) {
	bi := d.BigInt()
	if bi.Sign() < 0 || !bi.IsUint64() {
		return 0, fmt.Errorf("%w: %w", model.ErrInvalidAmount, ErrOverflow)
	}
	return bi.Uint64(), nil
}
