// Package events fans committed ledger changes out to subscribers.
// Publishing happens after commit and never affects the operation result.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/atmx/energy-ledger/internal/model"
)

// Event types.
const (
	TypeTradeCreated   = "trade_created"
	TypeTradeCompleted = "trade_completed"
	TypeTradeCancelled = "trade_cancelled"
	TypeConversion     = "conversion"
	TypeTradingToggled = "trading_toggled"
)

// Event is one committed change, serialized as JSON for every transport.
type Event struct {
	EventID  string      `json:"event_id"`
	Type     string      `json:"type"`
	User     string      `json:"user"`
	TradeID  uint64      `json:"trade_id,omitempty"`
	Asset    model.Asset `json:"asset,omitempty"`
	Quantity uint64      `json:"quantity,omitempty"`
	Amount   uint64      `json:"amount,omitempty"`
	Fee      uint64      `json:"fee,omitempty"`
	Enabled  *bool       `json:"enabled,omitempty"`
	Clock    uint64      `json:"clock"`
	// Seq orders events by the commit of the operation that produced them.
	Seq      uint64      `json:"seq"`
}

// New stamps a fresh event ID.
func New(typ, user string, clock uint64) Event {
	return Event{EventID: uuid.NewString(), Type: typ, User: user, Clock: clock}
}

// Publisher delivers events to one transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi publishes to every non-nil publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to a logger; useful when no transport is set.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("event", "type", ev.Type, "event_id", ev.EventID, "user", ev.User, "trade_id", ev.TradeID)
	return nil
}
