// Package model defines the core domain types shared across the ledger.
// All quantities are unsigned integers in minor units; never float64 for money.
package model

// CurrencyKey is the ledger key under which a user's settlement currency
// balance is held. Asset balances are keyed by the asset name.
const CurrencyKey = "currency"

// Caller identifies who is performing an operation and at which logical
// clock value. The host authenticates the ID; the ledger trusts it.
type Caller struct {
	ID  string `json:"id"`
	Now uint64 `json:"now"`
}

// TradeState is the stored lifecycle state of a trade.
// Expired is derived (see Trade.Expired), never stored.
type TradeState string

const (
	TradeOpen      TradeState = "open"
	TradeCompleted TradeState = "completed"
	TradeCancelled TradeState = "cancelled"
)

// Terminal reports whether no further transition is accepted.
func (s TradeState) Terminal() bool {
	return s == TradeCompleted || s == TradeCancelled
}

// Trade is a fixed-quantity sell listing. The seller's quantity is escrowed
// for as long as the trade is Open; the record itself is the escrow.
type Trade struct {
	ID        uint64     `json:"id" db:"id"`
	Seller    string     `json:"seller" db:"seller"`
	Buyer     string     `json:"buyer,omitempty" db:"buyer"` // empty until purchased
	Asset     Asset      `json:"asset" db:"asset"`
	Quantity  uint64     `json:"quantity" db:"quantity"`
	Price     uint64     `json:"price" db:"price"` // total, in currency minor units
	CreatedAt uint64     `json:"created_at" db:"created_at"`
	ExpiresAt uint64     `json:"expires_at" db:"expires_at"`
	State     TradeState `json:"state" db:"state"`
}

// Expired reports whether the trade is still Open but past its expiry.
func (t *Trade) Expired(now uint64) bool {
	return t.State == TradeOpen && now >= t.ExpiresAt
}

// Transition moves an Open trade to a terminal state. Terminal trades
// reject every transition.
func (t *Trade) Transition(to TradeState) error {
	if t.State != TradeOpen {
		return ErrAlreadyProcessed
	}
	if !to.Terminal() {
		return ErrInvalidTransition
	}
	t.State = to
	return nil
}

// TradeFilter narrows trade listings. Zero values match everything.
type TradeFilter struct {
	Asset  Asset
	Seller string
	State  TradeState
}

// Match reports whether t satisfies the filter.
func (f TradeFilter) Match(t *Trade) bool {
	if f.Asset != "" && t.Asset != f.Asset {
		return false
	}
	if f.Seller != "" && t.Seller != f.Seller {
		return false
	}
	if f.State != "" && t.State != f.State {
		return false
	}
	return true
}

// Producer is the profile of a user allowed to sell assets.
type Producer struct {
	User       string  `json:"user"`
	Verified   bool    `json:"verified"`
	AssetTypes []Asset `json:"asset_types"`
	TotalSold  uint64  `json:"total_sold"`
	Reputation uint64  `json:"reputation"`
}

// Consumer is the profile of a user that buys assets.
type Consumer struct {
	User           string  `json:"user"`
	TotalPurchased uint64  `json:"total_purchased"`
	PreferredTypes []Asset `json:"preferred_types"`
	Reputation     uint64  `json:"reputation"`
}

// Role tags which profile variant applies to a user.
type Role string

const (
	RoleUnregistered Role = "unregistered"
	RoleProducer     Role = "producer"
	RoleConsumer     Role = "consumer"
)

// Profile is the tagged view of a user's registration. Exactly the record
// matching Role is meaningful; a producer may also carry a consumer record
// once it has bought something.
type Profile struct {
	User     string    `json:"user"`
	Role     Role      `json:"role"`
	Producer *Producer `json:"producer,omitempty"`
	Consumer *Consumer `json:"consumer,omitempty"`
}

// VerifiedProducer reports whether the profile may act as a seller.
func (p Profile) VerifiedProducer() bool {
	return p.Role == RoleProducer && p.Producer != nil && p.Producer.Verified
}

// GlobalStats is the single system-wide state record: counters, the trade
// ID sequence, admin flags and the fee pool. It is created once at
// initialization and mutated only inside a committed operation.
type GlobalStats struct {
	Owner               string `json:"owner"`
	TotalTrades         uint64 `json:"total_trades"`
	TotalAssetVolume    uint64 `json:"total_asset_volume"`
	TotalCurrencyVolume uint64 `json:"total_currency_volume"`
	FeePool             uint64 `json:"fee_pool"`
	NextTradeID         uint64 `json:"next_trade_id"`
	TradingEnabled      bool   `json:"trading_enabled"`
	MinTradeAmount      uint64 `json:"min_trade_amount"`
	// EventSeq is the last sequence number stamped on a published event.
	EventSeq            uint64 `json:"event_seq"`
}

// JournalEntry is an immutable record of one balance movement.
// Once created, these are never modified or deleted.
type JournalEntry struct {
	ID      string `json:"id" db:"id"`
	User    string `json:"user" db:"user_id"`
	Key     string `json:"key" db:"key"`
	Credit  bool   `json:"credit" db:"credit"`
	Amount  uint64 `json:"amount" db:"amount"`
	Reason  string `json:"reason" db:"reason"`
	TradeID uint64 `json:"trade_id,omitempty" db:"trade_id"`
	Clock   uint64 `json:"clock" db:"clock"`
}

// Journal reasons.
const (
	ReasonDeposit       = "deposit"
	ReasonWithdraw      = "withdraw"
	ReasonConvert       = "convert"
	ReasonEscrow        = "escrow"
	ReasonEscrowRelease = "escrow_release"
	ReasonSettle        = "settle"
)

// Balances is a user's full set of holdings keyed by asset name plus
// CurrencyKey. Keys never seen are reported as zero.
type Balances struct {
	User     string           `json:"user"`
	Currency uint64           `json:"currency"`
	Assets   map[Asset]uint64 `json:"assets"`
}
