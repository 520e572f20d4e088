package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/pricing"
)

// --- Request/Response types ---

// RegisterProducerRequest is the JSON body for POST /producers.
type RegisterProducerRequest struct {
	AssetTypes []string `json:"asset_types"`
}

// RegisterConsumerRequest is the JSON body for POST /consumers.
type RegisterConsumerRequest struct {
	PreferredTypes []string `json:"preferred_types"`
}

// AmountRequest is the JSON body for deposits, withdrawals, conversions
// and fee withdrawal. Asset is ignored where no asset is involved.
type AmountRequest struct {
	Asset  string `json:"asset,omitempty"`
	Amount uint64 `json:"amount"`
}

// BalanceResponse reports a balance after a deposit or withdrawal.
type BalanceResponse struct {
	User    string `json:"user"`
	Key     string `json:"key"`
	Balance uint64 `json:"balance"`
}

// CreateTradeRequest is the JSON body for POST /trades.
type CreateTradeRequest struct {
	Asset    string `json:"asset"`
	Quantity uint64 `json:"quantity"`
	Price    uint64 `json:"price"` // total, in currency minor units
}

// RateResponse is one entry of the rate table.
type RateResponse struct {
	Asset model.Asset `json:"asset"`
	Rate  uint64      `json:"rate"`
	Scale uint64      `json:"scale"`
}

// --- Registration and profiles ---

// RegisterProducer handles POST /api/v1/producers
func (s *Server) RegisterProducer(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req RegisterProducerRequest
	if !s.decode(w, r, &req) {
		return
	}
	types, err := model.ParseAssets(req.AssetTypes)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	p, err := s.engine.RegisterProducer(r.Context(), c, types)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// RegisterConsumer handles POST /api/v1/consumers
func (s *Server) RegisterConsumer(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req RegisterConsumerRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	preferred, err := model.ParseAssets(req.PreferredTypes)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	cons, err := s.engine.RegisterConsumer(r.Context(), c, preferred)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cons)
}

// GetProfile handles GET /api/v1/users/{userID}/profile
func (s *Server) GetProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := s.engine.Profile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

// GetBalances handles GET /api/v1/users/{userID}/balances
func (s *Server) GetBalances(w http.ResponseWriter, r *http.Request) {
	bals, err := s.engine.Balances(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bals)
}

// GetJournal handles GET /api/v1/users/{userID}/journal
func (s *Server) GetJournal(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.Journal(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Deposits and withdrawals ---

// DepositAsset handles POST /api/v1/deposits/asset
func (s *Server) DepositAsset(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, ok := assetParam(w, req.Asset)
	if !ok {
		return
	}
	bal, err := s.engine.DepositAsset(r.Context(), c, asset, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{User: c.ID, Key: string(asset), Balance: bal})
}

// DepositCurrency handles POST /api/v1/deposits/currency
func (s *Server) DepositCurrency(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	bal, err := s.engine.DepositCurrency(r.Context(), c, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{User: c.ID, Key: model.CurrencyKey, Balance: bal})
}

// WithdrawCurrency handles POST /api/v1/withdrawals/currency
func (s *Server) WithdrawCurrency(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	bal, err := s.engine.WithdrawCurrency(r.Context(), c, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{User: c.ID, Key: model.CurrencyKey, Balance: bal})
}

// --- Conversions ---

// ConvertAssetToCurrency handles POST /api/v1/conversions/asset-to-currency
// Amount is the asset quantity to sell.
func (s *Server) ConvertAssetToCurrency(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, ok := assetParam(w, req.Asset)
	if !ok {
		return
	}
	q, err := s.engine.ConvertAssetToCurrency(r.Context(), c, asset, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// ConvertCurrencyToAsset handles POST /api/v1/conversions/currency-to-asset
// Amount is the currency to spend before fee.
func (s *Server) ConvertCurrencyToAsset(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, ok := assetParam(w, req.Asset)
	if !ok {
		return
	}
	q, err := s.engine.ConvertCurrencyToAsset(r.Context(), c, asset, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// PreviewConversion handles GET /api/v1/conversions/preview
// Query: direction=asset-to-currency|currency-to-asset, asset, amount.
func (s *Server) PreviewConversion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	asset, ok := assetParam(w, q.Get("asset"))
	if !ok {
		return
	}
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil {
		writeError(w, "amount must be an unsigned integer", http.StatusBadRequest)
		return
	}

	switch q.Get("direction") {
	case "asset-to-currency", "":
		quote, err := s.engine.PreviewAssetToCurrency(asset, amount)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, quote)
	case "currency-to-asset":
		quote, err := s.engine.PreviewCurrencyToAsset(asset, amount)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, quote)
	default:
		writeError(w, "direction must be asset-to-currency or currency-to-asset", http.StatusBadRequest)
	}
}

// ListRates handles GET /api/v1/rates
func (s *Server) ListRates(w http.ResponseWriter, r *http.Request) {
	rates := s.engine.Rates().Rates()
	out := make([]RateResponse, 0, len(rates))
	for _, a := range model.Assets() {
		out = append(out, RateResponse{Asset: a, Rate: rates[a], Scale: pricing.Scale})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRate handles GET /api/v1/rates/{asset}
func (s *Server) GetRate(w http.ResponseWriter, r *http.Request) {
	asset, ok := assetParam(w, chi.URLParam(r, "asset"))
	if !ok {
		return
	}
	rate, err := s.engine.Rates().Rate(asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RateResponse{Asset: asset, Rate: rate, Scale: pricing.Scale})
}

// --- Trades ---

// CreateTrade handles POST /api/v1/trades
func (s *Server) CreateTrade(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req CreateTradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	asset, ok := assetParam(w, req.Asset)
	if !ok {
		return
	}
	t, err := s.engine.CreateTrade(r.Context(), c, asset, req.Quantity, req.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTrade handles GET /api/v1/trades/{tradeID}
func (s *Server) GetTrade(w http.ResponseWriter, r *http.Request) {
	id, ok := tradeIDParam(w, r)
	if !ok {
		return
	}
	view, err := s.engine.Trade(r.Context(), id, s.clock())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListTrades handles GET /api/v1/trades
// Optional filters: ?asset=, ?seller=, ?state=open|completed|cancelled.
func (s *Server) ListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter model.TradeFilter
	if raw := q.Get("asset"); raw != "" {
		asset, ok := assetParam(w, raw)
		if !ok {
			return
		}
		filter.Asset = asset
	}
	filter.Seller = q.Get("seller")
	switch st := model.TradeState(q.Get("state")); st {
	case "", model.TradeOpen, model.TradeCompleted, model.TradeCancelled:
		filter.State = st
	default:
		writeError(w, "state must be open, completed or cancelled", http.StatusBadRequest)
		return
	}

	trades, err := s.engine.ListTrades(r.Context(), filter, s.clock())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// PurchaseTrade handles POST /api/v1/trades/{tradeID}/purchase
func (s *Server) PurchaseTrade(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := tradeIDParam(w, r)
	if !ok {
		return
	}
	receipt, err := s.engine.Purchase(r.Context(), c, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// CancelTrade handles POST /api/v1/trades/{tradeID}/cancel
func (s *Server) CancelTrade(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, ok := tradeIDParam(w, r)
	if !ok {
		return
	}
	t, err := s.engine.CancelTrade(r.Context(), c, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetStats handles GET /api/v1/stats
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Administration ---

// ToggleTrading handles POST /api/v1/admin/trading/toggle
func (s *Server) ToggleTrading(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	enabled, err := s.engine.ToggleTrading(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"trading_enabled": enabled})
}

// EmergencyPause handles POST /api/v1/admin/pause
func (s *Server) EmergencyPause(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	if err := s.engine.EmergencyPause(r.Context(), c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"trading_enabled": false})
}

// SetMinTradeAmount handles POST /api/v1/admin/min-trade-amount
func (s *Server) SetMinTradeAmount(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.SetMinTradeAmount(r.Context(), c, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"min_trade_amount": req.Amount})
}

// WithdrawFees handles POST /api/v1/admin/fees/withdraw
func (s *Server) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	c, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !s.decode(w, r, &req) {
		return
	}
	remaining, err := s.engine.WithdrawFees(r.Context(), c, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"withdrawn": req.Amount, "fee_pool": remaining})
}
