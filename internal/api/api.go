// Package api exposes the ledger over HTTP. It is the host adapter: it
// authenticates nothing itself, taking the caller identity from the
// X-User-ID header (set by an upstream gateway) and the logical clock
// from wall-clock Unix seconds.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/settlement"
)

// CallerHeader carries the authenticated caller identity.
const CallerHeader = "X-User-ID"

// Server handles ledger operations over HTTP.
type Server struct {
	engine *settlement.Engine
	clock  func() uint64
	logger *slog.Logger
}

// NewServer creates the HTTP adapter. A nil clock uses Unix seconds.
func NewServer(engine *settlement.Engine, clock func() uint64, logger *slog.Logger) *Server {
	if clock == nil {
		clock = func() uint64 { return uint64(time.Now().Unix()) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, clock: clock, logger: logger}
}

// Routes registers every ledger route on r. The caller mounts it under
// /api/v1.
func (s *Server) Routes(r chi.Router) {
	// Registration and profiles.
	r.Post("/producers", s.RegisterProducer)
	r.Post("/consumers", s.RegisterConsumer)
	r.Get("/users/{userID}/profile", s.GetProfile)
	r.Get("/users/{userID}/balances", s.GetBalances)
	r.Get("/users/{userID}/journal", s.GetJournal)

	// Deposits and withdrawals.
	r.Post("/deposits/asset", s.DepositAsset)
	r.Post("/deposits/currency", s.DepositCurrency)
	r.Post("/withdrawals/currency", s.WithdrawCurrency)

	// Conversions at fixed rates.
	r.Post("/conversions/asset-to-currency", s.ConvertAssetToCurrency)
	r.Post("/conversions/currency-to-asset", s.ConvertCurrencyToAsset)
	r.Get("/conversions/preview", s.PreviewConversion)
	r.Get("/rates", s.ListRates)
	r.Get("/rates/{asset}", s.GetRate)

	// Trade lifecycle.
	r.Get("/trades", s.ListTrades)
	r.Post("/trades", s.CreateTrade)
	r.Get("/trades/{tradeID}", s.GetTrade)
	r.Post("/trades/{tradeID}/purchase", s.PurchaseTrade)
	r.Post("/trades/{tradeID}/cancel", s.CancelTrade)

	r.Get("/stats", s.GetStats)

	// Owner-only administration.
	r.Route("/admin", func(r chi.Router) {
		r.Post("/trading/toggle", s.ToggleTrading)
		r.Post("/pause", s.EmergencyPause)
		r.Post("/min-trade-amount", s.SetMinTradeAmount)
		r.Post("/fees/withdraw", s.WithdrawFees)
	})
}

// caller resolves the acting identity, writing 401 when it is missing.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (model.Caller, bool) {
	id := r.Header.Get(CallerHeader)
	if id == "" {
		writeError(w, CallerHeader+" header is required", http.StatusUnauthorized)
		return model.Caller{}, false
	}
	return model.Caller{ID: id, Now: s.clock()}, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func tradeIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "tradeID"), 10, 64)
	if err != nil {
		writeError(w, "invalid trade id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func assetParam(w http.ResponseWriter, raw string) (model.Asset, bool) {
	a, err := model.ParseAsset(raw)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return a, true
}

// statusFor maps ledger error kinds to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, model.ErrInsufficientAsset),
		errors.Is(err, model.ErrAlreadyProcessed):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUserNotFound),
		errors.Is(err, model.ErrTradeNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrTradeExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// fail writes a ledger error. Unclassified errors are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
