package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/energy-ledger/internal/api"
	"github.com/atmx/energy-ledger/internal/events"
	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/pricing"
	"github.com/atmx/energy-ledger/internal/settlement"
	"github.com/atmx/energy-ledger/internal/store"
)

const owner = "admin"

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.Event) error { return nil }

type testClock struct{ now atomic.Uint64 }

func (c *testClock) Now() uint64 { return c.now.Load() }

// newTestEnv creates a Server over an in-memory store mounted on a chi router.
func newTestEnv(t *testing.T) (chi.Router, *testClock) {
	t.Helper()
	eng, err := settlement.New(context.Background(), store.NewMemoryStore(), settlement.Options{
		Owner:     owner,
		Publisher: nopPublisher{},
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	clock := &testClock{}
	clock.now.Store(1000)

	srv := api.NewServer(eng, clock.Now, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", srv.Routes)
	return r, clock
}

func do(t *testing.T, router chi.Router, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(api.CallerHeader, user)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

// seedSeller registers a solar producer holding 1000 units.
func seedSeller(t *testing.T, router chi.Router, user string) {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/producers", user, api.RegisterProducerRequest{AssetTypes: []string{"solar"}})
	expectStatus(t, w, http.StatusCreated)
	w = do(t, router, "POST", "/api/v1/deposits/asset", user, api.AmountRequest{Asset: "solar", Amount: 1000})
	expectStatus(t, w, http.StatusOK)
}

// --- Trade flow ---

func TestTradeFlow(t *testing.T) {
	router, _ := newTestEnv(t)
	seedSeller(t, router, "seller")

	w := do(t, router, "POST", "/api/v1/deposits/currency", "buyer", api.AmountRequest{Amount: 303_000})
	expectStatus(t, w, http.StatusOK)
	if bal := decode[api.BalanceResponse](t, w); bal.Balance != 303_000 {
		t.Errorf("deposit balance = %d", bal.Balance)
	}

	w = do(t, router, "POST", "/api/v1/trades", "seller", api.CreateTradeRequest{Asset: "solar", Quantity: 500, Price: 300_000})
	expectStatus(t, w, http.StatusCreated)
	tr := decode[model.Trade](t, w)
	if tr.ID != 1 || tr.ExpiresAt != 1000+86_400 {
		t.Errorf("trade = %+v", tr)
	}

	w = do(t, router, "GET", "/api/v1/trades?state=open&asset=solar", "", nil)
	expectStatus(t, w, http.StatusOK)
	if list := decode[[]settlement.TradeView](t, w); len(list) != 1 || list[0].Expired {
		t.Errorf("open trades = %+v", list)
	}

	w = do(t, router, "POST", "/api/v1/trades/1/purchase", "buyer", nil)
	expectStatus(t, w, http.StatusOK)
	receipt := decode[settlement.Receipt](t, w)
	if receipt.Fee != 3000 || receipt.Paid != 303_000 || receipt.Trade.State != model.TradeCompleted {
		t.Errorf("receipt = %+v", receipt)
	}

	w = do(t, router, "POST", "/api/v1/trades/1/purchase", "buyer", nil)
	expectStatus(t, w, http.StatusConflict)

	w = do(t, router, "GET", "/api/v1/users/buyer/balances", "", nil)
	expectStatus(t, w, http.StatusOK)
	bals := decode[model.Balances](t, w)
	if bals.Currency != 0 || bals.Assets[model.AssetSolar] != 500 {
		t.Errorf("buyer balances = %+v", bals)
	}

	w = do(t, router, "GET", "/api/v1/stats", "", nil)
	expectStatus(t, w, http.StatusOK)
	stats := decode[settlement.StatsView](t, w)
	if stats.TotalTrades != 1 || stats.FeePool != 3000 || stats.AverageTradeSize != 500 {
		t.Errorf("stats = %+v", stats)
	}

	w = do(t, router, "GET", "/api/v1/users/buyer/profile", "", nil)
	expectStatus(t, w, http.StatusOK)
	if prof := decode[model.Profile](t, w); prof.Role != model.RoleConsumer {
		t.Errorf("buyer profile = %+v", prof)
	}

	w = do(t, router, "GET", "/api/v1/users/buyer/journal", "", nil)
	expectStatus(t, w, http.StatusOK)
	if entries := decode[[]model.JournalEntry](t, w); len(entries) != 3 {
		t.Errorf("buyer journal has %d entries, want 3 (deposit, payment, asset)", len(entries))
	}
}

func TestExpiredTrade(t *testing.T) {
	router, clock := newTestEnv(t)
	seedSeller(t, router, "seller")
	do(t, router, "POST", "/api/v1/deposits/currency", "buyer", api.AmountRequest{Amount: 1_000_000})

	w := do(t, router, "POST", "/api/v1/trades", "seller", api.CreateTradeRequest{Asset: "solar", Quantity: 10, Price: 100})
	expectStatus(t, w, http.StatusCreated)

	clock.now.Store(1000 + 86_400)
	w = do(t, router, "GET", "/api/v1/trades/1", "", nil)
	expectStatus(t, w, http.StatusOK)
	if view := decode[settlement.TradeView](t, w); !view.Expired || view.State != model.TradeOpen {
		t.Errorf("view = %+v", view)
	}

	w = do(t, router, "POST", "/api/v1/trades/1/purchase", "buyer", nil)
	expectStatus(t, w, http.StatusGone)

	w = do(t, router, "POST", "/api/v1/trades/1/cancel", "seller", nil)
	expectStatus(t, w, http.StatusOK)
}

// --- Error mapping ---

func TestErrorStatuses(t *testing.T) {
	router, _ := newTestEnv(t)
	seedSeller(t, router, "seller")

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		want   int
	}{
		{"missing caller", "POST", "/api/v1/deposits/currency", "", api.AmountRequest{Amount: 1}, http.StatusUnauthorized},
		{"bad body", "POST", "/api/v1/trades", "seller", "not an object", http.StatusBadRequest},
		{"unknown asset", "POST", "/api/v1/trades", "seller", api.CreateTradeRequest{Asset: "coal", Quantity: 1, Price: 1}, http.StatusBadRequest},
		{"zero amount", "POST", "/api/v1/deposits/currency", "u", api.AmountRequest{Amount: 0}, http.StatusBadRequest},
		{"not a producer", "POST", "/api/v1/deposits/asset", "u", api.AmountRequest{Asset: "wind", Amount: 1}, http.StatusForbidden},
		{"insufficient balance", "POST", "/api/v1/withdrawals/currency", "u", api.AmountRequest{Amount: 1}, http.StatusConflict},
		{"insufficient asset", "POST", "/api/v1/trades", "seller", api.CreateTradeRequest{Asset: "solar", Quantity: 5000, Price: 1}, http.StatusConflict},
		{"trade not found", "GET", "/api/v1/trades/99", "", nil, http.StatusNotFound},
		{"bad trade id", "GET", "/api/v1/trades/abc", "", nil, http.StatusBadRequest},
		{"admin by stranger", "POST", "/api/v1/admin/trading/toggle", "u", nil, http.StatusForbidden},
		{"bad state filter", "GET", "/api/v1/trades?state=expired", "", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.user, tt.body)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("expected JSON error body, got %s", w.Body.String())
			}
		})
	}
}

// --- Conversions and rates ---

func TestConversions(t *testing.T) {
	router, _ := newTestEnv(t)
	seedSeller(t, router, "p")

	w := do(t, router, "GET", "/api/v1/conversions/preview?asset=solar&amount=500", "", nil)
	expectStatus(t, w, http.StatusOK)
	if q := decode[pricing.AssetQuote](t, w); q.Net != 594_000 {
		t.Errorf("preview = %+v", q)
	}

	w = do(t, router, "GET", "/api/v1/conversions/preview?direction=currency-to-asset&asset=solar&amount=600000", "", nil)
	expectStatus(t, w, http.StatusOK)
	if q := decode[pricing.CurrencyQuote](t, w); q.Quantity != 500 || q.Total != 606_000 {
		t.Errorf("preview = %+v", q)
	}

	w = do(t, router, "POST", "/api/v1/conversions/asset-to-currency", "p", api.AmountRequest{Asset: "solar", Amount: 500})
	expectStatus(t, w, http.StatusOK)
	if q := decode[pricing.AssetQuote](t, w); q.Gross != 600_000 || q.Fee != 6000 {
		t.Errorf("conversion = %+v", q)
	}

	w = do(t, router, "POST", "/api/v1/conversions/currency-to-asset", "p", api.AmountRequest{Asset: "wind", Amount: 100_000})
	expectStatus(t, w, http.StatusOK)
	if q := decode[pricing.CurrencyQuote](t, w); q.Quantity != 100 || q.Total != 101_000 {
		t.Errorf("conversion = %+v", q)
	}

	w = do(t, router, "GET", "/api/v1/rates", "", nil)
	expectStatus(t, w, http.StatusOK)
	if rates := decode[[]api.RateResponse](t, w); len(rates) != 4 || rates[0].Asset != model.AssetSolar || rates[0].Rate != 1_200_000 {
		t.Errorf("rates = %+v", rates)
	}

	w = do(t, router, "GET", "/api/v1/rates/biomass", "", nil)
	expectStatus(t, w, http.StatusOK)
	if rate := decode[api.RateResponse](t, w); rate.Rate != 600_000 || rate.Scale != 1000 {
		t.Errorf("rate = %+v", rate)
	}
	w = do(t, router, "GET", "/api/v1/rates/coal", "", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

// --- Administration ---

func TestAdminFlow(t *testing.T) {
	router, _ := newTestEnv(t)
	seedSeller(t, router, "p")
	do(t, router, "POST", "/api/v1/conversions/asset-to-currency", "p", api.AmountRequest{Asset: "solar", Amount: 500})

	w := do(t, router, "POST", "/api/v1/admin/pause", owner, nil)
	expectStatus(t, w, http.StatusOK)
	w = do(t, router, "POST", "/api/v1/trades", "p", api.CreateTradeRequest{Asset: "solar", Quantity: 1, Price: 1})
	expectStatus(t, w, http.StatusForbidden)

	w = do(t, router, "POST", "/api/v1/admin/trading/toggle", owner, nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]bool](t, w); !got["trading_enabled"] {
		t.Errorf("toggle = %v", got)
	}

	w = do(t, router, "POST", "/api/v1/admin/min-trade-amount", owner, api.AmountRequest{Amount: 50})
	expectStatus(t, w, http.StatusOK)
	w = do(t, router, "POST", "/api/v1/trades", "p", api.CreateTradeRequest{Asset: "solar", Quantity: 49, Price: 1})
	expectStatus(t, w, http.StatusBadRequest)

	w = do(t, router, "POST", "/api/v1/admin/fees/withdraw", owner, api.AmountRequest{Amount: 6001})
	expectStatus(t, w, http.StatusConflict)
	w = do(t, router, "POST", "/api/v1/admin/fees/withdraw", owner, api.AmountRequest{Amount: 6000})
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]uint64](t, w); got["fee_pool"] != 0 {
		t.Errorf("withdraw fees = %v", got)
	}
}
