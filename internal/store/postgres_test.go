package store_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/store"
)

// newPostgresStore connects to TEST_DATABASE_URL and resets the schema.
func newPostgresStore(t *testing.T) *store.PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS balances, producers, consumers, trades, global_stats, journal_entries`); err != nil {
		t.Fatalf("reset: %v", err)
	}
	ps := store.NewPostgresStore(pool)
	if err := ps.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return ps
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	ps := newPostgresStore(t)
	ctx := context.Background()

	err := ps.Update(ctx, func(tx store.Tx) error {
		if err := tx.SetBalance(ctx, "p", model.CurrencyKey, math.MaxUint64); err != nil {
			return err
		}
		if err := tx.PutProducer(ctx, &model.Producer{User: "p", Verified: true, AssetTypes: []model.Asset{model.AssetSolar, model.AssetBiomass}}); err != nil {
			return err
		}
		if err := tx.PutTrade(ctx, &model.Trade{ID: 1, Seller: "p", Asset: model.AssetSolar, Quantity: 5, Price: 10, CreatedAt: 1, ExpiresAt: 86_401, State: model.TradeOpen}); err != nil {
			return err
		}
		if err := tx.AppendJournal(ctx, &model.JournalEntry{ID: "1b4e28ba-2fa1-11d2-883f-0016d3cca427", User: "p", Key: "solar", Amount: 5, Reason: model.ReasonEscrow, TradeID: 1, Clock: 1}); err != nil {
			return err
		}
		return tx.PutStats(ctx, &model.GlobalStats{Owner: "o", NextTradeID: 2, TradingEnabled: true, MinTradeAmount: 1, EventSeq: 7})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = ps.View(ctx, func(tx store.Tx) error {
		bal, err := tx.GetBalance(ctx, "p", model.CurrencyKey)
		if err != nil || bal != math.MaxUint64 {
			t.Errorf("balance = %d, %v", bal, err)
		}
		p, err := tx.GetProducer(ctx, "p")
		if err != nil || p == nil || len(p.AssetTypes) != 2 {
			t.Errorf("producer = %+v, %v", p, err)
		}
		tr, err := tx.GetTrade(ctx, 1)
		if err != nil || tr == nil || tr.ExpiresAt != 86_401 || tr.State != model.TradeOpen {
			t.Errorf("trade = %+v, %v", tr, err)
		}
		st, err := tx.GetStats(ctx)
		if err != nil || st == nil || st.NextTradeID != 2 || !st.TradingEnabled || st.EventSeq != 7 {
			t.Errorf("stats = %+v, %v", st, err)
		}
		if missing, _ := tx.GetConsumer(ctx, "nobody"); missing != nil {
			t.Errorf("absent consumer = %+v", missing)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := ps.JournalByUser(ctx, "p")
	if err != nil || len(entries) != 1 || entries[0].TradeID != 1 {
		t.Errorf("journal = %+v, %v", entries, err)
	}
	trades, err := ps.ListTrades(ctx, model.TradeFilter{Seller: "p", State: model.TradeOpen})
	if err != nil || len(trades) != 1 {
		t.Errorf("trades = %+v, %v", trades, err)
	}
}

func TestPostgresStore_Rollback(t *testing.T) {
	ps := newPostgresStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := ps.Update(ctx, func(tx store.Tx) error {
		tx.SetBalance(ctx, "a", "wind", 7)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	ps.View(ctx, func(tx store.Tx) error {
		if bal, _ := tx.GetBalance(ctx, "a", "wind"); bal != 0 {
			t.Errorf("rolled back balance visible: %d", bal)
		}
		return nil
	})
}
