package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/energy-ledger/internal/model"
)

// ledgerLockKey is the advisory lock taken by every read-write transaction.
// One logical writer at a time keeps the conservation invariants simple.
const ledgerLockKey int64 = 0x6c6564676572

// Schema creates the tables PostgresStore expects. Quantities are stored as
// NUMERIC(20,0) so the full uint64 range round-trips exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS balances (
	user_id TEXT NOT NULL,
	key     TEXT NOT NULL,
	amount  NUMERIC(20,0) NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, key)
);
CREATE TABLE IF NOT EXISTS producers (
	user_id     TEXT PRIMARY KEY,
	verified    BOOLEAN NOT NULL,
	asset_types TEXT[] NOT NULL,
	total_sold  NUMERIC(20,0) NOT NULL,
	reputation  NUMERIC(20,0) NOT NULL
);
CREATE TABLE IF NOT EXISTS consumers (
	user_id         TEXT PRIMARY KEY,
	total_purchased NUMERIC(20,0) NOT NULL,
	preferred_types TEXT[] NOT NULL,
	reputation      NUMERIC(20,0) NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
	id         BIGINT PRIMARY KEY,
	seller     TEXT NOT NULL,
	buyer      TEXT NOT NULL DEFAULT '',
	asset      TEXT NOT NULL,
	quantity   NUMERIC(20,0) NOT NULL,
	price      NUMERIC(20,0) NOT NULL,
	created_at NUMERIC(20,0) NOT NULL,
	expires_at NUMERIC(20,0) NOT NULL,
	state      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_seller_idx ON trades (seller);
CREATE TABLE IF NOT EXISTS global_stats (
	id                    SMALLINT PRIMARY KEY CHECK (id = 1),
	owner                 TEXT NOT NULL,
	total_trades          NUMERIC(20,0) NOT NULL,
	total_asset_volume    NUMERIC(20,0) NOT NULL,
	total_currency_volume NUMERIC(20,0) NOT NULL,
	fee_pool              NUMERIC(20,0) NOT NULL,
	next_trade_id         NUMERIC(20,0) NOT NULL,
	trading_enabled       BOOLEAN NOT NULL,
	min_trade_amount      NUMERIC(20,0) NOT NULL,
	event_seq             NUMERIC(20,0) NOT NULL DEFAULT 0
);
ALTER TABLE global_stats ADD COLUMN IF NOT EXISTS event_seq NUMERIC(20,0) NOT NULL DEFAULT 0;
CREATE TABLE IF NOT EXISTS journal_entries (
	seq      BIGSERIAL PRIMARY KEY,
	id       UUID NOT NULL UNIQUE,
	user_id  TEXT NOT NULL,
	key      TEXT NOT NULL,
	credit   BOOLEAN NOT NULL,
	amount   NUMERIC(20,0) NOT NULL,
	reason   TEXT NOT NULL,
	trade_id BIGINT NOT NULL DEFAULT 0,
	clock    NUMERIC(20,0) NOT NULL
);
CREATE INDEX IF NOT EXISTS journal_entries_user_idx ON journal_entries (user_id, seq);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates missing tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return fn(&pgTx{tx: tx, readOnly: true})
}

func (s *PostgresStore) ListTrades(ctx context.Context, f model.TradeFilter) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seller, buyer, asset, quantity::TEXT, price::TEXT,
		        created_at::TEXT, expires_at::TEXT, state
		 FROM trades
		 WHERE ($1 = '' OR asset = $1)
		   AND ($2 = '' OR seller = $2)
		   AND ($3 = '' OR state = $3)
		 ORDER BY id`,
		string(f.Asset), f.Seller, string(f.State))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	trades := make([]model.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) JournalByUser(ctx context.Context, user string) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, user_id, key, credit, amount::TEXT, reason, trade_id, clock::TEXT
		 FROM journal_entries WHERE user_id = $1 ORDER BY seq`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var amountS, clockS string
		var tradeID int64
		if err := rows.Scan(&e.ID, &e.User, &e.Key, &e.Credit, &amountS, &e.Reason, &tradeID, &clockS); err != nil {
			return nil, err
		}
		e.TradeID = uint64(tradeID)
		if e.Amount, err = parseUint(amountS); err != nil {
			return nil, err
		}
		if e.Clock, err = parseUint(clockS); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// pgTx adapts a pgx transaction to Tx.
type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) GetBalance(ctx context.Context, user, key string) (uint64, error) {
	var amountS string
	err := t.tx.QueryRow(ctx,
		`SELECT amount::TEXT FROM balances WHERE user_id = $1 AND key = $2`, user, key).
		Scan(&amountS)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance %s/%s: %w", user, key, err)
	}
	return parseUint(amountS)
}

func (t *pgTx) SetBalance(ctx context.Context, user, key string, amount uint64) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO balances (user_id, key, amount) VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (user_id, key) DO UPDATE SET amount = EXCLUDED.amount`,
		user, key, formatUint(amount))
	return err
}

func (t *pgTx) AppendJournal(ctx context.Context, e *model.JournalEntry) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO journal_entries (id, user_id, key, credit, amount, reason, trade_id, clock)
		 VALUES ($1::UUID, $2, $3, $4, $5::NUMERIC, $6, $7, $8::NUMERIC)`,
		e.ID, e.User, e.Key, e.Credit, formatUint(e.Amount), e.Reason, int64(e.TradeID), formatUint(e.Clock))
	return err
}

func (t *pgTx) GetProducer(ctx context.Context, user string) (*model.Producer, error) {
	var p model.Producer
	var types []string
	var soldS, repS string
	err := t.tx.QueryRow(ctx,
		`SELECT user_id, verified, asset_types, total_sold::TEXT, reputation::TEXT
		 FROM producers WHERE user_id = $1`, user).
		Scan(&p.User, &p.Verified, &types, &soldS, &repS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get producer %s: %w", user, err)
	}
	p.AssetTypes = toAssets(types)
	if p.TotalSold, err = parseUint(soldS); err != nil {
		return nil, err
	}
	if p.Reputation, err = parseUint(repS); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) PutProducer(ctx context.Context, p *model.Producer) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO producers (user_id, verified, asset_types, total_sold, reputation)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET
		     verified = EXCLUDED.verified, asset_types = EXCLUDED.asset_types,
		     total_sold = EXCLUDED.total_sold, reputation = EXCLUDED.reputation`,
		p.User, p.Verified, fromAssets(p.AssetTypes), formatUint(p.TotalSold), formatUint(p.Reputation))
	return err
}

func (t *pgTx) GetConsumer(ctx context.Context, user string) (*model.Consumer, error) {
	var c model.Consumer
	var types []string
	var totalS, repS string
	err := t.tx.QueryRow(ctx,
		`SELECT user_id, total_purchased::TEXT, preferred_types, reputation::TEXT
		 FROM consumers WHERE user_id = $1`, user).
		Scan(&c.User, &totalS, &types, &repS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get consumer %s: %w", user, err)
	}
	c.PreferredTypes = toAssets(types)
	if c.TotalPurchased, err = parseUint(totalS); err != nil {
		return nil, err
	}
	if c.Reputation, err = parseUint(repS); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) PutConsumer(ctx context.Context, c *model.Consumer) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO consumers (user_id, total_purchased, preferred_types, reputation)
		 VALUES ($1, $2::NUMERIC, $3, $4::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET
		     total_purchased = EXCLUDED.total_purchased,
		     preferred_types = EXCLUDED.preferred_types,
		     reputation = EXCLUDED.reputation`,
		c.User, formatUint(c.TotalPurchased), fromAssets(c.PreferredTypes), formatUint(c.Reputation))
	return err
}

func (t *pgTx) GetTrade(ctx context.Context, id uint64) (*model.Trade, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, seller, buyer, asset, quantity::TEXT, price::TEXT,
		        created_at::TEXT, expires_at::TEXT, state
		 FROM trades WHERE id = $1`, int64(id))
	tr, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %d: %w", id, err)
	}
	return tr, nil
}

func (t *pgTx) PutTrade(ctx context.Context, tr *model.Trade) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO trades (id, seller, buyer, asset, quantity, price, created_at, expires_at, state)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)
		 ON CONFLICT (id) DO UPDATE SET buyer = EXCLUDED.buyer, state = EXCLUDED.state`,
		int64(tr.ID), tr.Seller, tr.Buyer, string(tr.Asset),
		formatUint(tr.Quantity), formatUint(tr.Price),
		formatUint(tr.CreatedAt), formatUint(tr.ExpiresAt), string(tr.State))
	return err
}

func (t *pgTx) GetStats(ctx context.Context) (*model.GlobalStats, error) {
	var st model.GlobalStats
	var trades, assetVol, curVol, fees, nextID, minAmt, seq string
	err := t.tx.QueryRow(ctx,
		`SELECT owner, total_trades::TEXT, total_asset_volume::TEXT, total_currency_volume::TEXT,
		        fee_pool::TEXT, next_trade_id::TEXT, trading_enabled, min_trade_amount::TEXT,
		        event_seq::TEXT
		 FROM global_stats WHERE id = 1`).
		Scan(&st.Owner, &trades, &assetVol, &curVol, &fees, &nextID, &st.TradingEnabled, &minAmt, &seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	for _, f := range []struct {
		dst *uint64
		src string
	}{
		{&st.TotalTrades, trades},
		{&st.TotalAssetVolume, assetVol},
		{&st.TotalCurrencyVolume, curVol},
		{&st.FeePool, fees},
		{&st.NextTradeID, nextID},
		{&st.MinTradeAmount, minAmt},
		{&st.EventSeq, seq},
	} {
		if *f.dst, err = parseUint(f.src); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

func (t *pgTx) PutStats(ctx context.Context, st *model.GlobalStats) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO global_stats (id, owner, total_trades, total_asset_volume, total_currency_volume,
		                           fee_pool, next_trade_id, trading_enabled, min_trade_amount, event_seq)
		 VALUES (1, $1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET
		     owner = EXCLUDED.owner,
		     total_trades = EXCLUDED.total_trades,
		     total_asset_volume = EXCLUDED.total_asset_volume,
		     total_currency_volume = EXCLUDED.total_currency_volume,
		     fee_pool = EXCLUDED.fee_pool,
		     next_trade_id = EXCLUDED.next_trade_id,
		     trading_enabled = EXCLUDED.trading_enabled,
		     min_trade_amount = EXCLUDED.min_trade_amount,
		     event_seq = EXCLUDED.event_seq`,
		st.Owner, formatUint(st.TotalTrades), formatUint(st.TotalAssetVolume),
		formatUint(st.TotalCurrencyVolume), formatUint(st.FeePool), formatUint(st.NextTradeID),
		st.TradingEnabled, formatUint(st.MinTradeAmount), formatUint(st.EventSeq))
	return err
}

// scanTrade reads one trade row from a pgx.Row or pgx.Rows.
func scanTrade(row pgx.Row) (*model.Trade, error) {
	var tr model.Trade
	var id int64
	var asset, state, qtyS, priceS, createdS, expiresS string
	if err := row.Scan(&id, &tr.Seller, &tr.Buyer, &asset, &qtyS, &priceS, &createdS, &expiresS, &state); err != nil {
		return nil, err
	}
	tr.ID = uint64(id)
	tr.Asset = model.Asset(asset)
	tr.State = model.TradeState(state)

	var err error
	if tr.Quantity, err = parseUint(qtyS); err != nil {
		return nil, err
	}
	if tr.Price, err = parseUint(priceS); err != nil {
		return nil, err
	}
	if tr.CreatedAt, err = parseUint(createdS); err != nil {
		return nil, err
	}
	if tr.ExpiresAt, err = parseUint(expiresS); err != nil {
		return nil, err
	}
	return &tr, nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return v, nil
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func toAssets(names []string) []model.Asset {
	out := make([]model.Asset, 0, len(names))
	for _, n := range names {
		out = append(out, model.Asset(n))
	}
	return out
}

func fromAssets(assets []model.Asset) []string {
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		out = append(out, string(a))
	}
	return out
}
