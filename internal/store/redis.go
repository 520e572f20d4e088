package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/energy-ledger/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache after
// commit; read-only views check Redis first then fall back to the primary.
//
// Read-write transactions never read from the cache. Only terminal trades
// are cached, since they can no longer change.
//
// A view skips writing back when a commit in this process invalidated keys
// after the view began, so an older snapshot never overwrites an
// invalidation. Commits from other processes are bounded by the TTL, and a
// view may combine cached records with records read from its own snapshot.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	gen     atomic.Uint64 // bumped before every post-commit invalidation
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.Update(ctx, func(tx Tx) error {
		touched = touched[:0]
		return fn(&invalidatingTx{Tx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, touched)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	s.gen.Add(1)
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		slog.Warn("cache invalidation failed", "keys", keys, "err", err)
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) View(ctx context.Context, fn func(tx Tx) error) error {
	gen := s.gen.Load()
	return s.primary.View(ctx, func(tx Tx) error {
		return fn(&cachedTx{Tx: tx, s: s, gen: gen})
	})
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListTrades(ctx context.Context, filter model.TradeFilter) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, filter)
}

func (s *CachedStore) JournalByUser(ctx context.Context, user string) ([]model.JournalEntry, error) {
	return s.primary.JournalByUser(ctx, user)
}

// invalidatingTx records which cache keys a transaction wrote.
type invalidatingTx struct {
	Tx
	touched *[]string
}

func (t *invalidatingTx) PutProducer(ctx context.Context, p *model.Producer) error {
	*t.touched = append(*t.touched, producerKey(p.User))
	return t.Tx.PutProducer(ctx, p)
}

func (t *invalidatingTx) PutConsumer(ctx context.Context, c *model.Consumer) error {
	*t.touched = append(*t.touched, consumerKey(c.User))
	return t.Tx.PutConsumer(ctx, c)
}

func (t *invalidatingTx) PutTrade(ctx context.Context, tr *model.Trade) error {
	*t.touched = append(*t.touched, tradeKey(tr.ID))
	return t.Tx.PutTrade(ctx, tr)
}

// cachedTx serves profile and trade reads from Redis when possible.
type cachedTx struct {
	Tx
	s   *CachedStore
	gen uint64
}

func (t *cachedTx) GetProducer(ctx context.Context, user string) (*model.Producer, error) {
	var p model.Producer
	if t.s.load(ctx, producerKey(user), &p) {
		return &p, nil
	}
	fresh, err := t.Tx.GetProducer(ctx, user)
	if err != nil || fresh == nil {
		return fresh, err
	}
	t.save(ctx, producerKey(user), fresh)
	return fresh, nil
}

func (t *cachedTx) GetConsumer(ctx context.Context, user string) (*model.Consumer, error) {
	var c model.Consumer
	if t.s.load(ctx, consumerKey(user), &c) {
		return &c, nil
	}
	fresh, err := t.Tx.GetConsumer(ctx, user)
	if err != nil || fresh == nil {
		return fresh, err
	}
	t.save(ctx, consumerKey(user), fresh)
	return fresh, nil
}

func (t *cachedTx) GetTrade(ctx context.Context, id uint64) (*model.Trade, error) {
	var tr model.Trade
	if t.s.load(ctx, tradeKey(id), &tr) {
		return &tr, nil
	}
	fresh, err := t.Tx.GetTrade(ctx, id)
	if err != nil || fresh == nil {
		return fresh, err
	}
	if fresh.State.Terminal() {
		t.save(ctx, tradeKey(id), fresh)
	}
	return fresh, nil
}

// save writes a snapshot read back to the cache unless a commit has
// invalidated keys since the view began.
func (t *cachedTx) save(ctx context.Context, key string, v any) {
	if t.s.gen.Load() != t.gen {
		return
	}
	t.s.save(ctx, key, v)
}

// --- Cache helpers ---

func (s *CachedStore) load(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) save(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func producerKey(user string) string { return fmt.Sprintf("producer:%s", user) }
func consumerKey(user string) string { return fmt.Sprintf("consumer:%s", user) }
func tradeKey(id uint64) string      { return fmt.Sprintf("trade:%d", id) }
