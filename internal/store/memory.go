package store

import (
	"context"
	"sort"
	"sync"

	"github.com/atmx/energy-ledger/internal/model"
)

type balanceKey struct {
	user string
	key  string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Update holds the write lock for the whole operation, so operations are
// serialized; writes are staged and applied only when fn succeeds.
type MemoryStore struct {
	mu        sync.RWMutex
	balances  map[balanceKey]uint64
	producers map[string]*model.Producer
	consumers map[string]*model.Consumer
	trades    map[uint64]*model.Trade
	stats     *model.GlobalStats
	journal   []model.JournalEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[balanceKey]uint64),
		producers: make(map[string]*model.Producer),
		consumers: make(map[string]*model.Consumer),
		trades:    make(map[uint64]*model.Trade),
	}
}

func (s *MemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newMemTx(s, false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.apply()
	return nil
}

func (s *MemoryStore) View(_ context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(newMemTx(s, true))
}

func (s *MemoryStore) ListTrades(_ context.Context, filter model.TradeFilter) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Trade, 0)
	for _, t := range s.trades {
		if filter.Match(t) {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) JournalByUser(_ context.Context, user string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.JournalEntry
	for _, e := range s.journal {
		if e.User == user {
			result = append(result, e)
		}
	}
	return result, nil
}

// memTx reads through its staged writes to the store's committed state.
// The caller holds the store lock for the transaction's lifetime.
type memTx struct {
	s        *MemoryStore
	readOnly bool

	balances  map[balanceKey]uint64
	producers map[string]*model.Producer
	consumers map[string]*model.Consumer
	trades    map[uint64]*model.Trade
	stats     *model.GlobalStats
	journal   []model.JournalEntry
}

func newMemTx(s *MemoryStore, readOnly bool) *memTx {
	return &memTx{
		s:         s,
		readOnly:  readOnly,
		balances:  make(map[balanceKey]uint64),
		producers: make(map[string]*model.Producer),
		consumers: make(map[string]*model.Consumer),
		trades:    make(map[uint64]*model.Trade),
	}
}

func (tx *memTx) apply() {
	s := tx.s
	for k, v := range tx.balances {
		s.balances[k] = v
	}
	for k, v := range tx.producers {
		s.producers[k] = v
	}
	for k, v := range tx.consumers {
		s.consumers[k] = v
	}
	for k, v := range tx.trades {
		s.trades[k] = v
	}
	if tx.stats != nil {
		s.stats = tx.stats
	}
	s.journal = append(s.journal, tx.journal...)
}

func (tx *memTx) GetBalance(_ context.Context, user, key string) (uint64, error) {
	k := balanceKey{user, key}
	if v, ok := tx.balances[k]; ok {
		return v, nil
	}
	return tx.s.balances[k], nil
}

func (tx *memTx) SetBalance(_ context.Context, user, key string, amount uint64) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.balances[balanceKey{user, key}] = amount
	return nil
}

func (tx *memTx) AppendJournal(_ context.Context, entry *model.JournalEntry) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.journal = append(tx.journal, *entry)
	return nil
}

func (tx *memTx) GetProducer(_ context.Context, user string) (*model.Producer, error) {
	p, ok := tx.producers[user]
	if !ok {
		p, ok = tx.s.producers[user]
	}
	if !ok {
		return nil, nil
	}
	return cloneProducer(p), nil
}

func (tx *memTx) PutProducer(_ context.Context, p *model.Producer) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.producers[p.User] = cloneProducer(p)
	return nil
}

func (tx *memTx) GetConsumer(_ context.Context, user string) (*model.Consumer, error) {
	c, ok := tx.consumers[user]
	if !ok {
		c, ok = tx.s.consumers[user]
	}
	if !ok {
		return nil, nil
	}
	return cloneConsumer(c), nil
}

func (tx *memTx) PutConsumer(_ context.Context, c *model.Consumer) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.consumers[c.User] = cloneConsumer(c)
	return nil
}

func (tx *memTx) GetTrade(_ context.Context, id uint64) (*model.Trade, error) {
	t, ok := tx.trades[id]
	if !ok {
		t, ok = tx.s.trades[id]
	}
	if !ok {
		return nil, nil
	}
	copy := *t
	return &copy, nil
}

func (tx *memTx) PutTrade(_ context.Context, t *model.Trade) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	copy := *t
	tx.trades[t.ID] = &copy
	return nil
}

func (tx *memTx) GetStats(_ context.Context) (*model.GlobalStats, error) {
	st := tx.stats
	if st == nil {
		st = tx.s.stats
	}
	if st == nil {
		return nil, nil
	}
	copy := *st
	return &copy, nil
}

func (tx *memTx) PutStats(_ context.Context, st *model.GlobalStats) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	copy := *st
	tx.stats = &copy
	return nil
}

func cloneProducer(p *model.Producer) *model.Producer {
	c := *p
	c.AssetTypes = append([]model.Asset(nil), p.AssetTypes...)
	return &c
}

func cloneConsumer(c *model.Consumer) *model.Consumer {
	out := *c
	out.PreferredTypes = append([]model.Asset(nil), c.PreferredTypes...)
	return &out
}
