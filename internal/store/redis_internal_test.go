package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/energy-ledger/internal/model"
)

func TestCachedStore_ViewOverlappingCommitSkipsWriteBack(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	primary := NewMemoryStore()
	cs := NewCachedStore(primary, rdb, time.Minute)
	primary.Update(ctx, func(tx Tx) error {
		return tx.PutProducer(ctx, &model.Producer{User: "p", Verified: true, TotalSold: 1})
	})

	cs.View(ctx, func(tx Tx) error {
		// A commit elsewhere invalidates the key while this view is open.
		cs.invalidate(ctx, []string{producerKey("p")})
		p, err := tx.GetProducer(ctx, "p")
		if err != nil || p == nil || p.TotalSold != 1 {
			t.Errorf("producer = %+v, %v", p, err)
		}
		return nil
	})
	if mr.Exists(producerKey("p")) {
		t.Error("a view overlapping an invalidation must not write back its snapshot")
	}

	// A view started after the invalidation caches normally.
	cs.View(ctx, func(tx Tx) error {
		_, err := tx.GetProducer(ctx, "p")
		return err
	})
	if !mr.Exists(producerKey("p")) {
		t.Error("later view should populate the cache")
	}
}

func TestCachedStore_InvalidateWithoutKeysKeepsGeneration(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cs := NewCachedStore(NewMemoryStore(), rdb, time.Minute)
	cs.invalidate(context.Background(), nil)
	if got := cs.gen.Load(); got != 0 {
		t.Errorf("generation = %d, want 0", got)
	}
}
