package registry_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/registry"
	"github.com/atmx/energy-ledger/internal/store"
)

func withRegistry(t *testing.T, ms *store.MemoryStore, fn func(ctx context.Context, r *registry.Registry) error) {
	t.Helper()
	ctx := context.Background()
	if err := ms.Update(ctx, func(tx store.Tx) error { return fn(ctx, registry.New(tx)) }); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterProducer(t *testing.T) {
	ms := store.NewMemoryStore()

	withRegistry(t, ms, func(ctx context.Context, r *registry.Registry) error {
		if _, err := r.RegisterProducer(ctx, "p", nil); !errors.Is(err, model.ErrInvalidAmount) {
			t.Errorf("empty types: expected ErrInvalidAmount, got %v", err)
		}
		if _, err := r.RegisterProducer(ctx, "p", []model.Asset{"coal"}); !errors.Is(err, model.ErrInvalidAmount) {
			t.Errorf("unknown type: expected ErrInvalidAmount, got %v", err)
		}

		p, err := r.RegisterProducer(ctx, "p", []model.Asset{model.AssetSolar, model.AssetSolar, model.AssetHydro})
		if err != nil {
			return err
		}
		if !p.Verified || len(p.AssetTypes) != 2 {
			t.Errorf("producer = %+v", p)
		}

		prof, _ := r.Profile(ctx, "p")
		if prof.Role != model.RoleProducer || !prof.VerifiedProducer() {
			t.Errorf("profile = %+v", prof)
		}
		return nil
	})
}

func TestRegisterProducer_KeepsCounters(t *testing.T) {
	ms := store.NewMemoryStore()

	withRegistry(t, ms, func(ctx context.Context, r *registry.Registry) error {
		r.RegisterProducer(ctx, "p", []model.Asset{model.AssetSolar})
		if err := r.RecordProducerSale(ctx, "p", 40); err != nil {
			return err
		}
		p, err := r.RegisterProducer(ctx, "p", []model.Asset{model.AssetWind})
		if err != nil {
			return err
		}
		if p.TotalSold != 40 || p.Reputation != 1 || p.AssetTypes[0] != model.AssetWind {
			t.Errorf("re-registration = %+v", p)
		}
		return nil
	})
}

func TestRegisterConsumer_Idempotent(t *testing.T) {
	ms := store.NewMemoryStore()

	withRegistry(t, ms, func(ctx context.Context, r *registry.Registry) error {
		c, err := r.RegisterConsumer(ctx, "c", []model.Asset{model.AssetBiomass})
		if err != nil {
			return err
		}
		if c.Reputation != 0 || c.TotalPurchased != 0 {
			t.Errorf("new consumer not zeroed: %+v", c)
		}
		r.RecordConsumerPurchase(ctx, "c", 5)
		again, _ := r.RegisterConsumer(ctx, "c", nil)
		if again.TotalPurchased != 5 || len(again.PreferredTypes) != 1 {
			t.Errorf("re-registration reset the consumer: %+v", again)
		}
		return nil
	})
}

func TestProfiles(t *testing.T) {
	ms := store.NewMemoryStore()

	withRegistry(t, ms, func(ctx context.Context, r *registry.Registry) error {
		prof, _ := r.Profile(ctx, "nobody")
		if prof.Role != model.RoleUnregistered || prof.VerifiedProducer() {
			t.Errorf("unregistered profile = %+v", prof)
		}
		if _, err := r.RequireVerifiedProducer(ctx, "nobody"); !errors.Is(err, model.ErrNotAuthorized) {
			t.Errorf("expected ErrNotAuthorized, got %v", err)
		}

		// A producer that buys keeps its producer role.
		r.RegisterProducer(ctx, "p", []model.Asset{model.AssetSolar})
		r.RecordConsumerPurchase(ctx, "p", 3)
		prof, _ = r.Profile(ctx, "p")
		if prof.Role != model.RoleProducer || prof.Consumer == nil || prof.Consumer.TotalPurchased != 3 {
			t.Errorf("dual profile = %+v", prof)
		}
		return nil
	})
}

func TestRecordProducerSale_UnknownProducer(t *testing.T) {
	ms := store.NewMemoryStore()

	withRegistry(t, ms, func(ctx context.Context, r *registry.Registry) error {
		if err := r.RecordProducerSale(ctx, "ghost", 1); !errors.Is(err, model.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
		return nil
	})
}

func TestRecordConsumerPurchase_AutoCreates(t *testing.T) {
	ms := store.NewMemoryStore()

	withRegistry(t, ms, func(ctx context.Context, r *registry.Registry) error {
		if err := r.RecordConsumerPurchase(ctx, "new", 7); err != nil {
			return err
		}
		prof, _ := r.Profile(ctx, "new")
		if prof.Role != model.RoleConsumer || prof.Consumer.TotalPurchased != 7 || prof.Consumer.Reputation != 1 {
			t.Errorf("auto-created consumer = %+v", prof.Consumer)
		}
		return nil
	})
}

func TestRecordSale_CounterOverflowRejected(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	err := ms.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutProducer(ctx, &model.Producer{User: "p", Verified: true, TotalSold: math.MaxUint64 - 1, Reputation: 4}); err != nil {
			return err
		}
		return tx.PutConsumer(ctx, &model.Consumer{User: "c", TotalPurchased: 1, Reputation: math.MaxUint64})
	})
	if err != nil {
		t.Fatal(err)
	}

	withRegistry(t, ms, func(ctx context.Context, r *registry.Registry) error {
		if err := r.RecordProducerSale(ctx, "p", 2); !errors.Is(err, model.ErrInvalidAmount) {
			t.Errorf("producer total overflow: expected ErrInvalidAmount, got %v", err)
		}
		if err := r.RecordConsumerPurchase(ctx, "c", 1); !errors.Is(err, model.ErrInvalidAmount) {
			t.Errorf("consumer reputation overflow: expected ErrInvalidAmount, got %v", err)
		}
		prof, _ := r.Profile(ctx, "p")
		if prof.Producer.TotalSold != math.MaxUint64-1 || prof.Producer.Reputation != 4 {
			t.Errorf("producer changed after failed sale: %+v", prof.Producer)
		}
		return nil
	})
}
