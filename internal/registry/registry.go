// Package registry keeps producer and consumer profiles and their
// reputation counters. Producer and consumer records are independent, so a
// producer that buys also gets a consumer record.
package registry

import (
	"context"
	"fmt"

	"github.com/atmx/energy-ledger/internal/model"
	"github.com/atmx/energy-ledger/internal/pricing"
	"github.com/atmx/energy-ledger/internal/store"
)

// Registry is bound to one transaction.
type Registry struct {
	tx store.Tx
}

// New binds the registry to tx.
func New(tx store.Tx) *Registry {
	return &Registry{tx: tx}
}

// Profile returns the tagged view of user. A producer record wins over a
// consumer record; neither means RoleUnregistered.
func (r *Registry) Profile(ctx context.Context, user string) (model.Profile, error) {
	out := model.Profile{User: user, Role: model.RoleUnregistered}

	p, err := r.tx.GetProducer(ctx, user)
	if err != nil {
		return out, err
	}
	c, err := r.tx.GetConsumer(ctx, user)
	if err != nil {
		return out, err
	}
	out.Producer = p
	out.Consumer = c
	switch {
	case p != nil:
		out.Role = model.RoleProducer
	case c != nil:
		out.Role = model.RoleConsumer
	}
	return out, nil
}

// RequireVerifiedProducer fails with ErrNotAuthorized unless user is a
// verified producer.
func (r *Registry) RequireVerifiedProducer(ctx context.Context, user string) (*model.Producer, error) {
	prof, err := r.Profile(ctx, user)
	if err != nil {
		return nil, err
	}
	if !prof.VerifiedProducer() {
		return nil, fmt.Errorf("%w: %s is not a verified producer", model.ErrNotAuthorized, user)
	}
	return prof.Producer, nil
}

// RegisterProducer records user as a producer of the declared types.
// Verification is self-declared: the flag is set unconditionally.
// Re-registering replaces the declared types and keeps the counters.
func (r *Registry) RegisterProducer(ctx context.Context, user string, types []model.Asset) (*model.Producer, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: at least one asset type is required", model.ErrInvalidAmount)
	}
	for _, a := range types {
		if !a.Valid() {
			return nil, fmt.Errorf("%w: unknown asset type %q", model.ErrInvalidAmount, a)
		}
	}

	p, err := r.tx.GetProducer(ctx, user)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = &model.Producer{User: user}
	}
	p.Verified = true
	p.AssetTypes = dedupe(types)
	if err := r.tx.PutProducer(ctx, p); err != nil {
		return nil, fmt.Errorf("put producer: %w", err)
	}
	return p, nil
}

// RegisterConsumer creates a zeroed consumer profile. An existing consumer
// record is returned unchanged.
func (r *Registry) RegisterConsumer(ctx context.Context, user string, preferred []model.Asset) (*model.Consumer, error) {
	for _, a := range preferred {
		if !a.Valid() {
			return nil, fmt.Errorf("%w: unknown asset type %q", model.ErrInvalidAmount, a)
		}
	}
	c, err := r.tx.GetConsumer(ctx, user)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}
	c = &model.Consumer{User: user, PreferredTypes: dedupe(preferred)}
	if err := r.tx.PutConsumer(ctx, c); err != nil {
		return nil, fmt.Errorf("put consumer: %w", err)
	}
	return c, nil
}

// RecordProducerSale adds qty to the producer's total and bumps its
// reputation. The producer record must exist.
func (r *Registry) RecordProducerSale(ctx context.Context, user string, qty uint64) error {
	p, err := r.tx.GetProducer(ctx, user)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: producer %s", model.ErrUserNotFound, user)
	}
	if err := bump(&p.TotalSold, &p.Reputation, qty); err != nil {
		return fmt.Errorf("producer %s: %w", user, err)
	}
	return r.tx.PutProducer(ctx, p)
}

// RecordConsumerPurchase adds qty to the consumer's total and bumps its
// reputation, creating the consumer record on first purchase.
func (r *Registry) RecordConsumerPurchase(ctx context.Context, user string, qty uint64) error {
	c, err := r.tx.GetConsumer(ctx, user)
	if err != nil {
		return err
	}
	if c == nil {
		c = &model.Consumer{User: user}
	}
	if err := bump(&c.TotalPurchased, &c.Reputation, qty); err != nil {
		return fmt.Errorf("consumer %s: %w", user, err)
	}
	return r.tx.PutConsumer(ctx, c)
}

// bump adds qty to total and one to reputation, leaving both untouched on
// overflow.
func bump(total, reputation *uint64, qty uint64) error {
	t, err := pricing.Add(*total, qty)
	if err != nil {
		return err
	}
	rep, err := pricing.Add(*reputation, 1)
	if err != nil {
		return err
	}
	*total, *reputation = t, rep
	return nil
}

func dedupe(in []model.Asset) []model.Asset {
	seen := make(map[model.Asset]bool, len(in))
	out := make([]model.Asset, 0, len(in))
	for _, a := range in {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
