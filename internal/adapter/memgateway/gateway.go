// Package memgateway composes the three memory tiers behind the
// memory.Gateway port: an in-process TTL cache (short-term), a NATS KV
// bucket (world-state) and PostgreSQL (long-term + search).
package memgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/tacticore/tacticore/internal/domain"
	"github.com/tacticore/tacticore/internal/port/memory"
	"github.com/tacticore/tacticore/internal/resilience"
)

// ShortTermStore is the ephemeral TTL tier backend.
type ShortTermStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// WorldStateStore is the shared live-status tier backend.
type WorldStateStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// DurableStore is the long-term tier backend. It also records
// searchable copies of short-term and world-state writes, which is
// what makes Search eventually consistent rather than strong.
type DurableStore interface {
	PutMemory(ctx context.Context, tier memory.Tier, key string, value []byte, expiresAt *time.Time) error
	GetMemory(ctx context.Context, tier memory.Tier, key string) ([]byte, bool, error)
	SearchMemory(ctx context.Context, tier memory.Tier, query string, limit int) ([]memory.Entry, error)
}

// Gateway implements memory.Gateway over the three tier backends.
// Direct get/put go to the tier's primary backend; every write is also
// mirrored to the durable store so Search can scan a single place.
type Gateway struct {
	short   ShortTermStore
	world   WorldStateStore
	durable DurableStore

	ttl     time.Duration
	timeout time.Duration
	breaker *resilience.Breaker
}

// New creates a Gateway. ttl is the default short-term entry lifetime,
// timeout bounds each backend call, breaker guards the durable store.
func New(short ShortTermStore, world WorldStateStore, durable DurableStore, ttl, timeout time.Duration, breaker *resilience.Breaker) *Gateway {
	return &Gateway{
		short:   short,
		world:   world,
		durable: durable,
		ttl:     ttl,
		timeout: timeout,
		breaker: breaker,
	}
}

// PutShortTerm stores an ephemeral value. ttl <= 0 uses the default.
func (g *Gateway) PutShortTerm(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = g.ttl
	}
	if err := g.short.Put(ctx, key, value, ttl); err != nil {
		return g.unavailable("put short-term", key, err)
	}

	// Mirror for search; best effort, the live copy is authoritative.
	expires := time.Now().Add(ttl)
	_ = g.callDurable(ctx, func(ctx context.Context) error {
		return g.durable.PutMemory(ctx, memory.TierShortTerm, key, value, &expires)
	})
	return nil
}

// GetShortTerm retrieves an ephemeral value.
func (g *Gateway) GetShortTerm(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok, err := g.short.Get(ctx, key)
	if err != nil {
		return nil, false, g.unavailable("get short-term", key, err)
	}
	return val, ok, nil
}

// PutLongTerm stores a durable value.
func (g *Gateway) PutLongTerm(ctx context.Context, key string, value []byte) error {
	err := g.callDurable(ctx, func(ctx context.Context) error {
		return g.durable.PutMemory(ctx, memory.TierLongTerm, key, value, nil)
	})
	if err != nil {
		return g.unavailable("put long-term", key, err)
	}
	return nil
}

// GetLongTerm retrieves a durable value.
func (g *Gateway) GetLongTerm(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := g.callDurable(ctx, func(ctx context.Context) error {
		var inner error
		val, ok, inner = g.durable.GetMemory(ctx, memory.TierLongTerm, key)
		return inner
	})
	if err != nil {
		return nil, false, g.unavailable("get long-term", key, err)
	}
	return val, ok, nil
}

// PutWorldState stores a shared live-status value.
func (g *Gateway) PutWorldState(ctx context.Context, key string, value []byte) error {
	err := resilience.Retry(ctx, g.timeout, func(ctx context.Context) error {
		return g.world.Put(ctx, key, value)
	})
	if err != nil {
		return g.unavailable("put world-state", key, err)
	}

	_ = g.callDurable(ctx, func(ctx context.Context) error {
		return g.durable.PutMemory(ctx, memory.TierWorldState, key, value, nil)
	})
	return nil
}

// GetWorldState retrieves a shared live-status value.
func (g *Gateway) GetWorldState(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := resilience.Retry(ctx, g.timeout, func(ctx context.Context) error {
		var inner error
		val, ok, inner = g.world.Get(ctx, key)
		return inner
	})
	if err != nil {
		return nil, false, g.unavailable("get world-state", key, err)
	}
	return val, ok, nil
}

// Search scans the durable mirror of the given tier. Results may lag
// recent writes; direct get/put by key is the strongly consistent path.
func (g *Gateway) Search(ctx context.Context, query string, tier memory.Tier, limit int) ([]memory.Entry, error) {
	var entries []memory.Entry
	err := g.callDurable(ctx, func(ctx context.Context) error {
		var inner error
		entries, inner = g.durable.SearchMemory(ctx, tier, query, limit)
		return inner
	})
	if err != nil {
		return nil, g.unavailable("search", string(tier), err)
	}
	return entries, nil
}

// callDurable wraps a durable-store call in the breaker and the
// single-retry policy with a per-attempt timeout.
func (g *Gateway) callDurable(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.breaker.Execute(func() error {
		return resilience.Retry(ctx, g.timeout, fn)
	})
}

func (g *Gateway) unavailable(op, key string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", op, key, domain.ErrMemoryUnavailable, err)
}
