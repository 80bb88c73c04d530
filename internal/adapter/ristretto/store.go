// Package ristretto implements the short-term memory tier using
// dgraph-io/ristretto as an in-process TTL cache.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Store wraps a ristretto cache as the ephemeral short-term tier.
// Entries expire by TTL; eviction under memory pressure is acceptable
// for this tier's contract.
type Store struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a ristretto-backed store. maxCostBytes is the maximum
// total size of cached values in bytes.
func New(maxCostBytes int64) (*Store, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

// Get retrieves a value.
func (s *Store) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := s.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Put stores a value with the given TTL.
func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete removes a value.
func (s *Store) Delete(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

// Close shuts down the cache and releases resources.
func (s *Store) Close() {
	s.c.Close()
}
