// Package natskv implements the world-state memory tier using NATS
// JetStream KV.
package natskv

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"
)

// Store wraps a NATS JetStream KeyValue bucket. It backs the
// world-state tier: shared live status visible to every agent.
type Store struct {
	kv jetstream.KeyValue
}

// New creates a NATS KV-backed store.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get retrieves a value from the bucket.
func (s *Store) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Put stores a value in the bucket.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.kv.Put(ctx, key, value)
	return err
}

// Delete removes a value from the bucket.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Keys lists all keys currently in the bucket.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}
