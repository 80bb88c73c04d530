// Package memory defines the tiered memory gateway port (interface).
package memory

import (
	"context"
	"fmt"
	"time"
)

// Tier identifies one of the three conceptual memory tiers.
type Tier string

const (
	TierShortTerm  Tier = "short_term"
	TierLongTerm   Tier = "long_term"
	TierWorldState Tier = "world_state"
)

// Entry is a search hit returned from a memory tier.
type Entry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Gateway is the port interface over the external tiered memory
// service. Direct get/put by key is strongly consistent; Search is
// eventually consistent. All keys must be namespaced (see Key).
type Gateway interface {
	PutShortTerm(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetShortTerm(ctx context.Context, key string) ([]byte, bool, error)

	PutLongTerm(ctx context.Context, key string, value []byte) error
	GetLongTerm(ctx context.Context, key string) ([]byte, bool, error)

	PutWorldState(ctx context.Context, key string, value []byte) error
	GetWorldState(ctx context.Context, key string) ([]byte, bool, error)

	// Search scans the given tier for entries matching query.
	Search(ctx context.Context, query string, tier Tier, limit int) ([]Entry, error)
}

// Key builds a namespaced memory key from a scope (objective or task
// id) and a name, avoiding cross-tenant collisions.
func Key(scope, name string) string {
	return fmt.Sprintf("%s:%s", scope, name)
}
