// Package agent defines the agent descriptor tracked by the registry.
package agent

import (
	"time"

	"github.com/tacticore/tacticore/internal/domain/capability"
)

// Health represents the reported or inferred health of an agent.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthDegraded    Health = "degraded"
	HealthUnreachable Health = "unreachable"
)

// Descriptor represents one runtime agent instance and its declared
// capability set.
type Descriptor struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Capabilities     []capability.Tag `json:"capabilities"`
	ConcurrencyLimit int              `json:"concurrency_limit"`
	Load             int              `json:"load"`
	Health           Health           `json:"health"`
	LastHeartbeat    time.Time        `json:"last_heartbeat"`
	LastSuccess      time.Time        `json:"last_success,omitempty"`
}

// Has reports whether the descriptor declares the given capability.
func (d *Descriptor) Has(tag capability.Tag) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Dispatchable reports whether the agent can accept another task:
// healthy and below its concurrency limit.
func (d *Descriptor) Dispatchable() bool {
	return d.Health == HealthHealthy && d.Load < d.ConcurrencyLimit
}

// RegisterRequest holds the fields needed to register an agent.
type RegisterRequest struct {
	Name             string           `json:"name"`
	Capabilities     []capability.Tag `json:"capabilities"`
	ConcurrencyLimit int              `json:"concurrency_limit"`
}
