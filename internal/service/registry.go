package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tacticore/tacticore/internal/config"
	"github.com/tacticore/tacticore/internal/domain"
	"github.com/tacticore/tacticore/internal/domain/agent"
	"github.com/tacticore/tacticore/internal/domain/capability"
	"github.com/tacticore/tacticore/internal/port/broadcast"
	"github.com/tacticore/tacticore/internal/port/memory"
	"github.com/tacticore/tacticore/internal/port/messagequeue"
)

// RegistryService tracks available agent instances, their declared
// capability sets, load and health. Load counters race between
// dispatch (increment) and completion/timeout (decrement), so every
// mutation happens under the registry mutex.
type RegistryService struct {
	cfg config.Registry
	mem memory.Gateway
	hub broadcast.Broadcaster

	mu       sync.Mutex
	agents   map[string]*agent.Descriptor
	failures map[string]int // consecutive failures per agent

	now func() time.Time // for testing
}

// NewRegistryService creates a RegistryService.
func NewRegistryService(cfg config.Registry, mem memory.Gateway, hub broadcast.Broadcaster) *RegistryService {
	return &RegistryService{
		cfg:      cfg,
		mem:      mem,
		hub:      hub,
		agents:   make(map[string]*agent.Descriptor),
		failures: make(map[string]int),
		now:      time.Now,
	}
}

// Register validates the descriptor's capability tags against the
// known set and adds the agent to the registry.
func (s *RegistryService) Register(ctx context.Context, req agent.RegisterRequest) (*agent.Descriptor, error) {
	if len(req.Capabilities) == 0 {
		return nil, fmt.Errorf("agent %q declares no capabilities", req.Name)
	}
	for _, tag := range req.Capabilities {
		if !capability.Valid(tag) {
			return nil, fmt.Errorf("agent %q declares unknown capability %q", req.Name, tag)
		}
	}
	limit := req.ConcurrencyLimit
	if limit < 1 {
		limit = 1
	}

	d := &agent.Descriptor{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Capabilities:     req.Capabilities,
		ConcurrencyLimit: limit,
		Health:           agent.HealthHealthy,
		LastHeartbeat:    s.now(),
	}

	s.mu.Lock()
	s.agents[d.ID] = d
	s.mu.Unlock()

	s.mirror(ctx, d)
	slog.Info("agent registered", "agent_id", d.ID, "name", d.Name, "capabilities", d.Capabilities)
	return d, nil
}

// Deregister removes an agent from the registry.
func (s *RegistryService) Deregister(ctx context.Context, agentID string) error {
	s.mu.Lock()
	_, ok := s.agents[agentID]
	delete(s.agents, agentID)
	delete(s.failures, agentID)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("deregister agent %s: %w", agentID, domain.ErrNotFound)
	}
	slog.Info("agent deregistered", "agent_id", agentID)
	return nil
}

// FindCapable returns candidate agent ids for the given capability,
// excluding unhealthy, overloaded and explicitly excluded agents,
// ordered by ascending load then by most recent successful use.
func (s *RegistryService) FindCapable(tag capability.Tag, exclude map[string]struct{}) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*agent.Descriptor
	for _, d := range s.agents {
		if _, skip := exclude[d.ID]; skip {
			continue
		}
		if !d.Has(tag) || !d.Dispatchable() {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Load != candidates[j].Load {
			return candidates[i].Load < candidates[j].Load
		}
		return candidates[i].LastSuccess.After(candidates[j].LastSuccess)
	})

	ids := make([]string, len(candidates))
	for i, d := range candidates {
		ids[i] = d.ID
	}
	return ids
}

// Heartbeat records a health report. A healthy beat clears the
// degraded flag and the consecutive-failure count.
func (s *RegistryService) Heartbeat(ctx context.Context, agentID string, health agent.Health) error {
	s.mu.Lock()
	d, ok := s.agents[agentID]
	if ok {
		d.LastHeartbeat = s.now()
		if health == agent.HealthHealthy {
			d.Health = agent.HealthHealthy
			s.failures[agentID] = 0
		} else if health != "" {
			d.Health = health
		}
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("heartbeat agent %s: %w", agentID, domain.ErrNotFound)
	}
	return nil
}

// ReserveSlot increments an agent's load for a new dispatch. Fails if
// the agent disappeared or is no longer dispatchable, so a racing
// dispatcher moves on to the next candidate.
func (s *RegistryService) ReserveSlot(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("reserve slot %s: %w", agentID, domain.ErrNotFound)
	}
	if !d.Dispatchable() {
		return fmt.Errorf("agent %s not dispatchable (health=%s load=%d)", agentID, d.Health, d.Load)
	}
	d.Load++
	return nil
}

// ReleaseSlot decrements an agent's load after completion or timeout.
func (s *RegistryService) ReleaseSlot(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.agents[agentID]; ok && d.Load > 0 {
		d.Load--
	}
}

// RecordSuccess notes a successful task completion for affinity
// ordering and clears the consecutive-failure count.
func (s *RegistryService) RecordSuccess(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.agents[agentID]; ok {
		d.LastSuccess = s.now()
		s.failures[agentID] = 0
	}
}

// RecordFailure increments the consecutive-failure count; crossing the
// threshold marks the agent degraded until a healthy heartbeat.
func (s *RegistryService) RecordFailure(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.agents[agentID]
	if !ok {
		return
	}
	s.failures[agentID]++
	if s.failures[agentID] >= s.cfg.FailureThreshold && d.Health == agent.HealthHealthy {
		d.Health = agent.HealthDegraded
		slog.Warn("agent degraded", "agent_id", agentID, "consecutive_failures", s.failures[agentID])
	}
}

// Get returns a copy of an agent descriptor.
func (s *RegistryService) Get(agentID string) (*agent.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.agents[agentID]
	if !ok {
		return nil, false
	}
	cp := *d
	return &cp, true
}

// List returns a snapshot of all registered agents.
func (s *RegistryService) List() []agent.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]agent.Descriptor, 0, len(s.agents))
	for _, d := range s.agents {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sweep marks agents unreachable when no heartbeat arrived within the
// configured timeout. Called periodically by Run.
func (s *RegistryService) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.HeartbeatTimeout)

	s.mu.Lock()
	var swept []*agent.Descriptor
	for _, d := range s.agents {
		if d.Health != agent.HealthUnreachable && d.LastHeartbeat.Before(cutoff) {
			d.Health = agent.HealthUnreachable
			cp := *d
			swept = append(swept, &cp)
		}
	}
	s.mu.Unlock()

	for _, d := range swept {
		slog.Warn("agent unreachable", "agent_id", d.ID, "last_heartbeat", d.LastHeartbeat)
		s.mirror(ctx, d)
		s.hub.BroadcastEvent(ctx, broadcast.EventAgentStatus, map[string]any{
			"agent_id": d.ID,
			"health":   d.Health,
		})
	}
}

// Run executes the periodic heartbeat sweep until ctx is cancelled.
func (s *RegistryService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// StartSubscriber consumes heartbeat messages published by agents.
func (s *RegistryService) StartSubscriber(ctx context.Context, queue messagequeue.Queue) (func(), error) {
	return queue.Subscribe(ctx, messagequeue.SubjectAgentHeartbeat, func(msgCtx context.Context, _ string, data []byte) error {
		var hb messagequeue.HeartbeatPayload
		if err := json.Unmarshal(data, &hb); err != nil {
			return fmt.Errorf("unmarshal heartbeat: %w", err)
		}
		if err := s.Heartbeat(msgCtx, hb.AgentID, agent.Health(hb.Health)); err != nil {
			slog.Debug("heartbeat for unknown agent", "agent_id", hb.AgentID)
		}
		return nil
	})
}

// mirror writes the agent descriptor to the world-state tier for audit.
func (s *RegistryService) mirror(ctx context.Context, d *agent.Descriptor) {
	data, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := s.mem.PutWorldState(ctx, memory.Key("agents", d.ID), data); err != nil {
		slog.Warn("agent mirror failed", "agent_id", d.ID, "error", err)
	}
}
