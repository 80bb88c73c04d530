package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tacticore/tacticore/internal/adapter/otel"
	"github.com/tacticore/tacticore/internal/config"
	"github.com/tacticore/tacticore/internal/domain/capability"
	"github.com/tacticore/tacticore/internal/domain/dispatch"
	"github.com/tacticore/tacticore/internal/port/database"
	"github.com/tacticore/tacticore/internal/port/messagequeue"
	"github.com/tacticore/tacticore/internal/port/notifier"
)

// timeoutReporter receives synthetic failure reports for dispatches
// whose deadline fired. Implemented by the result coordinator; wired
// after construction because coordinator and scheduler reference each
// other.
type timeoutReporter interface {
	ReportTimeout(rec dispatch.Record)
}

// activeDispatch is one in-flight attempt plus its deadline timer.
type activeDispatch struct {
	rec   dispatch.Record
	timer *time.Timer
}

// SchedulerService matches Ready tasks against capable agents and
// publishes dispatch messages. One attempt per task is in flight at a
// time; backpressure comes from agent concurrency limits, so an empty
// candidate list just leaves the task Ready for the next pass.
type SchedulerService struct {
	cfg      config.Scheduler
	graph    *GraphService
	registry *RegistryService
	store    database.Store
	queue    messagequeue.Queue
	notify   notifier.Notifier
	metrics  *otel.Metrics

	mu         sync.Mutex
	active     map[string]*activeDispatch     // by task id
	exclusions map[string]map[string]struct{} // task id -> agents that failed it
	stalled    map[string]bool                // stall warnings already sent, by objective id

	coordinator timeoutReporter

	wake chan struct{}
}

// NewSchedulerService creates a SchedulerService.
func NewSchedulerService(cfg config.Scheduler, graph *GraphService, registry *RegistryService, store database.Store, queue messagequeue.Queue, notify notifier.Notifier, metrics *otel.Metrics) *SchedulerService {
	return &SchedulerService{
		cfg:        cfg,
		graph:      graph,
		registry:   registry,
		store:      store,
		queue:      queue,
		notify:     notify,
		metrics:    metrics,
		active:     make(map[string]*activeDispatch),
		exclusions: make(map[string]map[string]struct{}),
		stalled:    make(map[string]bool),
		wake:       make(chan struct{}, 1),
	}
}

// SetCoordinator wires the result coordinator after construction.
func (s *SchedulerService) SetCoordinator(c timeoutReporter) {
	s.coordinator = c
}

// Wake nudges the dispatch loop without waiting for the next tick.
// Non-blocking: a pending wake already covers the caller.
func (s *SchedulerService) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes the dispatch loop until ctx is cancelled. The loop runs
// on every wake signal and on a poll ticker as a fallback, which also
// drives stall detection.
func (s *SchedulerService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
			s.pass(ctx)
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

// pass runs one scheduling pass over the current Ready set.
func (s *SchedulerService) pass(ctx context.Context) {
	ready := s.graph.ReadySnapshot()
	now := time.Now()

	for _, rt := range ready {
		s.mu.Lock()
		_, inFlight := s.active[rt.TaskID]
		s.mu.Unlock()
		if inFlight {
			continue
		}

		if err := s.dispatchOne(ctx, rt); err != nil {
			slog.Debug("task not dispatched", "task_id", rt.TaskID, "capability", rt.Capability, "error", err)
			s.checkStall(ctx, rt, now)
		}
	}
}

// dispatchOne picks an agent for one Ready task, reserves a slot,
// records the attempt and publishes the dispatch message.
func (s *SchedulerService) dispatchOne(ctx context.Context, rt ReadyTask) error {
	s.mu.Lock()
	exclude := s.exclusions[rt.TaskID]
	s.mu.Unlock()

	candidates := s.registry.FindCapable(capability.Tag(rt.Capability), exclude)
	if len(candidates) == 0 {
		// Retry with prior agents allowed again rather than starving.
		if len(exclude) > 0 {
			candidates = s.registry.FindCapable(capability.Tag(rt.Capability), nil)
		}
		if len(candidates) == 0 {
			return fmt.Errorf("no capable agent for %s", rt.Capability)
		}
	}

	var agentID string
	for _, id := range candidates {
		if err := s.registry.ReserveSlot(id); err == nil {
			agentID = id
			break
		}
	}
	if agentID == "" {
		return fmt.Errorf("all %d candidates for %s at capacity", len(candidates), rt.Capability)
	}

	if err := s.graph.MarkDispatched(ctx, rt.TaskID, agentID); err != nil {
		s.registry.ReleaseSlot(agentID)
		return err
	}

	rec := dispatch.Record{
		ID:           uuid.NewString(),
		TaskID:       rt.TaskID,
		ObjectiveID:  rt.ObjectiveID,
		AgentID:      agentID,
		Attempt:      rt.Retries + 1,
		DispatchedAt: time.Now(),
		Deadline:     time.Now().Add(s.cfg.DispatchDeadline),
	}
	if err := s.store.CreateDispatch(ctx, &rec); err != nil {
		slog.Warn("dispatch record persist failed", "dispatch_id", rec.ID, "error", err)
	}

	payload, err := json.Marshal(messagequeue.DispatchPayload{
		DispatchID:   rec.ID,
		TaskID:       rt.TaskID,
		ObjectiveID:  rt.ObjectiveID,
		Attempt:      rec.Attempt,
		Capability:   rt.Capability,
		Description:  rt.Description,
		Payload:      rt.Payload,
		DeadlineUnix: rec.Deadline.Unix(),
	})
	if err != nil {
		s.registry.ReleaseSlot(agentID)
		return fmt.Errorf("marshal dispatch: %w", err)
	}
	if err := s.queue.Publish(ctx, messagequeue.DispatchSubject(rt.Capability), payload); err != nil {
		// The task stays Dispatched; the deadline timer below recovers it.
		slog.Error("dispatch publish failed", "dispatch_id", rec.ID, "error", err)
	}

	ad := &activeDispatch{rec: rec}
	ad.timer = time.AfterFunc(s.cfg.DispatchDeadline, func() { s.onDeadline(rec) })

	s.mu.Lock()
	s.active[rt.TaskID] = ad
	delete(s.stalled, rt.ObjectiveID)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TasksDispatched.Add(ctx, 1)
	}
	slog.Info("task dispatched",
		"task_id", rt.TaskID,
		"objective_id", rt.ObjectiveID,
		"agent_id", agentID,
		"dispatch_id", rec.ID,
		"attempt", rec.Attempt)
	return nil
}

// onDeadline fires when an attempt exceeds its deadline with no report.
// It synthesizes a failure through the coordinator, which funnels into
// the same retry/escalation path as an agent-reported failure.
func (s *SchedulerService) onDeadline(rec dispatch.Record) {
	s.mu.Lock()
	ad, ok := s.active[rec.TaskID]
	if !ok || ad.rec.ID != rec.ID {
		s.mu.Unlock()
		return
	}
	delete(s.active, rec.TaskID)
	s.mu.Unlock()

	s.registry.ReleaseSlot(rec.AgentID)
	if s.metrics != nil {
		s.metrics.DispatchTimeouts.Add(context.Background(), 1)
	}
	slog.Warn("dispatch deadline exceeded",
		"dispatch_id", rec.ID,
		"task_id", rec.TaskID,
		"agent_id", rec.AgentID,
		"attempt", rec.Attempt)

	if s.coordinator != nil {
		s.coordinator.ReportTimeout(rec)
	}
}

// Complete atomically claims the in-flight attempt for a report. Only
// the first matching claim wins: late duplicates and reports for a
// superseded attempt return false and must be ignored by the caller.
func (s *SchedulerService) Complete(taskID, dispatchID string) (dispatch.Record, bool) {
	s.mu.Lock()
	ad, ok := s.active[taskID]
	if !ok || ad.rec.ID != dispatchID {
		s.mu.Unlock()
		return dispatch.Record{}, false
	}
	delete(s.active, taskID)
	s.mu.Unlock()

	ad.timer.Stop()
	s.registry.ReleaseSlot(ad.rec.AgentID)
	return ad.rec, true
}

// Exclude remembers that an agent failed a task, so the next attempt
// prefers a different agent.
func (s *SchedulerService) Exclude(taskID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exclusions[taskID] == nil {
		s.exclusions[taskID] = make(map[string]struct{})
	}
	s.exclusions[taskID][agentID] = struct{}{}
}

// Forget drops per-task scheduling state once a task is terminal.
func (s *SchedulerService) Forget(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exclusions, taskID)
	delete(s.active, taskID)
}

// CancelObjective aborts in-flight attempts for an objective: stops
// deadline timers, releases agent slots and tells abort-capable agents
// to drop the work.
func (s *SchedulerService) CancelObjective(ctx context.Context, objectiveID string, cancelled []string) {
	for _, taskID := range cancelled {
		s.mu.Lock()
		ad, ok := s.active[taskID]
		if ok {
			delete(s.active, taskID)
		}
		delete(s.exclusions, taskID)
		s.mu.Unlock()
		if !ok {
			continue
		}

		ad.timer.Stop()
		s.registry.ReleaseSlot(ad.rec.AgentID)

		payload, err := json.Marshal(messagequeue.CancelPayload{
			TaskID:     taskID,
			DispatchID: ad.rec.ID,
		})
		if err != nil {
			continue
		}
		if err := s.queue.Publish(ctx, messagequeue.SubjectTaskCancel, payload); err != nil {
			slog.Warn("cancel publish failed", "task_id", taskID, "error", err)
		}
	}

	s.mu.Lock()
	delete(s.stalled, objectiveID)
	s.mu.Unlock()
}

// checkStall emits a one-shot warning when a Ready task has waited past
// the stall horizon with no capable agent. The objective stays queued;
// the warning gives the operator a chance to register capacity.
func (s *SchedulerService) checkStall(ctx context.Context, rt ReadyTask, now time.Time) {
	if rt.ReadySince.IsZero() || now.Sub(rt.ReadySince) < s.cfg.StallHorizon {
		return
	}

	s.mu.Lock()
	if s.stalled[rt.ObjectiveID] {
		s.mu.Unlock()
		return
	}
	s.stalled[rt.ObjectiveID] = true
	s.mu.Unlock()

	slog.Warn("objective stalled",
		"objective_id", rt.ObjectiveID,
		"task_id", rt.TaskID,
		"capability", rt.Capability,
		"waiting", now.Sub(rt.ReadySince).Round(time.Second))

	status, _ := s.graph.ObjectiveStatus(rt.ObjectiveID)
	n := notifier.Notification{
		ObjectiveID: rt.ObjectiveID,
		Status:      status,
		Warning: fmt.Sprintf("no agent with capability %q available for %s",
			rt.Capability, now.Sub(rt.ReadySince).Round(time.Second)),
	}
	if err := s.notify.Notify(ctx, n); err != nil {
		slog.Warn("stall notification failed", "objective_id", rt.ObjectiveID, "error", err)
	}
}

// ActiveCount reports the number of in-flight dispatches.
func (s *SchedulerService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
