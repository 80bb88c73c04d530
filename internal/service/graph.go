package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"

	"github.com/tacticore/tacticore/internal/domain"
	"github.com/tacticore/tacticore/internal/domain/objective"
	"github.com/tacticore/tacticore/internal/domain/task"
	"github.com/tacticore/tacticore/internal/port/broadcast"
	"github.com/tacticore/tacticore/internal/port/database"
	"github.com/tacticore/tacticore/internal/port/memory"
)

// objectiveGraph is the in-memory task DAG for one objective. All state
// transitions within one graph are serialized through mu, keeping a
// single-writer discipline per objective while different objectives
// advance in parallel.
type objectiveGraph struct {
	mu         sync.Mutex
	obj        *objective.Objective
	tasks      map[string]*task.Task
	dependents map[string][]string // taskID -> tasks that depend on it
}

// ReadyTask is a schedulable task snapshot handed to the dispatcher.
type ReadyTask struct {
	TaskID      string
	ObjectiveID string
	Capability  string
	Description string
	Priority    int
	Retries     int
	Payload     map[string]any
	ReadySince  time.Time
	CreatedAt   time.Time
}

// GraphService is the task graph manager: it decomposes objectives into
// DAGs, owns every task state transition and computes readiness.
type GraphService struct {
	store database.Store
	mem   memory.Gateway
	hub   broadcast.Broadcaster

	mu        sync.RWMutex
	graphs    map[string]*objectiveGraph // by objective id
	taskIndex map[string]string          // task id -> objective id
}

// NewGraphService creates a GraphService.
func NewGraphService(store database.Store, mem memory.Gateway, hub broadcast.Broadcaster) *GraphService {
	return &GraphService{
		store:     store,
		mem:       mem,
		hub:       hub,
		graphs:    make(map[string]*objectiveGraph),
		taskIndex: make(map[string]string),
	}
}

// Decompose turns a create request into an objective plus its task DAG,
// validates acyclicity, persists everything and registers the graph for
// scheduling. The objective never enters scheduling on error.
func (s *GraphService) Decompose(ctx context.Context, req objective.CreateRequest) (*objective.Objective, []task.Task, error) {
	now := time.Now()
	obj := &objective.Objective{
		ID:           uuid.NewString(),
		Description:  req.Description,
		Requirements: req.Requirements,
		Priority:     req.Priority,
		Status:       objective.StatusPending,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}

	tasks, err := decompose(obj)
	if err != nil {
		return nil, nil, err
	}

	// Cycle detection is mandatory before persistence, even though the
	// construction above cannot produce one.
	if err := validateAcyclic(tasks); err != nil {
		return nil, nil, err
	}

	if err := s.store.CreateObjective(ctx, obj); err != nil {
		return nil, nil, fmt.Errorf("persist objective: %w", err)
	}
	if err := s.store.CreateTasks(ctx, tasks); err != nil {
		return nil, nil, fmt.Errorf("persist tasks: %w", err)
	}

	og := &objectiveGraph{
		obj:        obj,
		tasks:      make(map[string]*task.Task, len(tasks)),
		dependents: make(map[string][]string),
	}
	for i := range tasks {
		t := tasks[i]
		og.tasks[t.ID] = &t
		for _, dep := range t.DependsOn {
			og.dependents[dep] = append(og.dependents[dep], t.ID)
		}
	}

	s.mu.Lock()
	s.graphs[obj.ID] = og
	for id := range og.tasks {
		s.taskIndex[id] = obj.ID
	}
	s.mu.Unlock()

	obj.Status = objective.StatusInProgress
	if err := s.store.UpdateObjectiveStatus(ctx, obj.ID, obj.Status); err != nil {
		slog.Warn("objective status update failed", "objective_id", obj.ID, "error", err)
	}
	s.publishProgressLocked(ctx, og)

	slog.Info("objective decomposed", "objective_id", obj.ID, "tasks", len(tasks))
	return obj, tasks, nil
}

// validateAcyclic runs a topological sort over the task edges and also
// verifies every dependency references a task in the same graph.
func validateAcyclic(tasks []task.Task) error {
	known := make(map[string]bool, len(tasks))
	for i := range tasks {
		known[tasks[i].ID] = true
	}

	var edges []toposort.Edge
	for i := range tasks {
		t := &tasks[i]
		if len(t.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.DependsOn {
			if !known[dep] {
				return fmt.Errorf("task %s depends on unknown task %s: %w", t.ID, dep, domain.ErrCycle)
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("topological sort: %w", domain.ErrCycle)
	}
	return nil
}

// Advance transitions a task and recomputes readiness of its direct
// dependents. Re-applying the same terminal transition is a no-op, not
// an error. Returns the ids of tasks that became Ready.
func (s *GraphService) Advance(ctx context.Context, taskID string, newState task.State, result *task.Result) ([]string, error) {
	og, ok := s.graphFor(taskID)
	if !ok {
		return nil, fmt.Errorf("advance task %s: %w", taskID, domain.ErrNotFound)
	}

	og.mu.Lock()
	defer og.mu.Unlock()

	t := og.tasks[taskID]

	// Idempotent terminal re-application.
	if t.State == newState && t.State.Terminal() {
		return nil, nil
	}
	if !task.CanTransition(t.State, newState) {
		return nil, fmt.Errorf("task %s: illegal transition %s -> %s", taskID, t.State, newState)
	}

	s.applyLocked(og, t, newState, result)

	var newlyReady []string
	switch newState {
	case task.StateSucceeded:
		newlyReady = s.promoteDependentsLocked(og, t)
	case task.StateFailed:
		// Retries exhausted: dependents are unreachable. They pass
		// through Blocked and end Cancelled.
		s.cancelDependentsLocked(og, t.ID)
	}

	s.persistLocked(ctx, og, t)
	s.finishIfTerminalLocked(ctx, og)
	s.publishProgressLocked(ctx, og)

	return newlyReady, nil
}

// MarkDispatched moves a Ready task to Dispatched and records the
// assigned agent, under the objective lock.
func (s *GraphService) MarkDispatched(ctx context.Context, taskID, agentID string) error {
	og, ok := s.graphFor(taskID)
	if !ok {
		return fmt.Errorf("mark dispatched %s: %w", taskID, domain.ErrNotFound)
	}

	og.mu.Lock()
	defer og.mu.Unlock()

	t := og.tasks[taskID]
	if !task.CanTransition(t.State, task.StateDispatched) {
		return fmt.Errorf("task %s: illegal transition %s -> %s", taskID, t.State, task.StateDispatched)
	}
	t.AssignedAgent = agentID
	s.applyLocked(og, t, task.StateDispatched, nil)
	s.persistLocked(ctx, og, t)
	return nil
}

// FailAttempt records a failed execution attempt. Below the retry
// ceiling the task re-enters Ready for another agent; at the ceiling it
// becomes terminally Failed and unreachable dependents are cancelled.
func (s *GraphService) FailAttempt(ctx context.Context, taskID string, res *task.Result, ceiling int) (retried bool, err error) {
	og, ok := s.graphFor(taskID)
	if !ok {
		return false, fmt.Errorf("fail attempt %s: %w", taskID, domain.ErrNotFound)
	}

	og.mu.Lock()
	defer og.mu.Unlock()

	t := og.tasks[taskID]
	if t.State.Terminal() {
		return false, nil
	}

	if t.Retries < ceiling {
		t.Retries++
		t.AssignedAgent = ""
		s.applyLocked(og, t, task.StateReady, res)
		s.persistLocked(ctx, og, t)
		s.publishProgressLocked(ctx, og)
		slog.Info("task retrying", "task_id", taskID, "retries", t.Retries, "ceiling", ceiling)
		return true, nil
	}

	s.applyLocked(og, t, task.StateFailed, res)
	s.cancelDependentsLocked(og, t.ID)
	s.persistLocked(ctx, og, t)
	s.finishIfTerminalLocked(ctx, og)
	s.publishProgressLocked(ctx, og)
	slog.Warn("task failed terminally", "task_id", taskID, "retries", t.Retries)
	return false, nil
}

// CancelObjective cancels every non-terminal task and the objective
// itself. Returns the ids of tasks that were cancelled.
func (s *GraphService) CancelObjective(ctx context.Context, objectiveID string) ([]string, error) {
	s.mu.RLock()
	og, ok := s.graphs[objectiveID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cancel objective %s: %w", objectiveID, domain.ErrNotFound)
	}

	og.mu.Lock()
	defer og.mu.Unlock()

	var cancelled []string
	for _, t := range og.tasks {
		if t.State.Terminal() {
			continue
		}
		s.applyLocked(og, t, task.StateCancelled, nil)
		s.persistLocked(ctx, og, t)
		cancelled = append(cancelled, t.ID)
	}

	og.obj.Status = objective.StatusCancelled
	og.obj.UpdatedAt = time.Now()
	if err := s.store.UpdateObjectiveStatus(ctx, objectiveID, objective.StatusCancelled); err != nil {
		slog.Warn("objective status update failed", "objective_id", objectiveID, "error", err)
	}
	s.publishProgressLocked(ctx, og)

	slog.Info("objective cancelled", "objective_id", objectiveID, "tasks_cancelled", len(cancelled))
	return cancelled, nil
}

// IsObjectiveComplete reports whether every task in the objective's DAG
// is Succeeded or Cancelled as unreachable.
func (s *GraphService) IsObjectiveComplete(objectiveID string) bool {
	s.mu.RLock()
	og, ok := s.graphs[objectiveID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	og.mu.Lock()
	defer og.mu.Unlock()

	for _, t := range og.tasks {
		if t.State != task.StateSucceeded && t.State != task.StateCancelled {
			return false
		}
	}
	return true
}

// ObjectiveStatus returns the current status of an objective's graph.
func (s *GraphService) ObjectiveStatus(objectiveID string) (objective.Status, bool) {
	s.mu.RLock()
	og, ok := s.graphs[objectiveID]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	og.mu.Lock()
	defer og.mu.Unlock()
	return og.obj.Status, true
}

// Progress summarizes task states for an objective.
func (s *GraphService) Progress(objectiveID string) (objective.Progress, bool) {
	s.mu.RLock()
	og, ok := s.graphs[objectiveID]
	s.mu.RUnlock()
	if !ok {
		return objective.Progress{}, false
	}

	og.mu.Lock()
	defer og.mu.Unlock()
	return progressLocked(og), true
}

// Artifacts collects every artifact recorded by succeeded tasks.
func (s *GraphService) Artifacts(objectiveID string) []string {
	s.mu.RLock()
	og, ok := s.graphs[objectiveID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	og.mu.Lock()
	defer og.mu.Unlock()

	var artifacts []string
	for _, t := range og.tasks {
		if t.State == task.StateSucceeded && t.Result != nil {
			artifacts = append(artifacts, t.Result.Artifacts...)
		}
	}
	return artifacts
}

// ReadySnapshot returns every Ready task across all objectives, ordered
// by objective priority (descending) then task creation time. Priority
// is a tie-break only; it never starves lower-priority objectives of
// agents they alone can use.
func (s *GraphService) ReadySnapshot() []ReadyTask {
	s.mu.RLock()
	graphs := make([]*objectiveGraph, 0, len(s.graphs))
	for _, og := range s.graphs {
		graphs = append(graphs, og)
	}
	s.mu.RUnlock()

	var ready []ReadyTask
	for _, og := range graphs {
		og.mu.Lock()
		for _, t := range og.tasks {
			if t.State != task.StateReady {
				continue
			}
			ready = append(ready, ReadyTask{
				TaskID:      t.ID,
				ObjectiveID: t.ObjectiveID,
				Capability:  string(t.Capability),
				Description: t.Description,
				Priority:    og.obj.Priority,
				Retries:     t.Retries,
				Payload:     t.Payload,
				ReadySince:  t.StateTimes[task.StateReady],
				CreatedAt:   t.CreatedAt,
			})
		}
		og.mu.Unlock()
	}

	sortReady(ready)
	return ready
}

// sortReady orders by priority descending, then creation time ascending.
func sortReady(ready []ReadyTask) {
	for i := 1; i < len(ready); i++ {
		for j := i; j > 0; j-- {
			a, b := &ready[j-1], &ready[j]
			if b.Priority > a.Priority || (b.Priority == a.Priority && b.CreatedAt.Before(a.CreatedAt)) {
				ready[j-1], ready[j] = ready[j], ready[j-1]
			} else {
				break
			}
		}
	}
}

// --- internals ---

func (s *GraphService) graphFor(taskID string) (*objectiveGraph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objID, ok := s.taskIndex[taskID]
	if !ok {
		return nil, false
	}
	og, ok := s.graphs[objID]
	return og, ok
}

// applyLocked sets the new state, stamps the transition time and stores
// the result if given. Caller holds og.mu.
func (s *GraphService) applyLocked(og *objectiveGraph, t *task.Task, newState task.State, result *task.Result) {
	t.State = newState
	if t.StateTimes == nil {
		t.StateTimes = make(map[task.State]time.Time)
	}
	t.StateTimes[newState] = time.Now()
	if result != nil {
		t.Result = result
	}
}

// promoteDependentsLocked moves direct dependents of a succeeded task
// to Ready when all their dependencies have succeeded.
func (s *GraphService) promoteDependentsLocked(og *objectiveGraph, t *task.Task) []string {
	var newlyReady []string
	for _, depID := range og.dependents[t.ID] {
		dep := og.tasks[depID]
		if dep.State != task.StatePending {
			continue
		}
		if !allDepsSucceededLocked(og, dep) {
			continue
		}
		s.applyLocked(og, dep, task.StateReady, nil)
		s.persistLocked(context.Background(), og, dep)
		newlyReady = append(newlyReady, dep.ID)
	}
	return newlyReady
}

func allDepsSucceededLocked(og *objectiveGraph, t *task.Task) bool {
	for _, dep := range t.DependsOn {
		if og.tasks[dep].State != task.StateSucceeded {
			return false
		}
	}
	return true
}

// cancelDependentsLocked walks the transitive dependents of a failed
// task, marking them Blocked and then Cancelled.
func (s *GraphService) cancelDependentsLocked(og *objectiveGraph, taskID string) {
	for _, depID := range og.dependents[taskID] {
		dep := og.tasks[depID]
		if dep.State.Terminal() {
			continue
		}
		if task.CanTransition(dep.State, task.StateBlocked) {
			s.applyLocked(og, dep, task.StateBlocked, nil)
		}
		s.applyLocked(og, dep, task.StateCancelled, nil)
		s.persistLocked(context.Background(), og, dep)
		s.cancelDependentsLocked(og, depID)
	}
}

// finishIfTerminalLocked settles the objective status once every task
// has reached a terminal state.
func (s *GraphService) finishIfTerminalLocked(ctx context.Context, og *objectiveGraph) {
	if og.obj.Status.Terminal() {
		return
	}

	anyFailed := false
	for _, t := range og.tasks {
		if !t.State.Terminal() {
			return
		}
		if t.State == task.StateFailed || t.State == task.StateCancelled {
			anyFailed = anyFailed || t.State == task.StateFailed
		}
	}

	status := objective.StatusCompleted
	if anyFailed {
		status = objective.StatusFailed
	}
	og.obj.Status = status
	og.obj.UpdatedAt = time.Now()

	if err := s.store.UpdateObjectiveStatus(ctx, og.obj.ID, status); err != nil {
		slog.Warn("objective status update failed", "objective_id", og.obj.ID, "error", err)
	}

	// Archive the finished objective to long-term memory.
	if data, err := json.Marshal(og.obj); err == nil {
		if err := s.mem.PutLongTerm(ctx, memory.Key(og.obj.ID, "objective"), data); err != nil {
			slog.Warn("objective archive failed", "objective_id", og.obj.ID, "error", err)
		}
	}

	slog.Info("objective finished", "objective_id", og.obj.ID, "status", status)
}

// persistLocked writes the task's current state to the store. Storage
// failures are logged, not fatal: the in-memory graph stays the source
// of truth for scheduling.
func (s *GraphService) persistLocked(ctx context.Context, og *objectiveGraph, t *task.Task) {
	if err := s.store.UpdateTask(ctx, t); err != nil {
		slog.Warn("task persist failed", "task_id", t.ID, "error", err)
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventTaskStatus, map[string]any{
		"task_id":      t.ID,
		"objective_id": t.ObjectiveID,
		"state":        t.State,
	})
}

// publishProgressLocked mirrors the objective's progress to world
// state. Caller holds og.mu.
func (s *GraphService) publishProgressLocked(ctx context.Context, og *objectiveGraph) {
	payload := map[string]any{
		"status":   og.obj.Status,
		"progress": progressLocked(og),
	}
	objID := og.obj.ID
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.mem.PutWorldState(ctx, memory.Key(objID, "status"), data); err != nil {
		slog.Warn("world state update failed", "objective_id", objID, "error", err)
	}
	s.hub.BroadcastEvent(ctx, broadcast.EventObjectiveStatus, payload)
}

func progressLocked(og *objectiveGraph) objective.Progress {
	var p objective.Progress
	for _, t := range og.tasks {
		p.Total++
		switch t.State {
		case task.StateSucceeded:
			p.Succeeded++
		case task.StateRunning, task.StateDispatched:
			p.Running++
		case task.StateFailed:
			p.Failed++
		case task.StateCancelled:
			p.Cancelled++
		}
	}
	return p
}
