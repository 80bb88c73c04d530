package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tacticore/tacticore/internal/adapter/otel"
	"github.com/tacticore/tacticore/internal/config"
	"github.com/tacticore/tacticore/internal/domain/dispatch"
	"github.com/tacticore/tacticore/internal/domain/objective"
	"github.com/tacticore/tacticore/internal/domain/task"
	"github.com/tacticore/tacticore/internal/port/database"
	"github.com/tacticore/tacticore/internal/port/memory"
	"github.com/tacticore/tacticore/internal/port/messagequeue"
	"github.com/tacticore/tacticore/internal/port/notifier"
)

// CoordinatorService consumes attempt reports, settles task outcomes
// through the graph and the registry, and escalates finished objectives
// upstream. Exactly one report per dispatch takes effect; the in-flight
// claim in the scheduler is the gate.
type CoordinatorService struct {
	cfg       config.Scheduler
	graph     *GraphService
	registry  *RegistryService
	scheduler *SchedulerService
	store     database.Store
	mem       memory.Gateway
	notify    notifier.Notifier
	metrics   *otel.Metrics

	mu         sync.Mutex
	provenance map[string][]notifier.AttemptProvenance // by objective id
	notified   map[string]bool                         // escalations already sent
}

// NewCoordinatorService creates a CoordinatorService.
func NewCoordinatorService(cfg config.Scheduler, graph *GraphService, registry *RegistryService, scheduler *SchedulerService, store database.Store, mem memory.Gateway, notify notifier.Notifier, metrics *otel.Metrics) *CoordinatorService {
	c := &CoordinatorService{
		cfg:        cfg,
		graph:      graph,
		registry:   registry,
		scheduler:  scheduler,
		store:      store,
		mem:        mem,
		notify:     notify,
		metrics:    metrics,
		provenance: make(map[string][]notifier.AttemptProvenance),
		notified:   make(map[string]bool),
	}
	scheduler.SetCoordinator(c)
	return c
}

// StartSubscriber consumes attempt reports from the result subject.
func (c *CoordinatorService) StartSubscriber(ctx context.Context, queue messagequeue.Queue) (func(), error) {
	return queue.Subscribe(ctx, messagequeue.SubjectTaskResult, func(msgCtx context.Context, _ string, data []byte) error {
		var rep dispatch.Report
		if err := json.Unmarshal(data, &rep); err != nil {
			return fmt.Errorf("unmarshal report: %w", err)
		}
		return c.HandleReport(msgCtx, rep)
	})
}

// HandleReport applies one agent report. Reports for attempts that are
// no longer in flight (late duplicates, superseded attempts, reports
// after cancellation) are logged and dropped.
func (c *CoordinatorService) HandleReport(ctx context.Context, rep dispatch.Report) error {
	switch rep.Status {
	case dispatch.StatusRunning:
		// Progress ack only; the attempt stays claimed by its dispatch.
		if _, err := c.graph.Advance(ctx, rep.TaskID, task.StateRunning, nil); err != nil {
			slog.Debug("running ack ignored", "task_id", rep.TaskID, "error", err)
		}
		return nil
	case dispatch.StatusSucceeded, dispatch.StatusFailed:
	default:
		return fmt.Errorf("report for dispatch %s has unknown status %q", rep.DispatchID, rep.Status)
	}

	rec, ok := c.scheduler.Complete(rep.TaskID, rep.DispatchID)
	if !ok {
		slog.Info("stale report dropped",
			"dispatch_id", rep.DispatchID,
			"task_id", rep.TaskID,
			"status", rep.Status)
		return nil
	}

	if rep.Status == dispatch.StatusSucceeded {
		c.settleSuccess(ctx, rec, rep)
	} else {
		c.settleFailure(ctx, rec, &task.Result{
			ErrorKind: rep.ErrorKind,
			Error:     rep.Error,
			Output:    rep.Output,
		})
	}
	return nil
}

// ReportTimeout converts an expired deadline into a failure report. The
// scheduler has already released the claim and the agent slot.
func (c *CoordinatorService) ReportTimeout(rec dispatch.Record) {
	c.settleFailure(context.Background(), rec, &task.Result{
		ErrorKind: "dispatch_timeout",
		Error: fmt.Sprintf("agent %s sent no report within %s",
			rec.AgentID, c.cfg.DispatchDeadline),
	})
}

// Cancel aborts an objective: the graph cancels every non-terminal
// task, the scheduler withdraws in-flight attempts and signals agents.
func (c *CoordinatorService) Cancel(ctx context.Context, objectiveID string) error {
	cancelled, err := c.graph.CancelObjective(ctx, objectiveID)
	if err != nil {
		return err
	}
	c.scheduler.CancelObjective(ctx, objectiveID, cancelled)

	c.mu.Lock()
	delete(c.provenance, objectiveID)
	c.notified[objectiveID] = true // suppress completion escalation
	c.mu.Unlock()
	return nil
}

func (c *CoordinatorService) settleSuccess(ctx context.Context, rec dispatch.Record, rep dispatch.Report) {
	res := &task.Result{
		Output:    rep.Output,
		Artifacts: rep.Artifacts,
	}

	// Archive the result before advancing, so dependents dispatched off
	// this success can already read it.
	if data, err := json.Marshal(res); err == nil {
		key := memory.Key(rec.ObjectiveID, "task:"+rec.TaskID+":result")
		if err := c.mem.PutLongTerm(ctx, key, data); err != nil {
			slog.Warn("result archive failed", "task_id", rec.TaskID, "error", err)
		}
	}

	c.registry.RecordSuccess(rec.AgentID)

	if _, err := c.graph.Advance(ctx, rec.TaskID, task.StateSucceeded, res); err != nil {
		slog.Error("success transition failed", "task_id", rec.TaskID, "error", err)
		return
	}
	c.scheduler.Forget(rec.TaskID)

	if c.metrics != nil {
		c.metrics.TasksSucceeded.Add(ctx, 1)
		c.metrics.TaskDuration.Record(ctx, time.Since(rec.DispatchedAt).Seconds())
	}
	slog.Info("task succeeded",
		"task_id", rec.TaskID,
		"objective_id", rec.ObjectiveID,
		"agent_id", rec.AgentID,
		"attempt", rec.Attempt)

	c.finalizeIfDone(ctx, rec.ObjectiveID)
	c.scheduler.Wake()
}

func (c *CoordinatorService) settleFailure(ctx context.Context, rec dispatch.Record, res *task.Result) {
	c.registry.RecordFailure(rec.AgentID)
	c.scheduler.Exclude(rec.TaskID, rec.AgentID)

	c.mu.Lock()
	c.provenance[rec.ObjectiveID] = append(c.provenance[rec.ObjectiveID], notifier.AttemptProvenance{
		TaskID:    rec.TaskID,
		AgentID:   rec.AgentID,
		Attempt:   rec.Attempt,
		ErrorKind: res.ErrorKind,
		Error:     res.Error,
	})
	c.mu.Unlock()

	retried, err := c.graph.FailAttempt(ctx, rec.TaskID, res, c.cfg.RetryCeiling)
	if err != nil {
		slog.Error("failure transition failed", "task_id", rec.TaskID, "error", err)
		return
	}

	if retried {
		slog.Info("task requeued after failure",
			"task_id", rec.TaskID,
			"agent_id", rec.AgentID,
			"attempt", rec.Attempt,
			"error_kind", res.ErrorKind)
		c.scheduler.Wake()
		return
	}

	c.scheduler.Forget(rec.TaskID)
	if c.metrics != nil {
		c.metrics.TasksFailed.Add(ctx, 1)
		c.metrics.TaskDuration.Record(ctx, time.Since(rec.DispatchedAt).Seconds())
	}
	slog.Warn("task exhausted retries",
		"task_id", rec.TaskID,
		"objective_id", rec.ObjectiveID,
		"error_kind", res.ErrorKind)

	c.finalizeIfDone(ctx, rec.ObjectiveID)
	c.scheduler.Wake()
}

// finalizeIfDone escalates a terminal objective upstream exactly once,
// with artifacts, the dispatch history and the failure provenance
// chain.
func (c *CoordinatorService) finalizeIfDone(ctx context.Context, objectiveID string) {
	status, ok := c.graph.ObjectiveStatus(objectiveID)
	if !ok || !status.Terminal() || status == objective.StatusCancelled {
		return
	}

	c.mu.Lock()
	if c.notified[objectiveID] {
		c.mu.Unlock()
		return
	}
	c.notified[objectiveID] = true
	prov := c.provenance[objectiveID]
	delete(c.provenance, objectiveID)
	c.mu.Unlock()

	dispatches, err := c.store.ListDispatches(ctx, objectiveID)
	if err != nil {
		slog.Warn("dispatch history load failed", "objective_id", objectiveID, "error", err)
	}

	n := notifier.Notification{
		ObjectiveID: objectiveID,
		Status:      status,
		Artifacts:   c.graph.Artifacts(objectiveID),
		Dispatches:  dispatches,
		Provenance:  prov,
	}
	if err := c.notify.Notify(ctx, n); err != nil {
		slog.Error("escalation failed", "objective_id", objectiveID, "error", err)
	}
	slog.Info("objective escalated", "objective_id", objectiveID, "status", status)
}

// Provenance returns the accumulated failure provenance for an
// objective, for inspection over the API.
func (c *CoordinatorService) Provenance(objectiveID string) []notifier.AttemptProvenance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notifier.AttemptProvenance(nil), c.provenance[objectiveID]...)
}
