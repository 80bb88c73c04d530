package http

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tacticore/tacticore/internal/adapter/otel"
	"github.com/tacticore/tacticore/internal/adapter/ws"
	"github.com/tacticore/tacticore/internal/domain/agent"
	"github.com/tacticore/tacticore/internal/domain/objective"
	"github.com/tacticore/tacticore/internal/port/database"
	"github.com/tacticore/tacticore/internal/port/memory"
	"github.com/tacticore/tacticore/internal/service"
)

// Pinger reports backend reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers bundles the services behind the REST API.
type Handlers struct {
	graph       *service.GraphService
	registry    *service.RegistryService
	scheduler   *service.SchedulerService
	coordinator *service.CoordinatorService
	store       database.Store
	mem         memory.Gateway
	hub         *ws.Hub
	metrics     *otel.Metrics
	db          Pinger
	natsUp      func() bool
}

// NewHandlers creates the handler set.
func NewHandlers(graph *service.GraphService, registry *service.RegistryService, scheduler *service.SchedulerService, coordinator *service.CoordinatorService, store database.Store, mem memory.Gateway, hub *ws.Hub, metrics *otel.Metrics, db Pinger, natsUp func() bool) *Handlers {
	return &Handlers{
		graph:       graph,
		registry:    registry,
		scheduler:   scheduler,
		coordinator: coordinator,
		store:       store,
		mem:         mem,
		hub:         hub,
		metrics:     metrics,
		db:          db,
		natsUp:      natsUp,
	}
}

// ---------------------------------------------------------------------------
// Objectives
// ---------------------------------------------------------------------------

// CreateObjective accepts a new objective and decomposes it into a task
// graph synchronously. Decomposition failures are a 422: the objective
// is never partially accepted.
func (h *Handlers) CreateObjective(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[objective.CreateRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	obj, tasks, err := h.graph.Decompose(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "objective not accepted")
		return
	}

	if h.metrics != nil {
		h.metrics.ObjectivesCreated.Add(r.Context(), 1)
	}
	h.scheduler.Wake()

	writeJSON(w, http.StatusCreated, map[string]any{
		"objective": obj,
		"tasks":     tasks,
	})
}

// ListObjectives returns all stored objectives.
func (h *Handlers) ListObjectives(w http.ResponseWriter, r *http.Request) {
	objs, err := h.store.ListObjectives(r.Context())
	if err != nil {
		writeDomainError(w, err, "objectives not found")
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

// GetObjective returns one objective with live progress when the graph
// is still resident, falling back to the stored record.
func (h *Handlers) GetObjective(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	obj, err := h.store.GetObjective(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "objective not found")
		return
	}

	resp := map[string]any{"objective": obj}
	if progress, ok := h.graph.Progress(id); ok {
		resp["progress"] = progress
	}
	if artifacts := h.graph.Artifacts(id); len(artifacts) > 0 {
		resp["artifacts"] = artifacts
	}
	if prov := h.coordinator.Provenance(id); len(prov) > 0 {
		resp["provenance"] = prov
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListObjectiveTasks returns the task records of one objective.
func (h *Handlers) ListObjectiveTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasks(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "tasks not found")
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// ListObjectiveDispatches returns the dispatch audit trail.
func (h *Handlers) ListObjectiveDispatches(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListDispatches(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "dispatches not found")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// CancelObjective aborts an objective and all its non-terminal tasks.
func (h *Handlers) CancelObjective(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.coordinator.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "objective not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(objective.StatusCancelled)})
}

// SubmitFeedback stores an upstream feedback payload verbatim for
// future learning.
func (h *Handlers) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "feedback payload is required")
		return
	}

	if _, err := h.store.GetObjective(r.Context(), id); err != nil {
		writeDomainError(w, err, "objective not found")
		return
	}
	if err := h.store.SaveFeedback(r.Context(), id, payload); err != nil {
		writeDomainError(w, err, "feedback not stored")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stored"})
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// RegisterAgent adds an agent to the registry.
func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[agent.RegisterRequest](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	d, err := h.registry.Register(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.scheduler.Wake()
	writeJSON(w, http.StatusCreated, d)
}

// ListAgents returns a registry snapshot.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

// GetAgent returns one agent descriptor.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	d, ok := h.registry.Get(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DeregisterAgent removes an agent from the registry.
func (h *Handlers) DeregisterAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deregister(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered"})
}

type heartbeatRequest struct {
	Health string `json:"health"`
}

// AgentHeartbeat records a health report over HTTP, for agents that do
// not speak NATS.
func (h *Handlers) AgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[heartbeatRequest](w, r)
	if !ok {
		return
	}
	if err := h.registry.Heartbeat(r.Context(), urlParam(r, "id"), agent.Health(req.Health)); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

// SearchMemory runs an eventually consistent substring search over one
// memory tier.
func (h *Handlers) SearchMemory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	tier := memory.Tier(r.URL.Query().Get("tier"))
	switch tier {
	case memory.TierShortTerm, memory.TierLongTerm, memory.TierWorldState:
	case "":
		tier = memory.TierLongTerm
	default:
		writeError(w, http.StatusBadRequest, "unknown tier")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.mem.Search(r.Context(), query, tier, limit)
	if err != nil {
		writeDomainError(w, err, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

// Health reports backend reachability plus scheduler and hub gauges.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	postgres := "up"
	if err := h.db.Ping(r.Context()); err != nil {
		postgres = "down"
		status = http.StatusServiceUnavailable
	}
	nats := "up"
	if h.natsUp != nil && !h.natsUp() {
		nats = "down"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"postgres":          postgres,
		"nats":              nats,
		"agents":            len(h.registry.List()),
		"active_dispatches": h.scheduler.ActiveCount(),
		"ws_connections":    h.hub.ConnectionCount(),
	})
}
