package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tacticore/tacticore/internal/adapter/ws"
	"github.com/tacticore/tacticore/internal/config"
	"github.com/tacticore/tacticore/internal/domain"
	"github.com/tacticore/tacticore/internal/domain/dispatch"
	"github.com/tacticore/tacticore/internal/domain/objective"
	"github.com/tacticore/tacticore/internal/domain/task"
	"github.com/tacticore/tacticore/internal/port/memory"
	"github.com/tacticore/tacticore/internal/port/messagequeue"
	"github.com/tacticore/tacticore/internal/port/notifier"
	"github.com/tacticore/tacticore/internal/service"
)

// --- in-memory test doubles ---

type stubStore struct {
	mu         sync.Mutex
	objectives map[string]objective.Objective
	tasks      map[string]task.Task
	dispatches []dispatch.Record
	feedback   map[string][][]byte
}

func newStubStore() *stubStore {
	return &stubStore{
		objectives: make(map[string]objective.Objective),
		tasks:      make(map[string]task.Task),
		feedback:   make(map[string][][]byte),
	}
}

func (s *stubStore) CreateObjective(_ context.Context, o *objective.Objective) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objectives[o.ID] = *o
	return nil
}

func (s *stubStore) GetObjective(_ context.Context, id string) (*objective.Objective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objectives[id]
	if !ok {
		return nil, fmt.Errorf("objective %s: %w", id, domain.ErrNotFound)
	}
	return &o, nil
}

func (s *stubStore) ListObjectives(_ context.Context) ([]objective.Objective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]objective.Objective, 0, len(s.objectives))
	for _, o := range s.objectives {
		out = append(out, o)
	}
	return out, nil
}

func (s *stubStore) UpdateObjectiveStatus(_ context.Context, id string, status objective.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objectives[id]
	if !ok {
		return fmt.Errorf("objective %s: %w", id, domain.ErrNotFound)
	}
	o.Status = status
	s.objectives[id] = o
	return nil
}

func (s *stubStore) CreateTasks(_ context.Context, tasks []task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return nil
}

func (s *stubStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

func (s *stubStore) ListTasks(_ context.Context, objectiveID string) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if t.ObjectiveID == objectiveID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *stubStore) UpdateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = *t
	return nil
}

func (s *stubStore) CreateDispatch(_ context.Context, rec *dispatch.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatches = append(s.dispatches, *rec)
	return nil
}

func (s *stubStore) ListDispatches(_ context.Context, objectiveID string) ([]dispatch.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dispatch.Record
	for _, rec := range s.dispatches {
		if rec.ObjectiveID == objectiveID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *stubStore) SaveFeedback(_ context.Context, objectiveID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[objectiveID] = append(s.feedback[objectiveID], payload)
	return nil
}

type stubMem struct {
	mu    sync.Mutex
	tiers map[memory.Tier]map[string][]byte
}

func newStubMem() *stubMem {
	return &stubMem{tiers: map[memory.Tier]map[string][]byte{
		memory.TierShortTerm:  {},
		memory.TierLongTerm:   {},
		memory.TierWorldState: {},
	}}
}

func (m *stubMem) put(tier memory.Tier, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[tier][key] = value
	return nil
}

func (m *stubMem) get(tier memory.Tier, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.tiers[tier][key]
	return v, ok, nil
}

func (m *stubMem) PutShortTerm(_ context.Context, key string, value []byte, _ time.Duration) error {
	return m.put(memory.TierShortTerm, key, value)
}

func (m *stubMem) GetShortTerm(_ context.Context, key string) ([]byte, bool, error) {
	return m.get(memory.TierShortTerm, key)
}

func (m *stubMem) PutLongTerm(_ context.Context, key string, value []byte) error {
	return m.put(memory.TierLongTerm, key, value)
}

func (m *stubMem) GetLongTerm(_ context.Context, key string) ([]byte, bool, error) {
	return m.get(memory.TierLongTerm, key)
}

func (m *stubMem) PutWorldState(_ context.Context, key string, value []byte) error {
	return m.put(memory.TierWorldState, key, value)
}

func (m *stubMem) GetWorldState(_ context.Context, key string) ([]byte, bool, error) {
	return m.get(memory.TierWorldState, key)
}

func (m *stubMem) Search(_ context.Context, query string, tier memory.Tier, limit int) ([]memory.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []memory.Entry
	for k, v := range m.tiers[tier] {
		if strings.Contains(k, query) || strings.Contains(string(v), query) {
			out = append(out, memory.Entry{Key: k, Value: v})
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type stubQueue struct{}

func (stubQueue) Publish(context.Context, string, []byte) error { return nil }

func (stubQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (stubQueue) Close() error { return nil }

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, notifier.Notification) error { return nil }

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

// --- server wiring ---

func newTestServer(t *testing.T) (*chi.Mux, *stubStore) {
	t.Helper()

	store := newStubStore()
	mem := newStubMem()
	hub := ws.NewHub()

	schedCfg := config.Scheduler{
		PollInterval:     time.Hour,
		DispatchDeadline: time.Hour,
		RetryCeiling:     2,
		StallHorizon:     time.Hour,
	}
	regCfg := config.Registry{
		HeartbeatTimeout: 45 * time.Second,
		SweepInterval:    15 * time.Second,
		FailureThreshold: 3,
	}

	graph := service.NewGraphService(store, mem, hub)
	registry := service.NewRegistryService(regCfg, mem, hub)
	scheduler := service.NewSchedulerService(schedCfg, graph, registry, store, stubQueue{}, stubNotifier{}, nil)
	coordinator := service.NewCoordinatorService(schedCfg, graph, registry, scheduler, store, mem, stubNotifier{}, nil)

	h := NewHandlers(graph, registry, scheduler, coordinator, store, mem, hub, nil, stubPinger{}, func() bool { return true })

	r := chi.NewRouter()
	MountRoutes(r, h, hub.HandleWS)
	return r, store
}

func doRequest(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// --- tests ---

func TestCreateObjectiveHandler(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/objectives", map[string]any{
		"description":  "Ship the search feature",
		"requirements": []string{"Implement the search endpoint"},
		"priority":     3,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Objective objective.Objective `json:"objective"`
		Tasks     []task.Task         `json:"tasks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Objective.ID == "" {
		t.Error("expected objective id")
	}
	// analysis + 1 requirement + review
	if len(resp.Tasks) != 3 {
		t.Errorf("tasks = %d, want 3", len(resp.Tasks))
	}
}

func TestCreateObjectiveRejectsUnmappableRequirement(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/objectives", map[string]any{
		"description":  "Vague goal",
		"requirements": []string{"???"},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateObjectiveRequiresDescription(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/objectives", map[string]any{
		"requirements": []string{"Implement something"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetObjectiveNotFound(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/objectives/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestObjectiveLifecycleOverAPI(t *testing.T) {
	r, store := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/objectives", map[string]any{
		"description":  "Ship the export feature",
		"requirements": []string{"Implement the export endpoint"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Objective objective.Objective `json:"objective"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	id := created.Objective.ID

	rec = doRequest(t, r, http.MethodGet, "/api/v1/objectives/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/v1/objectives/"+id+"/tasks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("tasks status = %d", rec.Code)
	}
	var tasks []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Errorf("tasks = %d, want 3", len(tasks))
	}

	rec = doRequest(t, r, http.MethodPost, "/api/v1/objectives/"+id+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", rec.Code, rec.Body.String())
	}
	obj, err := store.GetObjective(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if obj.Status != objective.StatusCancelled {
		t.Errorf("objective status = %s, want %s", obj.Status, objective.StatusCancelled)
	}

	rec = doRequest(t, r, http.MethodPost, "/api/v1/objectives/"+id+"/feedback", map[string]any{
		"rating": "good",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("feedback status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.feedback[id]) != 1 {
		t.Errorf("feedback entries = %d, want 1", len(store.feedback[id]))
	}
}

func TestAgentRegistrationOverAPI(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/agents", map[string]any{
		"name":              "coder-1",
		"capabilities":      []string{"code_generation", "test_writing"},
		"concurrency_limit": 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", rec.Code, rec.Body.String())
	}
	var d struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/v1/agents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodPost, "/api/v1/agents/"+d.ID+"/heartbeat", map[string]any{
		"health": "healthy",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d", rec.Code)
	}

	rec = doRequest(t, r, http.MethodDelete, "/api/v1/agents/"+d.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("deregister status = %d", rec.Code)
	}
	rec = doRequest(t, r, http.MethodGet, "/api/v1/agents/"+d.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after deregister status = %d, want 404", rec.Code)
	}
}

func TestAgentRegistrationRejectsUnknownCapability(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodPost, "/api/v1/agents", map[string]any{
		"name":         "bogus",
		"capabilities": []string{"time_travel"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMemorySearchRequiresQuery(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/api/v1/memory/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/v1/memory/search?q=x&tier=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, r, http.MethodGet, "/api/v1/memory/search?q=x", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := newTestServer(t)

	rec := doRequest(t, r, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["postgres"] != "up" || body["nats"] != "up" {
		t.Errorf("unexpected health body: %v", body)
	}
}
