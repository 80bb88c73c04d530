package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tacticore/tacticore/internal/domain"
	"github.com/tacticore/tacticore/internal/domain/dispatch"
	"github.com/tacticore/tacticore/internal/domain/objective"
	"github.com/tacticore/tacticore/internal/domain/task"
	"github.com/tacticore/tacticore/internal/port/memory"
	"github.com/tacticore/tacticore/internal/port/messagequeue"
	"github.com/tacticore/tacticore/internal/port/notifier"
)

// fakeStore is an in-memory database.Store for service tests.
type fakeStore struct {
	mu         sync.Mutex
	objectives map[string]objective.Objective
	tasks      map[string]task.Task
	dispatches []dispatch.Record
	feedback   map[string][][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objectives: make(map[string]objective.Objective),
		tasks:      make(map[string]task.Task),
		feedback:   make(map[string][][]byte),
	}
}

func (s *fakeStore) CreateObjective(_ context.Context, o *objective.Objective) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objectives[o.ID] = *o
	return nil
}

func (s *fakeStore) GetObjective(_ context.Context, id string) (*objective.Objective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objectives[id]
	if !ok {
		return nil, fmt.Errorf("objective %s: %w", id, domain.ErrNotFound)
	}
	return &o, nil
}

func (s *fakeStore) ListObjectives(_ context.Context) ([]objective.Objective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]objective.Objective, 0, len(s.objectives))
	for _, o := range s.objectives {
		out = append(out, o)
	}
	return out, nil
}

func (s *fakeStore) UpdateObjectiveStatus(_ context.Context, id string, status objective.Status) error {
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

func (s *fakeStore) CreateTasks(_ context.Context, tasks []task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return nil
}

func (s *fakeStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

func (s *fakeStore) ListTasks(_ context.Context, objectiveID string) ([]task.Task, error) {
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

func (s *fakeStore) UpdateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = *t
	return nil
}

func (s *fakeStore) CreateDispatch(_ context.Context, rec *dispatch.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatches = append(s.dispatches, *rec)
	return nil
}

func (s *fakeStore) ListDispatches(_ context.Context, objectiveID string) ([]dispatch.Record, error) {
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

func (s *fakeStore) SaveFeedback(_ context.Context, objectiveID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[objectiveID] = append(s.feedback[objectiveID], payload)
	return nil
}

func (s *fakeStore) taskState(id string) task.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].State
}

// fakeMem is an in-memory memory.Gateway.
type fakeMem struct {
	mu    sync.Mutex
	tiers map[memory.Tier]map[string][]byte
}

func newFakeMem() *fakeMem {
	return &fakeMem{tiers: map[memory.Tier]map[string][]byte{
		memory.TierShortTerm:  {},
		memory.TierLongTerm:   {},
		memory.TierWorldState: {},
	}}
}

func (m *fakeMem) put(tier memory.Tier, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiers[tier][key] = value
	return nil
}

func (m *fakeMem) get(tier memory.Tier, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.tiers[tier][key]
	return v, ok, nil
}

func (m *fakeMem) PutShortTerm(_ context.Context, key string, value []byte, _ time.Duration) error {
	return m.put(memory.TierShortTerm, key, value)
}

func (m *fakeMem) GetShortTerm(_ context.Context, key string) ([]byte, bool, error) {
	return m.get(memory.TierShortTerm, key)
}

func (m *fakeMem) PutLongTerm(_ context.Context, key string, value []byte) error {
	return m.put(memory.TierLongTerm, key, value)
}

func (m *fakeMem) GetLongTerm(_ context.Context, key string) ([]byte, bool, error) {
	return m.get(memory.TierLongTerm, key)
}

func (m *fakeMem) PutWorldState(_ context.Context, key string, value []byte) error {
	return m.put(memory.TierWorldState, key, value)
}

func (m *fakeMem) GetWorldState(_ context.Context, key string) ([]byte, bool, error) {
	return m.get(memory.TierWorldState, key)
}

func (m *fakeMem) Search(_ context.Context, query string, tier memory.Tier, limit int) ([]memory.Entry, error) {
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

// fakeHub records broadcast events.
type fakeHub struct {
	mu     sync.Mutex
	events []string
}

func (h *fakeHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}

// fakeQueue records published messages and registered handlers.
type published struct {
	subject string
	data    []byte
}

type fakeQueue struct {
	mu         sync.Mutex
	messages   []published
	handlers   map[string]messagequeue.Handler
	publishErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{handlers: make(map[string]messagequeue.Handler)}
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.messages = append(q.messages, published{subject: subject, data: data})
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = handler
	return func() {}, nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) published(subjectPrefix string) []published {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []published
	for _, m := range q.messages {
		if strings.HasPrefix(m.subject, subjectPrefix) {
			out = append(out, m)
		}
	}
	return out
}

// fakeNotifier records outbound notifications.
type fakeNotifier struct {
	mu            sync.Mutex
	notifications []notifier.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, notif notifier.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notif)
	return nil
}

func (n *fakeNotifier) sent() []notifier.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifier.Notification(nil), n.notifications...)
}
