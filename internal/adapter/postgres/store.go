package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tacticore/tacticore/internal/domain"
	"github.com/tacticore/tacticore/internal/domain/dispatch"
	"github.com/tacticore/tacticore/internal/domain/objective"
	"github.com/tacticore/tacticore/internal/domain/task"
	"github.com/tacticore/tacticore/internal/port/memory"
)

// Store implements database.Store and the memory gateway's durable
// tier using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Objectives ---

func (s *Store) CreateObjective(ctx context.Context, o *objective.Objective) error {
	reqs, err := json.Marshal(o.Requirements)
	if err != nil {
		return fmt.Errorf("marshal requirements: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO objectives (id, description, requirements, priority, status, submitted_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.Description, reqs, o.Priority, o.Status, o.SubmittedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create objective: %w", err)
	}
	return nil
}

func (s *Store) GetObjective(ctx context.Context, id string) (*objective.Objective, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, description, requirements, priority, status, submitted_at, updated_at
		 FROM objectives WHERE id = $1`, id)

	o, err := scanObjective(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get objective %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get objective %s: %w", id, err)
	}
	return &o, nil
}

func (s *Store) ListObjectives(ctx context.Context) ([]objective.Objective, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, description, requirements, priority, status, submitted_at, updated_at
		 FROM objectives ORDER BY submitted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list objectives: %w", err)
	}
	defer rows.Close()

	var objectives []objective.Objective
	for rows.Next() {
		o, err := scanObjective(rows)
		if err != nil {
			return nil, err
		}
		objectives = append(objectives, o)
	}
	return objectives, rows.Err()
}

func (s *Store) UpdateObjectiveStatus(ctx context.Context, id string, status objective.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE objectives SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update objective status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update objective %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// --- Tasks ---

func (s *Store) CreateTasks(ctx context.Context, tasks []task.Task) error {
	batch := &pgx.Batch{}
	for i := range tasks {
		t := &tasks[i]
		deps, err := json.Marshal(t.DependsOn)
		if err != nil {
			return fmt.Errorf("marshal depends_on: %w", err)
		}
		payload, err := json.Marshal(t.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		batch.Queue(
			`INSERT INTO tasks (id, objective_id, description, capability, depends_on, payload, state, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.ObjectiveID, t.Description, t.Capability, deps, payload, t.State, t.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	for range tasks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("create tasks: %w", err)
		}
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, objective_id, description, capability, depends_on, payload, state, retries, assigned_agent, result, state_times, created_at
		 FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, objectiveID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, objective_id, description, capability, depends_on, payload, state, retries, assigned_agent, result, state_times, created_at
		 FROM tasks WHERE objective_id = $1 ORDER BY created_at`, objectiveID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	result, err := json.Marshal(t.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	stateTimes, err := json.Marshal(t.StateTimes)
	if err != nil {
		return fmt.Errorf("marshal state_times: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET state = $2, retries = $3, assigned_agent = $4, result = $5, state_times = $6
		 WHERE id = $1`,
		t.ID, t.State, t.Retries, nullable(t.AssignedAgent), result, stateTimes)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}

// --- Dispatch history ---

func (s *Store) CreateDispatch(ctx context.Context, rec *dispatch.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dispatches (id, task_id, objective_id, agent_id, attempt, dispatched_at, deadline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.TaskID, rec.ObjectiveID, rec.AgentID, rec.Attempt, rec.DispatchedAt, rec.Deadline)
	if err != nil {
		return fmt.Errorf("create dispatch: %w", err)
	}
	return nil
}

func (s *Store) ListDispatches(ctx context.Context, objectiveID string) ([]dispatch.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, objective_id, agent_id, attempt, dispatched_at, deadline
		 FROM dispatches WHERE objective_id = $1 ORDER BY dispatched_at`, objectiveID)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	var recs []dispatch.Record
	for rows.Next() {
		var r dispatch.Record
		if err := rows.Scan(&r.ID, &r.TaskID, &r.ObjectiveID, &r.AgentID, &r.Attempt, &r.DispatchedAt, &r.Deadline); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// --- Feedback ---

func (s *Store) SaveFeedback(ctx context.Context, objectiveID string, payload []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (objective_id, payload) VALUES ($1, $2)`, objectiveID, payload)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// --- Memory (durable tier + search mirror) ---

func (s *Store) PutMemory(ctx context.Context, tier memory.Tier, key string, value []byte, expiresAt *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_entries (tier, key, value, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (tier, key) DO UPDATE SET value = $3, expires_at = $4, updated_at = now()`,
		tier, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("put memory %s/%s: %w", tier, key, err)
	}
	return nil
}

func (s *Store) GetMemory(ctx context.Context, tier memory.Tier, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM memory_entries
		 WHERE tier = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > now())`,
		tier, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get memory %s/%s: %w", tier, key, err)
	}
	return value, true, nil
}

func (s *Store) SearchMemory(ctx context.Context, tier memory.Tier, query string, limit int) ([]memory.Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM memory_entries
		 WHERE tier = $1 AND (key ILIKE '%' || $2 || '%' OR convert_from(value, 'UTF8') ILIKE '%' || $2 || '%')
		   AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY updated_at DESC LIMIT $3`,
		tier, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search memory %s: %w", tier, err)
	}
	defer rows.Close()

	var entries []memory.Entry
	for rows.Next() {
		var e memory.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObjective(row rowScanner) (objective.Objective, error) {
	var (
		o    objective.Objective
		reqs []byte
	)
	if err := row.Scan(&o.ID, &o.Description, &reqs, &o.Priority, &o.Status, &o.SubmittedAt, &o.UpdatedAt); err != nil {
		return o, err
	}
	if err := json.Unmarshal(reqs, &o.Requirements); err != nil {
		return o, fmt.Errorf("unmarshal requirements: %w", err)
	}
	return o, nil
}

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t          task.Task
		deps       []byte
		payload    []byte
		result     []byte
		stateTimes []byte
		agent      *string
	)
	if err := row.Scan(&t.ID, &t.ObjectiveID, &t.Description, &t.Capability, &deps, &payload, &t.State, &t.Retries, &agent, &result, &stateTimes, &t.CreatedAt); err != nil {
		return t, err
	}
	if agent != nil {
		t.AssignedAgent = *agent
	}
	if err := json.Unmarshal(deps, &t.DependsOn); err != nil {
		return t, fmt.Errorf("unmarshal depends_on: %w", err)
	}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return t, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if len(result) > 0 && string(result) != "null" {
		t.Result = &task.Result{}
		if err := json.Unmarshal(result, t.Result); err != nil {
			return t, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(stateTimes) > 0 && string(stateTimes) != "null" {
		if err := json.Unmarshal(stateTimes, &t.StateTimes); err != nil {
			return t, fmt.Errorf("unmarshal state_times: %w", err)
		}
	}
	return t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
