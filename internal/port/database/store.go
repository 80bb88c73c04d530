// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/tacticore/tacticore/internal/domain/dispatch"
	"github.com/tacticore/tacticore/internal/domain/objective"
	"github.com/tacticore/tacticore/internal/domain/task"
)

// Store is the port interface for durable objective, task and dispatch
// records. All records stay addressable by id for status queries and
// audit after the in-memory graph is gone.
type Store interface {
	// Objectives
	CreateObjective(ctx context.Context, o *objective.Objective) error
	GetObjective(ctx context.Context, id string) (*objective.Objective, error)
	ListObjectives(ctx context.Context) ([]objective.Objective, error)
	UpdateObjectiveStatus(ctx context.Context, id string, status objective.Status) error

	// Tasks
	CreateTasks(ctx context.Context, tasks []task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, objectiveID string) ([]task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error

	// Dispatch history
	CreateDispatch(ctx context.Context, rec *dispatch.Record) error
	ListDispatches(ctx context.Context, objectiveID string) ([]dispatch.Record, error)

	// Feedback payloads from the strategic orchestrator, stored for
	// future learning.
	SaveFeedback(ctx context.Context, objectiveID string, payload []byte) error
}
