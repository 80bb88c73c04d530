// Package notifier defines the outbound notification port toward the
// strategic orchestrator.
package notifier

import (
	"context"
	"errors"

	"github.com/tacticore/tacticore/internal/domain/dispatch"
	"github.com/tacticore/tacticore/internal/domain/objective"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// AttemptProvenance records one execution attempt of a failed task, so
// escalations carry the full failure chain instead of completing
// silently partial.
type AttemptProvenance struct {
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id"`
	Attempt   int    `json:"attempt"`
	ErrorKind string `json:"error_kind"`
	Error     string `json:"error,omitempty"`
}

// Notification is the completion/failure report sent upstream.
type Notification struct {
	ObjectiveID string              `json:"objective_id"`
	Status      objective.Status    `json:"status"`
	Artifacts   []string            `json:"artifacts,omitempty"`
	Dispatches  []dispatch.Record   `json:"dispatches,omitempty"`
	Provenance  []AttemptProvenance `json:"provenance,omitempty"`
	Warning     string              `json:"warning,omitempty"`
}

// Notifier is the port interface for delivering notifications to the
// strategic orchestrator.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
