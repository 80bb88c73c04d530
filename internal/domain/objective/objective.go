// Package objective defines the Objective domain entity.
package objective

import "time"

// Status represents the current state of an objective.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a terminal objective status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Objective represents a high-level development goal submitted by the
// strategic orchestrator. It is decomposed into a task graph on receipt.
type Objective struct {
	ID           string    `json:"id"`
	Description  string    `json:"description"`
	Requirements []string  `json:"requirements"`
	Priority     int       `json:"priority"`
	Status       Status    `json:"status"`
	SubmittedAt  time.Time `json:"submitted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to submit a new objective.
type CreateRequest struct {
	Description  string   `json:"description"`
	Requirements []string `json:"requirements"`
	Priority     int      `json:"priority"`
}

// Progress summarizes task-level completion for status queries.
type Progress struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Running   int `json:"running"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
