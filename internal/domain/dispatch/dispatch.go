// Package dispatch defines the ephemeral binding between a task and an
// agent for one execution attempt.
package dispatch

import "time"

// Record binds a task to an agent for a single attempt. It is created
// by the scheduler and destroyed (or converted to a terminal result) by
// the result coordinator.
type Record struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	ObjectiveID  string    `json:"objective_id"`
	AgentID      string    `json:"agent_id"`
	Attempt      int       `json:"attempt"`
	DispatchedAt time.Time `json:"dispatched_at"`
	Deadline     time.Time `json:"deadline"`
}

// Report is what an agent (or the deadline timer, synthetically) sends
// back for a dispatch. Status is "succeeded" or "failed".
type Report struct {
	DispatchID string   `json:"dispatch_id"`
	TaskID     string   `json:"task_id"`
	AgentID    string   `json:"agent_id"`
	Attempt    int      `json:"attempt"`
	Status     string   `json:"status"`
	Output     string   `json:"output,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`
	ErrorKind  string   `json:"error_kind,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Attempt statuses reported by agents. Running is an optional progress
// ack; succeeded and failed settle the attempt.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)
