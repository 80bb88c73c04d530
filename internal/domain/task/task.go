// Package task defines the Task domain entity and its state machine.
package task

import (
	"time"

	"github.com/tacticore/tacticore/internal/domain/capability"
)

// State represents the lifecycle state of a task.
type State string

const (
	StatePending    State = "pending"
	StateReady      State = "ready"
	StateDispatched State = "dispatched"
	StateRunning    State = "running"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateBlocked    State = "blocked"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether s is a terminal task state. Blocked is not
// terminal: it is a transit state on the way to Cancelled.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// transitions lists the legal state machine edges.
var transitions = map[State][]State{
	StatePending:    {StateReady, StateBlocked, StateCancelled},
	StateReady:      {StateDispatched, StateBlocked, StateCancelled},
	StateDispatched: {StateRunning, StateSucceeded, StateReady, StateFailed, StateCancelled},
	StateRunning:    {StateSucceeded, StateReady, StateFailed, StateCancelled},
	StateBlocked:    {StateCancelled},
}

// CanTransition reports whether moving from to next is a legal edge.
func CanTransition(from, next State) bool {
	for _, s := range transitions[from] {
		if s == next {
			return true
		}
	}
	return false
}

// Task is a unit of decomposed work, assigned to one agent at a time.
type Task struct {
	ID            string              `json:"id"`
	ObjectiveID   string              `json:"objective_id"`
	Description   string              `json:"description"`
	Capability    capability.Tag      `json:"capability"`
	DependsOn     []string            `json:"depends_on,omitempty"`
	Payload       map[string]any      `json:"payload,omitempty"`
	State         State               `json:"state"`
	Retries       int                 `json:"retries"`
	AssignedAgent string              `json:"assigned_agent,omitempty"`
	Result        *Result             `json:"result,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	StateTimes    map[State]time.Time `json:"state_times,omitempty"`
}

// Result holds the output of a finished task attempt.
type Result struct {
	Output    string   `json:"output,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	Error     string   `json:"error,omitempty"`
}
