// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error
}

// Subject constants for the agent dispatch protocol. Ordering is
// guaranteed per task only, never globally.
const (
	// SubjectTaskDispatch is the prefix for capability-specific
	// dispatch subjects: tasks.dispatch.{capability}.
	SubjectTaskDispatch = "tasks.dispatch"

	// SubjectTaskResult carries success/failure reports from agents.
	SubjectTaskResult = "tasks.result"

	// SubjectTaskCancel signals abort-capable agents to drop a task.
	SubjectTaskCancel = "tasks.cancel"

	// SubjectAgentHeartbeat carries agent health reports.
	SubjectAgentHeartbeat = "agents.heartbeat"
)

// DispatchSubject returns the capability-specific dispatch subject.
func DispatchSubject(capability string) string {
	return SubjectTaskDispatch + "." + capability
}

// DispatchPayload is the message handed to an agent for one attempt.
type DispatchPayload struct {
	DispatchID   string         `json:"dispatch_id"`
	TaskID       string         `json:"task_id"`
	ObjectiveID  string         `json:"objective_id"`
	Attempt      int            `json:"attempt"`
	Capability   string         `json:"capability"`
	Description  string         `json:"description"`
	Payload      map[string]any `json:"payload,omitempty"`
	DeadlineUnix int64          `json:"deadline_unix"`
}

// CancelPayload tells an agent to abort a task if it can.
type CancelPayload struct {
	TaskID     string `json:"task_id"`
	DispatchID string `json:"dispatch_id"`
}

// HeartbeatPayload is an agent's periodic health report.
type HeartbeatPayload struct {
	AgentID string `json:"agent_id"`
	Health  string `json:"health"`
}
