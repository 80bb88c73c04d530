// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDecomposition indicates an objective could not be broken into
// capability-satisfiable tasks. The objective never enters scheduling.
var ErrDecomposition = errors.New("objective cannot be decomposed into satisfiable tasks")

// ErrCycle indicates a cyclic dependency was found in a task graph.
var ErrCycle = errors.New("task graph contains a cycle")

// ErrDispatchTimeout indicates an agent did not report back before the
// dispatch deadline elapsed.
var ErrDispatchTimeout = errors.New("dispatch deadline exceeded")

// ErrAgentExecution indicates an agent reported a task failure.
var ErrAgentExecution = errors.New("agent execution failed")

// ErrCapabilityUnavailable indicates no registered agent currently
// satisfies a required capability.
var ErrCapabilityUnavailable = errors.New("no agent satisfies required capability")

// ErrMemoryUnavailable indicates a memory gateway call failed after its
// local retry.
var ErrMemoryUnavailable = errors.New("memory service unavailable")
