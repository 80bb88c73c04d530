// Package otel provides OpenTelemetry instruments and HTTP middleware.
// Exporter wiring is left to the deployment environment; instruments
// use the global meter provider.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tacticore"

// Metrics holds all engine metric instruments.
type Metrics struct {
	TasksDispatched   metric.Int64Counter
	TasksSucceeded    metric.Int64Counter
	TasksFailed       metric.Int64Counter
	DispatchTimeouts  metric.Int64Counter
	ObjectivesCreated metric.Int64Counter
	TaskDuration      metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksDispatched, err = meter.Int64Counter("tacticore.tasks.dispatched",
		metric.WithDescription("Number of task dispatch attempts"))
	if err != nil {
		return nil, err
	}

	m.TasksSucceeded, err = meter.Int64Counter("tacticore.tasks.succeeded",
		metric.WithDescription("Number of tasks completed successfully"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("tacticore.tasks.failed",
		metric.WithDescription("Number of tasks that reached terminal failure"))
	if err != nil {
		return nil, err
	}

	m.DispatchTimeouts, err = meter.Int64Counter("tacticore.dispatch.timeouts",
		metric.WithDescription("Number of dispatches that exceeded their deadline"))
	if err != nil {
		return nil, err
	}

	m.ObjectivesCreated, err = meter.Int64Counter("tacticore.objectives.created",
		metric.WithDescription("Number of objectives accepted"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("tacticore.task.duration_seconds",
		metric.WithDescription("Task wall time from dispatch to terminal state"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
