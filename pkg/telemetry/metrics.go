// Copyright 2026 © The Busbridge Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the instruments the core components report to.
type Metrics struct {
	toolExecutions   metric.Int64Counter
	toolFailures     metric.Int64Counter
	discoverySweeps  metric.Int64Counter
	objectsVisited   metric.Int64Counter
	inspections      metric.Int64Counter
	auditEntries     metric.Int64Counter
	executionSeconds metric.Float64Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
	metricsErr  error
)

// GetMetrics returns the process-wide metric instruments, creating them on
// first use from the global meter provider.
func GetMetrics() (*Metrics, error) {
	metricsOnce.Do(func() {
		meter := otel.Meter("busbridge")
		m := &Metrics{}
		if m.toolExecutions, metricsErr = meter.Int64Counter("busbridge.tool.executions",
			metric.WithDescription("Tool executions, by tool and outcome")); metricsErr != nil {
			return
		}
		if m.toolFailures, metricsErr = meter.Int64Counter("busbridge.tool.failures",
			metric.WithDescription("Tool executions that returned an error")); metricsErr != nil {
			return
		}
		if m.discoverySweeps, metricsErr = meter.Int64Counter("busbridge.discovery.sweeps",
			metric.WithDescription("Completed bus discovery sweeps")); metricsErr != nil {
			return
		}
		if m.objectsVisited, metricsErr = meter.Int64Counter("busbridge.discovery.objects",
			metric.WithDescription("Object paths visited during discovery")); metricsErr != nil {
			return
		}
		if m.inspections, metricsErr = meter.Int64Counter("busbridge.inspector.runs",
			metric.WithDescription("Object inspections, by detected format")); metricsErr != nil {
			return
		}
		if m.auditEntries, metricsErr = meter.Int64Counter("busbridge.audit.entries",
			metric.WithDescription("Audit log entries written")); metricsErr != nil {
			return
		}
		if m.executionSeconds, metricsErr = meter.Float64Histogram("busbridge.tool.duration",
			metric.WithDescription("Tool execution duration in seconds"),
			metric.WithUnit("s")); metricsErr != nil {
			return
		}
		metricsInst = m
	})
	return metricsInst, metricsErr
}

// RecordToolExecution counts one tool call and its duration.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.toolFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	)
	m.toolExecutions.Add(ctx, 1, attrs)
	m.executionSeconds.Record(ctx, seconds, attrs)
}

// RecordDiscovery counts one completed sweep and the paths it visited.
func (m *Metrics) RecordDiscovery(ctx context.Context, busType string, objects int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("bus", busType))
	m.discoverySweeps.Add(ctx, 1, attrs)
	m.objectsVisited.Add(ctx, int64(objects), attrs)
}

// RecordInspection counts one inspector run.
func (m *Metrics) RecordInspection(ctx context.Context, format string) {
	if m == nil {
		return
	}
	m.inspections.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
}

// RecordAuditEntry counts one audit trail write.
func (m *Metrics) RecordAuditEntry(ctx context.Context, level string) {
	if m == nil {
		return
	}
	m.auditEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("security_level", level)))
}
