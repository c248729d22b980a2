package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("generation-metrics")

// GenerationMetrics provides metrics collection for generation jobs and
// observer connections
type GenerationMetrics struct {
	jobsCreatedCounter    metric.Int64Counter
	jobsCompletedCounter  metric.Int64Counter
	jobsFailedCounter     metric.Int64Counter
	unitsGeneratedCounter metric.Int64Counter
	unitsFailedCounter    metric.Int64Counter
	jobDurationHistogram  metric.Float64Histogram
	jobsActiveGauge       metric.Int64UpDownCounter
	connectionsGauge      metric.Int64UpDownCounter
}

// NewGenerationMetrics creates a new generation metrics collector
func NewGenerationMetrics() (*GenerationMetrics, error) {
	jobsCreatedCounter, err := meter.Int64Counter(
		"site_orchestrator.jobs.created",
		metric.WithDescription("Total number of generation jobs started"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	jobsCompletedCounter, err := meter.Int64Counter(
		"site_orchestrator.jobs.completed",
		metric.WithDescription("Total number of generation jobs completed successfully"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	jobsFailedCounter, err := meter.Int64Counter(
		"site_orchestrator.jobs.failed",
		metric.WithDescription("Total number of generation jobs that failed"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	unitsGeneratedCounter, err := meter.Int64Counter(
		"site_orchestrator.units.generated",
		metric.WithDescription("Total number of units that produced an artifact"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	unitsFailedCounter, err := meter.Int64Counter(
		"site_orchestrator.units.failed",
		metric.WithDescription("Total number of units that failed after retries"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, err
	}

	jobDurationHistogram, err := meter.Float64Histogram(
		"site_orchestrator.job.duration",
		metric.WithDescription("Duration of generation job execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	jobsActiveGauge, err := meter.Int64UpDownCounter(
		"site_orchestrator.jobs.active",
		metric.WithDescription("Number of currently active generation jobs"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	connectionsGauge, err := meter.Int64UpDownCounter(
		"site_orchestrator.connections.active",
		metric.WithDescription("Number of currently open observer connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	return &GenerationMetrics{
		jobsCreatedCounter:    jobsCreatedCounter,
		jobsCompletedCounter:  jobsCompletedCounter,
		jobsFailedCounter:     jobsFailedCounter,
		unitsGeneratedCounter: unitsGeneratedCounter,
		unitsFailedCounter:    unitsFailedCounter,
		jobDurationHistogram:  jobDurationHistogram,
		jobsActiveGauge:       jobsActiveGauge,
		connectionsGauge:      connectionsGauge,
	}, nil
}

// RecordJobCreated records a new generation job
func (gm *GenerationMetrics) RecordJobCreated(ctx context.Context, projectID string) {
	gm.jobsCreatedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("project.id", projectID)),
	)
	gm.jobsActiveGauge.Add(ctx, 1,
		metric.WithAttributes(attribute.String("project.id", projectID)),
	)
}

// RecordJobCompleted records a successful job completion
func (gm *GenerationMetrics) RecordJobCompleted(ctx context.Context, projectID string, duration time.Duration) {
	gm.jobsCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("status", "completed"),
		),
	)
	gm.jobDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("status", "completed"),
		),
	)
	gm.jobsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(attribute.String("project.id", projectID)),
	)
}

// RecordJobFailed records a failed job execution
func (gm *GenerationMetrics) RecordJobFailed(ctx context.Context, projectID, errorType string, duration time.Duration) {
	gm.jobsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("status", "failed"),
			attribute.String("error.type", errorType),
		),
	)
	gm.jobDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("status", "failed"),
		),
	)
	gm.jobsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(attribute.String("project.id", projectID)),
	)
}

// RecordUnitGenerated records one unit's artifact being produced
func (gm *GenerationMetrics) RecordUnitGenerated(ctx context.Context, projectID, kind string) {
	gm.unitsGeneratedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("artifact.kind", kind),
		),
	)
}

// RecordUnitFailed records one unit failing after exhausting retries
func (gm *GenerationMetrics) RecordUnitFailed(ctx context.Context, projectID, unitName string) {
	gm.unitsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("project.id", projectID),
			attribute.String("unit.name", unitName),
		),
	)
}

// RecordConnectionOpened records a new observer connection
func (gm *GenerationMetrics) RecordConnectionOpened(ctx context.Context) {
	gm.connectionsGauge.Add(ctx, 1)
}

// RecordConnectionClosed records an observer connection closing
func (gm *GenerationMetrics) RecordConnectionClosed(ctx context.Context) {
	gm.connectionsGauge.Add(ctx, -1)
}
