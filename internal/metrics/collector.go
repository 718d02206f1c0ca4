// Package metrics provides the prometheus collectors for runs, stages and tool calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the pipeline metrics.
type Collector struct {
	runsTotal *prometheus.CounterVec

	stageExecutionsTotal   *prometheus.CounterVec
	stageExecutionDuration *prometheus.HistogramVec

	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	rationaleFallbacks *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the collectors with reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	c.stageExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_executions_total",
			Help:      "Total number of stage executions",
		},
		[]string{"stage", "status"},
	)

	c.stageExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_execution_duration_seconds",
			Help:      "Stage execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of MCP tool calls",
		},
		[]string{"provider", "operation", "outcome"},
	)

	c.toolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "MCP tool call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	c.rationaleFallbacks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rationale_fallbacks_total",
			Help:      "Rationale responses replaced by the deterministic fallback",
		},
		[]string{"stage"},
	)

	return c
}

// RecordRun counts a finished run.
func (c *Collector) RecordRun(status string) {
	c.runsTotal.WithLabelValues(status).Inc()
}

// RecordStage records one stage execution.
func (c *Collector) RecordStage(stage, status string, d time.Duration) {
	c.stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	c.stageExecutionDuration.WithLabelValues(stage).Observe(d.Seconds())

	c.logger.Debug("stage recorded",
		zap.String("stage", stage),
		zap.String("status", status),
		zap.Duration("duration", d),
	)
}

// RecordToolCall records one MCP tool call.
func (c *Collector) RecordToolCall(provider, operation, outcome string, d time.Duration) {
	c.toolCallsTotal.WithLabelValues(provider, operation, outcome).Inc()
	c.toolCallDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// RecordRationaleFallback counts an unparseable rationale response.
func (c *Collector) RecordRationaleFallback(stage string) {
	c.rationaleFallbacks.WithLabelValues(stage).Inc()
}
