// Package telemetry exposes engine metrics in Prometheus exposition format.
// The collector scans the engine on scrape; nothing is counted twice or
// drifts, because there is no incrementally maintained state.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentflow/internal/core"
)

var (
	descTasksTotal = prometheus.NewDesc(
		"agentflow_tasks_total",
		"Number of tasks in the store by status.",
		[]string{"status"}, nil,
	)
	descSuccessRate = prometheus.NewDesc(
		"agentflow_success_rate_percent",
		"Completed over finished tasks, as a percentage.",
		nil, nil,
	)
	descAvgExecMs = prometheus.NewDesc(
		"agentflow_avg_execution_time_ms",
		"Mean wall time of completed tasks in milliseconds.",
		nil, nil,
	)
	descHealthy = prometheus.NewDesc(
		"agentflow_healthy",
		"1 when the failure rate is under the configured ceiling.",
		nil, nil,
	)
	descAgentTasks = prometheus.NewDesc(
		"agentflow_agent_tasks_total",
		"Number of tasks per agent type.",
		[]string{"agent_type"}, nil,
	)
	descOrchestration = prometheus.NewDesc(
		"agentflow_orchestration_running",
		"1 while the clock driver is active.",
		nil, nil,
	)
)

// EngineCollector implements prometheus.Collector over an engine.
type EngineCollector struct {
	engine *core.Engine
}

// NewEngineCollector creates a collector for the given engine.
func NewEngineCollector(engine *core.Engine) *EngineCollector {
	return &EngineCollector{engine: engine}
}

func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descTasksTotal
	ch <- descSuccessRate
	ch <- descAvgExecMs
	ch <- descHealthy
	ch <- descAgentTasks
	ch <- descOrchestration
}

func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	m := c.engine.HealthMetrics()

	byStatus := map[string]int{
		string(core.TaskStatusPending):   m.PendingTasks,
		string(core.TaskStatusRunning):   m.ActiveTasks,
		string(core.TaskStatusCompleted): m.CompletedTasks,
		string(core.TaskStatusFailed):    m.FailedTasks,
		string(core.TaskStatusCancelled): m.CancelledTasks,
	}
	for status, n := range byStatus {
		ch <- prometheus.MustNewConstMetric(descTasksTotal, prometheus.GaugeValue, float64(n), status)
	}

	ch <- prometheus.MustNewConstMetric(descSuccessRate, prometheus.GaugeValue, m.SuccessRate)
	ch <- prometheus.MustNewConstMetric(descAvgExecMs, prometheus.GaugeValue, m.AvgExecutionTimeMs)
	ch <- prometheus.MustNewConstMetric(descHealthy, prometheus.GaugeValue, boolToFloat(m.IsHealthy))
	ch <- prometheus.MustNewConstMetric(descOrchestration, prometheus.GaugeValue, boolToFloat(c.engine.IsRunning()))

	for agentType, perf := range c.engine.AgentPerformanceMetrics() {
		ch <- prometheus.MustNewConstMetric(descAgentTasks, prometheus.GaugeValue,
			float64(perf.TotalTasks), string(agentType))
	}
}

// Handler returns an http.Handler serving the engine's metrics on a
// dedicated registry, so default Go runtime collectors stay out of the way.
func Handler(engine *core.Engine) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewEngineCollector(engine))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
