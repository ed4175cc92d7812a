package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects orchestration runtime metrics.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	TasksStarted         int64
	TasksCompleted       int64
	TasksFailed          int64
	AgentInvocations     int64
	AgentRetries         int64
	Escalations          int64
	CheckpointsWritten   int64
	AggregationConflicts int64

	// Gauges
	ActiveTasks    int64
	ActiveSubtasks int64

	// Histograms (simplified)
	taskDurations  []time.Duration
	agentLatencies []time.Duration

	// Exporter (optional)
	exporter MetricsExporter
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		taskDurations:  make([]time.Duration, 0, 1000),
		agentLatencies: make([]time.Duration, 0, 1000),
	}
}

// IncTasksStarted increments the tasks started counter.
func (m *Metrics) IncTasksStarted() {
	atomic.AddInt64(&m.TasksStarted, 1)
	atomic.AddInt64(&m.ActiveTasks, 1)
}

// IncTasksCompleted increments the tasks completed counter.
func (m *Metrics) IncTasksCompleted() {
	atomic.AddInt64(&m.TasksCompleted, 1)
	atomic.AddInt64(&m.ActiveTasks, -1)
}

// IncTasksFailed increments the tasks failed counter.
func (m *Metrics) IncTasksFailed() {
	atomic.AddInt64(&m.TasksFailed, 1)
	atomic.AddInt64(&m.ActiveTasks, -1)
}

// IncAgentInvocations increments the agent invocation counter (Planner/Coder/Fixer/Reviewer calls).
func (m *Metrics) IncAgentInvocations() {
	atomic.AddInt64(&m.AgentInvocations, 1)
}

// IncAgentRetries increments the agent retry counter.
func (m *Metrics) IncAgentRetries() {
	atomic.AddInt64(&m.AgentRetries, 1)
}

// IncEscalations increments the model escalation counter.
func (m *Metrics) IncEscalations() {
	atomic.AddInt64(&m.Escalations, 1)
}

// IncCheckpointsWritten increments the checkpoint counter.
func (m *Metrics) IncCheckpointsWritten() {
	atomic.AddInt64(&m.CheckpointsWritten, 1)
}

// IncAggregationConflicts increments the aggregator conflict counter.
func (m *Metrics) IncAggregationConflicts() {
	atomic.AddInt64(&m.AggregationConflicts, 1)
}

// RecordTaskDuration records a task duration.
func (m *Metrics) RecordTaskDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskDurations = append(m.taskDurations, d)
}

// RecordAgentLatency records an agent call latency.
func (m *Metrics) RecordAgentLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentLatencies = append(m.agentLatencies, d)
}

// GetSummary returns a summary of collected metrics.
func (m *Metrics) GetSummary() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := map[string]interface{}{
		"tasks_started":         atomic.LoadInt64(&m.TasksStarted),
		"tasks_completed":       atomic.LoadInt64(&m.TasksCompleted),
		"tasks_failed":          atomic.LoadInt64(&m.TasksFailed),
		"agent_invocations":     atomic.LoadInt64(&m.AgentInvocations),
		"agent_retries":         atomic.LoadInt64(&m.AgentRetries),
		"escalations":           atomic.LoadInt64(&m.Escalations),
		"checkpoints_written":   atomic.LoadInt64(&m.CheckpointsWritten),
		"aggregation_conflicts": atomic.LoadInt64(&m.AggregationConflicts),
		"active_tasks":          atomic.LoadInt64(&m.ActiveTasks),
		"active_subtasks":       atomic.LoadInt64(&m.ActiveSubtasks),
	}

	if len(m.taskDurations) > 0 {
		var total time.Duration
		for _, d := range m.taskDurations {
			total += d
		}
		summary["avg_task_duration_ms"] = total.Milliseconds() / int64(len(m.taskDurations))
	}

	if len(m.agentLatencies) > 0 {
		var total time.Duration
		for _, d := range m.agentLatencies {
			total += d
		}
		summary["avg_agent_latency_ms"] = total.Milliseconds() / int64(len(m.agentLatencies))
	}

	return summary
}

// Reset resets all metrics.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	atomic.StoreInt64(&m.TasksStarted, 0)
	atomic.StoreInt64(&m.TasksCompleted, 0)
	atomic.StoreInt64(&m.TasksFailed, 0)
	atomic.StoreInt64(&m.AgentInvocations, 0)
	atomic.StoreInt64(&m.AgentRetries, 0)
	atomic.StoreInt64(&m.Escalations, 0)
	atomic.StoreInt64(&m.CheckpointsWritten, 0)
	atomic.StoreInt64(&m.AggregationConflicts, 0)
	atomic.StoreInt64(&m.ActiveTasks, 0)
	atomic.StoreInt64(&m.ActiveSubtasks, 0)

	m.taskDurations = m.taskDurations[:0]
	m.agentLatencies = m.agentLatencies[:0]
}

// SetExporter attaches a metrics exporter.
func (m *Metrics) SetExporter(e MetricsExporter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exporter = e
}

// Flush exports the current metrics snapshot with the given event label.
func (m *Metrics) Flush(event string, labels map[string]string) {
	m.mu.RLock()
	exporter := m.exporter
	m.mu.RUnlock()

	if exporter == nil {
		return
	}

	snapshot := MetricsSnapshot{
		Timestamp: time.Now(),
		Event:     event,
		Metrics:   m.GetSummary(),
		Labels:    labels,
	}
	// Best-effort export.
	_ = exporter.Export(snapshot)
}
