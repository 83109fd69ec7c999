// Package observability 提供可观测性功能：日志、指标
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 工作流与工具调用指标
var (
	// WorkflowRunsTotal 工作流执行次数（按终态区分）
	WorkflowRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowchassis",
		Name:      "workflow_runs_total",
		Help:      "Total number of workflow executions by terminal status.",
	}, []string{"status"})

	// WorkflowRunDuration 工作流执行耗时
	WorkflowRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowchassis",
		Name:      "workflow_run_duration_seconds",
		Help:      "Wall-clock duration of workflow executions.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	// ToolCallsTotal 工具调用次数（按工具名和结果区分）
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowchassis",
		Name:      "tool_calls_total",
		Help:      "Total number of tool invocations by tool name and status.",
	}, []string{"tool", "status"})

	// ScheduleFiresTotal 调度触发次数（按触发类型区分）
	ScheduleFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowchassis",
		Name:      "schedule_fires_total",
		Help:      "Total number of schedule-triggered workflow runs by trigger type.",
	}, []string{"trigger_type", "status"})
)

// RecordWorkflowRun 记录一次工作流执行
func RecordWorkflowRun(status string, durationSeconds float64) {
	WorkflowRunsTotal.WithLabelValues(status).Inc()
	WorkflowRunDuration.Observe(durationSeconds)
}

// RecordToolCall 记录一次工具调用
func RecordToolCall(tool, status string) {
	ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordScheduleFire 记录一次调度触发
func RecordScheduleFire(triggerType, status string) {
	ScheduleFiresTotal.WithLabelValues(triggerType, status).Inc()
}
