package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/KodaTao/FlowChassis/pkg/observability"
)

// Orchestrator 工作流编排器
// 负责完整的一次执行：加载定义、顺序执行步骤、维护执行记录
type Orchestrator struct {
	repo     *Repository
	executor *StepExecutor
}

// NewOrchestrator 创建 Orchestrator
func NewOrchestrator(repo *Repository, executor *StepExecutor) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		executor: executor,
	}
}

// Execute 执行工作流并返回执行记录
// input 的每一项作为初始变量写入作用域，步骤通过输入变量名引用
// 工作流被禁用或没有启用的步骤时返回错误，不会产生执行记录
func (o *Orchestrator) Execute(ctx context.Context, workflowID uint, input map[string]any) (*WorkflowExecution, error) {
	wf, err := o.repo.GetWorkflow(workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.Enabled {
		return nil, fmt.Errorf("workflow %d: %w", workflowID, ErrWorkflowDisabled)
	}

	steps, err := o.repo.ListSteps(workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow %d: %w", workflowID, ErrNoSteps)
	}
	if err := ValidateSteps(steps); err != nil {
		return nil, fmt.Errorf("workflow %d: %w", workflowID, err)
	}

	var inputJSON string
	if len(input) > 0 {
		if b, err := json.Marshal(input); err == nil {
			inputJSON = string(b)
		}
	}

	exec := &WorkflowExecution{
		ExecutionID: uuid.NewString(),
		WorkflowID:  workflowID,
		Status:      ExecutionRunning,
		Input:       inputJSON,
		StartedAt:   time.Now(),
	}
	if err := o.repo.CreateExecution(exec); err != nil {
		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	ctx = observability.WithExecutionID(ctx, exec.ExecutionID)
	ctx = observability.WithWorkflowID(ctx, workflowID)
	observability.InfoContext(ctx, "workflow execution started",
		"workflow_name", wf.Name,
		"step_count", len(steps),
	)

	scope := NewScope()
	seedScope(scope, input)

	var lastOutput string
	for i := range steps {
		step := &steps[i]
		stepStart := time.Now()
		if err := o.executor.Execute(ctx, step, scope); err != nil {
			o.finish(ctx, exec, scope, "", err)
			return exec, err
		}
		lastOutput, _ = scope.Get(step.OutputVariable)
		observability.DebugContext(ctx, "step completed",
			"step", step.Name,
			"duration_ms", time.Since(stepStart).Milliseconds(),
		)
	}

	o.finish(ctx, exec, scope, lastOutput, nil)
	return exec, nil
}

// seedScope 把初始输入逐项写入作用域
// 键按字典序写入，保证变量快照的顺序稳定
func seedScope(scope *Scope, input map[string]any) {
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		scope.Set(k, stringifyInput(input[k]))
	}
}

// stringifyInput 把输入值转成作用域中的文本值
// 非字符串值序列化为 JSON 文本
func stringifyInput(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// finish 落库执行结果并上报指标
func (o *Orchestrator) finish(ctx context.Context, exec *WorkflowExecution, scope *Scope, output string, execErr error) {
	now := time.Now()
	exec.FinishedAt = &now
	exec.Output = output

	if snapshot, err := json.Marshal(scope); err == nil {
		exec.Variables = string(snapshot)
	}

	if execErr != nil {
		exec.Status = ExecutionFailed
		exec.Error = execErr.Error()
	} else {
		exec.Status = ExecutionCompleted
	}

	if err := o.repo.UpdateExecution(exec); err != nil {
		observability.ErrorContext(ctx, "failed to persist execution record",
			"execution_id", exec.ExecutionID,
			"error", err,
		)
	}

	durationMs := exec.DurationMs()
	observability.WorkflowRunLog(ctx, exec.WorkflowID, string(exec.Status), durationMs)
	observability.RecordWorkflowRun(string(exec.Status), float64(durationMs)/1000.0)
}

// RecoverStaleExecutions 将早于 olderThan 之前开始且仍处于 running 的执行标记为失败
// 服务启动时调用，清理上次进程中断留下的记录
func (o *Orchestrator) RecoverStaleExecutions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	n, err := o.repo.MarkStaleExecutions(cutoff, "execution interrupted by service restart")
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale executions: %w", err)
	}
	if n > 0 {
		observability.WarnContext(ctx, "recovered stale executions", "count", n)
	}
	return n, nil
}
