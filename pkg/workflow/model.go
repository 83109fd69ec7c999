package workflow

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// WorkflowType 工作流类型
type WorkflowType string

const (
	// TypeSequential 顺序执行所有步骤
	TypeSequential WorkflowType = "sequential"
)

// ExecutionStatus 执行记录状态
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"   // 正在执行
	ExecutionCompleted ExecutionStatus = "completed" // 执行完成
	ExecutionFailed    ExecutionStatus = "failed"    // 执行失败
)

// Workflow 工作流定义
type Workflow struct {
	gorm.Model
	Name        string         `gorm:"not null;index" json:"name"`        // 工作流名称
	Description string         `gorm:"type:text" json:"description"`      // 描述
	Type        WorkflowType   `gorm:"default:sequential" json:"type"`    // 类型（当前仅支持 sequential）
	Enabled     bool           `gorm:"default:true;index" json:"enabled"` // 是否启用
	Steps       []WorkflowStep `gorm:"foreignKey:WorkflowID" json:"steps,omitempty"`
}

// TableName 指定表名
func (Workflow) TableName() string {
	return "workflows"
}

// WorkflowStep 工作流步骤定义
type WorkflowStep struct {
	gorm.Model
	WorkflowID     uint   `gorm:"not null;index" json:"workflow_id"`        // 所属工作流
	Name           string `gorm:"not null" json:"name"`                     // 步骤名称
	StepOrder      int    `gorm:"not null" json:"step_order"`               // 执行顺序
	SystemPrompt   string `gorm:"type:text" json:"system_prompt,omitempty"` // 系统提示词（可选）
	Prompt         string `gorm:"type:text;not null" json:"prompt"`         // 提示词模板
	InputVariable  string `json:"input_variable,omitempty"`                 // 输入变量名（首步可为空）
	OutputVariable string `gorm:"not null" json:"output_variable"`          // 输出变量名
	ToolName       string `json:"tool_name,omitempty"`                      // 预执行工具名（可选）
	ToolParams     string `gorm:"type:text" json:"tool_params,omitempty"`   // 工具参数（JSON 格式）
	Enabled        bool   `gorm:"default:true" json:"enabled"`              // 是否启用
}

// TableName 指定表名
func (WorkflowStep) TableName() string {
	return "workflow_steps"
}

// WorkflowExecution 工作流执行记录
type WorkflowExecution struct {
	gorm.Model
	ExecutionID string          `gorm:"uniqueIndex;not null" json:"execution_id"` // 执行唯一标识
	WorkflowID  uint            `gorm:"not null;index" json:"workflow_id"`        // 所属工作流
	Status      ExecutionStatus `gorm:"default:running;index" json:"status"`      // 执行状态
	Input       string          `gorm:"type:text" json:"input,omitempty"`         // 初始输入
	Output      string          `gorm:"type:text" json:"output,omitempty"`        // 最终输出
	Variables   string          `gorm:"type:text" json:"variables,omitempty"`     // 变量快照（JSON 格式）
	Error       string          `gorm:"type:text" json:"error,omitempty"`         // 错误信息
	StartedAt   time.Time       `gorm:"not null" json:"started_at"`               // 开始时间
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`                    // 结束时间
}

// TableName 指定表名
func (WorkflowExecution) TableName() string {
	return "workflow_executions"
}

// DurationMs 返回执行耗时（毫秒），未结束时返回 0
func (e *WorkflowExecution) DurationMs() int64 {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt).Milliseconds()
}

// ValidateSteps 校验步骤配置
// 规则：输出变量必填；除第一步外输入变量必填；步骤顺序唯一且递增
func ValidateSteps(steps []WorkflowStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("workflow has no steps")
	}
	seen := make(map[int]bool, len(steps))
	prev := -1
	for i, step := range steps {
		if strings.TrimSpace(step.Name) == "" {
			return fmt.Errorf("step %d: name is required", i+1)
		}
		if strings.TrimSpace(step.OutputVariable) == "" {
			return fmt.Errorf("step %q: output variable is required", step.Name)
		}
		if i > 0 && strings.TrimSpace(step.InputVariable) == "" {
			return fmt.Errorf("step %q: input variable is required", step.Name)
		}
		if strings.TrimSpace(step.Prompt) == "" {
			return fmt.Errorf("step %q: prompt is required", step.Name)
		}
		if seen[step.StepOrder] {
			return fmt.Errorf("step %q: duplicate step order %d", step.Name, step.StepOrder)
		}
		seen[step.StepOrder] = true
		if step.StepOrder <= prev {
			return fmt.Errorf("step %q: step order must be ascending", step.Name)
		}
		prev = step.StepOrder
	}
	return nil
}
