// Package schedule 提供工作流定时调度功能
package schedule

import (
	"time"

	"gorm.io/gorm"
)

// ScheduleStatus 调度状态
type ScheduleStatus string

const (
	StatusActive ScheduleStatus = "active" // 调度中
	StatusPaused ScheduleStatus = "paused" // 已暂停
)

// TriggerType 触发类型
type TriggerType string

const (
	TriggerCron   TriggerType = "cron"   // 定时触发
	TriggerManual TriggerType = "manual" // 手动触发
)

// MisfirePolicy 错过触发时的处理策略
type MisfirePolicy string

const (
	MisfireIgnore   MisfirePolicy = "ignore"    // 忽略错过的触发
	MisfireFireOnce MisfirePolicy = "fire_once" // 启动时补偿执行一次
)

// Schedule 工作流调度定义
type Schedule struct {
	gorm.Model
	Name              string         `gorm:"not null" json:"name"`                      // 调度名称
	WorkflowID        uint           `gorm:"not null;index" json:"workflow_id"`         // 目标工作流
	CronExpr          string         `gorm:"not null" json:"cron_expr"`                 // Cron 表达式（秒级，6 字段）
	Status            ScheduleStatus `gorm:"default:paused;index" json:"status"`        // 调度状态
	Enabled           bool           `gorm:"default:true" json:"enabled"`               // 是否启用
	Concurrent        bool           `gorm:"default:false" json:"concurrent"`           // 是否允许并发执行
	MisfirePolicy     MisfirePolicy  `gorm:"default:ignore" json:"misfire_policy"`      // 错过触发策略
	InputTemplate     string         `gorm:"type:text" json:"input_template,omitempty"` // 初始输入模板
	MaxExecutionCount int            `gorm:"default:0" json:"max_execution_count"`      // 最大执行次数，0 表示无限
	ExecutionCount    int            `gorm:"default:0" json:"execution_count"`          // 已执行次数
	StartTime         *time.Time     `json:"start_time,omitempty"`                      // 调度生效时间
	EndTime           *time.Time     `json:"end_time,omitempty"`                        // 调度失效时间
	NextExecutionTime *time.Time     `json:"next_execution_time,omitempty"`             // 下次执行时间
	LastExecutionTime *time.Time     `json:"last_execution_time,omitempty"`             // 上次执行时间
}

// TableName 指定表名
func (Schedule) TableName() string {
	return "workflow_schedules"
}

// IsActive 判断调度是否处于激活状态
func (s *Schedule) IsActive() bool {
	return s.Enabled && s.Status == StatusActive
}

// InWindow 判断指定时刻是否落在调度的有效时间窗口内
func (s *Schedule) InWindow(t time.Time) bool {
	if s.StartTime != nil && t.Before(*s.StartTime) {
		return false
	}
	if s.EndTime != nil && t.After(*s.EndTime) {
		return false
	}
	return true
}

// ReachedMaxExecutions 判断是否已达到最大执行次数
func (s *Schedule) ReachedMaxExecutions() bool {
	return s.MaxExecutionCount > 0 && s.ExecutionCount >= s.MaxExecutionCount
}

// LogStatus 调度日志状态
type LogStatus string

const (
	LogRunning   LogStatus = "running"   // 正在执行
	LogCompleted LogStatus = "completed" // 执行完成
	LogFailed    LogStatus = "failed"    // 执行失败
	LogSkipped   LogStatus = "skipped"   // 被守卫条件跳过
)

// ScheduleLog 调度执行日志
type ScheduleLog struct {
	gorm.Model
	ScheduleID    uint        `gorm:"not null;index" json:"schedule_id"`        // 所属调度
	WorkflowID    uint        `gorm:"not null;index" json:"workflow_id"`        // 目标工作流
	TriggerType   TriggerType `gorm:"not null;index" json:"trigger_type"`       // 触发类型
	Status        LogStatus   `gorm:"default:running;index" json:"status"`      // 日志状态
	ScheduledTime time.Time   `gorm:"not null" json:"scheduled_time"`           // 计划触发时间
	ActualStart   time.Time   `gorm:"not null" json:"actual_start"`             // 实际开始时间
	ActualEnd     *time.Time  `json:"actual_end,omitempty"`                     // 实际结束时间
	DurationMs    int64       `gorm:"default:0" json:"duration_ms"`             // 执行耗时（毫秒）
	ExecutionID   string      `gorm:"index" json:"execution_id,omitempty"`      // 关联的工作流执行标识
	ServerInfo    string      `json:"server_info,omitempty"`                    // 执行节点信息
	Result        string      `gorm:"type:text" json:"result,omitempty"`        // 执行结果摘要
	Error         string      `gorm:"type:text" json:"error,omitempty"`         // 错误信息
}

// TableName 指定表名
func (ScheduleLog) TableName() string {
	return "workflow_schedule_logs"
}
