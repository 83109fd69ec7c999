package workflow

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrWorkflowDisabled  = errors.New("workflow is disabled")
	ErrNoSteps           = errors.New("workflow has no enabled steps")
)

// Repository 工作流数据访问层
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建 Repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateWorkflow 创建工作流（含步骤）
func (r *Repository) CreateWorkflow(wf *Workflow) error {
	if err := ValidateSteps(wf.Steps); err != nil {
		return err
	}
	return r.db.Create(wf).Error
}

// GetWorkflow 根据 ID 获取工作流
func (r *Repository) GetWorkflow(id uint) (*Workflow, error) {
	var wf Workflow
	err := r.db.First(&wf, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, err
	}
	return &wf, nil
}

// ListWorkflows 列出工作流
func (r *Repository) ListWorkflows(enabledOnly bool) ([]Workflow, error) {
	var workflows []Workflow
	query := r.db.Model(&Workflow{})
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	err := query.Order("id ASC").Find(&workflows).Error
	return workflows, err
}

// UpdateWorkflow 更新工作流
func (r *Repository) UpdateWorkflow(wf *Workflow) error {
	return r.db.Save(wf).Error
}

// DeleteWorkflow 删除工作流及其步骤
func (r *Repository) DeleteWorkflow(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&Workflow{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrWorkflowNotFound
		}
		return tx.Where("workflow_id = ?", id).Delete(&WorkflowStep{}).Error
	})
}

// ListSteps 按执行顺序列出工作流的启用步骤
func (r *Repository) ListSteps(workflowID uint) ([]WorkflowStep, error) {
	var steps []WorkflowStep
	err := r.db.Where("workflow_id = ? AND enabled = ?", workflowID, true).
		Order("step_order ASC").
		Find(&steps).Error
	return steps, err
}

// CreateExecution 创建执行记录
func (r *Repository) CreateExecution(exec *WorkflowExecution) error {
	return r.db.Create(exec).Error
}

// GetExecution 根据执行标识获取执行记录
func (r *Repository) GetExecution(executionID string) (*WorkflowExecution, error) {
	var exec WorkflowExecution
	err := r.db.Where("execution_id = ?", executionID).First(&exec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return &exec, nil
}

// UpdateExecution 更新执行记录
func (r *Repository) UpdateExecution(exec *WorkflowExecution) error {
	return r.db.Save(exec).Error
}

// ListExecutions 列出工作流的执行记录，按开始时间倒序
func (r *Repository) ListExecutions(workflowID uint, limit, offset int) ([]WorkflowExecution, error) {
	var execs []WorkflowExecution
	query := r.db.Model(&WorkflowExecution{})
	if workflowID > 0 {
		query = query.Where("workflow_id = ?", workflowID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Order("started_at DESC").Find(&execs).Error
	return execs, err
}

// MarkStaleExecutions 将开始时间早于 cutoff 且仍为 running 的记录标记为失败
// 用于服务重启后清理中断的执行
func (r *Repository) MarkStaleExecutions(cutoff time.Time, reason string) (int64, error) {
	now := time.Now()
	result := r.db.Model(&WorkflowExecution{}).
		Where("status = ? AND started_at < ?", ExecutionRunning, cutoff).
		Updates(map[string]interface{}{
			"status":      ExecutionFailed,
			"error":       reason,
			"finished_at": &now,
		})
	return result.RowsAffected, result.Error
}
