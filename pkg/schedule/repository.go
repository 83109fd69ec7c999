package schedule

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrTriggerNotFound  = errors.New("trigger not found for schedule")
	ErrScheduleDisabled = errors.New("schedule is disabled")
)

// Repository 调度数据访问层
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建 Repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create 创建调度
func (r *Repository) Create(s *Schedule) error {
	return r.db.Create(s).Error
}

// GetByID 根据 ID 获取调度
func (r *Repository) GetByID(id uint) (*Schedule, error) {
	var s Schedule
	err := r.db.First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Update 更新调度
func (r *Repository) Update(s *Schedule) error {
	return r.db.Save(s).Error
}

// Delete 软删除调度
func (r *Repository) Delete(id uint) error {
	result := r.db.Delete(&Schedule{}, id)
	if result.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return result.Error
}

// List 列出调度
func (r *Repository) List(status *ScheduleStatus, limit, offset int) ([]Schedule, error) {
	var schedules []Schedule
	query := r.db.Model(&Schedule{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Order("id ASC").Find(&schedules).Error
	return schedules, err
}

// ListActive 列出所有启用且处于 active 状态的调度
// 服务启动时用于恢复注册
func (r *Repository) ListActive() ([]Schedule, error) {
	var schedules []Schedule
	err := r.db.Where("enabled = ? AND status = ?", true, StatusActive).
		Find(&schedules).Error
	return schedules, err
}

// ListByWorkflow 列出某个工作流的调度
func (r *Repository) ListByWorkflow(workflowID uint) ([]Schedule, error) {
	var schedules []Schedule
	err := r.db.Where("workflow_id = ?", workflowID).
		Order("id ASC").
		Find(&schedules).Error
	return schedules, err
}

// UpdateStatus 更新调度状态
func (r *Repository) UpdateStatus(id uint, status ScheduleStatus) error {
	result := r.db.Model(&Schedule{}).Where("id = ?", id).Update("status", status)
	if result.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return result.Error
}

// UpdateNextExecutionTime 更新下次执行时间
func (r *Repository) UpdateNextExecutionTime(id uint, next *time.Time) error {
	result := r.db.Model(&Schedule{}).Where("id = ?", id).
		Update("next_execution_time", next)
	if result.RowsAffected == 0 {
		return ErrScheduleNotFound
	}
	return result.Error
}

// RecordExecution 记录一次触发：累加执行次数并刷新上次执行时间
func (r *Repository) RecordExecution(id uint, at time.Time) error {
	return r.db.Model(&Schedule{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"execution_count":     gorm.Expr("execution_count + 1"),
			"last_execution_time": &at,
		}).Error
}

// CreateLog 创建调度日志
func (r *Repository) CreateLog(log *ScheduleLog) error {
	return r.db.Create(log).Error
}

// UpdateLog 更新调度日志
func (r *Repository) UpdateLog(log *ScheduleLog) error {
	return r.db.Save(log).Error
}

// ListLogs 列出调度日志，按开始时间倒序
func (r *Repository) ListLogs(scheduleID uint, status *LogStatus, limit, offset int) ([]ScheduleLog, error) {
	var logs []ScheduleLog
	query := r.db.Model(&ScheduleLog{})
	if scheduleID > 0 {
		query = query.Where("schedule_id = ?", scheduleID)
	}
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	err := query.Order("actual_start DESC").Find(&logs).Error
	return logs, err
}

// ListLogsByWorkflow 按工作流列出调度日志
func (r *Repository) ListLogsByWorkflow(workflowID uint, limit int) ([]ScheduleLog, error) {
	var logs []ScheduleLog
	query := r.db.Where("workflow_id = ?", workflowID).Order("actual_start DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&logs).Error
	return logs, err
}

// ListLogsByTriggerType 按触发类型列出调度日志
func (r *Repository) ListLogsByTriggerType(triggerType TriggerType, limit int) ([]ScheduleLog, error) {
	var logs []ScheduleLog
	query := r.db.Where("trigger_type = ?", triggerType).Order("actual_start DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&logs).Error
	return logs, err
}

// CleanExpiredLogs 删除早于 before 的调度日志，返回删除数量
func (r *Repository) CleanExpiredLogs(before time.Time) (int64, error) {
	result := r.db.Unscoped().
		Where("actual_start < ?", before).
		Delete(&ScheduleLog{})
	return result.RowsAffected, result.Error
}
