package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/KodaTao/FlowChassis/pkg/observability"
	"github.com/KodaTao/FlowChassis/pkg/workflow"
)

// cronParser 秒级 6 字段解析器，兼容 Dom/Dow 位置上的 "?"
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// defaultExecutionTimeout 单次工作流执行的超时时间
const defaultExecutionTimeout = 10 * time.Minute

// Runner 工作流执行入口（依赖注入，避免与编排器耦合）
type Runner interface {
	Execute(ctx context.Context, workflowID uint, input map[string]any) (*workflow.WorkflowExecution, error)
}

// Manager 工作流调度管理器
// 控制调度的注册生命周期：启动、暂停、恢复、删除、手动触发
type Manager struct {
	repo   *Repository
	runner Runner

	cron     *cron.Cron
	mu       sync.RWMutex
	entryMap map[uint]cron.EntryID // 调度ID -> cron EntryID

	// 每个调度一把锁，串行化非并发调度的触发
	lockMu sync.Mutex
	locks  map[uint]*sync.Mutex

	serverInfo string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager 创建 Manager
func NewManager(repo *Repository, runner Runner) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	hostname, _ := os.Hostname()
	serverInfo := fmt.Sprintf("%s/%s", hostname, uuid.NewString()[:8])

	return &Manager{
		repo:       repo,
		runner:     runner,
		cron:       cron.New(cron.WithSeconds()),
		entryMap:   make(map[uint]cron.EntryID),
		locks:      make(map[uint]*sync.Mutex),
		serverInfo: serverInfo,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ValidateCronExpr 校验 cron 表达式（秒级 6 字段）
func ValidateCronExpr(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextTime 计算表达式在 after 之后的下次触发时间
func NextTime(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after), nil
}

// Run 启动底层 cron 并恢复所有 active 状态的调度
func (m *Manager) Run() error {
	observability.Info("starting schedule manager", "server_info", m.serverInfo)

	if err := m.recover(); err != nil {
		return fmt.Errorf("failed to recover schedules: %w", err)
	}

	m.cron.Start()
	observability.Info("schedule manager started")
	return nil
}

// Shutdown 停止调度器，等待在途任务结束
func (m *Manager) Shutdown() {
	observability.Info("stopping schedule manager")
	m.cancel()

	stopCtx := m.cron.Stop()
	<-stopCtx.Done()

	m.mu.Lock()
	m.entryMap = make(map[uint]cron.EntryID)
	m.mu.Unlock()

	observability.Info("schedule manager stopped")
}

// recover 把数据库中所有 active 调度重新注册到 cron
func (m *Manager) recover() error {
	schedules, err := m.repo.ListActive()
	if err != nil {
		return err
	}

	observability.Info("recovering schedules", "count", len(schedules))

	for i := range schedules {
		s := &schedules[i]
		if err := m.register(s); err != nil {
			observability.Error("failed to recover schedule",
				"schedule_id", s.ID, "name", s.Name, "error", err)
			continue
		}

		// 错过的触发按策略补偿
		if s.MisfirePolicy == MisfireFireOnce &&
			s.NextExecutionTime != nil &&
			s.NextExecutionTime.Before(time.Now()) {
			observability.Warn("schedule misfired, firing once",
				"schedule_id", s.ID, "name", s.Name)
			go m.fire(s.ID, *s.NextExecutionTime, TriggerCron)
		}
	}

	return nil
}

// Start 启动调度：注册到 cron 并置为 active
// 已注册的调度重复调用不会产生第二个触发器
func (m *Manager) Start(id uint) error {
	s, err := m.repo.GetByID(id)
	if err != nil {
		return err
	}
	if !s.Enabled {
		return fmt.Errorf("schedule %d: %w", id, ErrScheduleDisabled)
	}

	m.mu.RLock()
	_, registered := m.entryMap[id]
	m.mu.RUnlock()
	if registered && s.Status == StatusActive {
		return nil
	}

	if err := m.register(s); err != nil {
		return err
	}
	if err := m.repo.UpdateStatus(id, StatusActive); err != nil {
		return err
	}

	observability.Info("schedule started",
		"schedule_id", id, "name", s.Name, "cron_expr", s.CronExpr)
	return nil
}

// Pause 暂停调度：从 cron 移除触发器并置为 paused
func (m *Manager) Pause(id uint) error {
	if _, err := m.repo.GetByID(id); err != nil {
		return err
	}

	if !m.unregister(id) {
		return fmt.Errorf("schedule %d: %w", id, ErrTriggerNotFound)
	}
	if err := m.repo.UpdateStatus(id, StatusPaused); err != nil {
		return err
	}

	observability.Info("schedule paused", "schedule_id", id)
	return nil
}

// Resume 恢复已暂停的调度
func (m *Manager) Resume(id uint) error {
	s, err := m.repo.GetByID(id)
	if err != nil {
		return err
	}
	if s.Status != StatusPaused {
		return fmt.Errorf("schedule %d is not paused", id)
	}

	if err := m.register(s); err != nil {
		return err
	}
	if err := m.repo.UpdateStatus(id, StatusActive); err != nil {
		return err
	}

	observability.Info("schedule resumed", "schedule_id", id)
	return nil
}

// Delete 删除调度：先从 cron 注销，再软删除记录
func (m *Manager) Delete(id uint) error {
	m.unregister(id)

	if err := m.repo.Delete(id); err != nil {
		return err
	}

	observability.Info("schedule deleted", "schedule_id", id)
	return nil
}

// ExecuteOnce 手动触发一次调度，不影响 cron 注册状态
func (m *Manager) ExecuteOnce(id uint) error {
	s, err := m.repo.GetByID(id)
	if err != nil {
		return err
	}
	if !s.Enabled {
		return fmt.Errorf("schedule %d: %w", id, ErrScheduleDisabled)
	}

	go m.fire(id, time.Now(), TriggerManual)
	return nil
}

// UpdateNextExecutionTime 按表达式重算并落库下次执行时间
// 调度不存在或表达式无法解析时静默跳过
func (m *Manager) UpdateNextExecutionTime(id uint) error {
	s, err := m.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			return nil
		}
		return err
	}
	if s.CronExpr == "" {
		return nil
	}

	next, err := NextTime(s.CronExpr, time.Now())
	if err != nil {
		return nil
	}
	return m.repo.UpdateNextExecutionTime(id, &next)
}

// Create 创建调度，startNow 为 true 时立即注册到 cron
func (m *Manager) Create(s *Schedule, startNow bool) error {
	if err := ValidateCronExpr(s.CronExpr); err != nil {
		return err
	}
	if s.WorkflowID == 0 {
		return fmt.Errorf("workflow id is required")
	}
	if _, err := parseInputTemplate(s.InputTemplate); err != nil {
		return err
	}

	next, err := NextTime(s.CronExpr, time.Now())
	if err != nil {
		return err
	}
	s.NextExecutionTime = &next
	if s.Status == "" {
		s.Status = StatusPaused
	}

	if err := m.repo.Create(s); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	if startNow {
		return m.Start(s.ID)
	}
	return nil
}

// Get 获取调度
func (m *Manager) Get(id uint) (*Schedule, error) {
	return m.repo.GetByID(id)
}

// List 列出调度
func (m *Manager) List(status *ScheduleStatus, limit, offset int) ([]Schedule, error) {
	return m.repo.List(status, limit, offset)
}

// Logs 列出调度日志
func (m *Manager) Logs(scheduleID uint, status *LogStatus, limit, offset int) ([]ScheduleLog, error) {
	return m.repo.ListLogs(scheduleID, status, limit, offset)
}

// CleanExpiredLogs 清理早于保留期的调度日志
func (m *Manager) CleanExpiredLogs(retention time.Duration) (int64, error) {
	n, err := m.repo.CleanExpiredLogs(time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to clean expired logs: %w", err)
	}
	if n > 0 {
		observability.Info("cleaned expired schedule logs", "count", n)
	}
	return n, nil
}

// register 把调度注册到 cron，已注册时先移除旧触发器
func (m *Manager) register(s *Schedule) error {
	if err := ValidateCronExpr(s.CronExpr); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.entryMap[s.ID]; ok {
		m.cron.Remove(entryID)
		delete(m.entryMap, s.ID)
	}

	scheduleID := s.ID
	entryID, err := m.cron.AddFunc(s.CronExpr, func() {
		m.fire(scheduleID, time.Now(), TriggerCron)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry: %w", err)
	}

	m.entryMap[s.ID] = entryID

	entry := m.cron.Entry(entryID)
	if !entry.Next.IsZero() {
		next := entry.Next
		_ = m.repo.UpdateNextExecutionTime(s.ID, &next)
	}

	return nil
}

// unregister 从 cron 移除调度的触发器，返回是否存在
func (m *Manager) unregister(id uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entryID, ok := m.entryMap[id]
	if !ok {
		return false
	}
	m.cron.Remove(entryID)
	delete(m.entryMap, id)
	return true
}

// scheduleLock 获取某个调度的专属锁
func (m *Manager) scheduleLock(id uint) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// fire 执行一次触发：守卫检查、写日志、调用工作流
func (m *Manager) fire(scheduleID uint, scheduledTime time.Time, trigger TriggerType) {
	select {
	case <-m.ctx.Done():
		return
	default:
	}

	s, err := m.repo.GetByID(scheduleID)
	if err != nil {
		observability.Error("failed to load schedule for trigger",
			"schedule_id", scheduleID, "error", err)
		return
	}

	// 非并发调度：上一次还在执行时直接跳过本次触发
	if !s.Concurrent {
		lock := m.scheduleLock(scheduleID)
		if !lock.TryLock() {
			m.logSkipped(s, scheduledTime, trigger, "previous execution still running")
			return
		}
		defer lock.Unlock()
	}

	if reason, ok := m.checkGuards(s, trigger); !ok {
		m.logSkipped(s, scheduledTime, trigger, reason)
		return
	}

	log := &ScheduleLog{
		ScheduleID:    s.ID,
		WorkflowID:    s.WorkflowID,
		TriggerType:   trigger,
		Status:        LogRunning,
		ScheduledTime: scheduledTime,
		ActualStart:   time.Now(),
		ServerInfo:    m.serverInfo,
	}
	if err := m.repo.CreateLog(log); err != nil {
		observability.Error("failed to create schedule log",
			"schedule_id", s.ID, "error", err)
	}

	ctx, cancel := context.WithTimeout(m.ctx, defaultExecutionTimeout)
	defer cancel()

	var exec *workflow.WorkflowExecution
	input, execErr := parseInputTemplate(s.InputTemplate)
	if execErr == nil {
		exec, execErr = m.runner.Execute(ctx, s.WorkflowID, input)
	}

	m.finishLog(log, exec, execErr)
	observability.RecordScheduleFire(string(trigger), string(log.Status))

	if err := m.repo.RecordExecution(s.ID, time.Now()); err != nil {
		observability.Error("failed to record schedule execution",
			"schedule_id", s.ID, "error", err)
	}

	// 刷新下次执行时间
	m.mu.RLock()
	entryID, ok := m.entryMap[scheduleID]
	m.mu.RUnlock()
	if ok {
		entry := m.cron.Entry(entryID)
		if !entry.Next.IsZero() {
			next := entry.Next
			_ = m.repo.UpdateNextExecutionTime(scheduleID, &next)
		}
	}

	// 达到最大执行次数后自动暂停
	if s.MaxExecutionCount > 0 && s.ExecutionCount+1 >= s.MaxExecutionCount {
		observability.Info("schedule reached max execution count, pausing",
			"schedule_id", s.ID, "max", s.MaxExecutionCount)
		if err := m.Pause(s.ID); err != nil {
			observability.Error("failed to pause exhausted schedule",
				"schedule_id", s.ID, "error", err)
		}
	}
}

// parseInputTemplate 解析输入模板 JSON 为工作流初始输入
// 空模板返回 nil
func parseInputTemplate(template string) (map[string]any, error) {
	if strings.TrimSpace(template) == "" {
		return nil, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(template), &input); err != nil {
		return nil, fmt.Errorf("invalid input template: %w", err)
	}
	return input, nil
}

// checkGuards 执行前的守卫检查
func (m *Manager) checkGuards(s *Schedule, trigger TriggerType) (string, bool) {
	if !s.Enabled {
		return "schedule disabled", false
	}
	if trigger == TriggerCron && s.Status != StatusActive {
		return "schedule not active", false
	}
	if s.ReachedMaxExecutions() {
		return "max execution count reached", false
	}
	if trigger == TriggerCron && !s.InWindow(time.Now()) {
		return "outside schedule window", false
	}
	return "", true
}

// logSkipped 记录一次被跳过的触发
func (m *Manager) logSkipped(s *Schedule, scheduledTime time.Time, trigger TriggerType, reason string) {
	observability.Warn("schedule trigger skipped",
		"schedule_id", s.ID, "trigger", trigger, "reason", reason)

	now := time.Now()
	log := &ScheduleLog{
		ScheduleID:    s.ID,
		WorkflowID:    s.WorkflowID,
		TriggerType:   trigger,
		Status:        LogSkipped,
		ScheduledTime: scheduledTime,
		ActualStart:   now,
		ActualEnd:     &now,
		ServerInfo:    m.serverInfo,
		Result:        reason,
	}
	if err := m.repo.CreateLog(log); err != nil {
		observability.Error("failed to create schedule log",
			"schedule_id", s.ID, "error", err)
	}
	observability.RecordScheduleFire(string(trigger), string(LogSkipped))
}

// finishLog 补全并落库调度日志
func (m *Manager) finishLog(log *ScheduleLog, exec *workflow.WorkflowExecution, execErr error) {
	now := time.Now()
	log.ActualEnd = &now
	log.DurationMs = now.Sub(log.ActualStart).Milliseconds()

	if exec != nil {
		log.ExecutionID = exec.ExecutionID
		log.Result = exec.Output
	}

	if execErr != nil {
		log.Status = LogFailed
		log.Error = execErr.Error()
		observability.Error("scheduled workflow execution failed",
			"schedule_id", log.ScheduleID, "error", execErr)
	} else {
		log.Status = LogCompleted
		observability.Info("scheduled workflow execution completed",
			"schedule_id", log.ScheduleID, "duration_ms", log.DurationMs)
	}

	if err := m.repo.UpdateLog(log); err != nil {
		observability.Error("failed to update schedule log",
			"log_id", log.ID, "error", err)
	}
}
