// Package server 提供 HTTP Server 功能
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KodaTao/FlowChassis/pkg/chassis"
	"github.com/KodaTao/FlowChassis/pkg/observability"
	"github.com/KodaTao/FlowChassis/pkg/schedule"
	"github.com/KodaTao/FlowChassis/pkg/workflow"
)

// Server HTTP 服务器
type Server struct {
	app    *chassis.App
	engine *gin.Engine
	config *ServerConfig
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string
	Port int
	Mode string // debug, release, test
}

// NewServer 创建 HTTP 服务器
func NewServer(app *chassis.App, config *ServerConfig) *Server {
	switch config.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(LoggerMiddleware())
	engine.Use(CORSMiddleware())

	server := &Server{
		app:    app,
		engine: engine,
		config: config,
	}

	server.setupRoutes()

	return server
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// 健康检查
	s.engine.GET("/health", s.healthCheck)

	// Prometheus 指标
	metrics := s.app.GetConfig().Observability.Metrics
	if metrics.Enabled {
		path := metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	// API v1
	v1 := s.engine.Group("/api/v1")
	{
		// 工作流管理
		v1.POST("/workflows", s.createWorkflow)
		v1.GET("/workflows", s.listWorkflows)
		v1.GET("/workflows/:id", s.getWorkflow)
		v1.POST("/workflows/:id/execute", s.executeWorkflow)
		v1.GET("/workflows/:id/executions", s.listExecutions)
		v1.GET("/executions/:execution_id", s.getExecution)

		// 调度管理
		v1.POST("/schedules", s.createSchedule)
		v1.GET("/schedules", s.listSchedules)
		v1.GET("/schedules/:id", s.getSchedule)
		v1.DELETE("/schedules/:id", s.deleteSchedule)
		v1.POST("/schedules/:id/start", s.startSchedule)
		v1.POST("/schedules/:id/pause", s.pauseSchedule)
		v1.POST("/schedules/:id/resume", s.resumeSchedule)
		v1.POST("/schedules/:id/execute", s.executeSchedule)
		v1.GET("/schedules/:id/logs", s.listScheduleLogs)

		// 工具管理
		v1.GET("/tools", s.listTools)
	}
}

// Run 启动服务器
func (s *Server) Run() error {
	addr := s.config.Host + ":" + strconv.Itoa(s.config.Port)
	observability.Info("Starting HTTP server", "address", addr)
	return s.engine.Run(addr)
}

// GetEngine 获取 Gin 引擎（用于测试）
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}

// 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// CreateWorkflowRequest 创建工作流请求
type CreateWorkflowRequest struct {
	Name        string        `json:"name" binding:"required"`
	Description string        `json:"description"`
	Steps       []StepRequest `json:"steps" binding:"required,min=1,dive"`
}

// StepRequest 步骤定义请求
type StepRequest struct {
	Name           string `json:"name" binding:"required"`
	StepOrder      int    `json:"step_order"`
	SystemPrompt   string `json:"system_prompt"`
	Prompt         string `json:"prompt" binding:"required"`
	InputVariable  string `json:"input_variable"`
	OutputVariable string `json:"output_variable" binding:"required"`
	ToolName       string `json:"tool_name"`
	ToolParams     string `json:"tool_params"`
}

// 创建工作流
func (s *Server) createWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	wf := &workflow.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Type:        workflow.TypeSequential,
		Enabled:     true,
	}
	for _, step := range req.Steps {
		wf.Steps = append(wf.Steps, workflow.WorkflowStep{
			Name:           step.Name,
			StepOrder:      step.StepOrder,
			SystemPrompt:   step.SystemPrompt,
			Prompt:         step.Prompt,
			InputVariable:  step.InputVariable,
			OutputVariable: step.OutputVariable,
			ToolName:       step.ToolName,
			ToolParams:     step.ToolParams,
			Enabled:        true,
		})
	}

	if err := s.app.GetWorkflowRepository().CreateWorkflow(wf); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to create workflow: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, wf)
}

// 列出工作流
func (s *Server) listWorkflows(c *gin.Context) {
	enabledOnly := c.Query("enabled") == "true"
	workflows, err := s.app.GetWorkflowRepository().ListWorkflows(enabledOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"workflows": workflows,
		"count":     len(workflows),
	})
}

// 获取工作流（含步骤）
func (s *Server) getWorkflow(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	repo := s.app.GetWorkflowRepository()
	wf, err := repo.GetWorkflow(id)
	if err != nil {
		respondRepoError(c, err)
		return
	}
	steps, err := repo.ListSteps(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	wf.Steps = steps

	c.JSON(http.StatusOK, wf)
}

// ExecuteWorkflowRequest 执行工作流请求
// input 的每一项作为初始变量注入本次执行
type ExecuteWorkflowRequest struct {
	Input map[string]any `json:"input"`
}

// 执行工作流
func (s *Server) executeWorkflow(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	// 请求体可省略，省略时初始输入为空
	var req ExecuteWorkflowRequest
	_ = c.ShouldBindJSON(&req)

	exec, err := s.app.GetOrchestrator().Execute(c.Request.Context(), id, req.Input)
	if err != nil {
		if exec != nil {
			// 执行已启动但失败，返回失败的执行记录
			c.JSON(http.StatusOK, exec)
			return
		}
		respondRepoError(c, err)
		return
	}

	c.JSON(http.StatusOK, exec)
}

// 列出执行记录
func (s *Server) listExecutions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	limit, offset := parsePagination(c)
	execs, err := s.app.GetWorkflowRepository().ListExecutions(id, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executions": execs,
		"count":      len(execs),
	})
}

// 获取单条执行记录
func (s *Server) getExecution(c *gin.Context) {
	executionID := c.Param("execution_id")
	exec, err := s.app.GetWorkflowRepository().GetExecution(executionID)
	if err != nil {
		respondRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// CreateScheduleRequest 创建调度请求
type CreateScheduleRequest struct {
	Name              string `json:"name" binding:"required"`
	WorkflowID        uint   `json:"workflow_id" binding:"required"`
	CronExpr          string `json:"cron_expr" binding:"required"`
	Concurrent        bool   `json:"concurrent"`
	MisfirePolicy     string `json:"misfire_policy"`
	InputTemplate     string `json:"input_template"`
	MaxExecutionCount int    `json:"max_execution_count"`
	StartNow          bool   `json:"start_now"`
}

// 创建调度
func (s *Server) createSchedule(c *gin.Context) {
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	sched := &schedule.Schedule{
		Name:              req.Name,
		WorkflowID:        req.WorkflowID,
		CronExpr:          req.CronExpr,
		Enabled:           true,
		Concurrent:        req.Concurrent,
		MisfirePolicy:     schedule.MisfirePolicy(req.MisfirePolicy),
		InputTemplate:     req.InputTemplate,
		MaxExecutionCount: req.MaxExecutionCount,
	}
	if sched.MisfirePolicy == "" {
		sched.MisfirePolicy = schedule.MisfireIgnore
	}

	if err := s.app.GetScheduleManager().Create(sched, req.StartNow); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to create schedule: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, sched)
}

// 列出调度
func (s *Server) listSchedules(c *gin.Context) {
	var status *schedule.ScheduleStatus
	if v := c.Query("status"); v != "" {
		st := schedule.ScheduleStatus(v)
		status = &st
	}
	limit, offset := parsePagination(c)

	schedules, err := s.app.GetScheduleManager().List(status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

// 获取调度
func (s *Server) getSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	sched, err := s.app.GetScheduleManager().Get(id)
	if err != nil {
		respondRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

// 删除调度
func (s *Server) deleteSchedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.app.GetScheduleManager().Delete(id); err != nil {
		respondRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Schedule deleted"})
}

// 启动调度
func (s *Server) startSchedule(c *gin.Context) {
	s.scheduleAction(c, s.app.GetScheduleManager().Start, "Schedule started")
}

// 暂停调度
func (s *Server) pauseSchedule(c *gin.Context) {
	s.scheduleAction(c, s.app.GetScheduleManager().Pause, "Schedule paused")
}

// 恢复调度
func (s *Server) resumeSchedule(c *gin.Context) {
	s.scheduleAction(c, s.app.GetScheduleManager().Resume, "Schedule resumed")
}

// 手动触发调度
func (s *Server) executeSchedule(c *gin.Context) {
	s.scheduleAction(c, s.app.GetScheduleManager().ExecuteOnce, "Schedule triggered")
}

// scheduleAction 调度生命周期操作的公共处理
func (s *Server) scheduleAction(c *gin.Context, action func(uint) error, message string) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := action(id); err != nil {
		respondRepoError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

// 列出调度日志
func (s *Server) listScheduleLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var status *schedule.LogStatus
	if v := c.Query("status"); v != "" {
		st := schedule.LogStatus(v)
		status = &st
	}
	limit, offset := parsePagination(c)

	logs, err := s.app.GetScheduleManager().Logs(id, status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"count": len(logs),
	})
}

// 列出所有工具
func (s *Server) listTools(c *gin.Context) {
	tools := s.app.GetRegistry().ListInfo()
	c.JSON(http.StatusOK, gin.H{
		"tools": tools,
		"count": len(tools),
	})
}

// parseID 解析路径中的 :id 参数
func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid id: " + c.Param("id"),
		})
		return 0, false
	}
	return uint(id), true
}

// parsePagination 解析分页参数，默认 limit 20
func parsePagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

// respondRepoError 把数据层错误映射为 HTTP 状态码
func respondRepoError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, workflow.ErrWorkflowNotFound),
		errors.Is(err, workflow.ErrExecutionNotFound),
		errors.Is(err, schedule.ErrScheduleNotFound),
		errors.Is(err, schedule.ErrTriggerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrWorkflowDisabled),
		errors.Is(err, workflow.ErrNoSteps),
		errors.Is(err, schedule.ErrScheduleDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		observability.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		observability.Info("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
