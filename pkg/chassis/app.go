// Package chassis 提供 FlowChassis 核心框架
package chassis

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/KodaTao/FlowChassis/pkg/llm"
	"github.com/KodaTao/FlowChassis/pkg/llm/openai"
	"github.com/KodaTao/FlowChassis/pkg/observability"
	"github.com/KodaTao/FlowChassis/pkg/schedule"
	"github.com/KodaTao/FlowChassis/pkg/storage"
	"github.com/KodaTao/FlowChassis/pkg/tool"
	"github.com/KodaTao/FlowChassis/pkg/tool/builtin"
	"github.com/KodaTao/FlowChassis/pkg/workflow"
)

// App FlowChassis 应用实例
// 这是整个框架的入口点
type App struct {
	config       *Config
	registry     *tool.Registry
	invoker      llm.Invoker
	workflowRepo *workflow.Repository
	orchestrator *workflow.Orchestrator
	scheduleMgr  *schedule.Manager
}

// New 创建新的 App 实例
func New(opts ...Option) *App {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	return &App{
		config:   config,
		registry: tool.NewRegistry(),
	}
}

// Register 注册一个 Tool
func (a *App) Register(t tool.Tool) error {
	return a.registry.Register(t)
}

// RegisterAll 批量注册 Tools
func (a *App) RegisterAll(tools ...tool.Tool) error {
	return a.registry.RegisterAll(tools...)
}

// Initialize 初始化应用
// 包括：日志、数据库、LLM Invoker、编排器、调度器
func (a *App) Initialize() error {
	// 1. 初始化日志
	if err := observability.InitLogger(observability.LogConfig{
		Level:    a.config.Log.Level,
		Format:   a.config.Log.Format,
		Output:   a.config.Log.Output,
		FilePath: a.config.Log.FilePath,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	observability.Info("Initializing FlowChassis",
		"server_port", a.config.Server.Port,
		"llm_provider", a.config.LLM.Provider,
		"llm_model", a.config.LLM.Model,
	)

	// 2. 初始化数据库并迁移表
	if err := storage.InitDB(storage.Config{
		Path: a.config.Database.Path,
	}); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := storage.AutoMigrate(
		&workflow.Workflow{},
		&workflow.WorkflowStep{},
		&workflow.WorkflowExecution{},
		&schedule.Schedule{},
		&schedule.ScheduleLog{},
	); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	db := storage.GetDB()

	// 3. 初始化 LLM Invoker
	apiKey := llm.ResolveAPIKey(a.config.LLM.APIKey)
	if apiKey == "" {
		return fmt.Errorf("LLM API key is required")
	}

	switch a.config.LLM.Provider {
	case "openai", "azure", "custom":
		a.invoker = openai.NewInvokerFromLLMConfig(llm.Config{
			Provider:    a.config.LLM.Provider,
			APIKey:      apiKey,
			BaseURL:     a.config.LLM.BaseURL,
			Model:       a.config.LLM.Model,
			Timeout:     a.config.LLM.Timeout,
			MaxTokens:   a.config.LLM.MaxTokens,
			Temperature: a.config.LLM.Temperature,
		})
	default:
		return fmt.Errorf("unsupported LLM provider: %s", a.config.LLM.Provider)
	}

	observability.Info("LLM Invoker initialized",
		"provider", a.invoker.Name(),
		"model", a.config.LLM.Model,
		"api_key", llm.MaskAPIKey(apiKey),
	)

	// 4. 注册内置工具
	a.registerBuiltinTools(db)

	// 5. 创建编排器
	a.workflowRepo = workflow.NewRepository(db)
	executor := workflow.NewStepExecutor(a.invoker, a.registry)
	a.orchestrator = workflow.NewOrchestrator(a.workflowRepo, executor)

	// 6. 清理上次进程中断时遗留的执行记录
	if a.config.Schedule.StaleAfter > 0 {
		if _, err := a.orchestrator.RecoverStaleExecutions(context.Background(), a.config.Schedule.StaleAfter); err != nil {
			observability.Warn("stale execution recovery failed", "error", err)
		}
	}

	// 7. 启动调度器
	a.scheduleMgr = schedule.NewManager(schedule.NewRepository(db), a.orchestrator)
	if err := a.scheduleMgr.Run(); err != nil {
		return fmt.Errorf("failed to start schedule manager: %w", err)
	}

	// 8. 清理过期调度日志
	if a.config.Schedule.LogRetention > 0 {
		if _, err := a.scheduleMgr.CleanExpiredLogs(a.config.Schedule.LogRetention); err != nil {
			observability.Warn("schedule log cleanup failed", "error", err)
		}
	}

	observability.Info("FlowChassis initialized",
		"registered_tools", a.registry.Count(),
	)

	return nil
}

// registerBuiltinTools 注册内置工具
func (a *App) registerBuiltinTools(db *gorm.DB) {
	logger := slog.Default()

	_ = a.registry.Register(builtin.NewHTTPRequestTool())
	_ = a.registry.Register(builtin.NewDBQueryTool(db))

	names := []string{"http_request", "db_query"}

	if a.config.Telegram.Enabled && a.config.Telegram.Token != "" {
		tg, err := builtin.NewTelegramSendTool(a.config.Telegram.Token, logger)
		if err != nil {
			observability.Warn("failed to initialize telegram tool", "error", err)
		} else {
			_ = a.registry.Register(tg)
			names = append(names, "send_telegram")
		}
	}

	observability.Info("Registered builtin tools", "tools", names)
}

// GetRegistry 获取工具注册表
func (a *App) GetRegistry() *tool.Registry {
	return a.registry
}

// GetConfig 获取配置
func (a *App) GetConfig() *Config {
	return a.config
}

// GetInvoker 获取 LLM Invoker
func (a *App) GetInvoker() llm.Invoker {
	return a.invoker
}

// GetOrchestrator 获取工作流编排器
func (a *App) GetOrchestrator() *workflow.Orchestrator {
	return a.orchestrator
}

// GetWorkflowRepository 获取工作流数据访问层
func (a *App) GetWorkflowRepository() *workflow.Repository {
	return a.workflowRepo
}

// GetScheduleManager 获取调度管理器
func (a *App) GetScheduleManager() *schedule.Manager {
	return a.scheduleMgr
}

// Shutdown 关闭应用
func (a *App) Shutdown() error {
	observability.Info("Shutting down FlowChassis")

	if a.scheduleMgr != nil {
		a.scheduleMgr.Shutdown()
	}

	if err := storage.Close(); err != nil {
		observability.Error("Failed to close database", "error", err)
		return err
	}

	observability.Info("FlowChassis shutdown complete")
	return nil
}
