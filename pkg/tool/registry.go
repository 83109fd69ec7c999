// Package tool 提供工具接口定义和注册分发功能
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KodaTao/FlowChassis/pkg/llm"
	"github.com/KodaTao/FlowChassis/pkg/observability"
)

// 错误定义
var (
	ErrNilTool       = errors.New("tool cannot be nil")
	ErrEmptyToolName = errors.New("tool name cannot be empty")
	ErrToolNotFound  = errors.New("tool not found")
	ErrMissingParam  = errors.New("missing required parameter")
	ErrInvalidParam  = errors.New("invalid parameter")
)

// Registry 工具注册表
// 线程安全，支持并发读写
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry 创建新的注册表
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register 注册一个 Tool
// 如果同名 Tool 已存在，会被覆盖
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return ErrNilTool
	}
	name := t.Name()
	if name == "" {
		return ErrEmptyToolName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[name] = t
	observability.Info("Tool registered", "name", name)
	return nil
}

// RegisterAll 批量注册 Tools
func (r *Registry) RegisterAll(ts ...Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get 获取指定名称的 Tool
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Has 检查是否存在指定名称的 Tool
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tools[name]
	return ok
}

// List 列出所有已注册的 Tool 名称
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ListInfo 列出所有 Tool 的详细信息
func (r *Registry) ListInfo() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, Info{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  ExtractParamInfo(t),
		})
	}
	return infos
}

// Specs 返回指定工具的模型规范
// names 为空时返回所有工具的规范；未注册的名称被跳过
func (r *Registry) Specs(names ...string) []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var specs []llm.ToolSpec
	if len(names) == 0 {
		for _, t := range r.tools {
			specs = append(specs, Spec(t))
		}
		return specs
	}

	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			specs = append(specs, Spec(t))
		}
	}
	return specs
}

// Unregister 注销一个 Tool
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; ok {
		delete(r.tools, name)
		observability.Info("Tool unregistered", "name", name)
		return true
	}
	return false
}

// Count 返回已注册的 Tool 数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Validate 校验指定工具的参数
// 调用方必须在 Execute 之前调用
func (r *Registry) Validate(name string, params map[string]any) error {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return ValidateParams(t, params)
}

// Execute 执行指定的 Tool（结构化消费路径）
// 未知工具、校验失败和工具自身的错误都作为硬错误向上传播；
// 步骤直接消费工具结果时由调用方决定是否终止整个工作流
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	start := time.Now()
	result, err := t.Execute(ctx, params)
	duration := time.Since(start)

	// 记录执行日志和指标
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.ToolCallLog(ctx, name, status, duration.Milliseconds())
	observability.RecordToolCall(name, status)

	return result, err
}

// ExecuteForModel 执行模型请求的工具调用（模型可见路径）
// 所有失败都折叠为模型可读的错误描述字符串，不向上传播：
// 模型看到失败后可以自行调整再次调用
func (r *Registry) ExecuteForModel(ctx context.Context, name string, argumentsJSON string) string {
	t, ok := r.Get(name)
	if !ok {
		observability.WarnContext(ctx, "Model requested unknown tool", "tool", name)
		return fmt.Sprintf("tool error: tool not found: %s", name)
	}

	var params map[string]any
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &params); err != nil {
			observability.WarnContext(ctx, "Tool arguments are not valid JSON", "tool", name, "error", err)
			return fmt.Sprintf("tool error: invalid arguments: %s", err.Error())
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	if err := ValidateParams(t, params); err != nil {
		observability.WarnContext(ctx, "Tool parameter validation failed", "tool", name, "error", err)
		return fmt.Sprintf("tool error: %s", err.Error())
	}

	result, err := r.Execute(ctx, name, params)
	if err != nil {
		return fmt.Sprintf("tool error: %s", err.Error())
	}
	return result
}
