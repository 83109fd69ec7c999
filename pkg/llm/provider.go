// Package llm 提供 LLM 适配层接口和实现
package llm

import (
	"context"
)

// Invoker 模型调用接口
// 所有 LLM 实现（OpenAI 兼容端点等）都需要实现此接口
type Invoker interface {
	// Invoke 发送一次补全请求
	// req 携带系统提示词、用户内容和可选的工具规范
	// 返回文本回复，或模型请求的工具调用列表（二者至少有其一）
	Invoke(ctx context.Context, req Request) (*Response, error)

	// Name 返回提供商名称
	Name() string
}

// Request 模型调用请求
type Request struct {
	// SystemPrompt 系统提示词，为空时不发送 system 消息
	SystemPrompt string

	// Messages 对话消息（用户输入、历史工具结果等）
	Messages []Message

	// Tools 可选的工具规范，非空时启用 function calling
	Tools []ToolSpec
}

// Response 模型调用响应
type Response struct {
	// Text 文本回复，ToolCalls 非空时可能为空
	Text string

	// ToolCalls 模型请求执行的工具调用
	ToolCalls []ToolCallRequest
}

// ToolCallRequest 模型发起的一次工具调用请求
type ToolCallRequest struct {
	// ID 调用标识，回传工具结果时需要原样带回
	ID string `json:"id"`

	// Name 工具名称
	Name string `json:"name"`

	// Arguments 调用参数（JSON 字符串）
	Arguments string `json:"arguments"`
}

// ToolSpec 向模型公开的工具规范
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ToolParam `json:"parameters,omitempty"`
}

// ToolParam 工具参数规范
type ToolParam struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Message 对话消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCallID 当 Role 为 tool 时，对应的调用标识
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls 当 Role 为 assistant 且模型请求了工具调用时回传
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Config LLM 通用配置
type Config struct {
	// Provider 提供商类型：openai, azure, custom
	Provider string `mapstructure:"provider"`

	// APIKey API 密钥
	APIKey string `mapstructure:"api_key"`

	// BaseURL API 基础 URL（用于自定义 endpoint）
	BaseURL string `mapstructure:"base_url"`

	// Model 模型名称
	Model string `mapstructure:"model"`

	// Timeout 请求超时时间（秒）
	Timeout int `mapstructure:"timeout"`

	// MaxTokens 最大 Token 数
	MaxTokens int `mapstructure:"max_tokens"`

	// Temperature 温度参数（0-2）
	Temperature float64 `mapstructure:"temperature"`
}

// Usage Token 使用统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
