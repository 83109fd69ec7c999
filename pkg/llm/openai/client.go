// Package openai 提供 OpenAI 兼容 API 的 Invoker 实现
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/KodaTao/FlowChassis/pkg/llm"
	"github.com/KodaTao/FlowChassis/pkg/observability"
)

// Invoker OpenAI 提供商实现
type Invoker struct {
	config     *Config
	httpClient *http.Client
}

// Config OpenAI 配置
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4",
		Timeout:     60 * time.Second,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// NewInvoker 创建 OpenAI Invoker
func NewInvoker(cfg *Config) *Invoker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Invoker{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// NewInvokerFromLLMConfig 从通用 LLM 配置创建 Invoker
func NewInvokerFromLLMConfig(cfg llm.Config) *Invoker {
	return NewInvoker(&Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
}

// Name 返回提供商名称
func (p *Invoker) Name() string {
	return "openai"
}

// Invoke 发送补全请求
// 当 req.Tools 非空时启用 function calling，模型可能返回工具调用请求
func (p *Invoker) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	observability.LLMRequestLog(ctx, p.Name(), p.config.Model, len(req.Tools))

	// 构建请求
	reqBody := chatRequest{
		Model:       p.config.Model,
		Messages:    convertMessages(req),
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
		Tools:       convertTools(req.Tools),
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// 创建 HTTP 请求
	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	// 发送请求
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// 读取响应
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// 检查状态码
	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, errResp.Error.Message)
	}

	// 解析响应
	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := chatResp.Choices[0]
	result := &llm.Response{
		Text: choice.Message.Content,
	}

	// 提取工具调用请求
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	duration := time.Since(start)

	// 记录响应日志
	observability.LLMResponseLog(ctx, p.Name(), duration.Milliseconds(), map[string]int{
		"prompt":     chatResp.Usage.PromptTokens,
		"completion": chatResp.Usage.CompletionTokens,
		"total":      chatResp.Usage.TotalTokens,
	})

	return result, nil
}

// convertMessages 转换消息格式
// 系统提示词（如有）总是作为第一条 system 消息
func convertMessages(req llm.Request) []chatMessage {
	var result []chatMessage

	if req.SystemPrompt != "" {
		result = append(result, chatMessage{
			Role:    string(llm.RoleSystem),
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		cm := chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, toolCall{
				ID:   tc.ID,
				Type: "function",
				Function: functionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		result = append(result, cm)
	}

	return result
}

// convertTools 将工具规范转换为 OpenAI tools 格式
func convertTools(specs []llm.ToolSpec) []toolDefinition {
	if len(specs) == 0 {
		return nil
	}

	result := make([]toolDefinition, 0, len(specs))
	for _, spec := range specs {
		properties := make(map[string]paramSchema, len(spec.Parameters))
		var required []string

		for _, p := range spec.Parameters {
			properties[p.Name] = paramSchema{
				Type:        jsonSchemaType(p.Type),
				Description: p.Description,
			}
			if p.Required {
				required = append(required, p.Name)
			}
		}

		result = append(result, toolDefinition{
			Type: "function",
			Function: functionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters: objectSchema{
					Type:       "object",
					Properties: properties,
					Required:   required,
				},
			},
		})
	}

	return result
}

// jsonSchemaType 将内部类型名映射为 JSON Schema 类型
func jsonSchemaType(t string) string {
	switch t {
	case "string", "integer", "number", "boolean", "object", "array":
		return t
	case "":
		return "string"
	default:
		// array[string] 之类的复合类型统一按 string 传递
		return "string"
	}
}

// API 请求/响应结构

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []chatMessage    `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Tools       []toolDefinition `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
}

type toolDefinition struct {
	Type     string             `json:"type"`
	Function functionDefinition `json:"function"`
}

type functionDefinition struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Parameters  objectSchema `json:"parameters"`
}

type objectSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]paramSchema `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

type paramSchema struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			ToolCalls []toolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}
