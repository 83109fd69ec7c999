package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/KodaTao/FlowChassis/pkg/llm"
	"github.com/KodaTao/FlowChassis/pkg/observability"
	"github.com/KodaTao/FlowChassis/pkg/tool"
)

// maxToolCallRounds 单个步骤内模型发起工具调用的最大轮数
// 防止模型陷入无限调用循环
const maxToolCallRounds = 10

// StepExecutor 执行单个工作流步骤
// 步骤的执行分三个阶段：预执行配置的工具、拼装提示词、调用模型
type StepExecutor struct {
	invoker llm.Invoker
	tools   *tool.Registry
}

// NewStepExecutor 创建 StepExecutor
func NewStepExecutor(invoker llm.Invoker, tools *tool.Registry) *StepExecutor {
	return &StepExecutor{
		invoker: invoker,
		tools:   tools,
	}
}

// Execute 执行步骤，成功时把模型输出写入 scope 的输出变量
// 任何阶段失败都会带上步骤名返回，调用方应终止整个工作流
func (e *StepExecutor) Execute(ctx context.Context, step *WorkflowStep, scope *Scope) error {
	prompt, err := e.buildPrompt(ctx, step, scope)
	if err != nil {
		return fmt.Errorf("step %q: %w", step.Name, err)
	}

	output, err := e.invoke(ctx, step.SystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("step %q: %w", step.Name, err)
	}

	scope.Set(step.OutputVariable, output)
	return nil
}

// buildPrompt 拼装步骤的最终提示词
// 配置了工具时先硬执行工具，结果写入 <输出变量>_tool_result 并附加到提示词
func (e *StepExecutor) buildPrompt(ctx context.Context, step *WorkflowStep, scope *Scope) (string, error) {
	var buf strings.Builder
	buf.WriteString(step.Prompt)

	if step.InputVariable != "" {
		// 作用域中不存在的变量按空值处理
		input, _ := scope.Get(step.InputVariable)
		buf.WriteString("\n\n用户输入:\n")
		buf.WriteString(input)
	}

	if step.ToolName != "" {
		result, err := e.runConfiguredTool(ctx, step, scope)
		if err != nil {
			return "", err
		}
		scope.Set(step.OutputVariable+"_tool_result", result)
		buf.WriteString("\n\n工具执行结果:\n")
		buf.WriteString(result)
	}

	return buf.String(), nil
}

// runConfiguredTool 硬执行步骤配置的工具
// 与模型发起的工具调用不同，这里的失败直接导致步骤失败
func (e *StepExecutor) runConfiguredTool(ctx context.Context, step *WorkflowStep, scope *Scope) (string, error) {
	params := make(map[string]any)
	if step.ToolParams != "" {
		if err := json.Unmarshal([]byte(step.ToolParams), &params); err != nil {
			return "", fmt.Errorf("invalid tool params for %q: %w", step.ToolName, err)
		}
	}

	// 参数值支持 {{variable}} 占位符，从作用域取值
	for k, v := range params {
		if s, ok := v.(string); ok {
			params[k] = interpolate(s, scope)
		}
	}

	if err := e.tools.Validate(step.ToolName, params); err != nil {
		return "", fmt.Errorf("tool %q rejected params: %w", step.ToolName, err)
	}

	result, err := e.tools.Execute(ctx, step.ToolName, params)
	if err != nil {
		return "", fmt.Errorf("tool %q failed: %w", step.ToolName, err)
	}
	return result, nil
}

// invoke 调用模型并处理模型发起的工具调用
// 工具失败会被折叠成可见的错误文本回传给模型，不会中断步骤
func (e *StepExecutor) invoke(ctx context.Context, systemPrompt, prompt string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}
	specs := e.tools.Specs()

	for round := 0; round < maxToolCallRounds; round++ {
		resp, err := e.invoker.Invoke(ctx, llm.Request{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        specs,
		})
		if err != nil {
			return "", fmt.Errorf("llm invocation failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			observability.DebugContext(ctx, "model requested tool call",
				"tool", call.Name,
				"call_id", call.ID,
			)
			result := e.tools.ExecuteForModel(ctx, call.Name, call.Arguments)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return "", fmt.Errorf("tool call loop exceeded %d rounds", maxToolCallRounds)
}

// interpolate 替换字符串中的 {{variable}} 占位符
func interpolate(s string, scope *Scope) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	for _, name := range scope.Names() {
		placeholder := "{{" + name + "}}"
		if strings.Contains(s, placeholder) {
			value, _ := scope.Get(name)
			s = strings.ReplaceAll(s, placeholder, value)
		}
	}
	return s
}
