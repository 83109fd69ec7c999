package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/KodaTao/FlowChassis/pkg/llm"
	"github.com/KodaTao/FlowChassis/pkg/tool"
)

// setupWorkflowTestDB 创建测试数据库
func setupWorkflowTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.AutoMigrate(&Workflow{}, &WorkflowStep{}, &WorkflowExecution{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	return db
}

// fakeInvoker 可编程的测试 Invoker
// 默认回显收到的提示词，也可以用 responses 脚本化每轮响应
type fakeInvoker struct {
	responses []llm.Response
	calls     int
	requests  []llm.Request
	err       error
}

func (f *fakeInvoker) Name() string {
	return "fake"
}

func (f *fakeInvoker) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.requests = append(f.requests, req)
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) > 0 {
		resp := f.responses[0]
		f.responses = f.responses[1:]
		return &resp, nil
	}
	// 默认回显最后一条用户消息
	last := req.Messages[len(req.Messages)-1]
	return &llm.Response{Text: "echo: " + last.Content}, nil
}

// mockSearchParams 测试工具参数
type mockSearchParams struct {
	Query string `json:"query" desc:"搜索关键词" required:"true"`
}

// mockSearchTool 测试工具
type mockSearchTool struct {
	result string
	err    error
	called int
}

func (m *mockSearchTool) Name() string             { return "mock_search" }
func (m *mockSearchTool) Description() string      { return "mock search tool" }
func (m *mockSearchTool) ParamsType() reflect.Type { return reflect.TypeOf(mockSearchParams{}) }
func (m *mockSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	m.called++
	if m.err != nil {
		return "", m.err
	}
	return m.result, nil
}

// setupOrchestrator 组装测试用编排器
func setupOrchestrator(t *testing.T, invoker llm.Invoker) (*Orchestrator, *Repository, *tool.Registry) {
	db := setupWorkflowTestDB(t)
	repo := NewRepository(db)
	registry := tool.NewRegistry()
	executor := NewStepExecutor(invoker, registry)
	return NewOrchestrator(repo, executor), repo, registry
}

// createTestWorkflow 写入一个两步工作流
func createTestWorkflow(t *testing.T, repo *Repository) *Workflow {
	wf := &Workflow{
		Name:    "article_pipeline",
		Type:    TypeSequential,
		Enabled: true,
		Steps: []WorkflowStep{
			{Name: "extract_topic", StepOrder: 1, Prompt: "提取主题", InputVariable: "input", OutputVariable: "topic", Enabled: true},
			{Name: "write_summary", StepOrder: 2, Prompt: "撰写摘要", InputVariable: "topic", OutputVariable: "summary", Enabled: true},
		},
	}
	if err := repo.CreateWorkflow(wf); err != nil {
		t.Fatalf("Failed to create workflow: %v", err)
	}
	return wf
}

func TestOrchestrator_Execute_Sequential(t *testing.T) {
	invoker := &fakeInvoker{}
	orch, repo, _ := setupOrchestrator(t, invoker)
	wf := createTestWorkflow(t, repo)

	exec, err := orch.Execute(context.Background(), wf.ID, map[string]any{"input": "golang concurrency"})
	if err != nil {
		t.Fatalf("Failed to execute workflow: %v", err)
	}

	if exec.Status != ExecutionCompleted {
		t.Errorf("Expected status 'completed', got '%s'", exec.Status)
	}
	if invoker.calls != 2 {
		t.Errorf("Expected 2 LLM calls, got %d", invoker.calls)
	}

	// 第一步的提示词应包含初始输入
	first := invoker.requests[0].Messages[0].Content
	if !strings.Contains(first, "golang concurrency") {
		t.Errorf("Expected first prompt to contain initial input, got: %s", first)
	}

	// 第二步的提示词应包含第一步的输出
	second := invoker.requests[1].Messages[0].Content
	if !strings.Contains(second, "echo:") {
		t.Errorf("Expected second prompt to contain first step output, got: %s", second)
	}

	// 最终输出是最后一步的输出变量
	if !strings.HasPrefix(exec.Output, "echo:") {
		t.Errorf("Expected echoed output, got: %s", exec.Output)
	}

	// 变量快照包含所有变量
	for _, name := range []string{"input", "topic", "summary"} {
		if !strings.Contains(exec.Variables, `"`+name+`"`) {
			t.Errorf("Expected variables snapshot to contain %q, got: %s", name, exec.Variables)
		}
	}
	if exec.FinishedAt == nil {
		t.Error("Expected finished_at to be set")
	}
}

func TestOrchestrator_Execute_SeedsInputMap(t *testing.T) {
	invoker := &fakeInvoker{}
	orch, repo, _ := setupOrchestrator(t, invoker)

	wf := &Workflow{
		Name:    "summarizer",
		Enabled: true,
		Steps: []WorkflowStep{
			{Name: "s1", StepOrder: 1, Prompt: "总结主题", InputVariable: "topic", OutputVariable: "summary", Enabled: true},
		},
	}
	if err := repo.CreateWorkflow(wf); err != nil {
		t.Fatalf("Failed to create workflow: %v", err)
	}

	exec, err := orch.Execute(context.Background(), wf.ID, map[string]any{
		"topic": "cats",
		"count": 3,
	})
	if err != nil {
		t.Fatalf("Failed to execute workflow: %v", err)
	}
	if exec.Status != ExecutionCompleted {
		t.Fatalf("Expected status 'completed', got '%s'", exec.Status)
	}

	// 每个输入项都作为变量进入作用域
	prompt := invoker.requests[0].Messages[0].Content
	if !strings.Contains(prompt, "cats") {
		t.Errorf("Expected prompt to contain input variable value, got: %s", prompt)
	}
	for _, pair := range []string{`"topic":"cats"`, `"count":"3"`} {
		if !strings.Contains(exec.Variables, pair) {
			t.Errorf("Expected variables snapshot to contain %s, got: %s", pair, exec.Variables)
		}
	}

	// 初始输入以 JSON 形式落库
	if !strings.Contains(exec.Input, `"topic":"cats"`) {
		t.Errorf("Expected input to be recorded as JSON, got: %s", exec.Input)
	}
}

func TestOrchestrator_Execute_SkipsDisabledSteps(t *testing.T) {
	invoker := &fakeInvoker{}
	orch, repo, _ := setupOrchestrator(t, invoker)

	wf := &Workflow{
		Name:    "with_disabled",
		Enabled: true,
		Steps: []WorkflowStep{
			{Name: "first", StepOrder: 1, Prompt: "p1", OutputVariable: "a", Enabled: true},
			{Name: "disabled", StepOrder: 2, Prompt: "p2", InputVariable: "a", OutputVariable: "b", Enabled: false},
			{Name: "last", StepOrder: 3, Prompt: "p3", InputVariable: "a", OutputVariable: "c", Enabled: true},
		},
	}
	if err := repo.CreateWorkflow(wf); err != nil {
		t.Fatalf("Failed to create workflow: %v", err)
	}

	exec, err := orch.Execute(context.Background(), wf.ID, nil)
	if err != nil {
		t.Fatalf("Failed to execute workflow: %v", err)
	}
	if invoker.calls != 2 {
		t.Errorf("Expected 2 LLM calls (disabled step skipped), got %d", invoker.calls)
	}
	if strings.Contains(exec.Variables, `"b"`) {
		t.Error("Disabled step should not produce output variable")
	}
}

func TestOrchestrator_Execute_WorkflowNotFound(t *testing.T) {
	orch, _, _ := setupOrchestrator(t, &fakeInvoker{})

	_, err := orch.Execute(context.Background(), 9999, nil)
	if !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("Expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestOrchestrator_Execute_WorkflowDisabled(t *testing.T) {
	orch, repo, _ := setupOrchestrator(t, &fakeInvoker{})
	wf := createTestWorkflow(t, repo)
	wf.Enabled = false
	if err := repo.UpdateWorkflow(wf); err != nil {
		t.Fatalf("Failed to update workflow: %v", err)
	}

	_, err := orch.Execute(context.Background(), wf.ID, nil)
	if !errors.Is(err, ErrWorkflowDisabled) {
		t.Errorf("Expected ErrWorkflowDisabled, got %v", err)
	}

	// 不应产生执行记录
	execs, _ := repo.ListExecutions(wf.ID, 0, 0)
	if len(execs) != 0 {
		t.Errorf("Expected 0 executions, got %d", len(execs))
	}
}

func TestOrchestrator_Execute_NoSteps(t *testing.T) {
	orch, repo, _ := setupOrchestrator(t, &fakeInvoker{})

	wf := &Workflow{Name: "empty", Enabled: true}
	// 绕过校验直接写库，模拟步骤全部被禁用的情况
	if err := repo.db.Create(wf).Error; err != nil {
		t.Fatalf("Failed to create workflow: %v", err)
	}

	_, err := orch.Execute(context.Background(), wf.ID, nil)
	if !errors.Is(err, ErrNoSteps) {
		t.Errorf("Expected ErrNoSteps, got %v", err)
	}
}

func TestOrchestrator_Execute_StepFailure(t *testing.T) {
	invoker := &fakeInvoker{err: errors.New("model unavailable")}
	orch, repo, _ := setupOrchestrator(t, invoker)
	wf := createTestWorkflow(t, repo)

	exec, err := orch.Execute(context.Background(), wf.ID, map[string]any{"input": "anything"})
	if err == nil {
		t.Fatal("Expected execution error")
	}
	if !strings.Contains(err.Error(), "extract_topic") {
		t.Errorf("Expected error to name the failing step, got: %v", err)
	}

	if exec.Status != ExecutionFailed {
		t.Errorf("Expected status 'failed', got '%s'", exec.Status)
	}
	if exec.Error == "" {
		t.Error("Expected error to be recorded on execution")
	}

	// 失败的记录也要落库
	stored, err := repo.GetExecution(exec.ExecutionID)
	if err != nil {
		t.Fatalf("Failed to load execution: %v", err)
	}
	if stored.Status != ExecutionFailed {
		t.Errorf("Expected stored status 'failed', got '%s'", stored.Status)
	}
}

func TestOrchestrator_Execute_ToolPreExecution(t *testing.T) {
	invoker := &fakeInvoker{}
	orch, repo, registry := setupOrchestrator(t, invoker)

	search := &mockSearchTool{result: "search result data"}
	_ = registry.Register(search)

	wf := &Workflow{
		Name:    "with_tool",
		Enabled: true,
		Steps: []WorkflowStep{
			{
				Name:           "research",
				StepOrder:      1,
				Prompt:         "分析以下资料",
				OutputVariable: "analysis",
				ToolName:       "mock_search",
				ToolParams:     `{"query": "golang"}`,
				Enabled:        true,
			},
		},
	}
	if err := repo.CreateWorkflow(wf); err != nil {
		t.Fatalf("Failed to create workflow: %v", err)
	}

	exec, err := orch.Execute(context.Background(), wf.ID, nil)
	if err != nil {
		t.Fatalf("Failed to execute workflow: %v", err)
	}

	if search.called != 1 {
		t.Errorf("Expected tool to be called once, got %d", search.called)
	}

	// 工具结果进入提示词
	prompt := invoker.requests[0].Messages[0].Content
	if !strings.Contains(prompt, "search result data") {
		t.Errorf("Expected prompt to contain tool result, got: %s", prompt)
	}

	// 工具结果存入 <输出变量>_tool_result
	if !strings.Contains(exec.Variables, `"analysis_tool_result"`) {
		t.Errorf("Expected variables to contain analysis_tool_result, got: %s", exec.Variables)
	}
}

func TestOrchestrator_Execute_ToolHardFailure(t *testing.T) {
	invoker := &fakeInvoker{}
	orch, repo, registry := setupOrchestrator(t, invoker)

	search := &mockSearchTool{err: errors.New("upstream timeout")}
	_ = registry.Register(search)

	wf := &Workflow{
		Name:    "with_failing_tool",
		Enabled: true,
		Steps: []WorkflowStep{
			{
				Name:           "research",
				StepOrder:      1,
				Prompt:         "分析",
				OutputVariable: "analysis",
				ToolName:       "mock_search",
				ToolParams:     `{"query": "golang"}`,
				Enabled:        true,
			},
		},
	}
	if err := repo.CreateWorkflow(wf); err != nil {
		t.Fatalf("Failed to create workflow: %v", err)
	}

	exec, err := orch.Execute(context.Background(), wf.ID, nil)
	if err == nil {
		t.Fatal("Expected execution error from tool failure")
	}
	if exec.Status != ExecutionFailed {
		t.Errorf("Expected status 'failed', got '%s'", exec.Status)
	}
	// 结构化消费路径下工具失败是硬错误，不调用模型
	if invoker.calls != 0 {
		t.Errorf("Expected no LLM calls after tool failure, got %d", invoker.calls)
	}
}

func TestStepExecutor_ModelToolCallLoop(t *testing.T) {
	search := &mockSearchTool{result: "found 3 articles"}
	registry := tool.NewRegistry()
	_ = registry.Register(search)

	invoker := &fakeInvoker{
		responses: []llm.Response{
			{ToolCalls: []llm.ToolCallRequest{
				{ID: "call_1", Name: "mock_search", Arguments: `{"query": "golang"}`},
			}},
			{Text: "final answer"},
		},
	}
	executor := NewStepExecutor(invoker, registry)

	scope := NewScope()
	step := &WorkflowStep{Name: "research", Prompt: "查找资料", OutputVariable: "result"}
	if err := executor.Execute(context.Background(), step, scope); err != nil {
		t.Fatalf("Failed to execute step: %v", err)
	}

	if search.called != 1 {
		t.Errorf("Expected tool to be called once by model, got %d", search.called)
	}

	v, _ := scope.Get("result")
	if v != "final answer" {
		t.Errorf("Expected 'final answer', got '%s'", v)
	}

	// 第二轮请求应包含 tool 角色消息
	secondReq := invoker.requests[1]
	last := secondReq.Messages[len(secondReq.Messages)-1]
	if last.Role != llm.RoleTool {
		t.Errorf("Expected last message role 'tool', got '%s'", last.Role)
	}
	if last.Content != "found 3 articles" {
		t.Errorf("Expected tool result content, got '%s'", last.Content)
	}
}

func TestStepExecutor_ModelToolError_FoldedNotFatal(t *testing.T) {
	search := &mockSearchTool{err: errors.New("rate limited")}
	registry := tool.NewRegistry()
	_ = registry.Register(search)

	invoker := &fakeInvoker{
		responses: []llm.Response{
			{ToolCalls: []llm.ToolCallRequest{
				{ID: "call_1", Name: "mock_search", Arguments: `{"query": "golang"}`},
			}},
			{Text: "recovered without tool"},
		},
	}
	executor := NewStepExecutor(invoker, registry)

	scope := NewScope()
	step := &WorkflowStep{Name: "research", Prompt: "查找资料", OutputVariable: "result"}
	if err := executor.Execute(context.Background(), step, scope); err != nil {
		t.Fatalf("Model-visible tool error should not fail the step: %v", err)
	}

	// 错误以文本形式回传给模型
	secondReq := invoker.requests[1]
	last := secondReq.Messages[len(secondReq.Messages)-1]
	if !strings.Contains(last.Content, "tool error") {
		t.Errorf("Expected folded tool error, got '%s'", last.Content)
	}

	v, _ := scope.Get("result")
	if v != "recovered without tool" {
		t.Errorf("Expected model to recover, got '%s'", v)
	}
}

func TestStepExecutor_MissingInputVariableResolvesEmpty(t *testing.T) {
	invoker := &fakeInvoker{}
	executor := NewStepExecutor(invoker, tool.NewRegistry())

	scope := NewScope()
	step := &WorkflowStep{Name: "second", Prompt: "p", InputVariable: "nonexistent", OutputVariable: "out"}
	if err := executor.Execute(context.Background(), step, scope); err != nil {
		t.Fatalf("Missing input variable should resolve to empty, got: %v", err)
	}

	// 变量按空值参与提示词拼装
	prompt := invoker.requests[0].Messages[0].Content
	if !strings.HasPrefix(prompt, "p") || !strings.Contains(prompt, "用户输入") {
		t.Errorf("Expected prompt built with empty input, got: %s", prompt)
	}
	if _, ok := scope.Get("out"); !ok {
		t.Error("Expected output variable to be set")
	}
}

func TestStepExecutor_SystemPrompt(t *testing.T) {
	invoker := &fakeInvoker{}
	executor := NewStepExecutor(invoker, tool.NewRegistry())

	scope := NewScope()
	step := &WorkflowStep{
		Name:           "summarize",
		SystemPrompt:   "你是资深编辑",
		Prompt:         "撰写摘要",
		OutputVariable: "summary",
	}
	if err := executor.Execute(context.Background(), step, scope); err != nil {
		t.Fatalf("Failed to execute step: %v", err)
	}

	if invoker.requests[0].SystemPrompt != "你是资深编辑" {
		t.Errorf("Expected system prompt to be forwarded, got '%s'", invoker.requests[0].SystemPrompt)
	}
}

func TestOrchestrator_RecoverStaleExecutions(t *testing.T) {
	orch, repo, _ := setupOrchestrator(t, &fakeInvoker{})

	stale := &WorkflowExecution{
		ExecutionID: "stale-1",
		WorkflowID:  1,
		Status:      ExecutionRunning,
		StartedAt:   time.Now().Add(-2 * time.Hour),
	}
	fresh := &WorkflowExecution{
		ExecutionID: "fresh-1",
		WorkflowID:  1,
		Status:      ExecutionRunning,
		StartedAt:   time.Now(),
	}
	for _, e := range []*WorkflowExecution{stale, fresh} {
		if err := repo.CreateExecution(e); err != nil {
			t.Fatalf("Failed to create execution: %v", err)
		}
	}

	n, err := orch.RecoverStaleExecutions(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Failed to recover: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 recovered execution, got %d", n)
	}

	recovered, _ := repo.GetExecution("stale-1")
	if recovered.Status != ExecutionFailed {
		t.Errorf("Expected stale execution marked failed, got '%s'", recovered.Status)
	}
	untouched, _ := repo.GetExecution("fresh-1")
	if untouched.Status != ExecutionRunning {
		t.Errorf("Expected fresh execution untouched, got '%s'", untouched.Status)
	}
}

func TestRepository_ListSteps_Ordered(t *testing.T) {
	db := setupWorkflowTestDB(t)
	repo := NewRepository(db)

	// 乱序写入
	for _, order := range []int{3, 1, 2} {
		step := &WorkflowStep{
			WorkflowID:     1,
			Name:           fmt.Sprintf("step_%d", order),
			StepOrder:      order,
			Prompt:         "p",
			InputVariable:  "in",
			OutputVariable: fmt.Sprintf("out_%d", order),
			Enabled:        true,
		}
		if err := db.Create(step).Error; err != nil {
			t.Fatalf("Failed to create step: %v", err)
		}
	}

	steps, err := repo.ListSteps(1)
	if err != nil {
		t.Fatalf("Failed to list steps: %v", err)
	}
	for i, step := range steps {
		if step.StepOrder != i+1 {
			t.Errorf("Expected step order %d at index %d, got %d", i+1, i, step.StepOrder)
		}
	}
}
