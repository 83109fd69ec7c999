package tool

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// echoParams 测试参数结构
type echoParams struct {
	Message string `json:"message" desc:"要回显的内容" required:"true"`
	Count   int    `json:"count" desc:"重复次数" default:"1"`
	Loud    bool   `json:"loud"`
}

// echoTool 测试工具
type echoTool struct {
	err error
}

func (e *echoTool) Name() string             { return "echo" }
func (e *echoTool) Description() string      { return "echo back the message" }
func (e *echoTool) ParamsType() reflect.Type { return reflect.TypeOf(echoParams{}) }
func (e *echoTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	var p echoParams
	if err := DecodeParams(e, params, &p); err != nil {
		return "", err
	}
	out := p.Message
	if p.Loud {
		out = strings.ToUpper(out)
	}
	return strings.Repeat(out, p.Count), nil
}

// strictTool 带自定义校验的测试工具
type strictTool struct{}

func (s *strictTool) Name() string             { return "strict" }
func (s *strictTool) Description() string      { return "tool with custom validation" }
func (s *strictTool) ParamsType() reflect.Type { return reflect.TypeOf(echoParams{}) }
func (s *strictTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return "ok", nil
}
func (s *strictTool) Validate(params map[string]any) error {
	if params["message"] != "password" {
		return errors.New("wrong message")
	}
	return nil
}

func TestExtractParamInfo(t *testing.T) {
	params := ExtractParamInfo(&echoTool{})
	if len(params) != 3 {
		t.Fatalf("Expected 3 params, got %d", len(params))
	}

	byName := make(map[string]ParamInfo)
	for _, p := range params {
		byName[p.Name] = p
	}

	msg, ok := byName["message"]
	if !ok {
		t.Fatal("Expected param 'message'")
	}
	if msg.Type != "string" {
		t.Errorf("Expected type 'string', got '%s'", msg.Type)
	}
	if !msg.Required {
		t.Error("Expected 'message' to be required")
	}
	if msg.Description != "要回显的内容" {
		t.Errorf("Unexpected description: %s", msg.Description)
	}

	count := byName["count"]
	if count.Type != "integer" {
		t.Errorf("Expected type 'integer', got '%s'", count.Type)
	}
	if count.Default != "1" {
		t.Errorf("Expected default '1', got '%s'", count.Default)
	}
	if count.Required {
		t.Error("Expected 'count' to be optional")
	}

	if byName["loud"].Type != "boolean" {
		t.Errorf("Expected type 'boolean', got '%s'", byName["loud"].Type)
	}
}

func TestExtractParamInfo_SnakeCaseFallback(t *testing.T) {
	type params struct {
		MaxRetryCount int
	}

	fields := extractStructParams(reflect.TypeOf(params{}))
	if len(fields) != 1 {
		t.Fatalf("Expected 1 param, got %d", len(fields))
	}
	if fields[0].Name != "max_retry_count" {
		t.Errorf("Expected 'max_retry_count', got '%s'", fields[0].Name)
	}
}

func TestSpec(t *testing.T) {
	spec := Spec(&echoTool{})
	if spec.Name != "echo" {
		t.Errorf("Expected name 'echo', got '%s'", spec.Name)
	}
	if len(spec.Parameters) != 3 {
		t.Errorf("Expected 3 parameters, got %d", len(spec.Parameters))
	}
}

func TestValidateParams(t *testing.T) {
	tl := &echoTool{}

	// 缺少必填参数
	err := ValidateParams(tl, map[string]any{})
	if !errors.Is(err, ErrMissingParam) {
		t.Errorf("Expected ErrMissingParam, got %v", err)
	}

	// 类型不匹配
	err = ValidateParams(tl, map[string]any{"message": 42})
	if !errors.Is(err, ErrInvalidParam) {
		t.Errorf("Expected ErrInvalidParam, got %v", err)
	}

	// JSON 数值统一是 float64，integer 参数应接受
	err = ValidateParams(tl, map[string]any{"message": "hi", "count": float64(2)})
	if err != nil {
		t.Errorf("Expected float64 to satisfy integer param, got %v", err)
	}

	// 自定义校验优先
	strict := &strictTool{}
	if err := ValidateParams(strict, map[string]any{"message": "wrong"}); err == nil {
		t.Error("Expected custom validator to reject")
	}
	if err := ValidateParams(strict, map[string]any{"message": "password"}); err != nil {
		t.Errorf("Expected custom validator to accept, got %v", err)
	}
}

func TestDecodeParams_Defaults(t *testing.T) {
	tl := &echoTool{}
	var p echoParams
	if err := DecodeParams(tl, map[string]any{"message": "hi"}, &p); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if p.Count != 1 {
		t.Errorf("Expected default count 1, got %d", p.Count)
	}
	if p.Message != "hi" {
		t.Errorf("Expected message 'hi', got '%s'", p.Message)
	}
}

func TestRegistry_RegisterGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&echoTool{}); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := r.Register(nil); !errors.Is(err, ErrNilTool) {
		t.Errorf("Expected ErrNilTool, got %v", err)
	}

	if _, ok := r.Get("echo"); !ok {
		t.Error("Expected 'echo' to be registered")
	}
	if r.Count() != 1 {
		t.Errorf("Expected count 1, got %d", r.Count())
	}
	if !r.Unregister("echo") {
		t.Error("Expected unregister to succeed")
	}
	if r.Has("echo") {
		t.Error("Expected 'echo' to be gone")
	}
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&echoTool{})

	result, err := r.Execute(context.Background(), "echo", map[string]any{"message": "hi", "count": float64(2)})
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if result != "hihi" {
		t.Errorf("Expected 'hihi', got '%s'", result)
	}

	// 未注册的工具是硬错误
	_, err = r.Execute(context.Background(), "nonexistent", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("Expected ErrToolNotFound, got %v", err)
	}

	// 工具自身的错误向上传播
	_ = r.Register(&echoTool{err: errors.New("boom")})
	if _, err := r.Execute(context.Background(), "echo", map[string]any{"message": "hi"}); err == nil {
		t.Error("Expected tool error to propagate")
	}
}

func TestRegistry_ExecuteForModel_FoldsErrors(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&echoTool{})

	// 成功路径直接返回结果
	result := r.ExecuteForModel(context.Background(), "echo", `{"message": "hi"}`)
	if result != "hi" {
		t.Errorf("Expected 'hi', got '%s'", result)
	}

	// 未知工具折叠为错误文本
	result = r.ExecuteForModel(context.Background(), "nonexistent", `{}`)
	if !strings.Contains(result, "tool error") {
		t.Errorf("Expected folded error, got '%s'", result)
	}

	// 非法 JSON 折叠为错误文本
	result = r.ExecuteForModel(context.Background(), "echo", `{invalid`)
	if !strings.Contains(result, "tool error") {
		t.Errorf("Expected folded error, got '%s'", result)
	}

	// 校验失败折叠为错误文本
	result = r.ExecuteForModel(context.Background(), "echo", `{}`)
	if !strings.Contains(result, "tool error") {
		t.Errorf("Expected folded error, got '%s'", result)
	}

	// 工具执行失败折叠为错误文本
	_ = r.Register(&echoTool{err: errors.New("boom")})
	result = r.ExecuteForModel(context.Background(), "echo", `{"message": "hi"}`)
	if !strings.Contains(result, "boom") {
		t.Errorf("Expected folded tool failure, got '%s'", result)
	}
}

func TestRegistry_Specs(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&echoTool{})
	_ = r.Register(&strictTool{})

	all := r.Specs()
	if len(all) != 2 {
		t.Errorf("Expected 2 specs, got %d", len(all))
	}

	one := r.Specs("echo")
	if len(one) != 1 || one[0].Name != "echo" {
		t.Errorf("Expected single 'echo' spec, got %v", one)
	}

	// 未注册的名称被跳过
	none := r.Specs("nonexistent")
	if len(none) != 0 {
		t.Errorf("Expected 0 specs, got %d", len(none))
	}
}
