// Package tool 提供工具接口定义和注册分发功能
package tool

import (
	"context"
	"reflect"
)

// Tool 是所有可调用工具的基础接口
// 工作流步骤通过 Name() 查找工具，模型通过 Spec() 理解工具用途
type Tool interface {
	// Name 返回工具的唯一标识符
	// 命名规范：小写字母、数字、下划线，如 "http_request", "db_query"
	Name() string

	// Description 返回工具描述，用于模型理解工具用途
	Description() string

	// ParamsType 返回参数的反射类型
	// 框架通过此方法获取参数结构，自动生成 Schema
	// 返回 nil 表示该工具不需要参数
	ParamsType() reflect.Type

	// Execute 执行工具
	// ctx 用于超时控制和取消
	// params 是 JSON 反序列化后的原始参数表
	// 返回文本结果，供模型阅读或由步骤直接消费
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// Validator 自定义参数校验接口
// 工具可选实现；未实现时使用 Schema 驱动的默认校验
type Validator interface {
	// Validate 校验参数，返回 nil 表示校验通过
	Validate(params map[string]any) error
}

// Info 工具元信息，用于 API 返回和模型规范生成
type Info struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamInfo `json:"parameters,omitempty"`
}

// ParamInfo 参数元信息
type ParamInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
}
