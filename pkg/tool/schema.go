// Package tool 提供工具接口定义和注册分发功能
package tool

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/KodaTao/FlowChassis/pkg/llm"
)

// ExtractParamInfo 从 Tool 中提取参数信息
// 使用反射读取参数结构体的字段和 tag
func ExtractParamInfo(t Tool) []ParamInfo {
	paramType := t.ParamsType()
	if paramType == nil {
		return nil
	}

	// 如果是指针，获取元素类型
	if paramType.Kind() == reflect.Ptr {
		paramType = paramType.Elem()
	}

	// 只处理结构体类型
	if paramType.Kind() != reflect.Struct {
		return nil
	}

	return extractStructParams(paramType)
}

// Spec 生成向模型公开的工具规范
func Spec(t Tool) llm.ToolSpec {
	params := ExtractParamInfo(t)
	spec := llm.ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
	}
	for _, p := range params {
		spec.Parameters = append(spec.Parameters, llm.ToolParam{
			Name:        p.Name,
			Type:        p.Type,
			Description: p.Description,
			Required:    p.Required,
		})
	}
	return spec
}

// extractStructParams 从结构体类型提取参数信息
func extractStructParams(t reflect.Type) []ParamInfo {
	var params []ParamInfo

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		// 跳过非导出字段
		if field.PkgPath != "" {
			continue
		}

		// 嵌入字段递归展开
		if field.Anonymous {
			if field.Type.Kind() == reflect.Struct {
				embedded := extractStructParams(field.Type)
				params = append(params, embedded...)
			}
			continue
		}

		param := ParamInfo{
			Name:        getFieldName(field),
			Type:        getTypeName(field.Type),
			Description: field.Tag.Get("desc"),
			Required:    isRequired(field),
			Default:     field.Tag.Get("default"),
		}

		params = append(params, param)
	}

	return params
}

// getFieldName 获取字段名称
// 优先使用 json tag，否则使用字段名（转小写下划线）
func getFieldName(field reflect.StructField) string {
	jsonTag := field.Tag.Get("json")
	if jsonTag != "" && jsonTag != "-" {
		parts := strings.Split(jsonTag, ",")
		if parts[0] != "" {
			return parts[0]
		}
	}

	return toSnakeCase(field.Name)
}

// getTypeName 获取类型的可读名称
func getTypeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "integer"
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return getTypeName(t.Elem())
	default:
		return t.String()
	}
}

// isRequired 判断字段是否必填
func isRequired(field reflect.StructField) bool {
	// 检查 required tag
	requiredTag := field.Tag.Get("required")
	if requiredTag == "true" || requiredTag == "1" {
		return true
	}

	// 检查 validate tag (常见的验证库格式)
	validateTag := field.Tag.Get("validate")
	if strings.Contains(validateTag, "required") {
		return true
	}

	// 检查 binding tag (gin 框架格式)
	bindingTag := field.Tag.Get("binding")
	if strings.Contains(bindingTag, "required") {
		return true
	}

	return false
}

// toSnakeCase 将驼峰命名转换为下划线命名
func toSnakeCase(s string) string {
	var result strings.Builder
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}
		if r >= 'A' && r <= 'Z' {
			result.WriteByte(byte(r + 32))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ValidateParams 根据工具的 Schema 校验参数
// 工具实现了 Validator 时优先使用自定义校验
func ValidateParams(t Tool, params map[string]any) error {
	if v, ok := t.(Validator); ok {
		return v.Validate(params)
	}

	for _, p := range ExtractParamInfo(t) {
		val, present := params[p.Name]
		if !present {
			if p.Required && p.Default == "" {
				return fmt.Errorf("%w: %s", ErrMissingParam, p.Name)
			}
			continue
		}
		if err := checkParamKind(p, val); err != nil {
			return err
		}
	}
	return nil
}

// checkParamKind 检查单个参数值与声明类型是否匹配
// JSON 反序列化的数值统一是 float64，整数按数值检查
func checkParamKind(p ParamInfo, val any) error {
	if val == nil {
		if p.Required {
			return fmt.Errorf("%w: %s", ErrMissingParam, p.Name)
		}
		return nil
	}

	switch p.Type {
	case "string":
		if _, ok := val.(string); !ok {
			return typeMismatch(p.Name, p.Type, val)
		}
	case "integer", "number":
		switch val.(type) {
		case float64, float32, int, int64, json.Number:
		default:
			return typeMismatch(p.Name, p.Type, val)
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return typeMismatch(p.Name, p.Type, val)
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return typeMismatch(p.Name, p.Type, val)
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return typeMismatch(p.Name, p.Type, val)
		}
	}
	return nil
}

func typeMismatch(name, expected string, val any) error {
	return fmt.Errorf("%w: parameter %q expects %s, got %T", ErrInvalidParam, name, expected, val)
}

// DecodeParams 将原始参数表解码为目标结构体
// 通过 JSON 往返填充字段，并补齐 default tag 声明的默认值
func DecodeParams(t Tool, params map[string]any, target any) error {
	// 补齐默认值
	filled := make(map[string]any, len(params))
	for k, v := range params {
		filled[k] = v
	}
	for _, p := range ExtractParamInfo(t) {
		if _, ok := filled[p.Name]; !ok && p.Default != "" {
			filled[p.Name] = coerceDefault(p)
		}
	}

	raw, err := json.Marshal(filled)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

// coerceDefault 将 default tag 的字符串值转换为参数声明的类型
func coerceDefault(p ParamInfo) any {
	switch p.Type {
	case "integer":
		if n, err := strconv.Atoi(p.Default); err == nil {
			return n
		}
	case "number":
		if f, err := strconv.ParseFloat(p.Default, 64); err == nil {
			return f
		}
	case "boolean":
		return p.Default == "true" || p.Default == "1"
	}
	return p.Default
}
