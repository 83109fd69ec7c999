// Package builtin 提供内置的 Tool 实现
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"
)

// DBQueryParams 数据库查询工具的参数
type DBQueryParams struct {
	SQL   string `json:"sql" desc:"要执行的 SELECT 语句，只允许查询" required:"true"`
	Limit int    `json:"limit" desc:"最大返回行数，默认 100，上限 500" default:"100"`
}

// DBQueryTool 只读数据库查询工具
// 供模型查询业务数据（历史执行记录、调度日志等），只允许 SELECT
type DBQueryTool struct {
	db *gorm.DB
}

// NewDBQueryTool 创建 DBQueryTool
func NewDBQueryTool(db *gorm.DB) *DBQueryTool {
	return &DBQueryTool{db: db}
}

func (t *DBQueryTool) Name() string {
	return "db_query"
}

func (t *DBQueryTool) Description() string {
	return "执行只读 SQL 查询并以 JSON 返回结果行。只允许 SELECT 语句，适用于查询工作流执行历史和调度日志。"
}

func (t *DBQueryTool) ParamsType() reflect.Type {
	return reflect.TypeOf(DBQueryParams{})
}

// Validate 自定义校验：只放行单条 SELECT 语句
func (t *DBQueryTool) Validate(params map[string]any) error {
	raw, _ := params["sql"].(string)
	stmt := strings.TrimSpace(raw)
	if stmt == "" {
		return fmt.Errorf("sql is required")
	}
	if !strings.HasPrefix(strings.ToUpper(stmt), "SELECT") {
		return fmt.Errorf("only SELECT statements are allowed")
	}
	// 拒绝多语句注入
	if strings.Contains(strings.TrimSuffix(stmt, ";"), ";") {
		return fmt.Errorf("multiple statements are not allowed")
	}
	return nil
}

func (t *DBQueryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	stmt, _ := params["sql"].(string)

	limit := 100
	if raw, ok := params["limit"]; ok {
		switch v := raw.(type) {
		case float64:
			limit = int(v)
		case int:
			limit = v
		}
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	var rows []map[string]any
	if err := t.db.WithContext(ctx).Raw(stmt).Limit(limit).Scan(&rows).Error; err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}

	if len(rows) > limit {
		rows = rows[:limit]
	}

	out, err := json.Marshal(map[string]any{
		"count": len(rows),
		"rows":  rows,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(out), nil
}
