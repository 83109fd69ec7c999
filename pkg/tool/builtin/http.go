// Package builtin 提供内置的 Tool 实现
package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"
)

// HTTPRequestParams HTTP 请求工具的参数
type HTTPRequestParams struct {
	URL    string `json:"url" desc:"请求地址，必须是 http 或 https" required:"true"`
	Method string `json:"method" desc:"请求方法：GET（默认）、POST、PUT、DELETE" default:"GET"`
	Body   string `json:"body" desc:"请求体（可选，POST/PUT 时使用）"`
}

// HTTPRequestTool 通用 HTTP 请求工具
// 用于获取外部 API 数据（如 GitHub 趋势榜单），结果以文本返回给模型或步骤
type HTTPRequestTool struct {
	client       *http.Client
	maxBodyBytes int64
}

// NewHTTPRequestTool 创建 HTTPRequestTool
func NewHTTPRequestTool() *HTTPRequestTool {
	return &HTTPRequestTool{
		client:       &http.Client{Timeout: 30 * time.Second},
		maxBodyBytes: 1 << 20, // 响应体上限 1MB，避免超长结果撑爆 prompt
	}
}

func (t *HTTPRequestTool) Name() string {
	return "http_request"
}

func (t *HTTPRequestTool) Description() string {
	return "发送 HTTP 请求并返回响应内容。适用于查询外部 API（如 GitHub、RSS 等公开数据源）。"
}

func (t *HTTPRequestTool) ParamsType() reflect.Type {
	return reflect.TypeOf(HTTPRequestParams{})
}

// Validate 自定义校验：URL 必须是 http(s)
func (t *HTTPRequestTool) Validate(params map[string]any) error {
	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return fmt.Errorf("url must start with http:// or https://")
	}
	if method, ok := params["method"].(string); ok && method != "" {
		switch strings.ToUpper(method) {
		case "GET", "POST", "PUT", "DELETE":
		default:
			return fmt.Errorf("unsupported method: %s", method)
		}
	}
	return nil
}

func (t *HTTPRequestTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	rawURL, _ := params["url"].(string)
	method, _ := params["method"].(string)
	body, _ := params["body"].(string)

	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "FlowChassis/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(respBody), 500))
	}

	return string(respBody), nil
}

// truncate 截断字符串
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
