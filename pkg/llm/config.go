// Package llm 提供 LLM 适配层接口和实现
package llm

import (
	"os"
	"strconv"
	"strings"
)

// LoadConfigFromEnv 从环境变量加载配置
func LoadConfigFromEnv() Config {
	cfg := Config{
		Provider:    getEnv("FC_LLM_PROVIDER", "openai"),
		APIKey:      getEnv("FC_LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		BaseURL:     getEnv("FC_LLM_BASE_URL", "https://api.openai.com/v1"),
		Model:       getEnv("FC_LLM_MODEL", "gpt-4"),
		Timeout:     getEnvInt("FC_LLM_TIMEOUT", 60),
		MaxTokens:   getEnvInt("FC_LLM_MAX_TOKENS", 4096),
		Temperature: getEnvFloat("FC_LLM_TEMPERATURE", 0.7),
	}
	return cfg
}

// ResolveAPIKey 解析 API Key（支持环境变量引用）
// 如果值以 ${} 包裹，则从环境变量读取
func ResolveAPIKey(key string) string {
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		envName := key[2 : len(key)-1]
		return os.Getenv(envName)
	}
	return key
}

// MaskAPIKey 脱敏 API Key，用于日志输出
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// getEnv 获取环境变量，支持默认值
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt 获取整数环境变量
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n == 0 {
		return defaultVal
	}
	return n
}

// getEnvFloat 获取浮点数环境变量
func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f == 0 {
		return defaultVal
	}
	return f
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	return nil
}

// 配置相关错误
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

var (
	ErrMissingAPIKey = &ConfigError{Message: "API key is required"}
	ErrMissingModel  = &ConfigError{Message: "model is required"}
)
