// Package chassis 提供 FlowChassis 核心框架
package chassis

import (
	"time"

	"github.com/KodaTao/FlowChassis/pkg/llm"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	LLM           llm.Config          `mapstructure:"llm"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// Host 监听地址
	Host string `mapstructure:"host"`

	// Port 监听端口
	Port int `mapstructure:"port"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Path 数据库文件路径
	Path string `mapstructure:"path"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format 日志格式：text, json
	Format string `mapstructure:"format"`

	// Output 输出目标：stdout, file
	Output string `mapstructure:"output"`

	// FilePath 日志文件路径（当 Output 为 file 时生效）
	FilePath string `mapstructure:"file_path"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否启用
	Enabled bool `mapstructure:"enabled"`

	// Path 指标暴露路径
	Path string `mapstructure:"path"`
}

// ScheduleConfig 调度配置
type ScheduleConfig struct {
	// StaleAfter 超过该时长仍处于 running 的执行记录在启动时标记为失败
	StaleAfter time.Duration `mapstructure:"stale_after"`

	// LogRetention 调度日志保留时长
	LogRetention time.Duration `mapstructure:"log_retention"`
}

// TelegramConfig Telegram 通知配置
type TelegramConfig struct {
	// Enabled 是否注册 send_telegram 工具
	Enabled bool `mapstructure:"enabled"`

	// Token Bot Token
	Token string `mapstructure:"token"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "debug",
		},
		LLM: llm.Config{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4",
			Timeout:     60,
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Database: DatabaseConfig{
			Path: "~/.flowchassis/data.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Schedule: ScheduleConfig{
			StaleAfter:   time.Hour,
			LogRetention: 30 * 24 * time.Hour,
		},
		Telegram: TelegramConfig{
			Enabled: false,
			Token:   "",
		},
	}
}

// Option 配置选项函数
type Option func(*Config)

// WithServerPort 设置服务器端口
func WithServerPort(port int) Option {
	return func(c *Config) {
		c.Server.Port = port
	}
}

// WithServerMode 设置运行模式
func WithServerMode(mode string) Option {
	return func(c *Config) {
		c.Server.Mode = mode
	}
}

// WithLLMConfig 设置 LLM 配置
func WithLLMConfig(cfg llm.Config) Option {
	return func(c *Config) {
		c.LLM = cfg
	}
}

// WithLogLevel 设置日志级别
func WithLogLevel(level string) Option {
	return func(c *Config) {
		c.Log.Level = level
	}
}

// WithDatabasePath 设置数据库路径
func WithDatabasePath(path string) Option {
	return func(c *Config) {
		c.Database.Path = path
	}
}

// WithSchedule 设置调度配置
func WithSchedule(cfg ScheduleConfig) Option {
	return func(c *Config) {
		c.Schedule = cfg
	}
}

// WithTelegram 设置 Telegram 配置
func WithTelegram(cfg TelegramConfig) Option {
	return func(c *Config) {
		c.Telegram = cfg
	}
}
