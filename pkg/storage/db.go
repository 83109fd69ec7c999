// Package storage 提供数据存储功能
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/KodaTao/FlowChassis/pkg/observability"
)

// DB 全局数据库实例
var DB *gorm.DB

// ErrDBNotInitialized 数据库未初始化
var ErrDBNotInitialized = errors.New("database not initialized")

// Config 数据库配置
type Config struct {
	Path string // 数据库文件路径
}

// InitDB 初始化数据库连接
// 调度器和 HTTP 请求会并发写库，sqlite 侧开启 WAL 并设置忙等超时
func InitDB(cfg Config) error {
	dbPath := expandPath(cfg.Path)

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite 单写者，限制连接数避免写冲突
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	DB = db
	observability.Info("Database initialized", "path", dbPath)

	return nil
}

// GetDB 获取数据库实例
func GetDB() *gorm.DB {
	return DB
}

// AutoMigrate 自动迁移数据库表
func AutoMigrate(models ...any) error {
	if DB == nil {
		return ErrDBNotInitialized
	}
	return DB.AutoMigrate(models...)
}

// Close 关闭数据库连接
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	DB = nil
	return err
}

// expandPath 展开路径中的 ~ 为用户主目录
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
