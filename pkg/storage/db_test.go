package storage

import (
	"os"
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

// record 迁移测试用模型
type record struct {
	gorm.Model
	Name string
}

func TestInitDB_CreatesNestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "data.db")

	if err := InitDB(Config{Path: path}); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	if GetDB() == nil {
		t.Fatal("Expected global DB to be set")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected database file to exist: %v", err)
	}

	if err := AutoMigrate(&record{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	if err := GetDB().Create(&record{Name: "a"}).Error; err != nil {
		t.Errorf("Failed to write after migration: %v", err)
	}
}

func TestAutoMigrate_RequiresInit(t *testing.T) {
	if DB != nil {
		t.Cleanup(func() { _ = Close() })
		_ = Close()
	}

	if err := AutoMigrate(&record{}); err != ErrDBNotInitialized {
		t.Errorf("Expected ErrDBNotInitialized, got %v", err)
	}
}

func TestClose_WithoutInit(t *testing.T) {
	if DB != nil {
		_ = Close()
	}
	if err := Close(); err != nil {
		t.Errorf("Expected nil when closing uninitialized database, got %v", err)
	}
}
