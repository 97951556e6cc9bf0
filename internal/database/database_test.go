package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/1314ysys/WebTerminalTool/internal/config"
)

func TestInit_CreatesDatabaseAndTable(t *testing.T) {
	dir := t.TempDir()
	orig := config.Cfg.DatabasePath
	config.Cfg.DatabasePath = filepath.Join(dir, "nested", "webterm.db")
	defer func() { config.Cfg.DatabasePath = orig }()

	if err := Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() {
		Close()
		DB = nil
	}()

	if _, err := os.Stat(config.Cfg.DatabasePath); err != nil {
		t.Fatalf("expected database file to exist: %v", err)
	}

	var mode string
	if err := DB.Raw("PRAGMA journal_mode").Scan(&mode).Error; err != nil {
		t.Fatalf("read journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal mode, got %q", mode)
	}

	entry := SessionAuditLog{SessionID: "abc", EventType: "session_created", Protocol: "ssh", BytesIn: 3}
	if err := DB.Create(&entry).Error; err != nil {
		t.Fatalf("create entry: %v", err)
	}

	var loaded SessionAuditLog
	if err := DB.First(&loaded, entry.ID).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if loaded.SessionID != "abc" || loaded.BytesIn != 3 {
		t.Errorf("unexpected entry %+v", loaded)
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestClose_WithoutInit(t *testing.T) {
	saved := DB
	DB = nil
	defer func() { DB = saved }()

	if err := Close(); err != nil {
		t.Errorf("expected nil closing an uninitialized database, got %v", err)
	}
}
