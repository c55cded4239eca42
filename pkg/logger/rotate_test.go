package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAuditFileRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	file, err := newAuditFile(path, 1, 3, 30)
	if err != nil {
		t.Fatalf("new audit file: %v", err)
	}
	defer file.Close()

	chunk := bytes.Repeat([]byte("a"), 600*1024)
	if _, err := file.Write(chunk); err != nil {
		t.Fatalf("first write: %v", err)
	}
	// 第二次写入会超过 1MB 上限，触发轮转。
	if _, err := file.Write(chunk); err != nil {
		t.Fatalf("second write: %v", err)
	}

	backups, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected one backup after rotation, got %v", backups)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current file: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Fatalf("current file must hold only the latest chunk, size = %d", info.Size())
	}
}

func TestAuditFileRequiresPath(t *testing.T) {
	if _, err := newAuditFile("", 1, 1, 1); err == nil {
		t.Fatalf("empty path must be rejected")
	}
}
