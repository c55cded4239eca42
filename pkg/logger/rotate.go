package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// 审计日志轮转的默认参数。
const (
	defaultAuditSizeMB  = 100
	defaultAuditBackups = 7
	defaultAuditAgeDays = 30
)

// auditFile 按大小轮转审计日志，并清理过旧的备份文件。
// 审计日志量不大，简单的重命名轮转足够。
type auditFile struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	written    int64
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
}

func newAuditFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (*auditFile, error) {
	if path == "" {
		return nil, errors.New("审计日志路径不能为空")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultAuditSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultAuditBackups
	}
	if maxAgeDays <= 0 {
		maxAgeDays = defaultAuditAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建审计日志目录失败: %w", err)
	}

	f := &auditFile{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}
	if err := f.open(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *auditFile) open() error {
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("打开审计日志失败: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("读取审计日志状态失败: %w", err)
	}
	f.file = file
	f.written = info.Size()
	return nil
}

// Write 实现 io.Writer。超过大小上限时先轮转再写入。
func (f *auditFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.written+int64(len(p)) > f.maxBytes {
		if err := f.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := f.file.Write(p)
	f.written += int64(n)
	return n, err
}

// Close 实现 io.Closer。
func (f *auditFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// rotate 将当前文件重命名为带时间戳的备份并重新打开。
func (f *auditFile) rotate() error {
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("关闭审计日志失败: %w", err)
	}
	backup := fmt.Sprintf("%s.%s", f.path, time.Now().Format("20060102T150405"))
	if err := os.Rename(f.path, backup); err != nil {
		return fmt.Errorf("轮转审计日志失败: %w", err)
	}
	f.prune()
	return f.open()
}

// prune 删除数量超限或过旧的备份。清理失败不影响写入。
func (f *auditFile) prune() {
	pattern := f.path + ".*"
	backups, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	cutoff := time.Now().Add(-f.maxAge)
	for idx, backup := range backups {
		if idx >= f.maxBackups {
			_ = os.Remove(backup)
			continue
		}
		stamp := strings.TrimPrefix(backup, f.path+".")
		if ts, err := time.ParseInLocation("20060102T150405", stamp, time.Local); err == nil && ts.Before(cutoff) {
			_ = os.Remove(backup)
		}
	}
}
