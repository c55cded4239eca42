// Package logger 提供进程日志与审计日志两套输出。
// 进程日志面向排障，审计日志记录签名相关的敏感动作，单独落盘并轮转。
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// serviceName 会附加到每条进程日志上，方便聚合平台按服务过滤。
const serviceName = "safe-agent"

// Config 描述日志行为。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	processLogger *slog.Logger
	auditLogger   *slog.Logger
	once          sync.Once
	closers       []io.Closer
	initErr       error
)

// Init 初始化全局日志实例。重复调用只有第一次生效。
func Init(cfg Config) error {
	once.Do(func() {
		handler, err := newProcessHandler(cfg)
		if err != nil {
			initErr = err
			return
		}
		processLogger = slog.New(handler).With(slog.String("service", serviceName))
		slog.SetDefault(processLogger)

		// 未启用审计时，敏感动作仍然进入进程日志，但不单独留痕。
		auditLogger = processLogger
		if cfg.Audit.Enabled {
			audit, err := newAuditLogger(cfg.Audit)
			if err != nil {
				initErr = err
				return
			}
			auditLogger = audit
		}
	})
	if initErr != nil {
		return initErr
	}
	if processLogger == nil {
		return errors.New("日志已初始化")
	}
	return nil
}

func newProcessHandler(cfg Config) (slog.Handler, error) {
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		writer, closer, err := openSink(out)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		writers = append(writers, writer)
	}

	var sink io.Writer = writers[0]
	if len(writers) > 1 {
		sink = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(sink, opts), nil
	}
	return slog.NewJSONHandler(sink, opts), nil
}

// newAuditLogger 构建审计日志。审计日志始终是 JSON 格式，
// 每条记录带 audit=true 标记，由轮转写入器落盘。
func newAuditLogger(cfg AuditConfig) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("启用审计日志时必须配置路径")
	}
	writer, err := newAuditFile(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	closers = append(closers, writer)
	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler).With(
		slog.String("service", serviceName),
		slog.Bool("audit", true),
	), nil
}

func openSink(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
		}
		return file, file, nil
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L 返回进程日志实例。未初始化时按默认配置初始化。
func L() *slog.Logger {
	if processLogger == nil {
		_ = Init(Config{})
	}
	return processLogger
}

// Audit 返回审计日志实例。
func Audit() *slog.Logger {
	if auditLogger == nil {
		return L()
	}
	return auditLogger
}

// Named 返回带组件名的子日志。
func Named(component string) *slog.Logger {
	return L().With(slog.String("component", component))
}

// Sync 关闭全部日志输出文件。
func Sync() error {
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}
