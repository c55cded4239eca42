package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// OperationRecord 表示提案处理过程中的一个阶段落库结构。
type OperationRecord struct {
	ID          string `json:"id"`
	Operation   string `json:"operation"`
	ProposalKey string `json:"proposal_key"`
	Stage       string `json:"stage"`
	Detail      string `json:"detail"`
	CreatedAt   int64  `json:"created_at"`
}

// Repository 抽象操作历史的持久化接口。
type Repository interface {
	Save(ctx context.Context, record OperationRecord) error
	ListLatest(ctx context.Context, limit int) ([]OperationRecord, error)
	ListByOperation(ctx context.Context, operation string, limit int) ([]OperationRecord, error)
}

// memoryCap 是内存仓库保留的最大记录数。
const memoryCap = 512

// MemoryRepository 使用本地 JSON 文件模拟 MySQL 的效果，方便迭代开发。
type MemoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []OperationRecord
}

// NewMemoryRepository 创建一个内存历史仓库。
func NewMemoryRepository(dataDir string) (*MemoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	path := filepath.Join(dataDir, "operations.log")
	repo := &MemoryRepository{dataFile: path}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录处理阶段。
func (m *MemoryRepository) Save(_ context.Context, record OperationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开历史日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化历史记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入历史日志失败: %w", err)
	}

	m.records = append([]OperationRecord{record}, m.records...)
	if len(m.records) > memoryCap {
		m.records = m.records[:memoryCap]
	}
	return nil
}

// ListLatest 返回最近的历史记录，按时间倒序排列。
func (m *MemoryRepository) ListLatest(_ context.Context, limit int) ([]OperationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]OperationRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// ListByOperation 返回指定操作的最近记录。
func (m *MemoryRepository) ListByOperation(_ context.Context, operation string, limit int) ([]OperationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	var results []OperationRecord
	for _, record := range m.records {
		if record.Operation != operation {
			continue
		}
		results = append(results, record)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (m *MemoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取历史日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []OperationRecord
	for scanner.Scan() {
		var record OperationRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]OperationRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析历史日志失败: %w", err)
	}

	if len(restored) > memoryCap {
		restored = restored[:memoryCap]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLRepository 使用真实的 MySQL 数据库存储操作历史。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 创建连接池并初始化数据表。
func NewSQLRepository(dsn string) (*SQLRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	repo := &SQLRepository{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (s *SQLRepository) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS operations (
        id VARCHAR(36) NOT NULL PRIMARY KEY,
        operation VARCHAR(255) NOT NULL,
        proposal_key TEXT NOT NULL,
        stage VARCHAR(64) NOT NULL,
        detail TEXT NOT NULL,
        created_at BIGINT NOT NULL,
        INDEX idx_operation (operation),
        INDEX idx_created_at (created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("初始化 operations 表失败: %w", err)
	}
	return nil
}

// Save 将历史记录写入 MySQL。
func (s *SQLRepository) Save(ctx context.Context, record OperationRecord) error {
	const stmt = `INSERT INTO operations
        (id, operation, proposal_key, stage, detail, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Operation,
		record.ProposalKey,
		record.Stage,
		record.Detail,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条历史记录。
func (s *SQLRepository) ListLatest(ctx context.Context, limit int) ([]OperationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `SELECT id, operation, proposal_key, stage, detail, created_at
        FROM operations ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListByOperation 查询指定操作的最近记录。
func (s *SQLRepository) ListByOperation(ctx context.Context, operation string, limit int) ([]OperationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, `SELECT id, operation, proposal_key, stage, detail, created_at
        FROM operations WHERE operation = ? ORDER BY created_at DESC LIMIT ?`, operation, limit)
}

func (s *SQLRepository) query(ctx context.Context, stmt string, args ...any) ([]OperationRecord, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("查询历史记录失败: %w", err)
	}
	defer rows.Close()

	var records []OperationRecord
	for rows.Next() {
		var record OperationRecord
		if err := rows.Scan(&record.ID, &record.Operation, &record.ProposalKey, &record.Stage, &record.Detail, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析历史记录失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历历史记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Recorder 把仓库适配成引擎需要的记录器，负责补全标识与时间戳。
type Recorder struct {
	Repo Repository
}

// Record 落一条历史记录。
func (r *Recorder) Record(ctx context.Context, operation, proposalKey, stage, detail string) error {
	if r == nil || r.Repo == nil {
		return nil
	}
	return r.Repo.Save(ctx, OperationRecord{
		ID:          uuid.NewString(),
		Operation:   operation,
		ProposalKey: proposalKey,
		Stage:       stage,
		Detail:      detail,
		CreatedAt:   time.Now().Unix(),
	})
}
