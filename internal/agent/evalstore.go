package agent

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// EvaluationRecord 记录某一组提案已经通过的评估阶段。
// 策略检查结果与二次确认结果分别缓存，避免对同一组提案重复发起检查
// 或重复触发二次确认流程。
type EvaluationRecord struct {
	ChecksPassed  bool `json:"checksPassed"`
	TwoFAApproved bool `json:"twoFAApproved"`
}

// EvaluationStore 按提案键缓存评估结果。只缓存通过的阶段，
// 失败不写入，下一轮 tick 会重新评估。
type EvaluationStore interface {
	// Get 返回提案键对应的缓存记录；不存在时返回零值记录。
	Get(ctx context.Context, key string) (EvaluationRecord, error)
	// MarkChecksPassed 记录该组提案已通过全部策略检查。
	MarkChecksPassed(ctx context.Context, key string) error
	// MarkTwoFAApproved 记录该组提案已通过二次确认。
	MarkTwoFAApproved(ctx context.Context, key string) error
}

// memoryEvalEntry 是内存缓存的单条记录。
type memoryEvalEntry struct {
	key      string
	record   EvaluationRecord
	storedAt time.Time
}

// MemoryEvaluationStore 是有界的内存实现：超过容量时淘汰最旧的记录，
// 超过有效期的记录在读取时失效。
type MemoryEvaluationStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	max     int
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryEvaluationStore 创建内存缓存。maxEntries 与 ttl 为非正数时
// 使用默认值（1024 条，24 小时）。
func NewMemoryEvaluationStore(maxEntries int, ttl time.Duration) *MemoryEvaluationStore {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryEvaluationStore{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		max:     maxEntries,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryEvaluationStore) Get(ctx context.Context, key string) (EvaluationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	elem, ok := s.entries[key]
	if !ok {
		return EvaluationRecord{}, nil
	}
	entry := elem.Value.(*memoryEvalEntry)
	if s.now().Sub(entry.storedAt) > s.ttl {
		s.order.Remove(elem)
		delete(s.entries, key)
		return EvaluationRecord{}, nil
	}
	return entry.record, nil
}

func (s *MemoryEvaluationStore) MarkChecksPassed(ctx context.Context, key string) error {
	s.update(key, func(r *EvaluationRecord) { r.ChecksPassed = true })
	return nil
}

func (s *MemoryEvaluationStore) MarkTwoFAApproved(ctx context.Context, key string) error {
	s.update(key, func(r *EvaluationRecord) { r.TwoFAApproved = true })
	return nil
}

func (s *MemoryEvaluationStore) update(key string, mutate func(*EvaluationRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*memoryEvalEntry)
		mutate(&entry.record)
		entry.storedAt = s.now()
		s.order.MoveToBack(elem)
		return
	}
	entry := &memoryEvalEntry{key: key, storedAt: s.now()}
	mutate(&entry.record)
	s.entries[key] = s.order.PushBack(entry)
	for s.order.Len() > s.max {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*memoryEvalEntry).key)
	}
}
