package agent

import (
	"sync"
	"sync/atomic"
	"time"
)

// State 表示智能体状态机的当前状态。
type State int32

const (
	StateIdle State = iota
	StateProcessing
	StateWaitingForTwoFA
	StateExecuting
)

// String 实现 fmt.Stringer。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateWaitingForTwoFA:
		return "waiting-for-two-fa"
	case StateExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

const (
	// twoFATTL 是二次确认槽位的有效期。
	twoFATTL = 5 * time.Minute
	// executionMaxAttempts 是执行槽位允许被检视的次数。
	executionMaxAttempts = 10
)

// twoFASlot 持有等待二次确认的提案。confirmed 由外部确认请求原子写入，
// 其它字段只在 tick 内读写。
type twoFASlot struct {
	bundle    Bundle
	createdAt time.Time
	confirmed atomic.Bool
}

// executionSlot 持有准备执行的提案与剩余检视次数。
type executionSlot struct {
	bundle   Bundle
	attempts int
}

// stateStore 是引擎持有的全部可变状态：状态机、二次确认槽位与执行槽位。
// 槽位同一时刻至多各存在一个。
type stateStore struct {
	state atomic.Int32

	mu      sync.RWMutex
	waiting *twoFASlot
	execut  *executionSlot

	now func() time.Time
}

func newStateStore(now func() time.Time) *stateStore {
	if now == nil {
		now = time.Now
	}
	s := &stateStore{now: now}
	s.state.Store(int32(StateIdle))
	return s
}

// State 返回当前状态。
func (s *stateStore) State() State {
	return State(s.state.Load())
}

// SetState 切换状态。只应由 tick 处理器调用。
func (s *stateStore) SetState(state State) {
	s.state.Store(int32(state))
}

// AddForTwoFAConfirmation 建立新的二次确认槽位。
func (s *stateStore) AddForTwoFAConfirmation(b Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := &twoFASlot{bundle: b, createdAt: s.now()}
	s.waiting = slot
}

// twoFALive 判断槽位是否仍在有效期内。过期槽位的清除统一由
// TakeExpiredTwoFA 在 tick 内完成，这里只读不写。
// 调用方必须持有锁。
func (s *stateStore) twoFALive() *twoFASlot {
	if s.waiting == nil {
		return nil
	}
	if !s.now().Before(s.waiting.createdAt.Add(twoFATTL)) {
		return nil
	}
	return s.waiting
}

// WaitingForTwoFA 返回仍在有效期内的等待提案。
func (s *stateStore) WaitingForTwoFA() (Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.twoFALive()
	if slot == nil {
		return Bundle{}, false
	}
	return slot.bundle, true
}

// TakeExpiredTwoFA 取出并清除已过期的二次确认槽位。
// 槽位不存在或仍在有效期内时返回 false。
func (s *stateStore) TakeExpiredTwoFA() (Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiting == nil {
		return Bundle{}, false
	}
	if s.now().Before(s.waiting.createdAt.Add(twoFATTL)) {
		return Bundle{}, false
	}
	b := s.waiting.bundle
	s.waiting = nil
	return b, true
}

// ConfirmTwoFA 标记等待中的提案已通过二次确认。
// 返回 false 表示当前没有等待中的提案（或已过期）。
// 该方法可能与 tick 并发执行，只做一次原子写。
func (s *stateStore) ConfirmTwoFA() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.twoFALive()
	if slot == nil {
		return false
	}
	slot.confirmed.Store(true)
	return true
}

// ConfirmedTwoFA 返回已确认且未过期的提案；不存在时返回 false。
func (s *stateStore) ConfirmedTwoFA() (Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := s.twoFALive()
	if slot == nil || !slot.confirmed.Load() {
		return Bundle{}, false
	}
	return slot.bundle, true
}

// ClearTwoFA 丢弃二次确认槽位。
func (s *stateStore) ClearTwoFA() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = nil
}

// EnsureExecution 为提案建立执行槽位。若已存在同一提案的槽位则保留其
// 剩余检视次数，只刷新提案内容；不同提案则重置计数。
func (s *stateStore) EnsureExecution(b Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execut != nil && s.execut.bundle.Key() == b.Key() {
		s.execut.bundle = b
		return
	}
	s.execut = &executionSlot{bundle: b, attempts: executionMaxAttempts}
}

// InspectExecution 读取执行槽位并扣减一次检视次数。
// 返回值依次为：槽位提案、剩余次数、槽位是否存在、次数是否已耗尽。
// 次数耗尽时槽位被丢弃，调用方负责告警。
func (s *stateStore) InspectExecution() (Bundle, int, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execut == nil {
		return Bundle{}, 0, false, false
	}
	if s.execut.attempts <= 0 {
		b := s.execut.bundle
		s.execut = nil
		return b, 0, true, true
	}
	s.execut.attempts--
	return s.execut.bundle, s.execut.attempts, true, false
}

// ReplaceExecutionBundle 用刷新后的提案内容覆盖执行槽位。
func (s *stateStore) ReplaceExecutionBundle(b Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.execut != nil {
		s.execut.bundle = b
	}
}

// ClearExecution 丢弃执行槽位。
func (s *stateStore) ClearExecution() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execut = nil
}

// ExecutionOperation 返回执行槽位上的操作名，用于状态查询。
func (s *stateStore) ExecutionOperation() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.execut == nil {
		return "", false
	}
	return s.execut.bundle.Operation, true
}

// WaitingOperation 返回等待二次确认的操作名，用于状态查询。
func (s *stateStore) WaitingOperation() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.waiting == nil {
		return "", false
	}
	if !s.now().Before(s.waiting.createdAt.Add(twoFATTL)) {
		return "", false
	}
	return s.waiting.bundle.Operation, true
}
