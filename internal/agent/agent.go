package agent

import (
	"context"
	"crypto/ecdsa"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/SpaceUY/safe-agentathon/internal/config"
	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
	"github.com/SpaceUY/safe-agentathon/internal/multisig"
	"github.com/SpaceUY/safe-agentathon/internal/observability/alerting"
	"github.com/SpaceUY/safe-agentathon/internal/observability/metrics"
	"github.com/SpaceUY/safe-agentathon/pkg/logger"
)

// MultisigClient 定义引擎访问多签交易服务所需的能力。
type MultisigClient interface {
	LatestPendingProposal(ctx context.Context, wallet config.Wallet) (*multisig.Transaction, error)
	Confirm(ctx context.Context, wallet config.Wallet, tx *multisig.Transaction, key *ecdsa.PrivateKey) error
	Execute(ctx context.Context, wallet config.Wallet, tx *multisig.Transaction, key *ecdsa.PrivateKey) (common.Hash, error)
}

// Signer 提供智能体自身的签名身份。
type Signer interface {
	Address() common.Address
	SigningKey() *ecdsa.PrivateKey
}

// Checker 对一组提案执行单项策略检查。
type Checker interface {
	Check(ctx context.Context, bundle Bundle) (bool, error)
}

// Notifier 负责把二次确认请求通知给人工审核方。
type Notifier interface {
	NotifyTwoFARequest(ctx context.Context, operation, proposalKey string) error
}

// Recorder 将提案处理过程落库，供历史查询接口使用。
type Recorder interface {
	Record(ctx context.Context, operation, proposalKey, stage, detail string) error
}

// Engine 协调多签提案的聚合、评估与执行，是系统的业务核心。
// 所有状态迁移都发生在单个 tick 协程内；唯一的外部写入是二次确认。
type Engine struct {
	cfg      *config.Config
	client   MultisigClient
	signer   Signer
	checkers map[string]Checker
	evals    EvaluationStore
	notifier Notifier
	recorder Recorder
	alerts   alerting.Dispatcher
	store    *stateStore
	log      *slog.Logger
	now      func() time.Time
	ticking  atomic.Bool
}

// Option 定义可选的 Engine 配置。
type Option func(*Engine)

// WithNotifier 配置二次确认通知渠道。
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRecorder 配置历史记录存储。
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithAlertDispatcher 配置告警分发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(e *Engine) { e.alerts = d }
}

// WithLogger 指定引擎使用的日志器。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock 注入时间源，测试用。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New 创建一个 Engine。
func New(cfg *config.Config, client MultisigClient, signer Signer, checkers map[string]Checker, evals EvaluationStore, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "配置不能为空")
	}
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置多签服务客户端")
	}
	if signer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置签名身份")
	}
	if evals == nil {
		evals = NewMemoryEvaluationStore(0, 0)
	}
	eng := &Engine{
		cfg:      cfg,
		client:   client,
		signer:   signer,
		checkers: checkers,
		evals:    evals,
		log:      logger.Named("engine"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(eng)
		}
	}
	eng.store = newStateStore(eng.now)
	return eng, nil
}

// State 返回状态机当前状态，供状态查询接口使用。
func (e *Engine) State() State {
	return e.store.State()
}

// SignerAddress 返回智能体的签名地址。
func (e *Engine) SignerAddress() common.Address {
	return e.signer.Address()
}

// WaitingOperation 返回等待二次确认的操作名。
func (e *Engine) WaitingOperation() (string, bool) {
	return e.store.WaitingOperation()
}

// ExecutionOperation 返回执行槽位上的操作名。
func (e *Engine) ExecutionOperation() (string, bool) {
	return e.store.ExecutionOperation()
}

// ConfirmTwoFA 标记等待中的提案已通过二次确认。
// 返回 false 表示没有等待中的提案或槽位已过期。
func (e *Engine) ConfirmTwoFA() bool {
	ok := e.store.ConfirmTwoFA()
	if ok {
		metrics.CountTwoFAConfirmed()
		if op, exists := e.store.WaitingOperation(); exists {
			logger.Audit().Info("二次确认已提交", slog.String("operation", op))
		}
	}
	return ok
}

// Run 按配置的间隔驱动 tick，直至上下文取消。
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.log.Info("提案巡检已启动", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("提案巡检已停止")
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick 执行一轮状态机推进。同一时刻至多一轮在执行，
// 上一轮未结束时本轮直接跳过而不是排队。
func (e *Engine) Tick(ctx context.Context) {
	if !e.ticking.CompareAndSwap(false, true) {
		metrics.CountTickSkipped()
		e.log.Warn("上一轮巡检尚未结束，跳过本轮")
		return
	}
	defer e.ticking.Store(false)
	defer func() {
		if r := recover(); r != nil {
			metrics.CountTickError()
			e.log.Error("巡检发生 panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			e.store.SetState(StateIdle)
		}
	}()

	start := e.now()
	e.tick(ctx)
	metrics.ObserveTick(e.now().Sub(start))
}

// tick 根据当前状态选择处理分支。
func (e *Engine) tick(ctx context.Context) {
	switch e.store.State() {
	case StateWaitingForTwoFA:
		if !e.resolveTwoFA(ctx) {
			return
		}
		// 二次确认已有结论，回落到空闲流程重新评估。
		e.process(ctx)
	case StateExecuting:
		e.executeStep(ctx)
	default:
		e.process(ctx)
	}
}

// resolveTwoFA 处理等待二次确认的槽位。
// 返回 true 表示槽位已有结论（确认或过期），可以继续空闲流程。
func (e *Engine) resolveTwoFA(ctx context.Context) bool {
	if bundle, ok := e.store.ConfirmedTwoFA(); ok {
		if err := e.evals.MarkTwoFAApproved(ctx, bundle.Key()); err != nil {
			e.log.Error("缓存二次确认结果失败", slog.String("error", err.Error()))
		}
		e.store.ClearTwoFA()
		e.record(ctx, bundle.Operation, bundle.Key(), "two-fa-approved", "")
		e.log.Info("二次确认通过", slog.String("operation", bundle.Operation))
		return true
	}
	if bundle, ok := e.store.TakeExpiredTwoFA(); ok {
		metrics.CountTwoFAExpired()
		e.store.SetState(StateIdle)
		e.alert(ctx, alerting.Event{
			Code:        xerrors.CodeTwoFAExpired,
			Message:     "二次确认超时，提案已退回待处理",
			Severity:    xerrors.SeverityWarning,
			Operation:   bundle.Operation,
			ProposalKey: bundle.Key(),
		})
		e.record(ctx, bundle.Operation, bundle.Key(), "two-fa-expired", "")
		e.log.Warn("二次确认超时，槽位已清除", slog.String("operation", bundle.Operation))
		return true
	}
	if _, ok := e.store.WaitingForTwoFA(); ok {
		// 仍在有效期内，继续等待。
		return false
	}
	// 槽位不存在，回落到空闲流程。
	e.store.SetState(StateIdle)
	return true
}

// process 执行空闲状态下的完整流程：聚合、挑选、评估。
func (e *Engine) process(ctx context.Context) {
	e.store.SetState(StateProcessing)
	bundles := e.aggregate(ctx)
	bundle, ok := e.selectBundle(bundles)
	if !ok {
		e.store.SetState(StateIdle)
		return
	}
	log := e.log.With(
		slog.String("operation", bundle.Operation),
		slog.Any("chain_ids", bundle.ChainIDs()))

	verdict, err := e.evaluate(ctx, bundle)
	if err != nil {
		metrics.CountTickError()
		log.Error("评估提案失败", slog.String("error", err.Error()))
		e.store.SetState(StateIdle)
		return
	}
	switch verdict {
	case verdictHold:
		log.Info("提案尚未覆盖全部链，等待复制")
		e.store.SetState(StateIdle)
	case verdictChecksNotPassed:
		log.Warn("提案未通过策略检查")
		e.record(ctx, bundle.Operation, bundle.Key(), "checks-failed", "")
		e.store.SetState(StateIdle)
	case verdictNeedTwoFA:
		e.requestTwoFA(ctx, bundle)
	case verdictReady:
		e.store.EnsureExecution(bundle)
		e.store.SetState(StateExecuting)
		e.record(ctx, bundle.Operation, bundle.Key(), "execution-scheduled", "")
		e.executeStep(ctx)
	}
}

// requestTwoFA 建立二次确认槽位并异步通知人工审核方。
func (e *Engine) requestTwoFA(ctx context.Context, bundle Bundle) {
	e.store.AddForTwoFAConfirmation(bundle)
	e.store.SetState(StateWaitingForTwoFA)
	metrics.CountTwoFARequested()
	e.record(ctx, bundle.Operation, bundle.Key(), "two-fa-requested", "")
	e.log.Info("等待二次确认", slog.String("operation", bundle.Operation))
	if e.notifier == nil {
		return
	}
	// 通知失败不阻塞状态机，审核方仍可主动提交验证码。
	go func() {
		nctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.notifier.NotifyTwoFARequest(nctx, bundle.Operation, bundle.Key()); err != nil {
			metrics.CountNotifyFailure()
			e.log.Error("发送二次确认通知失败",
				slog.String("operation", bundle.Operation),
				slog.String("error", err.Error()))
		}
	}()
}

// record 落一条历史记录，失败只记日志。
func (e *Engine) record(ctx context.Context, operation, key, stage, detail string) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, operation, key, stage, detail); err != nil {
		e.log.Error("写入历史记录失败",
			slog.String("stage", stage),
			slog.String("error", err.Error()))
	}
}

// alert 分发一条告警事件，失败只记日志。
func (e *Engine) alert(ctx context.Context, event alerting.Event) {
	if e.alerts == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	if err := e.alerts.Notify(ctx, event); err != nil {
		e.log.Error("分发告警失败", slog.String("error", err.Error()))
	}
}
