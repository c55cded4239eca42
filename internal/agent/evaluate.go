package agent

import (
	"context"
	"log/slog"
	"sync"

	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
	"github.com/SpaceUY/safe-agentathon/internal/observability/metrics"
)

// verdict 是一组提案经过评估后的结论。
type verdict int

const (
	// verdictHold 表示提案尚未在策略要求的全部链上出现，本轮不处理。
	verdictHold verdict = iota
	// verdictChecksNotPassed 表示策略检查未通过。
	verdictChecksNotPassed
	// verdictNeedTwoFA 表示检查已通过，还需要人工二次确认。
	verdictNeedTwoFA
	// verdictReady 表示全部门槛已通过，可以进入执行。
	verdictReady
)

// evaluate 依次套用策略门槛：链覆盖屏障、策略检查、二次确认。
// 已通过的阶段结果取自缓存，不会对同一组提案重复检查或重复触发二次确认。
func (e *Engine) evaluate(ctx context.Context, bundle Bundle) (verdict, error) {
	policy, ok := e.cfg.Policy(bundle.Operation)
	if !ok {
		return verdictHold, xerrors.New(xerrors.CodeConfigInvalid,
			"操作缺少策略配置", xerrors.WithMetadata("operation", bundle.Operation))
	}

	if policy.HoldToCheck && !coversAllChains(bundle, policy.ChainIDSet()) {
		return verdictHold, nil
	}

	key := bundle.Key()
	record, err := e.evals.Get(ctx, key)
	if err != nil {
		return verdictHold, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取评估缓存失败")
	}

	if !record.ChecksPassed {
		passed, err := e.runChecks(ctx, policy.Checks, bundle)
		if err != nil {
			return verdictHold, err
		}
		if !passed {
			return verdictChecksNotPassed, nil
		}
		if err := e.evals.MarkChecksPassed(ctx, key); err != nil {
			e.log.Error("缓存检查结果失败", slog.String("error", err.Error()))
		}
		record.ChecksPassed = true
	}

	if policy.TwoFARequired && !record.TwoFAApproved {
		return verdictNeedTwoFA, nil
	}
	return verdictReady, nil
}

// coversAllChains 判断提案覆盖的链集合是否与策略声明的链集合完全一致。
// 多出或缺少任何一条链都视为未覆盖。
func coversAllChains(bundle Bundle, want map[string]struct{}) bool {
	got := bundle.ChainIDSet()
	if len(got) != len(want) {
		return false
	}
	for chainID := range want {
		if _, ok := got[chainID]; !ok {
			return false
		}
	}
	return true
}

// runChecks 并发执行策略声明的全部检查，全部通过才算通过。
// 未注册的检查名视为配置错误，按未通过处理。检查失败不缓存。
func (e *Engine) runChecks(ctx context.Context, names []string, bundle Bundle) (bool, error) {
	if len(names) == 0 {
		return true, nil
	}

	type checkResult struct {
		name   string
		passed bool
		err    error
	}
	results := make([]checkResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		checker, ok := e.checkers[name]
		if !ok {
			e.log.Error("策略检查未注册", slog.String("check", name))
			results[i] = checkResult{name: name, err: xerrors.New(
				xerrors.CodeCheckNotConfigured, "策略检查未注册",
				xerrors.WithMetadata("check", name))}
			continue
		}
		wg.Add(1)
		go func(i int, name string, checker Checker) {
			defer wg.Done()
			passed, err := checker.Check(ctx, bundle)
			results[i] = checkResult{name: name, passed: passed, err: err}
		}(i, name, checker)
	}
	wg.Wait()

	allPassed := true
	for _, res := range results {
		if res.err != nil {
			metrics.CountCheckFailure()
			e.log.Warn("策略检查执行失败",
				slog.String("check", res.name),
				slog.String("error", res.err.Error()))
			allPassed = false
			continue
		}
		metrics.CountCheckRun()
		if !res.passed {
			metrics.CountCheckFailure()
			e.log.Warn("策略检查未通过", slog.String("check", res.name))
			allPassed = false
		}
	}
	return allPassed, nil
}
