package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/SpaceUY/safe-agentathon/internal/config"
	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
	"github.com/SpaceUY/safe-agentathon/internal/observability/alerting"
	"github.com/SpaceUY/safe-agentathon/internal/observability/metrics"
)

// refreshedEntry 是执行槽位中单条提案刷新后的状态。
type refreshedEntry struct {
	entry ProposalEntry
	// stale 表示本轮刷新失败，条目保留在槽位中但不参与本轮动作。
	stale bool
	// done 表示该条目对应的交易已不再是链上最新待处理提案，
	// 说明它已被执行或被替代，可以从槽位中移除。
	done bool
}

// executeStep 推进执行槽位：刷新各链提案状态、复制签名、触发上链执行。
// 每次进入都会消耗一次检视次数，次数耗尽说明提案长期无法收敛，丢弃并告警。
func (e *Engine) executeStep(ctx context.Context) {
	bundle, attempts, ok, exhausted := e.store.InspectExecution()
	if !ok {
		e.store.SetState(StateIdle)
		return
	}
	if exhausted {
		metrics.CountExecutionExhausted()
		e.alert(ctx, alerting.Event{
			Code:        xerrors.CodeAttemptsExhausted,
			Message:     "执行检视次数耗尽，提案已丢弃",
			Severity:    xerrors.SeverityCritical,
			Operation:   bundle.Operation,
			ProposalKey: bundle.Key(),
		})
		e.record(ctx, bundle.Operation, bundle.Key(), "execution-abandoned", "")
		e.log.Error("执行检视次数耗尽，提案已丢弃",
			slog.String("operation", bundle.Operation))
		e.store.SetState(StateIdle)
		return
	}
	e.store.SetState(StateExecuting)

	log := e.log.With(
		slog.String("operation", bundle.Operation),
		slog.Int("attempts_left", attempts))

	refreshed := e.refreshEntries(ctx, bundle)
	var remaining, actionable []ProposalEntry
	for _, r := range refreshed {
		if r.done {
			continue
		}
		remaining = append(remaining, r.entry)
		if !r.stale {
			actionable = append(actionable, r.entry)
		}
	}
	if len(remaining) == 0 {
		log.Info("全部链上的提案均已完成")
		e.record(ctx, bundle.Operation, bundle.Key(), "execution-complete", "")
		e.store.ClearExecution()
		e.store.SetState(StateIdle)
		return
	}
	current := Bundle{Operation: bundle.Operation, Entries: remaining}
	e.store.ReplaceExecutionBundle(current)

	policy, hasPolicy := e.cfg.Policy(bundle.Operation)
	signerAddr := e.signer.Address()

	var toConfirm, toExecute []ProposalEntry
	for _, entry := range actionable {
		switch {
		case !entry.Tx.HasConfirmed(signerAddr):
			toConfirm = append(toConfirm, entry)
		case e.cfg.IsExecutor && entry.Tx.ThresholdMet() && !entry.Tx.IsExecuted:
			toExecute = append(toExecute, entry)
		}
	}

	// 复制屏障：要求提案在策略声明的全部链上出现后才开始复制签名，
	// 并且所有链都集齐签名之前不触发任何一条链的执行。
	if hasPolicy && policy.HoldToReplicate {
		if !coversAllChains(current, policy.ChainIDSet()) {
			log.Info("提案尚未复制到全部链，暂缓签名")
			toConfirm = nil
			toExecute = nil
		} else if len(toConfirm) > 0 {
			log.Info("仍有链等待本方签名，暂缓执行")
			toExecute = nil
		}
	}

	if err := e.confirmEntries(ctx, bundle.Operation, bundle.Key(), toConfirm); err != nil {
		log.Error("复制签名失败", slog.String("error", err.Error()))
		e.store.SetState(StateIdle)
		return
	}
	if err := e.executeEntries(ctx, bundle.Operation, bundle.Key(), toExecute); err != nil {
		log.Error("触发执行失败", slog.String("error", err.Error()))
		e.store.SetState(StateIdle)
		return
	}
	// 仍有条目未收敛，保持执行状态，下一轮继续推进。
}

// refreshEntries 并发拉取策略覆盖的每条链上的最新待处理提案，判定条目去留。
// 槽位建立后才在新链上出现的同操作提案会在这里加入，
// 使复制屏障可以随着提案扩散逐步解除。
func (e *Engine) refreshEntries(ctx context.Context, bundle Bundle) []refreshedEntry {
	existing := make(map[string]ProposalEntry, len(bundle.Entries))
	for _, entry := range bundle.Entries {
		existing[entry.Wallet.ChainID] = entry
	}

	wallets := e.policyWallets(bundle.Operation)
	if len(wallets) == 0 {
		for _, entry := range bundle.Entries {
			wallets = append(wallets, entry.Wallet)
		}
	}

	results := make([]refreshedEntry, len(wallets))
	var wg sync.WaitGroup
	for i, wallet := range wallets {
		wg.Add(1)
		go func(i int, wallet config.Wallet) {
			defer wg.Done()
			entry, known := existing[wallet.ChainID]
			latest, err := e.client.LatestPendingProposal(ctx, wallet)
			if err != nil {
				metrics.CountProposalFetchFailure()
				e.log.Warn("刷新提案状态失败",
					slog.String("chain_id", wallet.ChainID),
					slog.String("error", err.Error()))
				if known {
					results[i] = refreshedEntry{entry: entry, stale: true}
				} else {
					results[i] = refreshedEntry{done: true}
				}
				return
			}
			if known {
				if latest == nil || latest.SafeTxHash != entry.Tx.SafeTxHash {
					results[i] = refreshedEntry{entry: entry, done: true}
					return
				}
				results[i] = refreshedEntry{entry: ProposalEntry{Wallet: wallet, Tx: latest}}
				return
			}
			if latest == nil || operationOf(latest) != bundle.Operation {
				results[i] = refreshedEntry{done: true}
				return
			}
			results[i] = refreshedEntry{entry: ProposalEntry{Wallet: wallet, Tx: latest}}
		}(i, wallet)
	}
	wg.Wait()
	return results
}

// policyWallets 返回策略链集合覆盖的钱包。
func (e *Engine) policyWallets(operation string) []config.Wallet {
	policy, ok := e.cfg.Policy(operation)
	if !ok {
		return nil
	}
	chains := policy.ChainIDSet()
	var wallets []config.Wallet
	for _, wallet := range e.cfg.Wallets {
		if _, ok := chains[wallet.ChainID]; ok {
			wallets = append(wallets, wallet)
		}
	}
	return wallets
}

// confirmEntries 并发把智能体签名复制到各链的提案上。
func (e *Engine) confirmEntries(ctx context.Context, operation, key string, entries []ProposalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	errs := make([]error, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry ProposalEntry) {
			defer wg.Done()
			if err := e.client.Confirm(ctx, entry.Wallet, entry.Tx, e.signer.SigningKey()); err != nil {
				errs[i] = xerrors.Wrap(xerrors.CodeExecutionFailure, err, "复制签名失败",
					xerrors.WithMetadata("chain_id", entry.Wallet.ChainID))
				return
			}
			metrics.CountConfirmation()
			e.record(ctx, operation, key, "confirmed", entry.Wallet.ChainID)
			e.log.Info("已复制签名",
				slog.String("operation", operation),
				slog.String("chain_id", entry.Wallet.ChainID),
				slog.String("safe_tx_hash", entry.Tx.SafeTxHash.Hex()))
		}(i, entry)
	}
	wg.Wait()
	return joinErrors(errs)
}

// executeEntries 并发触发达到签名阈值的提案上链执行。
func (e *Engine) executeEntries(ctx context.Context, operation, key string, entries []ProposalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	errs := make([]error, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry ProposalEntry) {
			defer wg.Done()
			txHash, err := e.client.Execute(ctx, entry.Wallet, entry.Tx, e.signer.SigningKey())
			if err != nil {
				errs[i] = xerrors.Wrap(xerrors.CodeExecutionFailure, err, "触发执行失败",
					xerrors.WithMetadata("chain_id", entry.Wallet.ChainID))
				return
			}
			metrics.CountExecution()
			e.record(ctx, operation, key, "executed", txHash.Hex())
			e.log.Info("已触发上链执行",
				slog.String("operation", operation),
				slog.String("chain_id", entry.Wallet.ChainID),
				slog.String("tx_hash", txHash.Hex()))
		}(i, entry)
	}
	wg.Wait()
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	var joined []error
	for _, err := range errs {
		if err != nil {
			joined = append(joined, err)
		}
	}
	return errors.Join(joined...)
}
