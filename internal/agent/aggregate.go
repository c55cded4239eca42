package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/SpaceUY/safe-agentathon/internal/config"
	"github.com/SpaceUY/safe-agentathon/internal/multisig"
	"github.com/SpaceUY/safe-agentathon/internal/observability/metrics"
)

// walletProposal 是单个钱包的抓取结果。
type walletProposal struct {
	wallet config.Wallet
	tx     *multisig.Transaction
	err    error
}

// aggregate 并发抓取每个钱包的最新待处理提案，并按操作名归组。
// 单个钱包抓取失败只记日志与指标，不影响其它钱包。
// 返回的 map 只包含配置过策略的操作。
func (e *Engine) aggregate(ctx context.Context) map[string]Bundle {
	results := make([]walletProposal, len(e.cfg.Wallets))
	var wg sync.WaitGroup
	for i, wallet := range e.cfg.Wallets {
		wg.Add(1)
		go func(i int, wallet config.Wallet) {
			defer wg.Done()
			tx, err := e.client.LatestPendingProposal(ctx, wallet)
			results[i] = walletProposal{wallet: wallet, tx: tx, err: err}
		}(i, wallet)
	}
	wg.Wait()

	bundles := make(map[string]Bundle, len(e.cfg.Operations))
	for _, policy := range e.cfg.Operations {
		bundles[policy.Name] = Bundle{Operation: policy.Name}
	}
	for _, res := range results {
		if res.err != nil {
			metrics.CountProposalFetchFailure()
			e.log.Warn("抓取待处理提案失败",
				slog.String("chain_id", res.wallet.ChainID),
				slog.String("address", res.wallet.Address),
				slog.String("error", res.err.Error()))
			continue
		}
		if res.tx == nil {
			continue
		}
		op := operationOf(res.tx)
		if op == "" {
			e.log.Debug("提案既无可解码调用也无转账金额，忽略",
				slog.String("chain_id", res.wallet.ChainID),
				slog.String("safe_tx_hash", res.tx.SafeTxHash.Hex()))
			continue
		}
		if _, ok := e.cfg.Policy(op); !ok {
			e.log.Debug("提案操作未配置策略，忽略",
				slog.String("operation", op),
				slog.String("chain_id", res.wallet.ChainID))
			continue
		}
		// 链范围不在这里过滤：意外链上的同名提案必须进入组内，
		// 由评估阶段的链覆盖屏障将其拦下。
		bundle := bundles[op]
		bundle.Entries = append(bundle.Entries, ProposalEntry{Wallet: res.wallet, Tx: res.tx})
		bundles[op] = bundle
	}
	return bundles
}

// operationOf 从交易解码信息推导操作名。
// 无法解码但带正转账金额的交易归入原生转账操作；
// 既无调用也无金额的交易（例如 Safe 的拒绝交易）返回空串，调用方应跳过。
func operationOf(tx *multisig.Transaction) string {
	if method := tx.DecodedMethod(); method != "" {
		return method
	}
	if tx.ValueBig().Sign() > 0 {
		return NativeTransferOperation
	}
	return ""
}
