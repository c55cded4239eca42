package agent

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestExecuteNonExecutorOnlyConfirms(t *testing.T) {
	cfg := testConfig()
	cfg.IsExecutor = false
	cfg.Operations[0].TwoFARequired = false
	f := newFixture(t, cfg, nil)
	ctx := context.Background()
	other := common.HexToAddress("0x2222")

	f.client.setProposal("11155111", upgradeTx("0xaa", 2, other))
	f.client.setProposal("84532", upgradeTx("0xbb", 2, other))

	f.engine.Tick(ctx)
	if f.client.confirms != 2 {
		t.Fatalf("expected 2 confirmations, got %d", f.client.confirms)
	}

	// 即便阈值已满足，非执行方也不触发上链执行。
	f.engine.Tick(ctx)
	f.engine.Tick(ctx)
	if f.client.executes != 0 {
		t.Fatalf("non-executor must never execute, got %d", f.client.executes)
	}
	if got := f.engine.State(); got != StateExecuting {
		t.Fatalf("expected to keep holding the slot, got %s", got)
	}
}

func TestExecuteHoldToReplicate(t *testing.T) {
	cfg := testConfig()
	cfg.Operations[0].TwoFARequired = false
	cfg.Operations[0].HoldToCheck = false
	f := newFixture(t, cfg, nil)
	ctx := context.Background()
	other := common.HexToAddress("0x2222")

	// 提案只出现在一条链上，复制屏障应阻止签名。
	f.client.setProposal("11155111", upgradeTx("0xaa", 2, other))

	f.engine.Tick(ctx)
	if got := f.engine.State(); got != StateExecuting {
		t.Fatalf("expected executing, got %s", got)
	}
	if f.client.confirms != 0 {
		t.Fatalf("hold-to-replicate must block confirmation, got %d", f.client.confirms)
	}

	// 第二条链补上提案后放行。
	f.client.setProposal("84532", upgradeTx("0xbb", 2, other))
	f.engine.Tick(ctx)
	if f.client.confirms == 0 {
		t.Fatalf("confirmation should proceed once all chains are covered")
	}
}

func TestExecuteHeldUntilEveryChainSigned(t *testing.T) {
	cfg := testConfig()
	cfg.Operations[0].TwoFARequired = false
	cfg.Operations[0].HoldToCheck = false
	f := newFixture(t, cfg, nil)
	ctx := context.Background()
	other := common.HexToAddress("0x2222")
	agent := f.signer.Address()

	// 第一条链已集齐签名，第二条链还缺本方签名。
	f.client.setProposal("11155111", upgradeTx("0xaa", 2, other, agent))
	f.client.setProposal("84532", upgradeTx("0xbb", 2, other))

	f.engine.Tick(ctx)
	if f.client.executes != 0 {
		t.Fatalf("execution must wait until every chain carries our signature, got %d", f.client.executes)
	}
	if f.client.confirms != 1 {
		t.Fatalf("the lagging chain should receive our signature, got %d", f.client.confirms)
	}

	// 签名补齐后，两条链一起执行。
	f.engine.Tick(ctx)
	if f.client.executes != 2 {
		t.Fatalf("expected both chains executed, got %d", f.client.executes)
	}

	// 链上已无待处理提案，槽位清空。
	f.engine.Tick(ctx)
	if got := f.engine.State(); got != StateIdle {
		t.Fatalf("expected idle after completion, got %s", got)
	}
}

func TestExecuteAttemptsExhaustedDiscards(t *testing.T) {
	cfg := testConfig()
	cfg.Operations[0].TwoFARequired = false
	cfg.Operations[0].HoldToCheck = false
	cfg.Operations[0].HoldToReplicate = false
	f := newFixture(t, cfg, nil)
	ctx := context.Background()
	other := common.HexToAddress("0x2222")

	// 阈值设得很高，提案永远无法收敛。
	f.client.setProposal("11155111", upgradeTx("0xaa", 5, other))

	// 首轮 tick 同时完成评估与第一次检视，其后每轮消耗一次检视，
	// 第 executionMaxAttempts+1 轮耗尽并丢弃。
	for i := 0; i < executionMaxAttempts+1; i++ {
		f.engine.Tick(ctx)
	}
	if got := f.engine.State(); got != StateIdle {
		t.Fatalf("expected idle after exhaustion, got %s", got)
	}
	if _, ok := f.engine.ExecutionOperation(); ok {
		t.Fatalf("slot should be discarded after exhaustion")
	}
}

func TestExecuteSupersededProposalDropped(t *testing.T) {
	cfg := testConfig()
	cfg.Operations[0].TwoFARequired = false
	cfg.Operations[0].HoldToCheck = false
	cfg.Operations[0].HoldToReplicate = false
	f := newFixture(t, cfg, nil)
	ctx := context.Background()
	other := common.HexToAddress("0x2222")

	f.client.setProposal("11155111", upgradeTx("0xaa", 2, other))
	f.engine.Tick(ctx)
	if got := f.engine.State(); got != StateExecuting {
		t.Fatalf("expected executing, got %s", got)
	}

	// 链上的最新待处理提案换成了别的交易，旧条目应被移除。
	f.client.setProposal("11155111", upgradeTx("0xdd", 2, other))
	f.engine.Tick(ctx)
	if got := f.engine.State(); got != StateIdle {
		t.Fatalf("expected idle after supersession, got %s", got)
	}
}
