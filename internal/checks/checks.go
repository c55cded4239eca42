// Package checks 收录可在策略里按名称引用的提案检查。
package checks

import (
	"context"
	"fmt"

	"github.com/SpaceUY/safe-agentathon/internal/agent"
)

// 内置检查的名称。
const (
	NameUpgradeVerification = "upgrade-verification"
	NameSameVersionAcross   = "upgrade-to-same-version-across-chains"
)

// CheckFunc 将普通函数适配为 agent.Checker。
type CheckFunc func(ctx context.Context, bundle agent.Bundle) (bool, error)

// Check 实现 agent.Checker。
func (f CheckFunc) Check(ctx context.Context, bundle agent.Bundle) (bool, error) {
	return f(ctx, bundle)
}

// Registry 返回全部内置检查。策略里引用未注册的名称会在评估时按未通过处理。
func Registry() map[string]agent.Checker {
	return map[string]agent.Checker{
		NameUpgradeVerification: CheckFunc(upgradeVerification),
		NameSameVersionAcross:   CheckFunc(sameVersionAcrossChains),
	}
}

// upgradeVerification 确认每条提案都携带可解码的调用数据。
// 纯转账类操作不需要该检查，策略里不要为它们配置。
func upgradeVerification(_ context.Context, bundle agent.Bundle) (bool, error) {
	for _, entry := range bundle.Entries {
		if entry.Tx.DataDecoded == nil || entry.Tx.DataDecoded.Method == "" {
			return false, nil
		}
	}
	return true, nil
}

// sameVersionAcrossChains 确认各链提案的调用方法与参数完全一致，
// 防止不同链被升级到不同版本。
func sameVersionAcrossChains(_ context.Context, bundle agent.Bundle) (bool, error) {
	if len(bundle.Entries) < 2 {
		return true, nil
	}
	want := callFingerprint(bundle.Entries[0])
	for _, entry := range bundle.Entries[1:] {
		if callFingerprint(entry) != want {
			return false, nil
		}
	}
	return true, nil
}

// callFingerprint 把一条提案的调用内容压成可比较的字符串。
func callFingerprint(entry agent.ProposalEntry) string {
	tx := entry.Tx
	if tx.DataDecoded == nil {
		return fmt.Sprintf("raw|%s|%s", tx.Data, tx.Value)
	}
	fp := "call|" + tx.DataDecoded.Method
	for _, param := range tx.DataDecoded.Parameters {
		fp += fmt.Sprintf("|%s=%v", param.Type, param.Value)
	}
	return fp
}
