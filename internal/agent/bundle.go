package agent

import (
	"sort"
	"strings"

	"github.com/SpaceUY/safe-agentathon/internal/config"
	"github.com/SpaceUY/safe-agentathon/internal/multisig"
)

// NativeTransferOperation 是原生转账提案的保留操作名。
// 没有可解码调用、但携带正数转账金额的提案归入该操作。
const NativeTransferOperation = "[NATIVE_TRANSFER]"

// ProposalEntry 是一个钱包当前的待执行提案。
type ProposalEntry struct {
	Wallet config.Wallet
	Tx     *multisig.Transaction
}

// Bundle 是单个操作在本轮 tick 的跨链视图。每轮重建，从不跨 tick 持久化。
type Bundle struct {
	Operation string
	Entries   []ProposalEntry
}

// Key 返回由交易哈希集合确定性推导出的提案标识。
// 哈希集合相同的两个 Bundle 无论在哪一轮被观测到，Key 都一致。
func (b Bundle) Key() string {
	hashes := make([]string, 0, len(b.Entries))
	for _, entry := range b.Entries {
		hashes = append(hashes, entry.Tx.SafeTxHash.Hex())
	}
	sort.Strings(hashes)
	return strings.Join(hashes, ",")
}

// ChainIDSet 返回 Bundle 覆盖的链 ID 集合。
func (b Bundle) ChainIDSet() map[string]struct{} {
	set := make(map[string]struct{}, len(b.Entries))
	for _, entry := range b.Entries {
		set[entry.Wallet.ChainID] = struct{}{}
	}
	return set
}

// ChainIDs 返回排好序的链 ID 列表，用于日志输出。
func (b Bundle) ChainIDs() []string {
	ids := make([]string, 0, len(b.Entries))
	for id := range b.ChainIDSet() {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
