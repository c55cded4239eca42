package checks

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/SpaceUY/safe-agentathon/internal/agent"
	"github.com/SpaceUY/safe-agentathon/internal/config"
	"github.com/SpaceUY/safe-agentathon/internal/multisig"
)

func entryWith(chainID string, decoded *multisig.DecodedCall) agent.ProposalEntry {
	return agent.ProposalEntry{
		Wallet: config.Wallet{ChainID: chainID},
		Tx: &multisig.Transaction{
			SafeTxHash:  common.HexToHash("0x" + chainID),
			DataDecoded: decoded,
		},
	}
}

func upgradeCall(implementation string) *multisig.DecodedCall {
	return &multisig.DecodedCall{
		Method: "upgradeTo",
		Parameters: []multisig.DecodedParameter{
			{Name: "newImplementation", Type: "address", Value: implementation},
		},
	}
}

func TestRegistryNames(t *testing.T) {
	registry := Registry()
	for _, name := range []string{NameUpgradeVerification, NameSameVersionAcross} {
		if _, ok := registry[name]; !ok {
			t.Fatalf("builtin check %q missing", name)
		}
	}
}

func TestUpgradeVerification(t *testing.T) {
	ctx := context.Background()
	check := Registry()[NameUpgradeVerification]

	bundle := agent.Bundle{Operation: "upgradeTo", Entries: []agent.ProposalEntry{
		entryWith("1", upgradeCall("0xaaaa")),
		entryWith("10", upgradeCall("0xaaaa")),
	}}
	if ok, err := check.Check(ctx, bundle); err != nil || !ok {
		t.Fatalf("decodable proposals must pass, ok=%v err=%v", ok, err)
	}

	// 任意一条缺少解码数据，整组不通过。
	bundle.Entries = append(bundle.Entries, entryWith("137", nil))
	if ok, err := check.Check(ctx, bundle); err != nil || ok {
		t.Fatalf("undecodable proposal must fail, ok=%v err=%v", ok, err)
	}
}

func TestSameVersionAcrossChains(t *testing.T) {
	ctx := context.Background()
	check := Registry()[NameSameVersionAcross]

	matching := agent.Bundle{Operation: "upgradeTo", Entries: []agent.ProposalEntry{
		entryWith("1", upgradeCall("0xaaaa")),
		entryWith("10", upgradeCall("0xaaaa")),
	}}
	if ok, err := check.Check(ctx, matching); err != nil || !ok {
		t.Fatalf("identical calls must pass, ok=%v err=%v", ok, err)
	}

	diverging := agent.Bundle{Operation: "upgradeTo", Entries: []agent.ProposalEntry{
		entryWith("1", upgradeCall("0xaaaa")),
		entryWith("10", upgradeCall("0xbbbb")),
	}}
	if ok, err := check.Check(ctx, diverging); err != nil || ok {
		t.Fatalf("diverging implementations must fail, ok=%v err=%v", ok, err)
	}

	single := agent.Bundle{Operation: "upgradeTo", Entries: []agent.ProposalEntry{
		entryWith("1", upgradeCall("0xaaaa")),
	}}
	if ok, err := check.Check(ctx, single); err != nil || !ok {
		t.Fatalf("a single entry is trivially consistent, ok=%v err=%v", ok, err)
	}
}

func TestSameVersionRawCalldataFallback(t *testing.T) {
	ctx := context.Background()
	check := Registry()[NameSameVersionAcross]

	left := entryWith("1", nil)
	left.Tx.Data = "0xdeadbeef"
	right := entryWith("10", nil)
	right.Tx.Data = "0xdeadbeef"

	bundle := agent.Bundle{Operation: "[NATIVE_TRANSFER]", Entries: []agent.ProposalEntry{left, right}}
	if ok, err := check.Check(ctx, bundle); err != nil || !ok {
		t.Fatalf("identical raw calldata must pass, ok=%v err=%v", ok, err)
	}

	right.Tx.Data = "0xfeedface"
	bundle.Entries[1] = right
	if ok, err := check.Check(ctx, bundle); err != nil || ok {
		t.Fatalf("diverging raw calldata must fail, ok=%v err=%v", ok, err)
	}
}
