package agent

import (
	"testing"

	"github.com/SpaceUY/safe-agentathon/internal/config"
)

func TestSelectBundlePicksLargest(t *testing.T) {
	cfg := testConfig()
	cfg.Operations = []config.OperationPolicy{
		{Name: "transfer", ChainIDs: []string{"11155111"}},
		{Name: "upgradeTo", ChainIDs: []string{"11155111", "84532"}},
	}
	f := newFixture(t, cfg, nil)

	bundles := map[string]Bundle{
		"transfer":  testBundle("transfer", "0xaa"),
		"upgradeTo": testBundle("upgradeTo", "0xbb", "0xcc"),
	}
	best, ok := f.engine.selectBundle(bundles)
	if !ok {
		t.Fatalf("expected a selection")
	}
	if best.Operation != "upgradeTo" {
		t.Fatalf("expected the larger bundle, got %s", best.Operation)
	}
}

func TestSelectBundleTieBreaksByConfigOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Operations = []config.OperationPolicy{
		{Name: "transfer", ChainIDs: []string{"11155111"}},
		{Name: "upgradeTo", ChainIDs: []string{"11155111"}},
	}
	f := newFixture(t, cfg, nil)

	bundles := map[string]Bundle{
		"transfer":  testBundle("transfer", "0xaa"),
		"upgradeTo": testBundle("upgradeTo", "0xbb"),
	}
	for i := 0; i < 10; i++ {
		best, ok := f.engine.selectBundle(bundles)
		if !ok || best.Operation != "transfer" {
			t.Fatalf("tie must resolve to the first configured operation, got %s", best.Operation)
		}
	}
}

func TestSelectBundleAllEmpty(t *testing.T) {
	f := newFixture(t, testConfig(), nil)
	bundles := map[string]Bundle{
		"upgradeTo": {Operation: "upgradeTo"},
	}
	if _, ok := f.engine.selectBundle(bundles); ok {
		t.Fatalf("empty bundles must not be selected")
	}
}
