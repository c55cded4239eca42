package agent

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryEvaluationStoreRoundTrip(t *testing.T) {
	store := NewMemoryEvaluationStore(8, time.Hour)
	ctx := context.Background()

	record, err := store.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.ChecksPassed || record.TwoFAApproved {
		t.Fatalf("missing key must yield a zero record")
	}

	if err := store.MarkChecksPassed(ctx, "k1"); err != nil {
		t.Fatalf("mark checks: %v", err)
	}
	if err := store.MarkTwoFAApproved(ctx, "k1"); err != nil {
		t.Fatalf("mark two-fa: %v", err)
	}
	record, _ = store.Get(ctx, "k1")
	if !record.ChecksPassed || !record.TwoFAApproved {
		t.Fatalf("both stages should be recorded, got %+v", record)
	}
}

func TestMemoryEvaluationStoreTTL(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryEvaluationStore(8, 10*time.Minute)
	store.now = clock.Now
	ctx := context.Background()

	_ = store.MarkChecksPassed(ctx, "k1")
	clock.Advance(11 * time.Minute)
	record, _ := store.Get(ctx, "k1")
	if record.ChecksPassed {
		t.Fatalf("record should expire after ttl")
	}
}

func TestMemoryEvaluationStoreEviction(t *testing.T) {
	store := NewMemoryEvaluationStore(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = store.MarkChecksPassed(ctx, fmt.Sprintf("k%d", i))
	}
	// 最旧的两条被淘汰。
	for i := 0; i < 2; i++ {
		record, _ := store.Get(ctx, fmt.Sprintf("k%d", i))
		if record.ChecksPassed {
			t.Fatalf("k%d should have been evicted", i)
		}
	}
	for i := 2; i < 5; i++ {
		record, _ := store.Get(ctx, fmt.Sprintf("k%d", i))
		if !record.ChecksPassed {
			t.Fatalf("k%d should survive eviction", i)
		}
	}
}
