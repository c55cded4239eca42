package mysql

import (
	"context"
	"fmt"
	"testing"
)

func seedRecords(t *testing.T, repo *MemoryRepository, count int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < count; i++ {
		operation := "upgradeTo"
		if i%2 == 1 {
			operation = "transfer"
		}
		record := OperationRecord{
			ID:          fmt.Sprintf("id-%d", i),
			Operation:   operation,
			ProposalKey: fmt.Sprintf("0x%02x", i),
			Stage:       "executed",
			CreatedAt:   int64(1000 + i),
		}
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save record %d: %v", i, err)
		}
	}
}

func TestMemoryRepositoryListLatest(t *testing.T) {
	repo, err := NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("memory repository: %v", err)
	}
	seedRecords(t, repo, 5)

	records, err := repo.ListLatest(context.Background(), 3)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	// 最新写入的排在最前。
	if records[0].ID != "id-4" || records[2].ID != "id-2" {
		t.Fatalf("unexpected order: %+v", records)
	}
}

func TestMemoryRepositoryListByOperation(t *testing.T) {
	repo, err := NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("memory repository: %v", err)
	}
	seedRecords(t, repo, 6)

	records, err := repo.ListByOperation(context.Background(), "transfer", 2)
	if err != nil {
		t.Fatalf("list by operation: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	for _, record := range records {
		if record.Operation != "transfer" {
			t.Fatalf("unexpected operation %q", record.Operation)
		}
	}
	if records[0].ID != "id-5" {
		t.Fatalf("expected newest transfer first, got %q", records[0].ID)
	}
}

func TestMemoryRepositoryReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("memory repository: %v", err)
	}
	seedRecords(t, repo, 4)

	reopened, err := NewMemoryRepository(dir)
	if err != nil {
		t.Fatalf("reopen repository: %v", err)
	}
	records, err := reopened.ListLatest(context.Background(), 0)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("len = %d, want 4", len(records))
	}
	if records[0].ID != "id-3" {
		t.Fatalf("expected newest record first after reload, got %q", records[0].ID)
	}
}

func TestRecorderFillsIdentity(t *testing.T) {
	repo, err := NewMemoryRepository(t.TempDir())
	if err != nil {
		t.Fatalf("memory repository: %v", err)
	}
	recorder := &Recorder{Repo: repo}
	if err := recorder.Record(context.Background(), "upgradeTo", "0xaa", "two-fa-requested", ""); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := repo.ListLatest(context.Background(), 1)
	if err != nil {
		t.Fatalf("list latest: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len = %d, want 1", len(records))
	}
	record := records[0]
	if record.ID == "" || record.CreatedAt == 0 {
		t.Fatalf("recorder must fill id and timestamp: %+v", record)
	}
	if record.Stage != "two-fa-requested" {
		t.Fatalf("unexpected stage %q", record.Stage)
	}
}

func TestRecorderNilRepoIsNoop(t *testing.T) {
	var recorder *Recorder
	if err := recorder.Record(context.Background(), "upgradeTo", "0xaa", "executed", ""); err != nil {
		t.Fatalf("nil recorder must be a no-op, got %v", err)
	}
}
