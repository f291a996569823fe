package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func createTestRecord(t *testing.T, store *MemoryStore, jobID string) {
	t.Helper()
	err := store.Create(context.Background(), &Record{
		JobID:     jobID,
		Operation: "merge",
		Status:    StatusPending,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	createTestRecord(t, store, "job-1")

	err := store.Create(context.Background(), &Record{JobID: "job-1"})
	if err == nil {
		t.Fatal("expected error for duplicate create")
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryStoreTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	createTestRecord(t, store, "job-1")

	// pending のまま complete はできない
	if err := store.MarkCompleted(ctx, "job-1", "url", nil); err == nil {
		t.Fatal("expected error for pending to completed")
	}

	if err := store.MarkProcessing(ctx, "job-1"); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}

	// processing の占有は一度きり
	if err := store.MarkProcessing(ctx, "job-1"); err == nil {
		t.Fatal("expected error for double claim")
	}

	if err := store.MarkCompleted(ctx, "job-1", "/api/jobs/job-1/download", nil); err != nil {
		t.Fatalf("MarkCompleted returned error: %v", err)
	}

	// 終端後の遷移はすべて拒否される
	if err := store.MarkCancelled(ctx, "job-1"); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal after completion, got %v", err)
	}
	if err := store.MarkFailed(ctx, "job-1", &ErrorInfo{Code: "X"}); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal after completion, got %v", err)
	}

	record, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if record.Status != StatusCompleted || record.OutputRef != "/api/jobs/job-1/download" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestMemoryStoreCancelPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	createTestRecord(t, store, "job-1")

	if err := store.MarkCancelled(ctx, "job-1"); err != nil {
		t.Fatalf("MarkCancelled returned error: %v", err)
	}

	// 取り消し済みのジョブは占有できない
	if err := store.MarkProcessing(ctx, "job-1"); !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
}

func TestMemoryStoreProgressClampAndMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	createTestRecord(t, store, "job-1")
	if err := store.MarkProcessing(ctx, "job-1"); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}

	if err := store.UpdateProgress(ctx, "job-1", ProgressInfo{Percent: 60, Stage: "process"}); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}
	record, _ := store.Get(ctx, "job-1")
	if record.Progress.Percent != 60 {
		t.Fatalf("expected 60, got %d", record.Progress.Percent)
	}

	// 後退する値は無視される
	if err := store.UpdateProgress(ctx, "job-1", ProgressInfo{Percent: 30, Stage: "process"}); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}
	record, _ = store.Get(ctx, "job-1")
	if record.Progress.Percent != 60 {
		t.Fatalf("progress went backwards: %d", record.Progress.Percent)
	}

	// 範囲外はクランプされる
	if err := store.UpdateProgress(ctx, "job-1", ProgressInfo{Percent: 150, Stage: "write"}); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}
	record, _ = store.Get(ctx, "job-1")
	if record.Progress.Percent != 100 {
		t.Fatalf("expected clamp to 100, got %d", record.Progress.Percent)
	}
}

func TestMemoryStoreProgressIgnoredWhenNotProcessing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	createTestRecord(t, store, "job-1")

	if err := store.UpdateProgress(ctx, "job-1", ProgressInfo{Percent: 50}); err != nil {
		t.Fatalf("UpdateProgress returned error: %v", err)
	}
	record, _ := store.Get(ctx, "job-1")
	if record.Progress.Percent != 0 {
		t.Fatalf("pending job progress must stay 0, got %d", record.Progress.Percent)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Millisecond)
	createTestRecord(t, store, "done")
	createTestRecord(t, store, "still-pending")

	if err := store.MarkProcessing(ctx, "done"); err != nil {
		t.Fatalf("MarkProcessing returned error: %v", err)
	}
	if err := store.MarkCompleted(ctx, "done", "url", nil); err != nil {
		t.Fatalf("MarkCompleted returned error: %v", err)
	}

	// 期限切れでも未終端のレコードは残す
	removed := store.Sweep(time.Now().Add(time.Hour))
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 record remaining, got %d", store.Len())
	}
	if _, err := store.Get(ctx, "still-pending"); err != nil {
		t.Fatalf("pending record must survive sweep: %v", err)
	}
}
