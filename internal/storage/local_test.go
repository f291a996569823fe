package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalCreateAndRemoveJob(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}

	jobDir, inDir, outDir, err := local.CreateJob("job-1")
	if err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	for _, dir := range []string{jobDir, inDir, outDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
	if inDir != filepath.Join(jobDir, "in") || outDir != filepath.Join(jobDir, "out") {
		t.Fatalf("unexpected layout: in=%s out=%s", inDir, outDir)
	}

	if err := local.RemoveJob("job-1"); err != nil {
		t.Fatalf("RemoveJob returned error: %v", err)
	}
	if _, err := os.Stat(jobDir); !os.IsNotExist(err) {
		t.Fatalf("expected jobDir to be removed, stat err=%v", err)
	}

	// 存在しないジョブの削除はエラーにしない
	if err := local.RemoveJob("missing"); err != nil {
		t.Fatalf("RemoveJob for missing job returned error: %v", err)
	}
}

func TestLocalSweepOlderThan(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal returned error: %v", err)
	}

	if _, _, _, err := local.CreateJob("old-job"); err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}
	if _, _, _, err := local.CreateJob("fresh-job"); err != nil {
		t.Fatalf("CreateJob returned error: %v", err)
	}

	// old-job の mtime を過去に偽装する
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(local.JobDir("old-job"), past, past); err != nil {
		t.Fatalf("Chtimes returned error: %v", err)
	}

	removed, err := local.SweepOlderThan(time.Hour)
	if err != nil {
		t.Fatalf("SweepOlderThan returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(local.JobDir("old-job")); !os.IsNotExist(err) {
		t.Fatalf("expected old-job to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(local.JobDir("fresh-job")); err != nil {
		t.Fatalf("fresh-job must survive sweep: %v", err)
	}
}
