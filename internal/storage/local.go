// Package storage はジョブ作業領域のストレージレイヤーを提供します。
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Local はローカルファイルシステム上のジョブ作業領域を管理します。
// ジョブごとに <base>/<jobID>/{in,out} を割り当てます。
type Local struct {
	baseDir string
}

// NewLocal はベースディレクトリを作成して Local を返します。
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "snappdf")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

// BaseDir はベースディレクトリを返します。
func (l *Local) BaseDir() string {
	return l.baseDir
}

// JobDir はジョブの作業ディレクトリパスを返します。
func (l *Local) JobDir(jobID string) string {
	return filepath.Join(l.baseDir, jobID)
}

// CreateJob はジョブの in/out ディレクトリを作成します。
func (l *Local) CreateJob(jobID string) (jobDir, inDir, outDir string, err error) {
	jobDir = l.JobDir(jobID)
	inDir = filepath.Join(jobDir, "in")
	outDir = filepath.Join(jobDir, "out")
	for _, dir := range []string{inDir, outDir} {
		if err = os.MkdirAll(dir, 0o750); err != nil {
			return "", "", "", fmt.Errorf("failed to create job dir: %w", err)
		}
	}
	return jobDir, inDir, outDir, nil
}

// RemoveJob はジョブの作業領域を削除します。
func (l *Local) RemoveJob(jobID string) error {
	return os.RemoveAll(l.JobDir(jobID))
}

// SweepOlderThan は maxAge より古いジョブディレクトリを削除し、件数を返します。
func (l *Local) SweepOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(l.baseDir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(l.baseDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
