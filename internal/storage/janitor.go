package storage

import (
	"context"
	"log"
	"time"
)

// SweepFunc は1回分のクリーンアップを実行し、削除件数を返します。
type SweepFunc func(now time.Time) int

// Janitor は期限切れのジョブ作業領域とジョブレコードを定期削除します。
type Janitor struct {
	local    *Local
	maxAge   time.Duration
	interval time.Duration
	sweeps   []SweepFunc
	logger   *log.Logger
}

// NewJanitor は Janitor を作成します。extra には作業領域以外の
// クリーンアップ（例: メモリストアのレコード削除）を渡せます。
func NewJanitor(local *Local, maxAge, interval time.Duration, logger *log.Logger, extra ...SweepFunc) *Janitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Janitor{
		local:    local,
		maxAge:   maxAge,
		interval: interval,
		sweeps:   extra,
		logger:   logger,
	}
}

// Run は ctx が打ち切られるまで定期的にクリーンアップを実行します。
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweepOnce()
		}
	}
}

func (j *Janitor) sweepOnce() {
	now := time.Now()
	total := 0

	if j.local != nil && j.maxAge > 0 {
		removed, err := j.local.SweepOlderThan(j.maxAge)
		if err != nil {
			j.logger.Printf("janitor: workspace sweep failed: %v", err)
		}
		total += removed
	}
	for _, sweep := range j.sweeps {
		total += sweep(now)
	}

	if total > 0 {
		j.logger.Printf("janitor: cleaned up %d expired items", total)
	}
}
