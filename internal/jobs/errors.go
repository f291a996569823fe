package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound は指定されたジョブIDが存在しない場合に返ります。
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal は終端状態のジョブへの遷移要求で返ります。
	ErrJobTerminal = errors.New("job already in terminal state")
	// ErrQueueFull はキュー容量超過による投入拒否を表します。
	ErrQueueFull = errors.New("job queue is full")
	// ErrServiceStopped は停止済みサービスへの投入で返ります。
	ErrServiceStopped = errors.New("queue service is stopped")
)

// LimitError は階層制限超過による投入拒否を表します。
type LimitError struct {
	Limit  string
	Actual int64
	Max    int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("tier limit exceeded: %s (%d > %d)", e.Limit, e.Actual, e.Max)
}
