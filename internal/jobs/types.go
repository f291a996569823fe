package jobs

import "time"

// Status はジョブの実行状態を表します。
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal は終端状態かどうかを返します。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// canTransition はジョブ状態遷移の可否を判定します。
// pending → processing|cancelled、processing → completed|failed|cancelled のみ許可。
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// ProgressInfo は進捗の補足情報を表します。
type ProgressInfo struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// ErrorInfo はジョブ失敗時のエラー情報を保持します。
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Record はジョブの現在状態を表します。
type Record struct {
	JobID      string       `json:"jobId"`
	Operation  string       `json:"operation"`
	Owner      string       `json:"owner,omitempty"`
	Status     Status       `json:"status"`
	Progress   ProgressInfo `json:"progress"`
	InputFiles int          `json:"inputFiles"`
	InputBytes int64        `json:"inputBytes"`
	OutputRef  string       `json:"outputRef,omitempty"`
	Meta       any          `json:"meta,omitempty"`
	Error      *ErrorInfo   `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	UpdatedAt  time.Time    `json:"updatedAt"`
	ExpiresAt  time.Time    `json:"expiresAt"`
}

// TierLimits はユーザー階層ごとの投入制限です。キュー側は読み取り専用で参照します。
type TierLimits struct {
	MaxBatchFiles int
	MaxFileBytes  int64
	MaxTotalPages int
}
