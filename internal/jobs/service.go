// Package jobs は非同期ジョブのキュー・ワーカー・状態管理を提供します。
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/yourusername/snappdf/internal/pdf"
)

const (
	defaultQueueCapacity = 32
	defaultWorkerCount   = 2
)

// Runner はジョブ種別ごとの処理ルーチンを実行する外部コラボレーターです。
// internal/pdf の Service が実装します。
type Runner interface {
	RunJob(ctx context.Context, jobID string, reporter pdf.ProgressReporter) (*pdf.Result, error)
	DiscardJob(jobID string) error
}

// Options は Service の構成項目です。
type Options struct {
	// QueueCapacity は待機キューの上限です。超過した投入は ErrQueueFull で拒否されます。
	QueueCapacity int
	// WorkerCount は常駐ワーカー数です。
	WorkerCount int
	// ResultBaseURL は成果物ダウンロードURLのベースです。空なら相対パスを返します。
	ResultBaseURL string
	Logger        *log.Logger
}

// SubmitRequest はジョブ投入時の入力です。階層制限の検証に必要な
// 集計値（ファイル数・サイズ・ページ数）を HTTP 層が添えて渡します。
type SubmitRequest struct {
	JobID        string
	Operation    string
	Owner        string
	Files        int
	TotalBytes   int64
	LargestBytes int64
	TotalPages   int
	Limits       TierLimits
}

// Service はジョブの投入・取り消し・状態参照とワーカープールの
// ライフサイクルを担います。プロセス全体のシングルトンではなく、
// 呼び出し側が構築して Start/Shutdown を管理します。
type Service struct {
	store  Store
	runner Runner
	logger *log.Logger

	resultBaseURL string
	workerCount   int

	queue  chan string
	stopCh chan struct{}

	// submitMu は容量確認→レコード作成→enqueue を不可分にします。
	// 消費側はキューを縮めるだけなので、確認後の送信は決してブロックしません。
	submitMu sync.Mutex
	stopped  bool

	mu      sync.Mutex
	running map[string]context.CancelFunc
	// owners は未終端（待機中または実行中）のジョブと所有者の対応です。
	owners map[string]string

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewService は Service を作成します。
func NewService(store Store, runner Runner, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	capacity := opts.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	workers := opts.WorkerCount
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:         store,
		runner:        runner,
		logger:        logger,
		resultBaseURL: opts.ResultBaseURL,
		workerCount:   workers,
		queue:         make(chan string, capacity),
		stopCh:        make(chan struct{}),
		running:       make(map[string]context.CancelFunc),
		owners:        make(map[string]string),
	}, nil
}

// Start はワーカーをバックグラウンドで起動します。
func (s *Service) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.workerCount; i++ {
			s.wg.Add(1)
			go s.worker(i)
		}
		s.logger.Printf("queue service started with %d workers (capacity=%d)", s.workerCount, cap(s.queue))
	})
}

// Shutdown は投入受付を止め、実行中ジョブの完了を ctx の期限まで待ちます。
// 期限を過ぎた場合は実行中ジョブへ協調的キャンセルを送って終了を待ちます。
// キューに残った pending ジョブはレコードごと保持されます。
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.submitMu.Lock()
		s.stopped = true
		s.submitMu.Unlock()
		close(s.stopCh)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancelRunning()
		<-done
		return ctx.Err()
	}
}

// Submit はジョブレコードを作成してキューへ投入します。
// 階層制限・容量超過・ストア障害はレコードを作らずに同期的に拒否します。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Record, error) {
	if req.JobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	if req.Operation == "" {
		return nil, fmt.Errorf("operation is required")
	}
	if err := checkLimits(req); err != nil {
		return nil, err
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.stopped {
		return nil, ErrServiceStopped
	}
	if len(s.queue) >= cap(s.queue) {
		return nil, ErrQueueFull
	}

	record := &Record{
		JobID:      req.JobID,
		Operation:  req.Operation,
		Owner:      req.Owner,
		Status:     StatusPending,
		Progress:   ProgressInfo{Percent: 0, Stage: "queued"},
		InputFiles: req.Files,
		InputBytes: req.TotalBytes,
	}
	if err := s.store.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist job record: %w", err)
	}

	s.queue <- record.JobID

	s.mu.Lock()
	s.owners[record.JobID] = record.Owner
	s.mu.Unlock()

	return record, nil
}

// Cancel はジョブを協調的に取り消します。
// pending はレコード上で直接終端へ、processing は実行コンテキストの
// 打ち切りで中断を促します。終端済みは ErrJobTerminal。
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	record, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if record.Status.IsTerminal() {
		return ErrJobTerminal
	}

	s.mu.Lock()
	cancel, isRunning := s.running[jobID]
	s.mu.Unlock()
	if isRunning {
		cancel()
		// 終端化（cancelled または completed）はワーカーが担う
		return nil
	}

	if err := s.store.MarkCancelled(ctx, jobID); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			// Get との間にワーカーが終端化した場合はそのまま受け入れる
			return ErrJobTerminal
		}
		return err
	}

	s.mu.Lock()
	delete(s.owners, jobID)
	s.mu.Unlock()
	return nil
}

// ActiveJobs は指定した所有者の未終端（待機中または実行中）ジョブIDを返します。
func (s *Service) ActiveJobs(owner string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for jobID, o := range s.owners {
		if o == owner {
			ids = append(ids, jobID)
		}
	}
	return ids
}

// GetStatus はジョブの現在状態を返します。ブロックしません。
func (s *Service) GetStatus(ctx context.Context, jobID string) (*Record, error) {
	return s.store.Get(ctx, jobID)
}

// Stats はキューの統計情報を返します。
type Stats struct {
	QueueLength   int  `json:"queueLength"`
	QueueCapacity int  `json:"queueCapacity"`
	WorkerCount   int  `json:"workerCount"`
	Running       int  `json:"running"`
	Accepting     bool `json:"accepting"`
}

// Stats は現在のキュー状態のスナップショットを返します。
func (s *Service) Stats() Stats {
	s.mu.Lock()
	running := len(s.running)
	s.mu.Unlock()

	s.submitMu.Lock()
	accepting := !s.stopped
	s.submitMu.Unlock()

	return Stats{
		QueueLength:   len(s.queue),
		QueueCapacity: cap(s.queue),
		WorkerCount:   s.workerCount,
		Running:       running,
		Accepting:     accepting,
	}
}

func (s *Service) cancelRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.running {
		cancel()
	}
}

func (s *Service) buildDownloadURL(jobID string) string {
	if s.resultBaseURL == "" {
		return fmt.Sprintf("/api/jobs/%s/download", jobID)
	}
	return fmt.Sprintf("%s/%s/download", strings.TrimRight(s.resultBaseURL, "/"), jobID)
}

func checkLimits(req SubmitRequest) error {
	limits := req.Limits
	if limits.MaxBatchFiles > 0 && req.Files > limits.MaxBatchFiles {
		return &LimitError{Limit: "batch files", Actual: int64(req.Files), Max: int64(limits.MaxBatchFiles)}
	}
	if limits.MaxFileBytes > 0 && req.LargestBytes > limits.MaxFileBytes {
		return &LimitError{Limit: "file size", Actual: req.LargestBytes, Max: limits.MaxFileBytes}
	}
	if limits.MaxTotalPages > 0 && req.TotalPages > limits.MaxTotalPages {
		return &LimitError{Limit: "total pages", Actual: int64(req.TotalPages), Max: int64(limits.MaxTotalPages)}
	}
	return nil
}
