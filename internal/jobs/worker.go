package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/snappdf/internal/pdf"
)

// worker はキューからジョブIDを取り出して順に実行するループです。
// 処理ルーチンの失敗やパニックはジョブ単位で捕捉し、ループは止めません。
func (s *Service) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case jobID := <-s.queue:
			s.runOne(id, jobID)
		}
	}
}

func (s *Service) runOne(workerID int, jobID string) {
	// 状態書き込みはジョブのキャンセル後も必要なため、
	// 実行コンテキストとは切り離して行う。
	ctx := context.Background()

	defer func() {
		s.mu.Lock()
		delete(s.owners, jobID)
		s.mu.Unlock()
	}()

	// pending → processing の遷移がジョブの占有宣言を兼ねる。
	// キュー滞留中に取り消されたジョブはここで弾かれ、処理ルーチンは呼ばれない。
	if err := s.store.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, ErrJobTerminal) {
			_ = s.runner.DiscardJob(jobID)
			return
		}
		s.logger.Printf("worker %d: failed to claim job %s: %v", workerID, jobID, err)
		return
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running[jobID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.running, jobID)
		s.mu.Unlock()
	}()

	result, runErr := s.safeRun(jobCtx, jobID)

	switch {
	case runErr == nil:
		var meta any
		if result != nil {
			meta = result.Meta
		}
		if err := s.store.MarkCompleted(ctx, jobID, s.buildDownloadURL(jobID), meta); err != nil {
			// 完了直前に取り消されたジョブ。成果物は破棄する。
			s.logger.Printf("worker %d: job %s finished after cancellation, discarding output: %v", workerID, jobID, err)
			_ = s.runner.DiscardJob(jobID)
		}
	case errors.Is(runErr, context.Canceled):
		if err := s.store.MarkCancelled(ctx, jobID); err != nil && !errors.Is(err, ErrJobTerminal) {
			s.logger.Printf("worker %d: failed to mark job %s cancelled: %v", workerID, jobID, err)
		}
		_ = s.runner.DiscardJob(jobID)
	default:
		if err := s.store.MarkFailed(ctx, jobID, toErrorInfo(runErr)); err != nil && !errors.Is(err, ErrJobTerminal) {
			s.logger.Printf("worker %d: failed to mark job %s failed: %v", workerID, jobID, err)
		}
		_ = s.runner.DiscardJob(jobID)
	}
}

// safeRun は処理ルーチンを実行し、パニックをエラーに変換します。
func (s *Service) safeRun(ctx context.Context, jobID string) (result *pdf.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing panicked: %v", r)
		}
	}()

	reporter := func(stage string, percent int) {
		// クランプと単調性はストア側で保証する
		if updateErr := s.store.UpdateProgress(context.Background(), jobID, ProgressInfo{
			Percent: percent,
			Stage:   stage,
		}); updateErr != nil {
			s.logger.Printf("failed to update progress job=%s: %v", jobID, updateErr)
		}
	}

	return s.runner.RunJob(ctx, jobID, reporter)
}

func toErrorInfo(err error) *ErrorInfo {
	var apiErr *pdf.Error
	if errors.As(err, &apiErr) {
		return &ErrorInfo{Code: apiErr.Code, Message: apiErr.Message}
	}
	return &ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()}
}
