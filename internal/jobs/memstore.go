package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore はジョブ状態をプロセス内メモリに保持する Store 実装です。
// Redis を用意しないローカル開発とテストで利用します。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	ttl     time.Duration
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		ttl:     ttl,
	}
}

// Create は新規レコードを保存します。
func (s *MemoryStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("jobID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.JobID]; exists {
		return fmt.Errorf("job already exists: %s", record.JobID)
	}

	now := time.Now().UTC()
	clone := *record
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now
	if clone.Status == "" {
		clone.Status = StatusPending
	}
	if clone.ExpiresAt.IsZero() && s.ttl > 0 {
		clone.ExpiresAt = clone.CreatedAt.Add(s.ttl)
	}
	s.records[clone.JobID] = &clone
	return nil
}

// Get はレコードのスナップショットを返します。
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *record
	return &clone, nil
}

// MarkProcessing は pending → processing へ遷移させます。
func (s *MemoryStore) MarkProcessing(ctx context.Context, jobID string) error {
	return s.update(jobID, func(record *Record) error {
		if err := guardTransition(record, StatusProcessing); err != nil {
			return err
		}
		now := time.Now().UTC()
		record.Status = StatusProcessing
		record.StartedAt = &now
		record.Progress = ProgressInfo{Percent: 0, Stage: "load"}
		return nil
	})
}

// UpdateProgress は processing 中の進捗を更新します。
func (s *MemoryStore) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.update(jobID, func(record *Record) error {
		applyProgress(record, progress)
		return nil
	})
}

// MarkCompleted は processing → completed へ遷移させます。
func (s *MemoryStore) MarkCompleted(ctx context.Context, jobID string, outputRef string, meta any) error {
	return s.update(jobID, func(record *Record) error {
		if err := guardTransition(record, StatusCompleted); err != nil {
			return err
		}
		now := time.Now().UTC()
		record.Status = StatusCompleted
		record.Progress = ProgressInfo{Percent: 100, Stage: "completed"}
		record.OutputRef = outputRef
		record.Meta = meta
		record.Error = nil
		record.FinishedAt = &now
		return nil
	})
}

// MarkFailed は processing → failed へ遷移させます。
func (s *MemoryStore) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.update(jobID, func(record *Record) error {
		if err := guardTransition(record, StatusFailed); err != nil {
			return err
		}
		now := time.Now().UTC()
		record.Status = StatusFailed
		record.FinishedAt = &now
		if errInfo != nil {
			record.Error = errInfo
		}
		return nil
	})
}

// MarkCancelled は pending|processing → cancelled へ遷移させます。
func (s *MemoryStore) MarkCancelled(ctx context.Context, jobID string) error {
	return s.update(jobID, func(record *Record) error {
		if err := guardTransition(record, StatusCancelled); err != nil {
			return err
		}
		now := time.Now().UTC()
		record.Status = StatusCancelled
		record.OutputRef = ""
		record.FinishedAt = &now
		return nil
	})
}

// Sweep は有効期限切れの終端レコードを削除し、削除件数を返します。
// 定期クリーンアップ（storage.Janitor）から呼ばれます。
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if record.ExpiresAt.IsZero() || record.ExpiresAt.After(now) {
			continue
		}
		if !record.Status.IsTerminal() {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed
}

// Len は保持中のレコード数を返します。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) update(jobID string, mutate func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if err := mutate(record); err != nil {
		return err
	}
	record.UpdatedAt = time.Now().UTC()
	return nil
}
