package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const jobKeyPrefix = "job:"

// Store はジョブ状態の永続化を抽象化します。
// すべての更新は1レコード単位でアトミックに適用され、ポーリング読み取りが
// 途中状態を観測することはありません。
type Store interface {
	// Create は新規レコードを保存します（status=pending）。
	Create(ctx context.Context, record *Record) error
	// Get はジョブ情報を取得します。存在しない場合は ErrJobNotFound。
	Get(ctx context.Context, jobID string) (*Record, error)
	// MarkProcessing は pending → processing へ遷移させます。
	MarkProcessing(ctx context.Context, jobID string) error
	// UpdateProgress は processing 中の進捗を更新します。
	// [0,100] へのクランプと単調非減少はストア側で保証します。
	UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error
	// MarkCompleted は processing → completed へ遷移させ、成果物参照を記録します。
	MarkCompleted(ctx context.Context, jobID string, outputRef string, meta any) error
	// MarkFailed は processing → failed へ遷移させ、エラー情報を記録します。
	MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error
	// MarkCancelled は pending|processing → cancelled へ遷移させます。
	// 既に終端状態の場合は ErrJobTerminal。
	MarkCancelled(ctx context.Context, jobID string) error
}

// RedisStore はジョブ状態を Redis に保存する Store 実装です。
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		ttl: ttl,
	}
}

// Create は新規レコードを保存します。
func (s *RedisStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" {
		return fmt.Errorf("jobID is required")
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = StatusPending
	}
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

// Get はジョブ情報を取得します。
func (s *RedisStore) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// MarkProcessing は pending → processing へ遷移させます。
func (s *RedisStore) MarkProcessing(ctx context.Context, jobID string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) error {
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

// UpdateProgress は進捗を更新します。processing 以外では no-op です。
func (s *RedisStore) UpdateProgress(ctx context.Context, jobID string, progress ProgressInfo) error {
	return s.updatePartial(ctx, jobID, func(record *Record) error {
		applyProgress(record, progress)
		return nil
	})
}

// MarkCompleted はジョブ完了時の情報を保存します。
func (s *RedisStore) MarkCompleted(ctx context.Context, jobID string, outputRef string, meta any) error {
	return s.updatePartial(ctx, jobID, func(record *Record) error {
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

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *RedisStore) MarkFailed(ctx context.Context, jobID string, errInfo *ErrorInfo) error {
	return s.updatePartial(ctx, jobID, func(record *Record) error {
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

// MarkCancelled はジョブを取り消します。
func (s *RedisStore) MarkCancelled(ctx context.Context, jobID string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) error {
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

// updatePartial は WATCH による楽観的更新ループでレコードを書き換えます。
func (s *RedisStore) updatePartial(ctx context.Context, jobID string, mutate func(*Record) error) error {
	key := jobKey(jobID)
	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return ErrJobNotFound
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		if err := mutate(&record); err != nil {
			return err
		}
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		// TTL を s.ttl で張り直すと更新のたびに寿命が延び、ExpiresAt と
		// 食い違うため、残り時間を設定し直す
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, remainingTTL(&record, time.Now().UTC(), s.ttl))
			return nil
		})
		return err
	}

	for {
		err := s.rdb.Watch(ctx, txn, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
}

// remainingTTL は record.ExpiresAt までの残り時間を返します。
// ExpiresAt が未設定の場合は fallback を、既に超過している場合は
// Redis が拒否する非正のTTLを避けるため最小値の1秒を返します。
func remainingTTL(record *Record, now time.Time, fallback time.Duration) time.Duration {
	if record.ExpiresAt.IsZero() {
		return fallback
	}
	remain := record.ExpiresAt.Sub(now)
	if remain < time.Second {
		return time.Second
	}
	return remain
}

// guardTransition は遷移表に基づいて状態遷移を検証します。
func guardTransition(record *Record, to Status) error {
	if record.Status.IsTerminal() {
		return ErrJobTerminal
	}
	if !canTransition(record.Status, to) {
		return fmt.Errorf("invalid transition: %s -> %s", record.Status, to)
	}
	return nil
}

// applyProgress は processing 中のレコードに進捗を反映します。
// 範囲外の値はクランプし、巻き戻り（減少）は無視します。
func applyProgress(record *Record, progress ProgressInfo) {
	if record.Status != StatusProcessing {
		return
	}
	if progress.Percent < 0 {
		progress.Percent = 0
	}
	if progress.Percent > 100 {
		progress.Percent = 100
	}
	if progress.Percent < record.Progress.Percent {
		progress.Percent = record.Progress.Percent
	}
	record.Progress = progress
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
