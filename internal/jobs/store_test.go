package jobs

import (
	"testing"
	"time"
)

func TestRemainingTTL(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	// ExpiresAt 未設定なら fallback をそのまま使う
	record := &Record{}
	if got := remainingTTL(record, now, time.Hour); got != time.Hour {
		t.Fatalf("unexpected ttl for zero ExpiresAt: %v", got)
	}

	// 進捗更新を繰り返しても ExpiresAt までの残り時間に縮む
	record = &Record{ExpiresAt: now.Add(10 * time.Minute)}
	if got := remainingTTL(record, now, time.Hour); got != 10*time.Minute {
		t.Fatalf("unexpected ttl: %v", got)
	}
	later := now.Add(9 * time.Minute)
	if got := remainingTTL(record, later, time.Hour); got != time.Minute {
		t.Fatalf("ttl must shrink as time passes: %v", got)
	}

	// 期限超過後は非正のTTLを返さない
	expired := &Record{ExpiresAt: now.Add(-time.Minute)}
	if got := remainingTTL(expired, now, time.Hour); got != time.Second {
		t.Fatalf("expected floor of 1s for expired record, got %v", got)
	}
}
