package pdf

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

// 進捗の目安: 読込 0→20%、処理 20→80%、書込 80→100%。
const (
	progressLoadDone    = 20
	progressProcessDone = 80
)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}

// processPercent は処理フェーズ内の done/total を全体進捗へ換算します。
func processPercent(done, total int) int {
	if total <= 0 {
		return progressProcessDone
	}
	return progressLoadDone + (progressProcessDone-progressLoadDone)*done/total
}
