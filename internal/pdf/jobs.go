package pdf

import (
	"context"
	"fmt"
)

// RunJob はジョブIDに対応するPDF処理を実行します。
// ワーカーから呼び出され、作業領域内のマニフェストに従って処理を
// ディスパッチします。失敗時は作業領域ごと削除します。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		s.removeWorkspace(ws)
		return nil, err
	}
	if !KnownOperation(manifest.Operation) {
		s.removeWorkspace(ws)
		return nil, fmt.Errorf("unsupported operation: %s", manifest.Operation)
	}

	stored := storedFilesFromManifest(ws.inDir, manifest)
	if len(stored) == 0 {
		s.removeWorkspace(ws)
		return nil, fmt.Errorf("manifest has no input files")
	}

	var (
		result *Result
		runErr error
	)

	switch manifest.Operation {
	case OperationMerge:
		state := &mergeState{ws: ws, storedFiles: stored}
		result, runErr = s.executeMerge(ctx, state, manifest.Order, reporter)
	case OperationSplit:
		state := &splitState{ws: ws, file: stored[0], rangesRaw: manifest.Ranges}
		result, runErr = s.executeSplit(ctx, state, reporter)
	case OperationReorder:
		state := &reorderState{ws: ws, file: stored[0]}
		result, runErr = s.executeReorder(ctx, state, manifest.Order, reporter)
	case OperationOptimize:
		state := &optimizeState{ws: ws, file: stored[0]}
		result, runErr = s.executeOptimize(ctx, state, reporter)
	case OperationWatermark:
		state := &watermarkState{ws: ws, file: stored[0], text: manifest.Watermark}
		result, runErr = s.executeWatermark(ctx, state, reporter)
	case OperationRotate:
		state := &rotateState{ws: ws, file: stored[0], rotation: manifest.Rotation}
		result, runErr = s.executeRotate(ctx, state, reporter)
	case OperationProtect:
		state := &protectState{ws: ws, file: stored[0], password: manifest.Password}
		result, runErr = s.executeProtect(ctx, state, reporter)
	case OperationUnlock:
		state := &unlockState{ws: ws, file: stored[0], password: manifest.Password}
		result, runErr = s.executeUnlock(ctx, state, reporter)
	}

	if runErr != nil {
		s.removeWorkspace(ws)
		return nil, runErr
	}

	return result, nil
}
