package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const rotatedFilename = "rotated.pdf"

type rotateState struct {
	ws       workspace
	file     storedFile
	rotation int
}

func (s *Service) prepareRotate(ctx context.Context, file *multipart.FileHeader, rotation int) (*rotateState, *JobManifest, error) {
	switch rotation {
	case 90, 180, 270, -90:
	default:
		return nil, nil, newError("INVALID_INPUT", "回転角度は 90, 180, 270, -90 のいずれかを指定してください。", nil)
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}

	stored, err := s.storeMultipartFile(ctx, file, ws.inDir, 0)
	if err != nil {
		s.removeWorkspace(ws)
		return nil, nil, err
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationRotate,
		Files:     toJobFiles([]storedFile{stored}),
		Rotation:  rotation,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		s.removeWorkspace(ws)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return &rotateState{ws: ws, file: stored, rotation: rotation}, manifest, nil
}

func (s *Service) executeRotate(ctx context.Context, state *rotateState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	reportProgress(progress, "load", progressLoadDone)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputPath := filepath.Join(ws.outDir, rotatedFilename)
	if err := pdfapi.RotateFile(stored.path, outputPath, state.rotation, nil, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの回転に失敗しました。ファイルが破損していないか確認してください。", err)
	}
	reportProgress(progress, "process", progressProcessDone)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}

	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationRotate,
		OutputPath:     outputPath,
		OutputFilename: rotatedFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &RotateMeta{
			Source:   sourceMetaOf(stored),
			Rotation: state.rotation,
		},
	}, nil
}

// PrepareRotateJob は回転ジョブの入力を検証して作業領域へ保存します。
func (s *Service) PrepareRotateJob(ctx context.Context, file *multipart.FileHeader, rotation int) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareRotate(ctx, file, rotation)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
