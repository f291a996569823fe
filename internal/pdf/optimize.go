package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const optimizedFilename = "optimized.pdf"

type optimizeState struct {
	ws   workspace
	file storedFile
}

func (s *Service) prepareOptimize(ctx context.Context, file *multipart.FileHeader) (*optimizeState, *JobManifest, error) {
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
		Operation: OperationOptimize,
		Files:     toJobFiles([]storedFile{stored}),
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		s.removeWorkspace(ws)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return &optimizeState{ws: ws, file: stored}, manifest, nil
}

func (s *Service) executeOptimize(ctx context.Context, state *optimizeState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	reportProgress(progress, "load", progressLoadDone)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputPath := filepath.Join(ws.outDir, optimizedFilename)
	if err := pdfapi.OptimizeFile(stored.path, outputPath, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの圧縮に失敗しました。ファイルが破損していないか確認してください。", err)
	}
	reportProgress(progress, "process", progressProcessDone)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("圧縮後ファイルの確認に失敗しました: %w", err)
	}

	saved := stored.size - outInfo.Size()
	savedPercent := 0.0
	if stored.size > 0 {
		savedPercent = float64(saved) / float64(stored.size) * 100
	}

	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationOptimize,
		OutputPath:     outputPath,
		OutputFilename: optimizedFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &OptimizeMeta{
			OriginalSize: stored.size,
			OutputSize:   outInfo.Size(),
			SavedBytes:   saved,
			SavedPercent: savedPercent,
			Source:       sourceMetaOf(stored),
		},
	}, nil
}

// PrepareOptimizeJob は圧縮ジョブの入力を検証して作業領域へ保存します。
func (s *Service) PrepareOptimizeJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareOptimize(ctx, file)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
