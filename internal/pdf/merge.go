package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const mergedFilename = "merged.pdf"

type mergeState struct {
	ws          workspace
	storedFiles []storedFile
}

func (s *Service) prepareMerge(ctx context.Context, files []*multipart.FileHeader, order []int) (*mergeState, *JobManifest, error) {
	if len(files) < 2 {
		return nil, nil, newError("INVALID_INPUT", "結合には2つ以上のPDFファイルが必要です。", nil)
	}
	if len(order) > 0 {
		if err := validateOrder(order, len(files)); err != nil {
			return nil, nil, err
		}
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}

	stored := make([]storedFile, 0, len(files))
	for i, file := range files {
		sf, err := s.storeMultipartFile(ctx, file, ws.inDir, i)
		if err != nil {
			s.removeWorkspace(ws)
			return nil, nil, err
		}
		stored = append(stored, sf)
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationMerge,
		Files:     toJobFiles(stored),
		Order:     append([]int(nil), order...),
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		s.removeWorkspace(ws)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return &mergeState{ws: ws, storedFiles: stored}, manifest, nil
}

func (s *Service) executeMerge(ctx context.Context, state *mergeState, order []int, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.storedFiles

	ordered := stored
	if len(order) > 0 {
		if err := validateOrder(order, len(stored)); err != nil {
			return nil, err
		}
		ordered = make([]storedFile, len(stored))
		for i, idx := range order {
			ordered[i] = stored[idx]
		}
	}

	reportProgress(progress, "load", progressLoadDone)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inFiles := make([]string, len(ordered))
	for i, sf := range ordered {
		inFiles[i] = sf.path
	}

	outputPath := filepath.Join(ws.outDir, mergedFilename)
	if err := pdfapi.MergeCreateFile(inFiles, outputPath, false, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの結合に失敗しました。ファイルが破損していないか確認してください。", err)
	}
	reportProgress(progress, "process", progressProcessDone)

	// 出力確定前のキャンセル確認。中断時は部分出力ごと破棄される。
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}

	totalPages := 0
	sources := make([]SourceFileMeta, len(ordered))
	for i, sf := range ordered {
		totalPages += sf.pages
		sources[i] = sourceMetaOf(sf)
	}

	reportProgress(progress, "completed", 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationMerge,
		OutputPath:     outputPath,
		OutputFilename: mergedFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &MergeMeta{
			TotalPages: totalPages,
			Sources:    sources,
		},
	}, nil
}

// PrepareMergeJob は結合ジョブの入力を検証して作業領域へ保存します。
func (s *Service) PrepareMergeJob(ctx context.Context, files []*multipart.FileHeader, order []int) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareMerge(ctx, files, order)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
