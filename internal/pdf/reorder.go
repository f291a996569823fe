package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const reorderFilename = "reordered.pdf"

type reorderState struct {
	ws   workspace
	file storedFile
}

func (s *Service) prepareReorder(ctx context.Context, file *multipart.FileHeader, order []int) (*reorderState, *JobManifest, error) {
	if len(order) == 0 {
		return nil, nil, newError("INVALID_INPUT", "ページの順序を指定してください。", nil)
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

	if err := validateOrder(order, stored.pages); err != nil {
		s.removeWorkspace(ws)
		return nil, nil, err
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationReorder,
		Files:     toJobFiles([]storedFile{stored}),
		Order:     append([]int(nil), order...),
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		s.removeWorkspace(ws)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return &reorderState{ws: ws, file: stored}, manifest, nil
}

func (s *Service) executeReorder(ctx context.Context, state *reorderState, order []int, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	reportProgress(progress, "load", progressLoadDone)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selectedPages := make([]string, len(order))
	for i, idx := range order {
		selectedPages[i] = strconv.Itoa(idx + 1)
	}

	outputPath := filepath.Join(ws.outDir, reorderFilename)
	if err := pdfapi.CollectFile(stored.path, outputPath, selectedPages, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFのページ入替に失敗しました。ファイルが破損していないか確認してください。", err)
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
		Operation:      OperationReorder,
		OutputPath:     outputPath,
		OutputFilename: reorderFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &ReorderMeta{
			Original: sourceMetaOf(stored),
			Order:    append([]int(nil), order...),
		},
	}, nil
}

// PrepareReorderJob はページ順入替ジョブの入力を検証して作業領域へ保存します。
func (s *Service) PrepareReorderJob(ctx context.Context, file *multipart.FileHeader, order []int) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareReorder(ctx, file, order)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// validateOrder は order が 0..count-1 の順列であることを確認します。
// ページ順入替ではページ数、結合ではファイル数に対して使います。
func validateOrder(order []int, count int) error {
	if len(order) != count {
		return newError("INVALID_INPUT", "order配列の長さが対象の数と一致していません。", nil)
	}

	seen := make([]bool, count)
	for _, idx := range order {
		if idx < 0 || idx >= count {
			return newError("INVALID_INPUT", "order配列に不正な番号が含まれています。", nil)
		}
		if seen[idx] {
			return newError("INVALID_INPUT", "order配列に重複した番号が含まれています。", nil)
		}
		seen[idx] = true
	}

	return nil
}
