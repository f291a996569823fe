package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const watermarkedFilename = "watermarked.pdf"

// 透かしの描画指定。pdfcpu のウォーターマーク記述子形式。
const watermarkDesc = "font:Helvetica, points:48, op:0.35, rot:45, fillc:#808080"

type watermarkState struct {
	ws   workspace
	file storedFile
	text string
}

func (s *Service) prepareWatermark(ctx context.Context, file *multipart.FileHeader, text string) (*watermarkState, *JobManifest, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, newError("INVALID_INPUT", "透かしの文字列を指定してください。", nil)
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
		Operation: OperationWatermark,
		Files:     toJobFiles([]storedFile{stored}),
		Watermark: text,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		s.removeWorkspace(ws)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return &watermarkState{ws: ws, file: stored, text: text}, manifest, nil
}

func (s *Service) executeWatermark(ctx context.Context, state *watermarkState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	reportProgress(progress, "load", progressLoadDone)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputPath := filepath.Join(ws.outDir, watermarkedFilename)
	if err := pdfapi.AddTextWatermarksFile(stored.path, outputPath, nil, true, state.text, watermarkDesc, nil); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "透かしの追加に失敗しました。ファイルが破損していないか確認してください。", err)
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
		Operation:      OperationWatermark,
		OutputPath:     outputPath,
		OutputFilename: watermarkedFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &WatermarkMeta{
			Source: sourceMetaOf(stored),
			Text:   state.text,
		},
	}, nil
}

// PrepareWatermarkJob は透かしジョブの入力を検証して作業領域へ保存します。
func (s *Service) PrepareWatermarkJob(ctx context.Context, file *multipart.FileHeader, text string) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareWatermark(ctx, file, text)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
