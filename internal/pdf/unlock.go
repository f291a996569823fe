package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const unlockedFilename = "unlocked.pdf"

type unlockState struct {
	ws       workspace
	file     storedFile
	password string
}

func (s *Service) prepareUnlock(ctx context.Context, file *multipart.FileHeader, password string) (*unlockState, *JobManifest, error) {
	if password == "" {
		return nil, nil, newError("INVALID_INPUT", "保護解除にはパスワードの指定が必要です。", nil)
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}

	// 暗号化されたPDFはパスワードなしでページ数を読めないため、
	// 保存時の検査は拡張子・サイズ・MIMEシグネチャに留めます。
	stored, err := s.storeUpload(ctx, file, ws.inDir, 0)
	if err != nil {
		s.removeWorkspace(ws)
		return nil, nil, err
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationUnlock,
		Files:     toJobFiles([]storedFile{stored}),
		Password:  password,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		s.removeWorkspace(ws)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return &unlockState{ws: ws, file: stored, password: password}, manifest, nil
}

func (s *Service) executeUnlock(ctx context.Context, state *unlockState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	reportProgress(progress, "load", progressLoadDone)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	conf.UserPW = state.password
	conf.OwnerPW = state.password

	outputPath := filepath.Join(ws.outDir, unlockedFilename)
	if err := pdfapi.DecryptFile(stored.path, outputPath, conf); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの保護解除に失敗しました。パスワードが正しいか確認してください。", err)
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
		Operation:      OperationUnlock,
		OutputPath:     outputPath,
		OutputFilename: unlockedFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &UnlockMeta{
			Source:    sourceMetaOf(stored),
			Decrypted: true,
		},
	}, nil
}

// PrepareUnlockJob は保護解除ジョブの入力を検証して作業領域へ保存します。
func (s *Service) PrepareUnlockJob(ctx context.Context, file *multipart.FileHeader, password string) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareUnlock(ctx, file, password)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
