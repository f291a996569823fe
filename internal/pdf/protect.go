package pdf

import (
	"context"
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"unicode/utf8"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	protectedFilename = "protected.pdf"
	minPasswordLength = 4
	maxPasswordLength = 128
)

type protectState struct {
	ws       workspace
	file     storedFile
	password string
}

func (s *Service) prepareProtect(ctx context.Context, file *multipart.FileHeader, password string) (*protectState, *JobManifest, error) {
	if l := utf8.RuneCountInString(password); l < minPasswordLength || l > maxPasswordLength {
		return nil, nil, newError("INVALID_INPUT", "パスワードは4文字以上128文字以下で指定してください。", nil)
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
		Operation: OperationProtect,
		Files:     toJobFiles([]storedFile{stored}),
		Password:  password,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		s.removeWorkspace(ws)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return &protectState{ws: ws, file: stored, password: password}, manifest, nil
}

func (s *Service) executeProtect(ctx context.Context, state *protectState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	stored := state.file

	reportProgress(progress, "load", progressLoadDone)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conf := model.NewDefaultConfiguration()
	conf.UserPW = state.password
	conf.OwnerPW = state.password

	outputPath := filepath.Join(ws.outDir, protectedFilename)
	if err := pdfapi.EncryptFile(stored.path, outputPath, conf); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの暗号化に失敗しました。ファイルが破損していないか確認してください。", err)
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
		Operation:      OperationProtect,
		OutputPath:     outputPath,
		OutputFilename: protectedFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta: &ProtectMeta{
			Source:    sourceMetaOf(stored),
			Encrypted: true,
		},
	}, nil
}

// PrepareProtectJob はパスワード保護ジョブの入力を検証して作業領域へ保存します。
func (s *Service) PrepareProtectJob(ctx context.Context, file *multipart.FileHeader, password string) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareProtect(ctx, file, password)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}
