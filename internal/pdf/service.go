// Package pdf はPDF操作機能を提供します。
package pdf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/snappdf/internal/config"
	"github.com/yourusername/snappdf/internal/storage"
)

// Service はPDF操作の準備と実行を担います。
type Service struct {
	cfg   *config.Config
	local *storage.Local
	now   func() time.Time
}

// NewService は Service を作成します。
func NewService(cfg *config.Config, local *storage.Local) *Service {
	return &Service{
		cfg:   cfg,
		local: local,
		now:   time.Now,
	}
}

// storedFile は作業領域へ保存済みの入力ファイルです。
type storedFile struct {
	path         string
	originalName string
	size         int64
	pages        int
}

// SourceFileMeta は入力ファイルのメタデータです。
type SourceFileMeta struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Pages int    `json:"pages"`
}

func (s *Service) createWorkspace() (workspace, error) {
	jobID := uuid.New().String()
	dir, inDir, outDir, err := s.local.CreateJob(jobID)
	if err != nil {
		return workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	return workspace{jobID: jobID, dir: dir, inDir: inDir, outDir: outDir}, nil
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := s.local.JobDir(jobID)
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

// storeMultipartFile はアップロードされたPDFを検証して作業領域へ保存します。
// 拡張子・MIMEシグネチャ・サイズ上限・ページ数を確認します。
func (s *Service) storeMultipartFile(ctx context.Context, file *multipart.FileHeader, dir string, index int) (storedFile, error) {
	stored, err := s.storeUpload(ctx, file, dir, index)
	if err != nil {
		return storedFile{}, err
	}

	pages, err := pdfapi.PageCountFile(stored.path)
	if err != nil {
		return storedFile{}, newError("UNSUPPORTED_PDF", fmt.Sprintf("ページ数を取得できませんでした。破損している可能性があります: %s", stored.originalName), err)
	}
	if s.cfg.MaxPages > 0 && pages > s.cfg.MaxPages {
		return storedFile{}, newError("LIMIT_EXCEEDED", fmt.Sprintf("ページ数が上限(%d)を超えています: %s", s.cfg.MaxPages, stored.originalName), nil)
	}

	stored.pages = pages
	return stored, nil
}

// storeUpload は拡張子・サイズ上限・MIMEシグネチャのみを検査して保存します。
// 暗号化PDFのようにページ数を読めない入力向けで、pages は 0 のままです。
func (s *Service) storeUpload(ctx context.Context, file *multipart.FileHeader, dir string, index int) (storedFile, error) {
	if err := ctx.Err(); err != nil {
		return storedFile{}, err
	}
	if file == nil {
		return storedFile{}, newError("INVALID_INPUT", "PDFファイルを選択してください。", nil)
	}

	originalName := filepath.Base(file.Filename)
	if ext := strings.ToLower(filepath.Ext(originalName)); ext != ".pdf" {
		return storedFile{}, newError("INVALID_INPUT", fmt.Sprintf("PDF以外のファイルは扱えません: %s", originalName), nil)
	}
	if s.cfg.MaxFileSize > 0 && file.Size > s.cfg.MaxFileSize {
		return storedFile{}, newError("LIMIT_EXCEEDED", fmt.Sprintf("ファイルサイズが上限を超えています: %s", originalName), nil)
	}

	src, err := file.Open()
	if err != nil {
		return storedFile{}, newError("INVALID_INPUT", "アップロードファイルを開けませんでした。", err)
	}
	defer src.Close()

	storedName := fmt.Sprintf("input-%02d.pdf", index+1)
	destPath := filepath.Join(dir, storedName)
	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return storedFile{}, fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
	}

	written, err := io.Copy(dest, src)
	closeErr := dest.Close()
	if err != nil {
		return storedFile{}, fmt.Errorf("入力ファイルの書き込みに失敗しました: %w", err)
	}
	if closeErr != nil {
		return storedFile{}, fmt.Errorf("入力ファイルのクローズに失敗しました: %w", closeErr)
	}

	mtype, err := mimetype.DetectFile(destPath)
	if err != nil || !mtype.Is("application/pdf") {
		return storedFile{}, newError("INVALID_INPUT", fmt.Sprintf("PDFとして認識できないファイルです: %s", originalName), err)
	}

	return storedFile{
		path:         destPath,
		originalName: originalName,
		size:         written,
	}, nil
}

// DiscardJob はジョブの作業領域を破棄します。
func (s *Service) DiscardJob(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("jobID is required")
	}
	return s.local.RemoveJob(jobID)
}

func (s *Service) removeWorkspace(ws workspace) {
	_ = s.local.RemoveJob(ws.jobID)
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
