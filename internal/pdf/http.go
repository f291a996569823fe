package pdf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/snappdf/internal/auth"
)

// JobDiscarder は準備済みジョブの作業領域を破棄できるサービスが実装します。
type JobDiscarder interface {
	DiscardJob(jobID string) error
}

// MergeService は結合ジョブの準備を提供します。
type MergeService interface {
	JobDiscarder
	PrepareMergeJob(ctx context.Context, files []*multipart.FileHeader, order []int) (*JobManifest, error)
}

// SplitService は分割ジョブの準備を提供します。
type SplitService interface {
	JobDiscarder
	PrepareSplitJob(ctx context.Context, file *multipart.FileHeader, rangesExpr string) (*JobManifest, error)
}

// ReorderService はページ順入替ジョブの準備を提供します。
type ReorderService interface {
	JobDiscarder
	PrepareReorderJob(ctx context.Context, file *multipart.FileHeader, order []int) (*JobManifest, error)
}

// OptimizeService は圧縮ジョブの準備を提供します。
type OptimizeService interface {
	JobDiscarder
	PrepareOptimizeJob(ctx context.Context, file *multipart.FileHeader) (*JobManifest, error)
}

// WatermarkService は透かしジョブの準備を提供します。
type WatermarkService interface {
	JobDiscarder
	PrepareWatermarkJob(ctx context.Context, file *multipart.FileHeader, text string) (*JobManifest, error)
}

// RotateService は回転ジョブの準備を提供します。
type RotateService interface {
	JobDiscarder
	PrepareRotateJob(ctx context.Context, file *multipart.FileHeader, rotation int) (*JobManifest, error)
}

// ProtectService はパスワード保護ジョブの準備を提供します。
type ProtectService interface {
	JobDiscarder
	PrepareProtectJob(ctx context.Context, file *multipart.FileHeader, password string) (*JobManifest, error)
}

// UnlockService は保護解除ジョブの準備を提供します。
type UnlockService interface {
	JobDiscarder
	PrepareUnlockJob(ctx context.Context, file *multipart.FileHeader, password string) (*JobManifest, error)
}

// InspectService はアップロードPDFのメタデータ取得を提供します。
type InspectService interface {
	InspectMultipart(ctx context.Context, file *multipart.FileHeader) (*InspectResult, error)
}

// JobScheduler は準備済みジョブを処理キューへ投入します。
// 利用者区分ごとの受付上限チェックは投入時に行われます。
type JobScheduler interface {
	Schedule(ctx context.Context, manifest *JobManifest, owner string, premium bool) error
}

// HandlerOptions はPDF処理ハンドラーの依存をまとめます。
type HandlerOptions struct {
	Scheduler JobScheduler
}

// MergeHandler は POST /api/pdf/merge のハンドラーを返します。
func MergeHandler(svc MergeService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := requireMultipartForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		files := form.File["files[]"]
		if len(files) == 0 {
			files = form.File["files"]
		}
		if len(files) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "アップロードされたPDFファイルが見つかりません。",
			})
			return
		}

		order, err := parseOrder(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		manifest, err := svc.PrepareMergeJob(c.Request.Context(), files, order)
		if err != nil {
			respondWithError(c, err)
			return
		}

		submitJob(c, svc, opts, manifest)
	}
}

// SplitHandler は POST /api/pdf/split のハンドラーを返します。
func SplitHandler(svc SplitService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := requireMultipartForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		rangesExpr := strings.TrimSpace(c.PostForm("ranges"))
		if rangesExpr == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "分割するページ範囲を指定してください。",
			})
			return
		}

		manifest, err := svc.PrepareSplitJob(c.Request.Context(), file, rangesExpr)
		if err != nil {
			respondWithError(c, err)
			return
		}

		submitJob(c, svc, opts, manifest)
	}
}

// ReorderHandler は POST /api/pdf/reorder のハンドラーを返します。
func ReorderHandler(svc ReorderService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := requireMultipartForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		order, err := parseOrder(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		manifest, err := svc.PrepareReorderJob(c.Request.Context(), file, order)
		if err != nil {
			respondWithError(c, err)
			return
		}

		submitJob(c, svc, opts, manifest)
	}
}

// OptimizeHandler は POST /api/pdf/optimize のハンドラーを返します。
func OptimizeHandler(svc OptimizeService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := requireMultipartForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		manifest, err := svc.PrepareOptimizeJob(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		submitJob(c, svc, opts, manifest)
	}
}

// WatermarkHandler は POST /api/pdf/watermark のハンドラーを返します。
func WatermarkHandler(svc WatermarkService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := requireMultipartForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		text := c.PostForm("text")
		manifest, err := svc.PrepareWatermarkJob(c.Request.Context(), file, text)
		if err != nil {
			respondWithError(c, err)
			return
		}

		submitJob(c, svc, opts, manifest)
	}
}

// RotateHandler は POST /api/pdf/rotate のハンドラーを返します。
func RotateHandler(svc RotateService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := requireMultipartForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		raw := strings.TrimSpace(c.PostForm("rotation"))
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "回転角度を指定してください。",
			})
			return
		}
		rotation, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "回転角度は整数で指定してください。",
			})
			return
		}

		manifest, err := svc.PrepareRotateJob(c.Request.Context(), file, rotation)
		if err != nil {
			respondWithError(c, err)
			return
		}

		submitJob(c, svc, opts, manifest)
	}
}

// ProtectHandler は POST /api/pdf/protect のハンドラーを返します。
func ProtectHandler(svc ProtectService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := requireMultipartForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		password := c.PostForm("password")
		manifest, err := svc.PrepareProtectJob(c.Request.Context(), file, password)
		if err != nil {
			respondWithError(c, err)
			return
		}

		submitJob(c, svc, opts, manifest)
	}
}

// UnlockHandler は POST /api/pdf/unlock のハンドラーを返します。
func UnlockHandler(svc UnlockService, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := requireMultipartForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		password := c.PostForm("password")
		manifest, err := svc.PrepareUnlockJob(c.Request.Context(), file, password)
		if err != nil {
			respondWithError(c, err)
			return
		}

		submitJob(c, svc, opts, manifest)
	}
}

// InspectHandler は POST /api/pdf/inspect のハンドラーを返します。
// ジョブは作らず、ページ数などのメタデータを同期的に返します。
func InspectHandler(svc InspectService) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := requireMultipartForm(c)
		if !ok {
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		result, err := svc.InspectMultipart(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// submitJob は準備済みのマニフェストをキューへ投入し、202 Accepted で応答します。
// 投入に失敗した場合は作業領域を破棄します。
func submitJob(c *gin.Context, svc JobDiscarder, opts HandlerOptions, manifest *JobManifest) {
	if opts.Scheduler == nil {
		_ = svc.DiscardJob(manifest.JobID)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "SERVICE_UNAVAILABLE",
			"message": "ジョブ受付機能が初期化されていません。",
		})
		return
	}

	owner := c.GetString(auth.ContextUserKey)
	premium := c.GetBool(auth.ContextPremiumKey)

	if err := opts.Scheduler.Schedule(c.Request.Context(), manifest, owner, premium); err != nil {
		if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
			err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
		}
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
}

func requireMultipartForm(c *gin.Context) (*multipart.Form, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "multipart/form-data でPDFファイルを送信してください。",
		})
		return nil, false
	}
	return form, true
}

func parseOrder(c *gin.Context) ([]int, error) {
	raw := strings.TrimSpace(c.PostForm("order"))
	if raw != "" {
		var order []int
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			return nil, errors.New("order は JSON 形式の整数配列で指定してください。例: [0,1,2]")
		}
		return order, nil
	}

	if values := c.PostFormArray("order[]"); len(values) > 0 {
		order := make([]int, len(values))
		for i, v := range values {
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				return nil, errors.New("order[] に空の値が含まれています。")
			}
			num, err := strconv.Atoi(trimmed)
			if err != nil {
				return nil, errors.New("order[] の値は整数で指定してください。")
			}
			order[i] = num
		}
		return order, nil
	}

	return nil, nil
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case "LIMIT_EXCEEDED":
			status = http.StatusRequestEntityTooLarge
		case "QUEUE_FULL":
			status = http.StatusTooManyRequests
		case "SERVICE_UNAVAILABLE":
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("PDFファイルを選択してください。")
	}
	if file := form.File["file"]; len(file) > 0 {
		return file[0], nil
	}
	if file := form.File["file[]"]; len(file) > 0 {
		return file[0], nil
	}
	files := form.File["files"]
	if len(files) > 0 {
		return files[0], nil
	}
	if alt := form.File["files[]"]; len(alt) > 0 {
		return alt[0], nil
	}
	return nil, errors.New("PDFファイルを選択してください。")
}

// StreamResult は成果物ファイルをダウンロードレスポンスとして書き出します。
func StreamResult(c *gin.Context, result *Result, file *os.File) {
	contentType := "application/octet-stream"
	switch result.ResultKind {
	case ResultKindPDF:
		contentType = "application/pdf"
	case ResultKindZIP:
		contentType = "application/zip"
	}

	encodedName := url.PathEscape(result.OutputFilename)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, contentType, file, nil)
}
