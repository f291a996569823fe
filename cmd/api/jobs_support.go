package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/snappdf/internal/auth"
	"github.com/yourusername/snappdf/internal/config"
	"github.com/yourusername/snappdf/internal/jobs"
	"github.com/yourusername/snappdf/internal/pdf"
)

// queueScheduler は pdf.JobScheduler を jobs.Service へ橋渡しします。
// 利用者区分ごとの受付上限は投入時にここで添えます。
type queueScheduler struct {
	svc *jobs.Service
	cfg *config.Config
}

func (s *queueScheduler) Schedule(ctx context.Context, manifest *pdf.JobManifest, owner string, premium bool) error {
	maxBatchFiles, maxFileBytes, maxTotalPages := s.cfg.TierLimitsFor(premium)

	_, err := s.svc.Submit(ctx, jobs.SubmitRequest{
		JobID:        manifest.JobID,
		Operation:    string(manifest.Operation),
		Owner:        owner,
		Files:        len(manifest.Files),
		TotalBytes:   manifest.TotalBytes(),
		LargestBytes: manifest.LargestBytes(),
		TotalPages:   manifest.TotalPages(),
		Limits: jobs.TierLimits{
			MaxBatchFiles: maxBatchFiles,
			MaxFileBytes:  maxFileBytes,
			MaxTotalPages: maxTotalPages,
		},
	})
	if err != nil {
		return toSchedulerError(err)
	}
	return nil
}

// toSchedulerError は投入拒否をHTTP層が解釈できるコード付きエラーへ変換します。
func toSchedulerError(err error) error {
	var limitErr *jobs.LimitError
	switch {
	case errors.Is(err, jobs.ErrQueueFull):
		return &pdf.Error{
			Code:    "QUEUE_FULL",
			Message: "処理待ちのジョブが上限に達しています。しばらくしてから再度お試しください。",
			Err:     err,
		}
	case errors.Is(err, jobs.ErrServiceStopped):
		return &pdf.Error{
			Code:    "SERVICE_UNAVAILABLE",
			Message: "ジョブの受付を停止しています。",
			Err:     err,
		}
	case errors.As(err, &limitErr):
		return &pdf.Error{
			Code:    "LIMIT_EXCEEDED",
			Message: "ご利用プランの上限を超えています。プレミアムプランをご検討ください。",
			Err:     err,
		}
	default:
		return err
	}
}

// newJobStore は設定に応じたジョブレコードストアを作成します。
// memory の場合は期限切れ掃除のために *jobs.MemoryStore も返します。
func newJobStore(cfg *config.Config) (jobs.Store, *jobs.MemoryStore, error) {
	ttl := time.Duration(cfg.JobExpireMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}

	if cfg.JobStore == "redis" {
		opt, err := redis.ParseURL(cfg.JobRedisURL)
		if err != nil {
			return nil, nil, err
		}
		return jobs.NewRedisStore(redis.NewClient(opt), ttl), nil, nil
	}

	mem := jobs.NewMemoryStore(ttl)
	return mem, mem, nil
}

func jobStatusHandler(svc *jobs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := svc.GetStatus(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_NOT_FOUND",
					"message": "指定されたジョブは存在しません。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}

		payload := gin.H{
			"jobId":     record.JobID,
			"operation": record.Operation,
			"status":    record.Status,
			"progress": gin.H{
				"percent": record.Progress.Percent,
				"stage":   record.Progress.Stage,
			},
			"createdAt": record.CreatedAt,
			"updatedAt": record.UpdatedAt,
		}
		if record.OutputRef != "" {
			payload["downloadUrl"] = record.OutputRef
		}
		if record.Meta != nil {
			payload["meta"] = record.Meta
		}
		if record.Error != nil {
			payload["error"] = record.Error
		}

		c.JSON(http.StatusOK, payload)
	}
}

func jobCancelHandler(svc *jobs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		err := svc.Cancel(c.Request.Context(), jobID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"jobId": jobID, "status": "cancelling"})
		case errors.Is(err, jobs.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
		case errors.Is(err, jobs.ErrJobTerminal):
			c.JSON(http.StatusConflict, gin.H{
				"code":    "JOB_ALREADY_FINISHED",
				"message": "ジョブはすでに終了しています。",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの取り消しに失敗しました。",
			})
		}
	}
}

func jobDownloadHandler(jobSvc *jobs.Service, pdfService *pdf.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := strings.TrimSpace(c.Param("id"))
		if jobID == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		record, err := jobSvc.GetStatus(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_NOT_FOUND",
					"message": "指定されたジョブは存在しません。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record.Status != jobs.StatusCompleted {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "JOB_NOT_COMPLETED",
				"message": "ジョブはまだ完了していません。",
			})
			return
		}

		result, file, err := pdfService.OpenResultFile(jobID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_FOUND",
					"message": "ジョブの成果物が見つかりませんでした。有効期限が切れた可能性があります。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}
		defer file.Close()

		pdf.StreamResult(c, result, file)
	}
}

func queueStatusHandler(svc *jobs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := c.GetString(auth.ContextUserKey)
		c.JSON(http.StatusOK, gin.H{
			"queue":      svc.Stats(),
			"activeJobs": svc.ActiveJobs(owner),
		})
	}
}
