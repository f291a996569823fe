// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/snappdf/internal/auth"
	"github.com/yourusername/snappdf/internal/config"
	"github.com/yourusername/snappdf/internal/jobs"
	"github.com/yourusername/snappdf/internal/pdf"
	"github.com/yourusername/snappdf/internal/storage"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ジョブ作業領域
	local, err := storage.NewLocal(cfg.WorkDir)
	if err != nil {
		log.Fatalf("Failed to init work dir: %v", err)
	}

	pdfService := pdf.NewService(cfg, local)

	// ジョブレコードストアとキューサービス
	store, memStore, err := newJobStore(cfg)
	if err != nil {
		log.Fatalf("Failed to init job store: %v", err)
	}
	jobService, err := jobs.NewService(store, pdfService, jobs.Options{
		QueueCapacity: cfg.QueueCapacity,
		WorkerCount:   cfg.WorkerCount,
		ResultBaseURL: cfg.JobResultBaseURL,
		Logger:        log.Default(),
	})
	if err != nil {
		log.Fatalf("Failed to init queue service: %v", err)
	}
	jobService.Start()

	// 期限切れの作業領域とジョブレコードの定期削除
	maxAge := time.Duration(cfg.JobExpireMinutes) * time.Minute
	interval := time.Duration(cfg.CleanupIntervalMinutes) * time.Minute
	var sweeps []storage.SweepFunc
	if memStore != nil {
		sweeps = append(sweeps, memStore.Sweep)
	}
	janitor := storage.NewJanitor(local, maxAge, interval, log.Default(), sweeps...)
	go janitor.Run(ctx)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// ルーティングの設定
	setupRoutes(router, cfg, pdfService, jobService)

	// サーバーの起動
	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown: %v", err)
	}
	// HTTP停止後も実行中ジョブの完了を期限まで待つ
	if err := jobService.Shutdown(shutdownCtx); err != nil {
		log.Printf("Queue service shutdown: %v", err)
	}
	log.Println("Shutdown complete")
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "snappdf-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, pdfService *pdf.Service, jobService *jobs.Service) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(cfg)
	handlerOpts := pdf.HandlerOptions{
		Scheduler: &queueScheduler{svc: jobService, cfg: cfg},
	}

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
		}

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			pdfRoutes := protected.Group("/pdf")
			{
				pdfRoutes.POST("/inspect", pdf.InspectHandler(pdfService))
				pdfRoutes.POST("/merge", pdf.MergeHandler(pdfService, handlerOpts))
				pdfRoutes.POST("/split", pdf.SplitHandler(pdfService, handlerOpts))
				pdfRoutes.POST("/reorder", pdf.ReorderHandler(pdfService, handlerOpts))
				pdfRoutes.POST("/optimize", pdf.OptimizeHandler(pdfService, handlerOpts))
				pdfRoutes.POST("/watermark", pdf.WatermarkHandler(pdfService, handlerOpts))
				pdfRoutes.POST("/rotate", pdf.RotateHandler(pdfService, handlerOpts))
				pdfRoutes.POST("/protect", pdf.ProtectHandler(pdfService, handlerOpts))
				pdfRoutes.POST("/unlock", pdf.UnlockHandler(pdfService, handlerOpts))
			}

			jobRoutes := protected.Group("/jobs")
			{
				jobRoutes.GET("/:id", jobStatusHandler(jobService))
				jobRoutes.POST("/:id/cancel", jobCancelHandler(jobService))
				jobRoutes.GET("/:id/download", jobDownloadHandler(jobService, pdfService))
			}

			protected.GET("/queue/status", queueStatusHandler(jobService))
		}
	}
}
