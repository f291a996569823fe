// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	AppUserPremium  bool   // ログインユーザーのプレミアムフラグ
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限
	MaxFileSize int64 // 単一ファイルの最大サイズ（バイト）
	MaxPages    int   // 単一ファイルの最大ページ数

	// 階層制限（投入時のアドミッション判定に使用）
	FreeMaxBatchFiles    int
	FreeMaxFileBytes     int64
	FreeMaxTotalPages    int
	PremiumMaxBatchFiles int
	PremiumMaxFileBytes  int64
	PremiumMaxTotalPages int

	// ジョブ/キュー設定
	QueueCapacity    int    // 待機キューの上限
	WorkerCount      int    // ワーカー数
	JobStore         string // ジョブレコードの保存先 ("memory" | "redis")
	JobRedisURL      string // JobStore=redis の場合の接続URL
	JobExpireMinutes int    // ジョブの有効期限（分）
	JobResultBaseURL string // 結果ファイル取得用のベースURL

	// 作業領域/クリーンアップ設定
	WorkDir                string // ジョブ作業ディレクトリのベース
	CleanupIntervalMinutes int    // クリーンアップ間隔（分）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		// アプリケーション設定
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		AppUserPremium:  getEnvAsBool("APP_USER_PREMIUM", false),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ファイル制限
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		MaxPages:    getEnvAsInt("MAX_PAGES", 500),

		// 階層制限
		FreeMaxBatchFiles:    getEnvAsInt("FREE_MAX_BATCH_FILES", 3),
		FreeMaxFileBytes:     getEnvAsInt64("FREE_MAX_FILE_BYTES", 10*1024*1024), // 10MB
		FreeMaxTotalPages:    getEnvAsInt("FREE_MAX_TOTAL_PAGES", 100),
		PremiumMaxBatchFiles: getEnvAsInt("PREMIUM_MAX_BATCH_FILES", 50),
		PremiumMaxFileBytes:  getEnvAsInt64("PREMIUM_MAX_FILE_BYTES", 100*1024*1024), // 100MB
		PremiumMaxTotalPages: getEnvAsInt("PREMIUM_MAX_TOTAL_PAGES", 2000),

		// ジョブ/キュー設定
		QueueCapacity:    getEnvAsInt("QUEUE_CAPACITY", 32),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 2),
		JobStore:         getEnv("JOB_STORE", "memory"),
		JobRedisURL:      getEnv("JOB_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 60),
		JobResultBaseURL: getEnv("JOB_RESULT_BASE_URL", ""),

		// 作業領域/クリーンアップ設定
		WorkDir:                getEnv("WORK_DIR", ""),
		CleanupIntervalMinutes: getEnvAsInt("CLEANUP_INTERVAL_MINUTES", 10),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では認証設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.JobStore == "redis" && c.JobRedisURL == "" {
			return fmt.Errorf("JOB_REDIS_URL is required when JOB_STORE=redis")
		}
	}

	switch c.JobStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("JOB_STORE must be \"memory\" or \"redis\", got %q", c.JobStore)
	}

	if c.QueueCapacity <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY must be positive")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}

	return nil
}

// TierLimitsFor は premium フラグに応じた投入制限を返します。
func (c *Config) TierLimitsFor(premium bool) (maxBatchFiles int, maxFileBytes int64, maxTotalPages int) {
	if premium {
		return c.PremiumMaxBatchFiles, c.PremiumMaxFileBytes, c.PremiumMaxTotalPages
	}
	return c.FreeMaxBatchFiles, c.FreeMaxFileBytes, c.FreeMaxTotalPages
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
