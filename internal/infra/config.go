package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	EngineBaseURL     string
	EngineHTTPTimeout time.Duration

	WorkflowsDir string
	PresetsPath  string
	StoragePath  string

	QueueConcurrency int
	QueueBacklog     int
	QueueRetention   int
	JobRetries       int
	ImageTimeout     time.Duration
	VideoTimeout     time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration

	DefaultLocale string

	HTTPReadTimeout   time.Duration
	HTTPHeaderTimeout time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	HTTPShutdownGrace time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// A .env.local / .env file is honored when present so local runs need no exported variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env.local", ".env")

	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		EngineBaseURL:     getEnv("ENGINE_BASE_URL", "http://127.0.0.1:8188"),
		EngineHTTPTimeout: time.Second * time.Duration(getEnvInt("ENGINE_HTTP_TIMEOUT_SECONDS", 600)),
		WorkflowsDir:      getEnv("WORKFLOWS_DIR", "./workflows"),
		PresetsPath:       os.Getenv("PRESETS_PATH"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		QueueConcurrency:  getEnvInt("QUEUE_CONCURRENCY", 2),
		QueueBacklog:      getEnvInt("QUEUE_BACKLOG", 200),
		QueueRetention:    getEnvInt("QUEUE_RETENTION", 512),
		JobRetries:        getEnvInt("JOB_RETRIES", 2),
		ImageTimeout:      time.Second * time.Duration(getEnvInt("JOB_TIMEOUT_IMAGE_SECONDS", 600)),
		VideoTimeout:      time.Second * time.Duration(getEnvInt("JOB_TIMEOUT_VIDEO_SECONDS", 1800)),
		BackoffBase:       time.Second * time.Duration(getEnvInt("JOB_BACKOFF_BASE_SECONDS", 2)),
		BackoffMax:        time.Second * time.Duration(getEnvInt("JOB_BACKOFF_MAX_SECONDS", 30)),
		DefaultLocale:     getEnv("DEFAULT_LOCALE", "en"),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPHeaderTimeout: time.Second * time.Duration(getEnvInt("HTTP_HEADER_TIMEOUT_SECONDS", 5)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		HTTPShutdownGrace: time.Second * time.Duration(getEnvInt("HTTP_SHUTDOWN_GRACE_SECONDS", 10)),
	}

	if cfg.EngineBaseURL == "" {
		return nil, fmt.Errorf("ENGINE_BASE_URL is required")
	}
	if cfg.QueueConcurrency < 1 {
		cfg.QueueConcurrency = 1
	}
	if cfg.QueueBacklog < 1 {
		cfg.QueueBacklog = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
