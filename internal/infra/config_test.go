package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EngineBaseURL != "http://127.0.0.1:8188" {
		t.Fatalf("engine url = %q", cfg.EngineBaseURL)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.QueueConcurrency != 2 || cfg.QueueBacklog != 200 {
		t.Fatalf("queue sizing = %d/%d", cfg.QueueConcurrency, cfg.QueueBacklog)
	}
	if cfg.ImageTimeout != 10*time.Minute || cfg.VideoTimeout != 30*time.Minute {
		t.Fatalf("timeouts = %s/%s", cfg.ImageTimeout, cfg.VideoTimeout)
	}
	if cfg.JobRetries != 2 {
		t.Fatalf("retries = %d", cfg.JobRetries)
	}
	if cfg.QueueRetention != 512 {
		t.Fatalf("retention = %d", cfg.QueueRetention)
	}
	if cfg.HTTPHeaderTimeout != 5*time.Second || cfg.HTTPShutdownGrace != 10*time.Second {
		t.Fatalf("header/shutdown timing = %s/%s", cfg.HTTPHeaderTimeout, cfg.HTTPShutdownGrace)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ENGINE_BASE_URL", "http://10.0.0.5:8188")
	t.Setenv("QUEUE_CONCURRENCY", "4")
	t.Setenv("JOB_TIMEOUT_VIDEO_SECONDS", "900")
	t.Setenv("DEFAULT_LOCALE", "ru")
	t.Setenv("HTTP_HEADER_TIMEOUT_SECONDS", "3")
	t.Setenv("QUEUE_RETENTION", "64")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EngineBaseURL != "http://10.0.0.5:8188" {
		t.Fatalf("engine url = %q", cfg.EngineBaseURL)
	}
	if cfg.QueueConcurrency != 4 {
		t.Fatalf("concurrency = %d", cfg.QueueConcurrency)
	}
	if cfg.VideoTimeout != 15*time.Minute {
		t.Fatalf("video timeout = %s", cfg.VideoTimeout)
	}
	if cfg.DefaultLocale != "ru" {
		t.Fatalf("locale = %q", cfg.DefaultLocale)
	}
	if cfg.HTTPHeaderTimeout != 3*time.Second {
		t.Fatalf("header timeout = %s", cfg.HTTPHeaderTimeout)
	}
	if cfg.QueueRetention != 64 {
		t.Fatalf("retention = %d", cfg.QueueRetention)
	}
}

func TestLoadConfigClampsQueueSizing(t *testing.T) {
	t.Setenv("QUEUE_CONCURRENCY", "0")
	t.Setenv("QUEUE_BACKLOG", "-5")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.QueueConcurrency != 1 {
		t.Fatalf("concurrency = %d, want clamped to 1", cfg.QueueConcurrency)
	}
	if cfg.QueueBacklog != 1 {
		t.Fatalf("backlog = %d, want clamped to 1", cfg.QueueBacklog)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	if got := getEnvInt("SOME_INT", 7); got != 7 {
		t.Fatalf("invalid int must fall back, got %d", got)
	}
	t.Setenv("SOME_INT", "42")
	if got := getEnvInt("SOME_INT", 7); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}
