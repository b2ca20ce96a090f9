package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// An empty file exercises the default values.
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.Kind != "memory" {
		t.Errorf("Queue.Kind = %q, want memory", cfg.Queue.Kind)
	}
	if cfg.Workers.Concurrency != 4 {
		t.Errorf("Workers.Concurrency = %d, want 4", cfg.Workers.Concurrency)
	}
	if cfg.Workers.MaxAttempts != 3 {
		t.Errorf("Workers.MaxAttempts = %d, want 3", cfg.Workers.MaxAttempts)
	}
	if cfg.Workers.ExecTimeout != 2*time.Minute {
		t.Errorf("Workers.ExecTimeout = %v, want 2m", cfg.Workers.ExecTimeout)
	}
	if cfg.Workers.SweepInterval != 30*time.Second {
		t.Errorf("Workers.SweepInterval = %v, want 30s", cfg.Workers.SweepInterval)
	}
	if cfg.Workers.StaleAfter != 5*time.Minute {
		t.Errorf("Workers.StaleAfter = %v, want 5m", cfg.Workers.StaleAfter)
	}
	if cfg.Services.DefaultModel != "mistral:latest" {
		t.Errorf("Services.DefaultModel = %q", cfg.Services.DefaultModel)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log_level: debug
server:
  listen_addr: 0.0.0.0:9999
queue:
  kind: redis
  redis_addr: redis:6379
workers:
  concurrency: 8
  max_attempts: 5
  exec_timeout: 90s
services:
  asr_url: http://asr:9000
  ollama_url: http://ollama:11434
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9999" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Queue.Kind != "redis" || cfg.Queue.RedisAddr != "redis:6379" {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if cfg.Workers.Concurrency != 8 || cfg.Workers.MaxAttempts != 5 {
		t.Errorf("Workers = %+v", cfg.Workers)
	}
	if cfg.Workers.ExecTimeout != 90*time.Second {
		t.Errorf("ExecTimeout = %v, want 90s", cfg.Workers.ExecTimeout)
	}
	if cfg.Services.ASRURL != "http://asr:9000" {
		t.Errorf("ASRURL = %q", cfg.Services.ASRURL)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("VAAKSHAKTI_QUEUE_KIND", "redis")
	t.Setenv("VAAKSHAKTI_WORKERS_CONCURRENCY", "16")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Queue.Kind != "redis" {
		t.Errorf("Queue.Kind = %q, want redis from env", cfg.Queue.Kind)
	}
	if cfg.Workers.Concurrency != 16 {
		t.Errorf("Workers.Concurrency = %d, want 16 from env", cfg.Workers.Concurrency)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("queue:\n  kind: carrier-pigeon\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected an error for an unknown queue kind")
	}

	if err := os.WriteFile(path, []byte("workers:\n  concurrency: 0\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected an error for zero concurrency")
	}

	if err := os.WriteFile(path, []byte("workers:\n  exec_timeout: 10m\n  stale_after: 1m\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected an error when stale_after does not exceed exec_timeout")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing explicit config file")
	}
}
