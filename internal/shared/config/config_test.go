package config

import (
	"os"
	"path/filepath"
	"testing"

	"regprobe/internal/shared/types"
)

func writeIni(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regprobe.ini")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadIni(t *testing.T) {
	path := writeIni(t, `
[log]
level = debug

[web]
port = 9000

[redis]
addr = redis.internal:6379
db = 2

[health]
worker_pool_size = 4
heartbeat_seconds = 15
`)

	cfg := new(types.Config)
	if err := LoadIni(cfg, path); err != nil {
		t.Fatalf("LoadIni() returned an error: %v", err)
	}

	if cfg.LogConf.Level != "debug" {
		t.Errorf("Expected log level debug, got %q", cfg.LogConf.Level)
	}
	if cfg.WebConf.Port != 9000 {
		t.Errorf("Expected web port 9000, got %d", cfg.WebConf.Port)
	}
	if cfg.RedisConf.Addr != "redis.internal:6379" || cfg.RedisConf.DB != 2 {
		t.Errorf("Unexpected redis config: %+v", cfg.RedisConf)
	}
	if cfg.HealthConf.WorkerPoolSize != 4 || cfg.HealthConf.HeartbeatSeconds != 15 {
		t.Errorf("Unexpected health config: %+v", cfg.HealthConf)
	}

	// Unset values fall back to defaults.
	if cfg.QueueConf.DetectionQueue != "task.detection.queue" {
		t.Errorf("Expected default detection queue, got %q", cfg.QueueConf.DetectionQueue)
	}
	if cfg.HealthConf.FullSweepMinutes != 5 {
		t.Errorf("Expected default full sweep interval, got %d", cfg.HealthConf.FullSweepMinutes)
	}
	if cfg.HealthConf.HotNodeLimit != 20 {
		t.Errorf("Expected default hot node limit, got %d", cfg.HealthConf.HotNodeLimit)
	}
}

func TestLoadIni_EnvOverridesFile(t *testing.T) {
	path := writeIni(t, `
[redis]
addr = from-file:6379
`)
	t.Setenv("REDIS_ADDR", "from-env:6379")
	t.Setenv("REDIS_DB", "7")

	cfg := new(types.Config)
	if err := LoadIni(cfg, path); err != nil {
		t.Fatalf("LoadIni() returned an error: %v", err)
	}
	if cfg.RedisConf.Addr != "from-env:6379" {
		t.Errorf("Expected env to override file, got %q", cfg.RedisConf.Addr)
	}
	if cfg.RedisConf.DB != 7 {
		t.Errorf("Expected env db override, got %d", cfg.RedisConf.DB)
	}
}

func TestLoadIni_MissingFile(t *testing.T) {
	cfg := new(types.Config)
	if err := LoadIni(cfg, filepath.Join(t.TempDir(), "nope.ini")); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := new(types.Config)
	ApplyDefaults(cfg)

	if cfg.RedisConf.Addr != "127.0.0.1:6379" {
		t.Errorf("Unexpected default redis addr: %q", cfg.RedisConf.Addr)
	}
	if cfg.HealthConf.WorkerPoolSize != 10 || cfg.HealthConf.HeartbeatSeconds != 30 {
		t.Errorf("Unexpected health defaults: %+v", cfg.HealthConf)
	}
	if cfg.QueueConf.ConsumerWorkers != 5 {
		t.Errorf("Unexpected consumer worker default: %d", cfg.QueueConf.ConsumerWorkers)
	}
	if cfg.PoolConf.DataFile != "configs/proxies.dat" {
		t.Errorf("Unexpected data file default: %q", cfg.PoolConf.DataFile)
	}
}
