package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8090" {
		t.Errorf("default server addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("default request timeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Discovery.MaxVisited != 1000 {
		t.Errorf("default max visited = %d", cfg.Discovery.MaxVisited)
	}
	if cfg.Knowledge.Capacity != 512 {
		t.Errorf("default knowledge capacity = %d", cfg.Knowledge.Capacity)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("default log config = %+v", cfg.Log)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "busbridge.yaml")
	data := []byte(`
server:
  addr: ":9000"
discovery:
  max_visited: 200
  fan_out: 2
knowledge:
  capacity: 16
  cache_path: /tmp/kb.db
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
	if cfg.Discovery.MaxVisited != 200 || cfg.Discovery.FanOut != 2 {
		t.Errorf("discovery config = %+v", cfg.Discovery)
	}
	if cfg.Knowledge.CachePath != "/tmp/kb.db" {
		t.Errorf("cache path = %q", cfg.Knowledge.CachePath)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BUSBRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("env override ignored, log level = %q", cfg.Log.Level)
	}
}
