package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Server    ServerConfig    `koanf:"server"`
	Bus       BusConfig       `koanf:"bus"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Knowledge KnowledgeConfig `koanf:"knowledge"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type ServerConfig struct {
	Addr           string        `koanf:"addr"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type BusConfig struct {
	// SystemAddr overrides the system bus socket. Empty means the
	// platform default (unix:path=/var/run/dbus/system_bus_socket).
	SystemAddr  string        `koanf:"system_addr"`
	SessionBus  bool          `koanf:"session_bus"`
	CallTimeout time.Duration `koanf:"call_timeout"`
}

type DiscoveryConfig struct {
	// MaxVisited caps the number of paths walked per service.
	MaxVisited int `koanf:"max_visited"`
	// FanOut limits how many services are introspected concurrently.
	FanOut int `koanf:"fan_out"`
}

type KnowledgeConfig struct {
	// Capacity bounds the in-memory knowledge base (LRU eviction).
	Capacity int `koanf:"capacity"`
	// CachePath enables SQLite persistence when non-empty.
	CachePath string `koanf:"cache_path"`
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("server.addr", ":8090")
	k.Set("server.request_timeout", "30s")

	k.Set("bus.session_bus", true)
	k.Set("bus.call_timeout", "5s")

	k.Set("discovery.max_visited", 1000)
	k.Set("discovery.fan_out", 8)

	k.Set("knowledge.capacity", 512)

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (BUSBRIDGE_SERVER_ADDR -> server.addr)
	if err := k.Load(env.Provider("BUSBRIDGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "BUSBRIDGE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
