package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the top-level server configuration, loaded once at startup
// from a YAML file and overlaid with URSCEAL_* environment variables.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// RateLimitRPM limits /api/generate requests per client per minute.
	// 0 disables rate limiting.
	RateLimitRPM int `yaml:"rate_limit_rpm"`
}

// DataConfig locates the data root. The sqlite database lives under it.
type DataConfig struct {
	Root string `yaml:"root"`
}

// SecurityConfig holds browser-facing security settings.
type SecurityConfig struct {
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig whitelists browser origins. Empty means allow all (dev mode).
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// TelemetryConfig configures OpenTelemetry trace export. When enabled,
// generation-request spans are exported to an OTLP-compatible backend
// (Jaeger, Tempo, Datadog, etc.).
type TelemetryConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`     // e.g. "localhost:4317" (grpc) or "https://otel.example.com:4318" (http)
	Protocol    string            `yaml:"protocol"`     // "grpc" (default) or "http"
	Insecure    bool              `yaml:"insecure"`     // skip TLS, for local collectors
	ServiceName string            `yaml:"service_name"` // default "ursceal"
	Headers     map[string]string `yaml:"headers"`      // extra headers (auth tokens for cloud backends)
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         18990,
			RateLimitRPM: 0,
		},
		Data: DataConfig{
			Root: "~/.ursceal",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "ursceal",
		},
	}
}

// DatabasePath returns the sqlite file path under the data root.
func (c *Config) DatabasePath() string {
	return filepath.Join(ExpandHome(c.Data.Root), "ursceal.db")
}

// ListenAddr returns the host:port pair for the HTTP listener.
func (c *Config) ListenAddr() string {
	host := c.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Server.Port))
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
