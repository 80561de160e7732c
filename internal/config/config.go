// Package config loads proxy configuration from config.yaml and IPIN_*
// environment variables, env vars winning.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Admin     AdminConfig     `koanf:"admin"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	// Providers and Models seed the database on first boot. They are ignored
	// once the providers table has rows; day-to-day changes go through the
	// admin API.
	Providers []ProviderSeed `koanf:"providers"`
	Models    []ModelSeed    `koanf:"models"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Path string `koanf:"path"`
}

type AdminConfig struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token"`
}

type UpstreamConfig struct {
	// Timeout bounds JSON provider calls; MediaTimeout bounds uploads.
	// Both are duration strings like "60s".
	Timeout      string `koanf:"timeout"`
	MediaTimeout string `koanf:"media_timeout"`
	// BlockPrivateNetworks refuses provider base URLs that resolve to
	// loopback, private, or link-local addresses.
	BlockPrivateNetworks bool `koanf:"block_private_networks"`
}

// TimeoutDuration parses Timeout, falling back to one minute.
func (u UpstreamConfig) TimeoutDuration() time.Duration {
	return parseDuration(u.Timeout, 60*time.Second)
}

// MediaTimeoutDuration parses MediaTimeout, falling back to five minutes.
func (u UpstreamConfig) MediaTimeoutDuration() time.Duration {
	return parseDuration(u.MediaTimeout, 5*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

type TelemetryConfig struct {
	TracingEnabled bool `koanf:"tracing_enabled"`
}

type ProviderSeed struct {
	Name    string `koanf:"name"`
	Kind    string `koanf:"kind"`
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
}

type ModelSeed struct {
	Name                string `koanf:"name"`
	Provider            string `koanf:"provider"`
	UpstreamModel       string `koanf:"upstream_model"`
	SupportsImageUpload bool   `koanf:"supports_image_upload"`
	SupportsVideoUpload bool   `koanf:"supports_video_upload"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the config file at path ("config.yaml" when empty) and overlays
// IPIN_* environment variables. IPIN_SERVER__PORT=9000 maps to server.port.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// A missing file is fine, env vars can carry the whole config.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("IPIN_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "IPIN_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.path") {
		k.Set("storage.path", "ipinproxy.db")
	}
	if !k.Exists("upstream.timeout") {
		k.Set("upstream.timeout", "60s")
	}
	if !k.Exists("upstream.media_timeout") {
		k.Set("upstream.media_timeout", "300s")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	// Substitute ${VAR} references in secrets.
	cfg.Admin.Token = substituteEnvVars(cfg.Admin.Token)
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
