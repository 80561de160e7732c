package runtime

import (
	"fmt"
	"log/slog"

	"github.com/syaikhipin/ipinproxy/internal/config"
	"github.com/syaikhipin/ipinproxy/internal/storage"
)

// Option configures a Gateway during New.
type Option func(*Gateway) error

// WithConfig supplies an already-loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		g.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file plus IPIN_*
// environment overrides.
func WithConfigFile(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithStore overrides the SQLite store the gateway would otherwise open
// from storage.path. The gateway takes ownership and closes it on Shutdown.
func WithStore(store storage.Store) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}
