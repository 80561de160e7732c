// Package runtime assembles the proxy from its parts and manages the
// process lifecycle: open storage, seed it on first boot, build the
// routing and auth snapshots, serve, shut down.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/syaikhipin/ipinproxy/internal/admin"
	"github.com/syaikhipin/ipinproxy/internal/auth"
	"github.com/syaikhipin/ipinproxy/internal/config"
	"github.com/syaikhipin/ipinproxy/internal/registry"
	"github.com/syaikhipin/ipinproxy/internal/server"
	"github.com/syaikhipin/ipinproxy/internal/storage"
	"github.com/syaikhipin/ipinproxy/internal/storage/sqlite"
	"github.com/syaikhipin/ipinproxy/internal/tokens"
	"github.com/syaikhipin/ipinproxy/internal/transform"
	"github.com/syaikhipin/ipinproxy/internal/upstream"
)

// Gateway owns every long-lived component of the proxy. It can be embedded
// in a larger program or run standalone from cmd/ipinproxy.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	store    storage.Store
	registry *registry.Registry
	auth     *auth.Authenticator
	server   *server.Server

	mu      sync.Mutex
	started bool
}

var _ admin.Reloader = (*Gateway)(nil)

// New builds a Gateway from the given options. Configuration is required;
// the logger defaults to slog.Default() and storage to the SQLite file
// named in the config.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if g.cfg == nil {
		return nil, fmt.Errorf("config required (use WithConfig or WithConfigFile)")
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	if g.store == nil {
		store, err := sqlite.New(g.cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		g.store = store
	}

	transform.RegisterDefaults()

	tok := tokens.NewRegistry()
	tok.Register(tokens.NewOpenAICounter())

	g.registry = registry.New()
	g.auth = auth.NewAuthenticator()

	clientOpts := []upstream.ClientOption{upstream.WithTimeout(g.cfg.Upstream.TimeoutDuration())}
	mediaOpts := []upstream.ClientOption{upstream.WithTimeout(g.cfg.Upstream.MediaTimeoutDuration())}
	if g.cfg.Upstream.BlockPrivateNetworks {
		clientOpts = append(clientOpts, upstream.WithPrivateNetworkGuard())
		mediaOpts = append(mediaOpts, upstream.WithPrivateNetworkGuard())
	}
	client := upstream.NewClient(clientOpts...)
	mediaClient := upstream.NewClient(mediaOpts...)

	handlers := server.NewHandlers(g.registry, tok, g.store, client, mediaClient, g.logger)
	g.server = server.New(server.Options{
		Port:          g.cfg.Server.Port,
		Logger:        g.logger,
		Authenticator: g.auth,
		Handlers:      handlers,
		Timeout:       g.cfg.Upstream.TimeoutDuration(),
		MediaTimeout:  g.cfg.Upstream.MediaTimeoutDuration(),
	})

	if g.cfg.Admin.Enabled {
		if g.cfg.Admin.Token == "" {
			g.logger.Warn("admin API enabled but no token configured, not mounting it")
		} else {
			g.server.Router.Mount("/admin", admin.New(g.cfg.Admin.Token, g.store, g, g.logger))
		}
	}

	return g, nil
}

// Start seeds storage on first boot, loads the initial snapshots, and
// starts the HTTP listener in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return fmt.Errorf("gateway already started")
	}

	if err := g.seed(ctx); err != nil {
		return fmt.Errorf("seed storage: %w", err)
	}
	if err := g.Reload(ctx); err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}

	go func() {
		if err := g.server.Start(); err != nil {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	g.started = true
	g.logger.Info("gateway started", slog.Int("port", g.cfg.Server.Port))
	return nil
}

// Shutdown drains the HTTP server and closes storage.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.Error("failed to shut down server", slog.String("error", err.Error()))
		firstErr = err
	}
	if err := g.store.Close(); err != nil {
		g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Reload rebuilds the routing table and API key snapshot from storage.
// The admin API calls this after every mutation; a failed load leaves the
// previous snapshots serving.
func (g *Gateway) Reload(ctx context.Context) error {
	provRecs, err := g.store.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	modelRecs, err := g.store.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	providers := make([]registry.Provider, 0, len(provRecs))
	for _, p := range provRecs {
		providers = append(providers, registry.Provider{
			ID:      p.ID,
			Name:    p.Name,
			Kind:    transform.Kind(p.Kind),
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Enabled: p.Enabled,
		})
	}
	models := make([]registry.Model, 0, len(modelRecs))
	for _, m := range modelRecs {
		models = append(models, registry.Model{
			ID:                  m.ID,
			Name:                m.Name,
			ProviderID:          m.ProviderID,
			UpstreamModel:       m.UpstreamModel,
			SupportsImageUpload: m.SupportsImageUpload,
			SupportsVideoUpload: m.SupportsVideoUpload,
			Enabled:             m.Enabled,
		})
	}
	if err := g.registry.Load(providers, models); err != nil {
		return fmt.Errorf("load routing table: %w", err)
	}

	users, err := g.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	keys, err := g.store.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list API keys: %w", err)
	}
	g.auth.Load(users, keys)

	g.logger.Info("snapshots reloaded",
		slog.Int("providers", len(providers)),
		slog.Int("models", len(models)),
		slog.Int("keys", len(keys)))
	return nil
}

// seed inserts the config file's providers and models, but only into an
// empty database. Once the providers table has rows the admin API owns
// them and the config seeds are ignored.
func (g *Gateway) seed(ctx context.Context) error {
	if len(g.cfg.Providers) == 0 {
		return nil
	}

	existing, err := g.store.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("list providers: %w", err)
	}
	if len(existing) > 0 {
		g.logger.Debug("providers already present, ignoring config seeds")
		return nil
	}

	ids := make(map[string]string, len(g.cfg.Providers))
	for _, seed := range g.cfg.Providers {
		if _, err := transform.ForKind(transform.Kind(seed.Kind)); err != nil {
			return fmt.Errorf("provider %q: unknown kind %q", seed.Name, seed.Kind)
		}
		p := &storage.Provider{
			ID:      uuid.New().String(),
			Name:    seed.Name,
			Kind:    seed.Kind,
			BaseURL: seed.BaseURL,
			APIKey:  seed.APIKey,
			Enabled: true,
		}
		if err := g.store.CreateProvider(ctx, p); err != nil {
			return fmt.Errorf("provider %q: %w", seed.Name, err)
		}
		ids[seed.Name] = p.ID
	}
	for _, seed := range g.cfg.Models {
		providerID, ok := ids[seed.Provider]
		if !ok {
			return fmt.Errorf("model %q references unknown provider %q", seed.Name, seed.Provider)
		}
		m := &storage.Model{
			ID:                  uuid.New().String(),
			Name:                seed.Name,
			ProviderID:          providerID,
			UpstreamModel:       seed.UpstreamModel,
			SupportsImageUpload: seed.SupportsImageUpload,
			SupportsVideoUpload: seed.SupportsVideoUpload,
			Enabled:             true,
		}
		if err := g.store.CreateModel(ctx, m); err != nil {
			return fmt.Errorf("model %q: %w", seed.Name, err)
		}
	}

	g.logger.Info("seeded storage from config",
		slog.Int("providers", len(g.cfg.Providers)),
		slog.Int("models", len(g.cfg.Models)))
	return nil
}
