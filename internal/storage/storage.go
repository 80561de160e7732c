// Package storage defines the persistence records and the Store interface
// the rest of the proxy programs against. The sqlite subpackage is the only
// implementation.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups for rows that do not exist.
var ErrNotFound = errors.New("storage: not found")

// Provider is a configured upstream endpoint row.
type Provider struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Kind      string    `db:"kind" json:"kind"`
	BaseURL   string    `db:"base_url" json:"base_url"`
	APIKey    string    `db:"api_key" json:"api_key,omitempty"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Model is a routable model row. Name is the public identifier; UpstreamModel
// is the provider-side name.
type Model struct {
	ID                  string    `db:"id" json:"id"`
	Name                string    `db:"name" json:"name"`
	ProviderID          string    `db:"provider_id" json:"provider_id"`
	UpstreamModel       string    `db:"upstream_model" json:"upstream_model"`
	SupportsImageUpload bool      `db:"supports_image_upload" json:"supports_image_upload"`
	SupportsVideoUpload bool      `db:"supports_video_upload" json:"supports_video_upload"`
	Enabled             bool      `db:"enabled" json:"enabled"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// User owns API keys.
type User struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email,omitempty"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// APIKey stores only the SHA-256 hash of a key, never the key itself.
// AllowedModels lists public model names the key may use; the single entry
// "*" grants every model.
type APIKey struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	KeyHash       string     `json:"-"`
	Label         string     `json:"label,omitempty"`
	AllowedModels []string   `json:"allowed_models"`
	Enabled       bool       `json:"enabled"`
	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

// UsageRecord is one proxied request's token accounting.
type UsageRecord struct {
	ID               string    `db:"id" json:"id"`
	APIKeyID         string    `db:"api_key_id" json:"api_key_id"`
	UserID           string    `db:"user_id" json:"user_id"`
	Model            string    `db:"model" json:"model"`
	ProviderID       string    `db:"provider_id" json:"provider_id"`
	Operation        string    `db:"operation" json:"operation"`
	PromptTokens     int       `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int       `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int       `db:"total_tokens" json:"total_tokens"`
	Estimated        bool      `db:"estimated" json:"estimated"`
	DurationMS       int64     `db:"duration_ms" json:"duration_ms"`
	Status           int       `db:"status" json:"status"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// ModelUsage is an aggregate row for the admin stats view.
type ModelUsage struct {
	Model        string `db:"model" json:"model"`
	Requests     int64  `db:"requests" json:"requests"`
	PromptTokens int64  `db:"prompt_tokens" json:"prompt_tokens"`
	TotalTokens  int64  `db:"total_tokens" json:"total_tokens"`
}

// Store is the persistence surface the server and admin API use.
type Store interface {
	CreateProvider(ctx context.Context, p *Provider) error
	GetProvider(ctx context.Context, id string) (*Provider, error)
	ListProviders(ctx context.Context) ([]Provider, error)
	UpdateProvider(ctx context.Context, p *Provider) error
	DeleteProvider(ctx context.Context, id string) error

	CreateModel(ctx context.Context, m *Model) error
	GetModel(ctx context.Context, id string) (*Model, error)
	ListModels(ctx context.Context) ([]Model, error)
	UpdateModel(ctx context.Context, m *Model) error
	DeleteModel(ctx context.Context, id string) error

	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error

	CreateAPIKey(ctx context.Context, k *APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error

	InsertUsage(ctx context.Context, rec *UsageRecord) error
	UsageByModel(ctx context.Context, since time.Time) ([]ModelUsage, error)
	ListUsage(ctx context.Context, since time.Time, limit int) ([]UsageRecord, error)

	Close() error
}
