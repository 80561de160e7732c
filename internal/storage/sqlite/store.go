// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/syaikhipin/ipinproxy/internal/storage"
)

// Store is the SQLite implementation of storage.Store.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS providers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			base_url TEXT NOT NULL,
			api_key TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			provider_id TEXT NOT NULL,
			upstream_model TEXT NOT NULL,
			supports_image_upload INTEGER NOT NULL DEFAULT 0,
			supports_video_upload INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			FOREIGN KEY (provider_id) REFERENCES providers(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			label TEXT NOT NULL DEFAULT '',
			allowed_models TEXT NOT NULL DEFAULT '["*"]',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS usage_log (
			id TEXT PRIMARY KEY,
			api_key_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			model TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			estimated INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			status INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_models_provider ON models(provider_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_log_model ON usage_log(model, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_log_key ON usage_log(api_key_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func (s *Store) CreateProvider(ctx context.Context, p *storage.Provider) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (id, name, kind, base_url, api_key, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Kind, p.BaseURL, p.APIKey, p.Enabled, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

func (s *Store) GetProvider(ctx context.Context, id string) (*storage.Provider, error) {
	var p storage.Provider
	err := s.db.GetContext(ctx, &p, `SELECT * FROM providers WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, notFound("provider", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &p, nil
}

func (s *Store) ListProviders(ctx context.Context) ([]storage.Provider, error) {
	var out []storage.Provider
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateProvider(ctx context.Context, p *storage.Provider) error {
	p.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET name = ?, kind = ?, base_url = ?, api_key = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, p.Kind, p.BaseURL, p.APIKey, p.Enabled, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	return requireRow(res, "provider", p.ID)
}

func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	return requireRow(res, "provider", id)
}

func (s *Store) CreateModel(ctx context.Context, m *storage.Model) error {
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO models (id, name, provider_id, upstream_model, supports_image_upload,
			supports_video_upload, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.ProviderID, m.UpstreamModel, m.SupportsImageUpload,
		m.SupportsVideoUpload, m.Enabled, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}
	return nil
}

func (s *Store) GetModel(ctx context.Context, id string) (*storage.Model, error) {
	var m storage.Model
	err := s.db.GetContext(ctx, &m, `SELECT * FROM models WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, notFound("model", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &m, nil
}

func (s *Store) ListModels(ctx context.Context) ([]storage.Model, error) {
	var out []storage.Model
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM models ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateModel(ctx context.Context, m *storage.Model) error {
	m.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE models SET name = ?, provider_id = ?, upstream_model = ?, supports_image_upload = ?,
			supports_video_upload = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		m.Name, m.ProviderID, m.UpstreamModel, m.SupportsImageUpload,
		m.SupportsVideoUpload, m.Enabled, m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update model: %w", err)
	}
	return requireRow(res, "model", m.ID)
}

func (s *Store) DeleteModel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	return requireRow(res, "model", id)
}

func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.Enabled, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*storage.User, error) {
	var u storage.User
	err := s.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]storage.User, error) {
	var out []storage.User
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM users ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateUser(ctx context.Context, u *storage.User) error {
	u.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, email = ?, enabled = ?, updated_at = ? WHERE id = ?`,
		u.Name, u.Email, u.Enabled, u.UpdatedAt, u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(res, "user", u.ID)
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireRow(res, "user", id)
}

// keyRow is the api_keys row shape; allowed_models is JSON in a TEXT column.
type keyRow struct {
	ID            string       `db:"id"`
	UserID        string       `db:"user_id"`
	KeyHash       string       `db:"key_hash"`
	Label         string       `db:"label"`
	AllowedModels string       `db:"allowed_models"`
	Enabled       bool         `db:"enabled"`
	CreatedAt     time.Time    `db:"created_at"`
	LastUsedAt    sql.NullTime `db:"last_used_at"`
}

func (r keyRow) toAPIKey() (storage.APIKey, error) {
	k := storage.APIKey{
		ID:        r.ID,
		UserID:    r.UserID,
		KeyHash:   r.KeyHash,
		Label:     r.Label,
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
	}
	if r.LastUsedAt.Valid {
		t := r.LastUsedAt.Time
		k.LastUsedAt = &t
	}
	if err := json.Unmarshal([]byte(r.AllowedModels), &k.AllowedModels); err != nil {
		return k, fmt.Errorf("failed to unmarshal allowed models: %w", err)
	}
	return k, nil
}

func (s *Store) CreateAPIKey(ctx context.Context, k *storage.APIKey) error {
	k.CreatedAt = time.Now().UTC()
	if len(k.AllowedModels) == 0 {
		k.AllowedModels = []string{"*"}
	}
	allowed, err := json.Marshal(k.AllowedModels)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed models: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, key_hash, label, allowed_models, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.UserID, k.KeyHash, k.Label, string(allowed), k.Enabled, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKey(ctx context.Context, id string) (*storage.APIKey, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM api_keys WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, notFound("api key", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	k, err := row.toAPIKey()
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]storage.APIKey, error) {
	var rows []keyRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}

	out := make([]storage.APIKey, 0, len(rows))
	for _, row := range rows {
		k, err := row.toAPIKey()
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return requireRow(res, "api key", id)
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

func (s *Store) InsertUsage(ctx context.Context, rec *storage.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (id, api_key_id, user_id, model, provider_id, operation,
			prompt_tokens, completion_tokens, total_tokens, estimated, duration_ms, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.APIKeyID, rec.UserID, rec.Model, rec.ProviderID, rec.Operation,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.Estimated,
		rec.DurationMS, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

func (s *Store) UsageByModel(ctx context.Context, since time.Time) ([]storage.ModelUsage, error) {
	var out []storage.ModelUsage
	err := s.db.SelectContext(ctx, &out,
		`SELECT model, COUNT(*) AS requests,
			SUM(prompt_tokens) AS prompt_tokens, SUM(total_tokens) AS total_tokens
		 FROM usage_log WHERE created_at >= ?
		 GROUP BY model ORDER BY total_tokens DESC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	return out, nil
}

func (s *Store) ListUsage(ctx context.Context, since time.Time, limit int) ([]storage.UsageRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var out []storage.UsageRecord
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM usage_log WHERE created_at >= ?
		 ORDER BY created_at DESC LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return out, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}
