package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/syaikhipin/ipinproxy/internal/storage"
)

func TestProviderCRUD(t *testing.T) {
	store, err := New("file:memdb1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	p := &storage.Provider{
		ID:      "prov-1",
		Name:    "openrouter",
		Kind:    "openai",
		BaseURL: "https://openrouter.example/api/v1",
		APIKey:  "sk-upstream",
		Enabled: true,
	}
	if err := store.CreateProvider(ctx, p); err != nil {
		t.Fatalf("CreateProvider() error = %v", err)
	}

	got, err := store.GetProvider(ctx, "prov-1")
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if got.Name != "openrouter" || got.Kind != "openai" || !got.Enabled {
		t.Errorf("GetProvider() = %+v, want created values", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on create")
	}

	got.BaseURL = "https://openrouter.example/api/v2"
	got.Enabled = false
	if err := store.UpdateProvider(ctx, got); err != nil {
		t.Fatalf("UpdateProvider() error = %v", err)
	}
	got2, err := store.GetProvider(ctx, "prov-1")
	if err != nil {
		t.Fatalf("GetProvider() after update error = %v", err)
	}
	if got2.BaseURL != "https://openrouter.example/api/v2" || got2.Enabled {
		t.Errorf("update not persisted: %+v", got2)
	}

	if err := store.DeleteProvider(ctx, "prov-1"); err != nil {
		t.Fatalf("DeleteProvider() error = %v", err)
	}
	if _, err := store.GetProvider(ctx, "prov-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetProvider() after delete error = %v, want ErrNotFound", err)
	}
}

func TestNotFoundErrors(t *testing.T) {
	store, err := New("file:memdb2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, err := store.GetModel(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetModel(ghost) error = %v, want ErrNotFound", err)
	}
	if err := store.UpdateUser(ctx, &storage.User{ID: "ghost"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateUser(ghost) error = %v, want ErrNotFound", err)
	}
	if err := store.DeleteAPIKey(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("DeleteAPIKey(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestModelsListOrdering(t *testing.T) {
	store, err := New("file:memdb3?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	prov := &storage.Provider{ID: "p1", Name: "hf", Kind: "huggingface", BaseURL: "https://hf.example", Enabled: true}
	if err := store.CreateProvider(ctx, prov); err != nil {
		t.Fatalf("CreateProvider() error = %v", err)
	}

	for _, m := range []storage.Model{
		{ID: "m2", Name: "zephyr", ProviderID: "p1", UpstreamModel: "H4/zephyr", Enabled: true},
		{ID: "m1", Name: "mistral", ProviderID: "p1", UpstreamModel: "mistralai/Mistral-7B", Enabled: true, SupportsImageUpload: true},
	} {
		m := m
		if err := store.CreateModel(ctx, &m); err != nil {
			t.Fatalf("CreateModel(%s) error = %v", m.Name, err)
		}
	}

	models, err := store.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	if models[0].Name != "mistral" || models[1].Name != "zephyr" {
		t.Errorf("order = [%s %s], want sorted by name", models[0].Name, models[1].Name)
	}
	if !models[0].SupportsImageUpload {
		t.Error("SupportsImageUpload lost in round trip")
	}
}

func TestAPIKeyAllowedModels(t *testing.T) {
	store, err := New("file:memdb4?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	user := &storage.User{ID: "u1", Name: "dev", Enabled: true}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	key := &storage.APIKey{
		ID:            "k1",
		UserID:        "u1",
		KeyHash:       "abc123",
		Label:         "laptop",
		AllowedModels: []string{"gpt-4o", "mistral"},
		Enabled:       true,
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}

	got, err := store.GetAPIKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetAPIKey() error = %v", err)
	}
	if len(got.AllowedModels) != 2 || got.AllowedModels[0] != "gpt-4o" {
		t.Errorf("AllowedModels = %v, want round-tripped list", got.AllowedModels)
	}
	if got.LastUsedAt != nil {
		t.Error("LastUsedAt set before first use")
	}

	// Empty list defaults to the wildcard.
	wild := &storage.APIKey{ID: "k2", UserID: "u1", KeyHash: "def456", Enabled: true}
	if err := store.CreateAPIKey(ctx, wild); err != nil {
		t.Fatalf("CreateAPIKey() error = %v", err)
	}
	gotWild, err := store.GetAPIKey(ctx, "k2")
	if err != nil {
		t.Fatalf("GetAPIKey() error = %v", err)
	}
	if len(gotWild.AllowedModels) != 1 || gotWild.AllowedModels[0] != "*" {
		t.Errorf("AllowedModels = %v, want [*]", gotWild.AllowedModels)
	}

	at := time.Now().UTC()
	if err := store.TouchAPIKey(ctx, "k1", at); err != nil {
		t.Fatalf("TouchAPIKey() error = %v", err)
	}
	touched, err := store.GetAPIKey(ctx, "k1")
	if err != nil {
		t.Fatalf("GetAPIKey() after touch error = %v", err)
	}
	if touched.LastUsedAt == nil {
		t.Fatal("LastUsedAt still nil after touch")
	}
}

func TestUsageAggregation(t *testing.T) {
	store, err := New("file:memdb5?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	base := time.Now().UTC()
	records := []storage.UsageRecord{
		{ID: "r1", APIKeyID: "k1", UserID: "u1", Model: "gpt-4o", ProviderID: "p1", Operation: "chat",
			PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Status: 200, CreatedAt: base},
		{ID: "r2", APIKeyID: "k1", UserID: "u1", Model: "gpt-4o", ProviderID: "p1", Operation: "chat",
			PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30, Status: 200, CreatedAt: base},
		{ID: "r3", APIKeyID: "k2", UserID: "u2", Model: "mistral", ProviderID: "p2", Operation: "chat",
			PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2, Estimated: true, Status: 200, CreatedAt: base},
		{ID: "r4", APIKeyID: "k1", UserID: "u1", Model: "old", ProviderID: "p1", Operation: "chat",
			TotalTokens: 99, Status: 200, CreatedAt: base.Add(-48 * time.Hour)},
	}
	for _, rec := range records {
		rec := rec
		if err := store.InsertUsage(ctx, &rec); err != nil {
			t.Fatalf("InsertUsage(%s) error = %v", rec.ID, err)
		}
	}

	usage, err := store.UsageByModel(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("UsageByModel() error = %v", err)
	}
	if len(usage) != 2 {
		t.Fatalf("len(usage) = %d, want 2 (old row excluded)", len(usage))
	}
	if usage[0].Model != "gpt-4o" || usage[0].Requests != 2 || usage[0].TotalTokens != 45 {
		t.Errorf("usage[0] = %+v, want gpt-4o with 2 requests and 45 tokens", usage[0])
	}
	if usage[1].Model != "mistral" || usage[1].TotalTokens != 2 {
		t.Errorf("usage[1] = %+v, want mistral with 2 tokens", usage[1])
	}

	listed, err := store.ListUsage(ctx, base.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("ListUsage() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("len(listed) = %d, want 2 (limit applied)", len(listed))
	}
	for _, rec := range listed {
		if rec.Model == "old" {
			t.Errorf("ListUsage() returned row outside window: %+v", rec)
		}
	}

	all, err := store.ListUsage(ctx, base.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("ListUsage() with default limit error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}
