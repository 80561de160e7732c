package registry

import (
	"errors"
	"testing"

	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/transform"
)

func testTable() ([]Provider, []Model) {
	providers := []Provider{
		{ID: "p1", Name: "openrouter", Kind: transform.KindOpenAI, BaseURL: "https://or.example/v1", Enabled: true},
		{ID: "p2", Name: "hf", Kind: transform.KindHuggingFace, BaseURL: "https://hf.example/models/x", Enabled: true},
		{ID: "p3", Name: "dark", Kind: transform.KindOpenAI, BaseURL: "https://dark.example/v1", Enabled: false},
	}
	models := []Model{
		{ID: "m1", Name: "gpt-4o", ProviderID: "p1", UpstreamModel: "openai/gpt-4o", Enabled: true, SupportsImageUpload: true},
		{ID: "m2", Name: "mistral-7b", ProviderID: "p2", UpstreamModel: "mistralai/Mistral-7B", Enabled: true},
		{ID: "m3", Name: "retired", ProviderID: "p1", UpstreamModel: "x", Enabled: false},
		{ID: "m4", Name: "shadow", ProviderID: "p3", UpstreamModel: "y", Enabled: true},
	}
	return providers, models
}

func TestResolveModel(t *testing.T) {
	r := New()
	providers, models := testTable()
	if err := r.Load(providers, models); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name    string
		lookup  string
		wantUp  string
		wantErr bool
	}{
		{"by public name", "gpt-4o", "openai/gpt-4o", false},
		{"by id", "m2", "mistralai/Mistral-7B", false},
		{"unknown", "nope", "", true},
		{"disabled model", "retired", "", true},
		{"disabled provider", "shadow", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, p, err := r.ResolveModel(tt.lookup)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ResolveModel(%q) error = nil, want not found", tt.lookup)
				}
				var apiErr *domain.APIError
				if !errors.As(err, &apiErr) || apiErr.Code != domain.ErrorCodeModelNotFound {
					t.Errorf("error = %v, want code %q", err, domain.ErrorCodeModelNotFound)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveModel(%q) error = %v", tt.lookup, err)
			}
			if m.UpstreamModel != tt.wantUp {
				t.Errorf("UpstreamModel = %q, want %q", m.UpstreamModel, tt.wantUp)
			}
			if p.ID != m.ProviderID {
				t.Errorf("provider id = %q, want %q", p.ID, m.ProviderID)
			}
		})
	}
}

func TestLoadRejectsDanglingProvider(t *testing.T) {
	r := New()
	err := r.Load(nil, []Model{{ID: "m1", Name: "x", ProviderID: "ghost"}})
	if err == nil {
		t.Fatal("Load() error = nil, want dangling reference error")
	}
}

func TestListOnlyEnabled(t *testing.T) {
	r := New()
	providers, models := testTable()
	if err := r.Load(providers, models); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got := r.List()
	if len(got) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(got))
	}
	if got[0].Name != "gpt-4o" || got[1].Name != "mistral-7b" {
		t.Errorf("List() order = [%s %s], want sorted by name", got[0].Name, got[1].Name)
	}

	list := r.ModelList()
	if list.Object != "list" {
		t.Errorf("Object = %q, want list", list.Object)
	}
	if len(list.Data) != 2 || list.Data[0].ID != "gpt-4o" {
		t.Errorf("ModelList() data = %v, want public names", list.Data)
	}
}

func TestLoadReplacesSnapshot(t *testing.T) {
	r := New()
	providers, models := testTable()
	if err := r.Load(providers, models); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := r.Load(providers[:1], models[:1]); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}

	if _, _, err := r.ResolveModel("mistral-7b"); err == nil {
		t.Error("stale model still resolves after reload")
	}
	if _, _, err := r.ResolveModel("gpt-4o"); err != nil {
		t.Errorf("surviving model lost after reload: %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	m := Model{ProviderID: "p1", SupportsImageUpload: true}
	caps := m.Capabilities()
	if !caps.SupportsImageUpload || caps.SupportsVideoUpload {
		t.Errorf("Capabilities() = %+v, want image only", caps)
	}
}
