// Package registry holds the routing table: which public model names exist,
// which provider serves each one, and what the provider-side model name is.
// The table is rebuilt wholesale on every load so readers always see a
// consistent snapshot.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/transform"
)

// Provider is a configured upstream endpoint.
type Provider struct {
	ID      string
	Name    string
	Kind    transform.Kind
	BaseURL string
	APIKey  string
	Enabled bool
}

// Model maps a public model name onto a provider. Name is what callers put
// in requests; UpstreamModel is what gets sent to the provider.
type Model struct {
	ID                  string
	Name                string
	ProviderID          string
	UpstreamModel       string
	SupportsImageUpload bool
	SupportsVideoUpload bool
	Enabled             bool
}

// Capabilities returns the media capability record for the model.
func (m Model) Capabilities() domain.ModelCapabilities {
	return domain.ModelCapabilities{
		ProviderID:          m.ProviderID,
		SupportsImageUpload: m.SupportsImageUpload,
		SupportsVideoUpload: m.SupportsVideoUpload,
	}
}

type snapshot struct {
	providers map[string]Provider
	byID      map[string]Model
	byName    map[string]Model
	listing   []Model
}

// Registry resolves model names to providers. Load replaces the whole table
// at once; lookups run against whichever snapshot was current when they
// started.
type Registry struct {
	mu   sync.RWMutex
	snap snapshot
}

func New() *Registry {
	return &Registry{snap: snapshot{
		providers: map[string]Provider{},
		byID:      map[string]Model{},
		byName:    map[string]Model{},
	}}
}

// Load validates and installs a new routing table. Every model must point at
// a provider in the same load; a dangling reference rejects the whole table.
func (r *Registry) Load(providers []Provider, models []Model) error {
	snap := snapshot{
		providers: make(map[string]Provider, len(providers)),
		byID:      make(map[string]Model, len(models)),
		byName:    make(map[string]Model, len(models)),
	}
	for _, p := range providers {
		if p.ID == "" {
			return fmt.Errorf("provider %q has no id", p.Name)
		}
		snap.providers[p.ID] = p
	}
	for _, m := range models {
		p, ok := snap.providers[m.ProviderID]
		if !ok {
			return fmt.Errorf("model %q references unknown provider %q", m.Name, m.ProviderID)
		}
		snap.byID[m.ID] = m
		snap.byName[m.Name] = m
		if m.Enabled && p.Enabled {
			snap.listing = append(snap.listing, m)
		}
	}
	sort.Slice(snap.listing, func(i, j int) bool { return snap.listing[i].Name < snap.listing[j].Name })

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()
	return nil
}

// ResolveModel finds the model a request names, by id or by public name.
// Disabled models, and models on disabled providers, resolve as not found.
func (r *Registry) ResolveModel(name string) (Model, Provider, error) {
	r.mu.RLock()
	snap := r.snap
	r.mu.RUnlock()

	m, ok := snap.byID[name]
	if !ok {
		m, ok = snap.byName[name]
	}
	if !ok || !m.Enabled {
		return Model{}, Provider{}, domain.ErrModelNotFound(name)
	}
	p, ok := snap.providers[m.ProviderID]
	if !ok || !p.Enabled {
		return Model{}, Provider{}, domain.ErrModelNotFound(name)
	}
	return m, p, nil
}

// Provider returns a provider by id.
func (r *Registry) Provider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snap.providers[id]
	return p, ok
}

// List returns the enabled models on enabled providers, sorted by name.
func (r *Registry) List() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, len(r.snap.listing))
	copy(out, r.snap.listing)
	return out
}

// ModelList renders the listing in the wire shape of GET /v1/models.
func (r *Registry) ModelList() domain.ModelList {
	models := r.List()
	list := domain.ModelList{Object: "list", Data: make([]domain.ModelInfo, 0, len(models))}
	for _, m := range models {
		list.Data = append(list.Data, domain.ModelInfo{
			ID:      m.Name,
			Object:  "model",
			OwnedBy: m.ProviderID,
		})
	}
	return list
}
