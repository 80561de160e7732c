package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/syaikhipin/ipinproxy/internal/auth"
	"github.com/syaikhipin/ipinproxy/internal/storage"
	"github.com/syaikhipin/ipinproxy/internal/transform"
)

// storeErr maps storage errors onto admin API statuses.
func storeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeErr(w, http.StatusNotFound, err.Error())
		return
	}
	writeErr(w, http.StatusInternalServerError, err.Error())
}

func decodeInto(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// Providers

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.store.ListProviders(r.Context())
	if err != nil {
		storeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providers)
}

func (s *Server) createProvider(w http.ResponseWriter, r *http.Request) {
	var p storage.Provider
	if !decodeInto(w, r, &p) {
		return
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Name == "" || p.BaseURL == "" {
		writeErr(w, http.StatusBadRequest, "name and base_url are required")
		return
	}
	if _, err := transform.ForKind(transform.Kind(p.Kind)); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("unknown provider kind %q", p.Kind))
		return
	}
	if err := s.store.CreateProvider(r.Context(), &p); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProvider(w http.ResponseWriter, r *http.Request) {
	var p storage.Provider
	if !decodeInto(w, r, &p) {
		return
	}
	p.ID = chi.URLParam(r, "id")
	if _, err := transform.ForKind(transform.Kind(p.Kind)); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Sprintf("unknown provider kind %q", p.Kind))
		return
	}
	if err := s.store.UpdateProvider(r.Context(), &p); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) deleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProvider(r.Context(), chi.URLParam(r, "id")); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Models

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListModels(r.Context())
	if err != nil {
		storeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) createModel(w http.ResponseWriter, r *http.Request) {
	var m storage.Model
	if !decodeInto(w, r, &m) {
		return
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Name == "" || m.ProviderID == "" || m.UpstreamModel == "" {
		writeErr(w, http.StatusBadRequest, "name, provider_id and upstream_model are required")
		return
	}
	if _, err := s.store.GetProvider(r.Context(), m.ProviderID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErr(w, http.StatusBadRequest, fmt.Sprintf("provider %q does not exist", m.ProviderID))
			return
		}
		storeErr(w, err)
		return
	}
	if err := s.store.CreateModel(r.Context(), &m); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) updateModel(w http.ResponseWriter, r *http.Request) {
	var m storage.Model
	if !decodeInto(w, r, &m) {
		return
	}
	m.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateModel(r.Context(), &m); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Users

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		storeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var u storage.User
	if !decodeInto(w, r, &u) {
		return
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Name == "" {
		writeErr(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.store.CreateUser(r.Context(), &u); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var u storage.User
	if !decodeInto(w, r, &u) {
		return
	}
	u.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateUser(r.Context(), &u); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Keys

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListAPIKeys(r.Context())
	if err != nil {
		storeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// createKeyRequest is the creation payload; the key itself is generated
// server-side.
type createKeyRequest struct {
	UserID        string   `json:"user_id"`
	Label         string   `json:"label"`
	AllowedModels []string `json:"allowed_models"`
}

// createKeyResponse carries the plaintext key exactly once.
type createKeyResponse struct {
	storage.APIKey
	Key string `json:"key"`
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !decodeInto(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeErr(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if _, err := s.store.GetUser(r.Context(), req.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErr(w, http.StatusBadRequest, fmt.Sprintf("user %q does not exist", req.UserID))
			return
		}
		storeErr(w, err)
		return
	}

	plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	key := storage.APIKey{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		KeyHash:       auth.HashAPIKey(plaintext),
		Label:         req.Label,
		AllowedModels: req.AllowedModels,
		Enabled:       true,
	}
	if err := s.store.CreateAPIKey(r.Context(), &key); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	writeJSON(w, http.StatusCreated, createKeyResponse{APIKey: key, Key: plaintext})
}

func (s *Server) deleteKey(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAPIKey(r.Context(), chi.URLParam(r, "id")); err != nil {
		storeErr(w, err)
		return
	}
	if !s.reload(w, r) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
