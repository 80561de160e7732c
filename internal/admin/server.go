// Package admin exposes the management API and its embedded UI: provider,
// model, user and key administration plus usage statistics. It is mounted
// under /admin and guarded by a static bearer token.
package admin

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"io/fs"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/syaikhipin/ipinproxy/internal/storage"
)

//go:embed dist/*
var distFS embed.FS

// Reloader refreshes in-memory snapshots (route table, key set) from the
// store after an admin mutation.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ReloadFunc adapts a function to the Reloader interface.
type ReloadFunc func(ctx context.Context) error

func (f ReloadFunc) Reload(ctx context.Context) error { return f(ctx) }

// Server is the admin API handler. Mount it under /admin.
type Server struct {
	router    *chi.Mux
	store     storage.Store
	reloader  Reloader
	logger    *slog.Logger
	token     string
	startTime time.Time
	assets    fs.FS
}

// New builds the admin server. token must be non-empty; callers should not
// mount the admin surface at all when it is absent.
func New(token string, store storage.Store, reloader Reloader, logger *slog.Logger) *Server {
	assets, _ := fs.Sub(distFS, "dist")

	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		reloader:  reloader,
		logger:    logger,
		token:     token,
		startTime: time.Now(),
		assets:    assets,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/stats", s.handleStats)
		r.Get("/usage", s.handleUsage)

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", s.listProviders)
			r.Post("/", s.createProvider)
			r.Get("/{id}", s.getProvider)
			r.Put("/{id}", s.updateProvider)
			r.Delete("/{id}", s.deleteProvider)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", s.listModels)
			r.Post("/", s.createModel)
			r.Get("/{id}", s.getModel)
			r.Put("/{id}", s.updateModel)
			r.Delete("/{id}", s.deleteModel)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.listUsers)
			r.Post("/", s.createUser)
			r.Get("/{id}", s.getUser)
			r.Put("/{id}", s.updateUser)
			r.Delete("/{id}", s.deleteUser)
		})

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", s.listKeys)
			r.Post("/", s.createKey)
			r.Delete("/{id}", s.deleteKey)
		})
	})

	// Serve the embedded UI
	fileServer := http.FileServer(http.FS(s.assets))
	s.router.Handle("/*", http.StripPrefix("/admin", fileServer))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requireToken gates the API on the configured admin token.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if s.token == "" || !strings.HasPrefix(header, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, prefix)), []byte(s.token)) != 1 {
			writeErr(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reload refreshes the live snapshots after a mutation. The store is already
// updated at this point, so a failure leaves persisted state ahead of the
// running one and is surfaced as an error.
func (s *Server) reload(w http.ResponseWriter, r *http.Request) bool {
	if s.reloader == nil {
		return true
	}
	if err := s.reloader.Reload(r.Context()); err != nil {
		s.logger.Error("failed to reload snapshots", slog.String("error", err.Error()))
		writeErr(w, http.StatusInternalServerError, "saved, but reloading snapshots failed: "+err.Error())
		return false
	}
	return true
}

type statsResponse struct {
	Uptime       string               `json:"uptime"`
	GoVersion    string               `json:"go_version"`
	NumGoroutine int                  `json:"num_goroutine"`
	Memory       memoryStats          `json:"memory"`
	Usage        []storage.ModelUsage `json:"usage"`
}

type memoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

// handleStats reports process health plus per-model usage. The window
// defaults to the last 24 hours; ?since accepts a duration like 72h.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeErr(w, http.StatusBadRequest, "since must be a positive duration")
			return
		}
		window = d
	}

	usage, err := s.store.UsageByModel(r.Context(), time.Now().Add(-window))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeJSON(w, http.StatusOK, statsResponse{
		Uptime:       time.Since(s.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Memory: memoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		Usage: usage,
	})
}

// handleUsage lists raw usage records, newest first. Same ?since handling as
// stats; ?limit caps the page (default 200, max 1000).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeErr(w, http.StatusBadRequest, "since must be a positive duration")
			return
		}
		window = d
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.store.ListUsage(r.Context(), time.Now().Add(-window), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []storage.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"message": message}})
}
