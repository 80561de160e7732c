package server

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/syaikhipin/ipinproxy/internal/auth"
	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/media"
	"github.com/syaikhipin/ipinproxy/internal/normalize"
	"github.com/syaikhipin/ipinproxy/internal/registry"
	"github.com/syaikhipin/ipinproxy/internal/storage"
	"github.com/syaikhipin/ipinproxy/internal/tokens"
	"github.com/syaikhipin/ipinproxy/internal/transform"
	"github.com/syaikhipin/ipinproxy/internal/upstream"
)

// Handlers serves the OpenAI-compatible API surface.
type Handlers struct {
	registry    *registry.Registry
	tokens      *tokens.Registry
	store       storage.Store
	client      *upstream.Client
	mediaClient *upstream.Client
	logger      *slog.Logger
}

// NewHandlers wires the proxy handlers. client bounds JSON provider calls;
// mediaClient carries uploads and streaming responses, which run longer. A
// nil store disables usage accounting.
func NewHandlers(reg *registry.Registry, tok *tokens.Registry, store storage.Store, client, mediaClient *upstream.Client, logger *slog.Logger) *Handlers {
	return &Handlers{
		registry:    reg,
		tokens:      tok,
		store:       store,
		client:      client,
		mediaClient: mediaClient,
		logger:      logger,
	}
}

// route is the resolved call context for one request.
type route struct {
	model    registry.Model
	provider registry.Provider
	target   upstream.Target
	tr       transform.Transformer
}

// resolve maps a public model name to its provider route, enforcing the
// caller's model allowlist first so unlisted models are indistinguishable
// from unconfigured ones.
func (h *Handlers) resolve(r *http.Request, name string) (route, error) {
	if id := auth.IdentityFrom(r.Context()); id != nil && !id.Allows(name) {
		return route{}, domain.ErrModelNotAllowed(name)
	}

	model, provider, err := h.registry.ResolveModel(name)
	if err != nil {
		return route{}, err
	}

	tr, err := transform.ForKind(provider.Kind)
	if err != nil {
		return route{}, domain.ErrServer(err.Error())
	}

	AddLogField(r.Context(), "provider", provider.ID)
	AddLogField(r.Context(), "upstream_model", model.UpstreamModel)

	return route{
		model:    model,
		provider: provider,
		target:   upstream.Target{BaseURL: provider.BaseURL, APIKey: provider.APIKey},
		tr:       tr,
	}, nil
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handlers) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrInvalidRequest("invalid JSON body"))
		return
	}
	if req.Model == "" {
		writeError(w, r, domain.ErrInvalidRequest("model is required").WithParam("model"))
		return
	}
	AddLogField(r.Context(), "requested_model", req.Model)

	rt, err := h.resolve(r, req.Model)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if apiErr := media.CheckCapabilities(req.Model, rt.model.Capabilities(), req.Messages); apiErr != nil {
		writeError(w, r, apiErr)
		return
	}

	if rt.model.SupportsImageUpload {
		msgs, err := transform.RewriteVision(req.Messages)
		if err != nil {
			writeError(w, r, err)
			return
		}
		req.Messages = msgs
	}

	// Providers that cannot relay SSE get a regular completion instead.
	if req.Stream && !transform.SupportsStreaming(rt.tr) {
		req.Stream = false
	}

	treq, err := rt.tr.ChatRequest(req, rt.model.UpstreamModel)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.Stream {
		h.streamChat(w, r, req, rt, treq, start)
		return
	}

	body, err := h.client.Do(r.Context(), rt.target, treq)
	if err != nil {
		h.recordUsage(r, usageEntry{
			Model:      req.Model,
			ProviderID: rt.provider.ID,
			Operation:  "chat",
			Status:     toAPIError(err).HTTPStatusCode(),
			Duration:   time.Since(start),
		})
		writeError(w, r, err)
		return
	}

	resp := normalize.FromBytes(body, req.Model)

	usage := resp.Usage
	estimated := false
	if usage == (domain.Usage{}) {
		prompt, _ := h.tokens.CountMessages(req.Model, req.Messages)
		completion := 0
		if len(resp.Choices) > 0 {
			completion, _ = h.tokens.CountText(req.Model, resp.Choices[0].Message.Content)
		}
		usage = domain.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}
		estimated = true
	}

	h.recordUsage(r, usageEntry{
		Model:      req.Model,
		ProviderID: rt.provider.ID,
		Operation:  "chat",
		Usage:      usage,
		Estimated:  estimated,
		Status:     http.StatusOK,
		Duration:   time.Since(start),
	})

	writeJSON(w, http.StatusOK, resp)
}

// streamChat relays the provider's SSE stream to the caller line by line.
// Completion tokens are unknown for streams, so only the prompt side is
// estimated for accounting.
func (h *Handlers) streamChat(w http.ResponseWriter, r *http.Request, req domain.ChatRequest, rt route, treq transform.Request, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, domain.ErrServer("streaming is not supported by this connection"))
		return
	}

	rc, err := h.mediaClient.Stream(r.Context(), rt.target, treq)
	if err != nil {
		h.recordUsage(r, usageEntry{
			Model:      req.Model,
			ProviderID: rt.provider.ID,
			Operation:  "chat",
			Status:     toAPIError(err).HTTPStatusCode(),
			Duration:   time.Since(start),
		})
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if _, err := io.WriteString(w, scanner.Text()+"\n"); err != nil {
			AddError(r.Context(), err)
			break
		}
		flusher.Flush()
	}
	if err := scanner.Err(); err != nil {
		AddError(r.Context(), err)
	}

	prompt, _ := h.tokens.CountMessages(req.Model, req.Messages)
	h.recordUsage(r, usageEntry{
		Model:      req.Model,
		ProviderID: rt.provider.ID,
		Operation:  "chat",
		Usage:      domain.Usage{PromptTokens: prompt, TotalTokens: prompt},
		Estimated:  true,
		Status:     http.StatusOK,
		Duration:   time.Since(start),
	})
}

// ListModels handles GET /v1/models. The listing is filtered down to the
// caller's allowlist when one applies.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	list := h.registry.ModelList()

	if id := auth.IdentityFrom(r.Context()); id != nil {
		allowed := make([]domain.ModelInfo, 0, len(list.Data))
		for _, m := range list.Data {
			if id.Allows(m.ID) {
				allowed = append(allowed, m)
			}
		}
		list.Data = allowed
	}

	writeJSON(w, http.StatusOK, list)
}
