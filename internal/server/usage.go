package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/syaikhipin/ipinproxy/internal/auth"
	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/storage"
)

// usageEntry captures one provider call for the usage log.
type usageEntry struct {
	Model      string
	ProviderID string
	Operation  string
	Usage      domain.Usage
	Estimated  bool
	Status     int
	Duration   time.Duration
}

// recordUsage writes a usage row and stamps the API key's last use. The
// write is detached from the request context so a caller disconnect cannot
// lose the record. Accounting failures are logged, never surfaced.
func (h *Handlers) recordUsage(r *http.Request, e usageEntry) {
	if h.store == nil {
		return
	}

	rec := &storage.UsageRecord{
		ID:               uuid.New().String(),
		Model:            e.Model,
		ProviderID:       e.ProviderID,
		Operation:        e.Operation,
		PromptTokens:     e.Usage.PromptTokens,
		CompletionTokens: e.Usage.CompletionTokens,
		TotalTokens:      e.Usage.TotalTokens,
		Estimated:        e.Estimated,
		DurationMS:       e.Duration.Milliseconds(),
		Status:           e.Status,
	}

	identity := auth.IdentityFrom(r.Context())
	if identity != nil {
		rec.APIKeyID = identity.KeyID
		rec.UserID = identity.UserID
	}

	AddLogField(r.Context(), "total_tokens", strconv.Itoa(e.Usage.TotalTokens))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
	defer cancel()

	if err := h.store.InsertUsage(ctx, rec); err != nil {
		h.logger.Error("failed to record usage",
			slog.String("model", e.Model),
			slog.String("operation", e.Operation),
			slog.String("error", err.Error()),
		)
	}

	if identity != nil {
		if err := h.store.TouchAPIKey(ctx, identity.KeyID, time.Now().UTC()); err != nil {
			h.logger.Error("failed to stamp API key use",
				slog.String("key_id", identity.KeyID),
				slog.String("error", err.Error()),
			)
		}
	}
}
