package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/normalize"
	"github.com/syaikhipin/ipinproxy/internal/transform"
)

// Embeddings handles POST /v1/embeddings.
func (h *Handlers) Embeddings(w http.ResponseWriter, r *http.Request) {
	h.vectorRequest(w, r, "embeddings")
}

// Rerank handles POST /v1/rerank.
func (h *Handlers) Rerank(w http.ResponseWriter, r *http.Request) {
	h.vectorRequest(w, r, "rerank")
}

// vectorRequest serves the two shapes that share a passthrough body: the
// payload is forwarded as-is apart from the model swap, and the upstream
// response is relayed verbatim once its data contract has been checked.
func (h *Handlers) vectorRequest(w http.ResponseWriter, r *http.Request, op string) {
	start := time.Now()

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, domain.ErrInvalidRequest("invalid JSON body"))
		return
	}

	modelName, _ := body["model"].(string)
	if modelName == "" {
		writeError(w, r, domain.ErrInvalidRequest("model is required").WithParam("model"))
		return
	}
	AddLogField(r.Context(), "requested_model", modelName)

	rt, err := h.resolve(r, modelName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	et, ok := rt.tr.(transform.EmbeddingsTransformer)
	if !ok {
		writeError(w, r, domain.NewAPIError(domain.ErrorTypeValidation,
			fmt.Sprintf("model %q does not support %s", modelName, op)).
			WithCode(domain.ErrorCodeUnsupportedCapability))
		return
	}

	var treq transform.Request
	if op == "rerank" {
		treq, err = et.RerankRequest(body, rt.model.UpstreamModel)
	} else {
		treq, err = et.EmbeddingsRequest(body, rt.model.UpstreamModel)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	respBody, err := h.client.Do(r.Context(), rt.target, treq)
	if err != nil {
		h.recordUsage(r, usageEntry{
			Model:      modelName,
			ProviderID: rt.provider.ID,
			Operation:  op,
			Status:     toAPIError(err).HTTPStatusCode(),
			Duration:   time.Since(start),
		})
		writeError(w, r, err)
		return
	}

	if err := checkDataContract(respBody, op); err != nil {
		writeError(w, r, err)
		return
	}

	h.recordUsage(r, usageEntry{
		Model:      modelName,
		ProviderID: rt.provider.ID,
		Operation:  op,
		Usage:      envelopeUsage(respBody),
		Status:     http.StatusOK,
		Duration:   time.Since(start),
	})

	writeRaw(w, respBody)
}

// checkDataContract enforces the one documented guarantee of these
// endpoints: a successful response carries a non-empty result array. For
// embeddings that array is "data"; rerank backends answer with "results"
// (or "data" when they are OpenAI-shaped). Anything else is a broken
// upstream contract, not a result to relay.
func checkDataContract(body []byte, op string) error {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.ErrTransformation(fmt.Sprintf("%s response is not a JSON object", op))
	}

	fields := []string{"data"}
	if op == "rerank" {
		fields = []string{"results", "data"}
	}
	for _, field := range fields {
		if arr, ok := envelope[field].([]any); ok {
			if len(arr) == 0 {
				return domain.ErrTransformation(fmt.Sprintf("%s response has an empty %s array", op, field))
			}
			return nil
		}
	}
	return domain.ErrTransformation(fmt.Sprintf("%s response has no %s array", op, fields[0]))
}

// envelopeUsage pulls usage numbers out of a passthrough response for
// accounting. Missing or malformed usage simply counts as zero.
func envelopeUsage(body []byte) domain.Usage {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.Usage{}
	}
	return normalize.Usage(envelope["usage"])
}
