package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/syaikhipin/ipinproxy/internal/domain"
)

// errorEnvelope is the wire shape for error responses.
type errorEnvelope struct {
	Error *domain.APIError `json:"error"`
}

// toAPIError coerces any error to a *domain.APIError. Errors that are not
// already canonical become generic server errors.
func toAPIError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return domain.ErrServer(err.Error())
}

// writeError renders err on w. Upstream errors that captured a response body
// are relayed with the upstream status and body untouched; everything else is
// wrapped in the canonical error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	apiErr := toAPIError(err)
	if apiErr.Type == domain.ErrorTypeUpstream && len(apiErr.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.HTTPStatusCode())
		w.Write(apiErr.Body)
		return
	}

	writeJSON(w, apiErr.HTTPStatusCode(), errorEnvelope{Error: apiErr})
}

// writeJSON renders v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRaw relays an upstream JSON body verbatim.
func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
