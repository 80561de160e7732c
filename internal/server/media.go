package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/multipart"
	"github.com/syaikhipin/ipinproxy/internal/transform"
)

// Transcriptions handles POST /v1/audio/transcriptions.
func (h *Handlers) Transcriptions(w http.ResponseWriter, r *http.Request) {
	h.mediaUpload(w, r, "transcription")
}

// OCR handles POST /v1/images/ocr.
func (h *Handlers) OCR(w http.ResponseWriter, r *http.Request) {
	h.mediaUpload(w, r, "ocr")
}

// mediaUpload decodes a multipart upload and forwards it in whatever shape
// the resolved provider takes: re-encoded multipart for openai-compatible
// providers, a base64 JSON envelope for chutes-style ones.
func (h *Handlers) mediaUpload(w http.ResponseWriter, r *http.Request, op string) {
	start := time.Now()

	boundary, err := multipart.BoundaryFromContentType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, domain.ErrInvalidMultipart(err.Error()))
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, domain.ErrInvalidRequest("failed to read request body"))
		return
	}

	form, err := multipart.Decode(raw, boundary)
	if err != nil {
		writeError(w, r, domain.ErrInvalidMultipart(err.Error()))
		return
	}

	file, ok := form.File("file")
	if !ok {
		writeError(w, r, domain.ErrInvalidRequest("file part is required").WithParam("file"))
		return
	}

	modelName := form.Value("model")
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

	mt, ok := rt.tr.(transform.MediaTransformer)
	if !ok {
		writeError(w, r, domain.NewAPIError(domain.ErrorTypeValidation,
			fmt.Sprintf("model %q does not support %s", modelName, op)).
			WithCode(domain.ErrorCodeUnsupportedCapability))
		return
	}

	mreq := transform.MediaRequest{
		Model:    rt.model.UpstreamModel,
		File:     file,
		Language: form.Value("language"),
		Prompt:   form.Value("prompt"),
	}

	var treq transform.Request
	if op == "ocr" {
		treq, err = mt.OCRRequest(mreq)
	} else {
		treq, err = mt.TranscriptionRequest(mreq)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	respBody, err := h.mediaClient.Do(r.Context(), rt.target, treq)
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

	h.recordUsage(r, usageEntry{
		Model:      modelName,
		ProviderID: rt.provider.ID,
		Operation:  op,
		Status:     http.StatusOK,
		Duration:   time.Since(start),
	})

	writeRaw(w, respBody)
}
