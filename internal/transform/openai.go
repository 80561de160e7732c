package transform

import (
	"encoding/json"

	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/multipart"
)

// OpenAI forwards canonical requests nearly verbatim to openai-compatible
// endpoints. The model name is swapped for the provider-side one and every
// passthrough param rides along unmodified.
type OpenAI struct{}

var (
	_ Transformer           = (*OpenAI)(nil)
	_ EmbeddingsTransformer = (*OpenAI)(nil)
	_ MediaTransformer      = (*OpenAI)(nil)
	_ Streamer              = (*OpenAI)(nil)
)

func (*OpenAI) Kind() Kind { return KindOpenAI }

func (*OpenAI) SupportsStreaming() bool { return true }

func (*OpenAI) ChatRequest(req domain.ChatRequest, upstreamModel string) (Request, error) {
	payload := make(map[string]any, len(req.Params)+3)
	for k, v := range req.Params {
		payload[k] = v
	}
	payload["model"] = upstreamModel
	payload["messages"] = req.Messages
	payload["stream"] = req.Stream

	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{Path: "/chat/completions", ContentType: "application/json", Body: body}, nil
}

func (*OpenAI) EmbeddingsRequest(body map[string]any, upstreamModel string) (Request, error) {
	return jsonPassthrough(body, upstreamModel, "/embeddings")
}

func (*OpenAI) RerankRequest(body map[string]any, upstreamModel string) (Request, error) {
	return jsonPassthrough(body, upstreamModel, "/rerank")
}

func jsonPassthrough(body map[string]any, upstreamModel, path string) (Request, error) {
	payload := make(map[string]any, len(body))
	for k, v := range body {
		payload[k] = v
	}
	payload["model"] = upstreamModel

	encoded, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	return Request{Path: path, ContentType: "application/json", Body: encoded}, nil
}

// TranscriptionRequest re-encodes the upload as multipart/form-data, the
// shape whisper-style endpoints expect.
func (*OpenAI) TranscriptionRequest(req MediaRequest) (Request, error) {
	parts := []multipart.Part{{
		Name:        "file",
		Filename:    req.File.Filename,
		ContentType: req.File.ContentType,
		Data:        req.File.Data,
	}}
	parts = append(parts, multipart.Part{Name: "model", Data: []byte(req.Model)})
	if req.Language != "" {
		parts = append(parts, multipart.Part{Name: "language", Data: []byte(req.Language)})
	}
	if req.Prompt != "" {
		parts = append(parts, multipart.Part{Name: "prompt", Data: []byte(req.Prompt)})
	}

	boundary := multipart.NewBoundary()
	return Request{
		Path:        "/audio/transcriptions",
		ContentType: "multipart/form-data; boundary=" + boundary,
		Body:        multipart.Encode(parts, boundary),
	}, nil
}

// OCRRequest is unsupported for openai-compatible providers; there is no
// standard endpoint to target.
func (*OpenAI) OCRRequest(MediaRequest) (Request, error) {
	return Request{}, domain.NewAPIError(domain.ErrorTypeValidation, "ocr is not supported by openai-compatible providers").
		WithCode(domain.ErrorCodeUnsupportedCapability)
}
