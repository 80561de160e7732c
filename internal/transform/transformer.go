// Package transform maps canonical requests onto provider-specific wire
// shapes. Each provider kind registers one Transformer; media and embeddings
// support are narrow interfaces a kind opts into.
package transform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/syaikhipin/ipinproxy/internal/domain"
	"github.com/syaikhipin/ipinproxy/internal/multipart"
)

// Kind identifies a provider wire-format family.
type Kind string

const (
	// KindOpenAI covers openai-compatible providers: chat, embeddings and
	// rerank bodies are forwarded nearly verbatim.
	KindOpenAI Kind = "openai"

	// KindHuggingFace covers instruction-endpoint providers that take a
	// single folded prompt string.
	KindHuggingFace Kind = "huggingface"

	// KindChutes covers providers with nonstandard media endpoints that
	// accept base64 JSON envelopes. Chat behaves like openai.
	KindChutes Kind = "chutes"
)

// Request is a provider-bound HTTP request body ready for dispatch. Path is
// joined onto the provider's base URL.
type Request struct {
	Path        string
	ContentType string
	Body        []byte
}

// MediaRequest carries a decoded upload plus its optional parameters to a
// media transformer.
type MediaRequest struct {
	Model    string
	File     multipart.Part
	Language string
	Prompt   string
}

// Transformer maps canonical chat requests onto one provider kind.
// upstreamModel is the provider-side model name the registry resolved.
type Transformer interface {
	Kind() Kind
	ChatRequest(req domain.ChatRequest, upstreamModel string) (Request, error)
}

// EmbeddingsTransformer is implemented by kinds whose providers expose
// embeddings and rerank endpoints.
type EmbeddingsTransformer interface {
	EmbeddingsRequest(body map[string]any, upstreamModel string) (Request, error)
	RerankRequest(body map[string]any, upstreamModel string) (Request, error)
}

// MediaTransformer is implemented by kinds that accept media uploads.
type MediaTransformer interface {
	TranscriptionRequest(req MediaRequest) (Request, error)
	OCRRequest(req MediaRequest) (Request, error)
}

// Streamer is implemented by kinds whose chat wire format can relay
// server-sent events end to end.
type Streamer interface {
	SupportsStreaming() bool
}

// SupportsStreaming reports whether t can relay a streaming chat response.
func SupportsStreaming(t Transformer) bool {
	s, ok := t.(Streamer)
	return ok && s.SupportsStreaming()
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]Transformer)
)

// Register adds a transformer for its kind. Registering the same kind twice
// panics; that is a programming error.
func Register(t Transformer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[t.Kind()]; exists {
		panic(fmt.Sprintf("transform: kind %q already registered", t.Kind()))
	}
	registry[t.Kind()] = t
}

// ForKind returns the transformer registered for kind.
func ForKind(kind Kind) (Transformer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	t, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("transform: no transformer registered for kind %q", kind)
	}
	return t, nil
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// RegisterDefaults registers the built-in transformers. Call once from main
// or a test; registration is explicit rather than an init side effect.
func RegisterDefaults() {
	registryMu.Lock()
	already := len(registry) > 0
	registryMu.Unlock()
	if already {
		return
	}
	Register(&OpenAI{})
	Register(&HuggingFace{})
	Register(&Chutes{})
}
