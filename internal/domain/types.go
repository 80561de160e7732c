package domain

import "encoding/json"

// Message represents a chat message in a canonical request.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
	Name    string         `json:"name,omitempty"`
}

// ChatRequest is the canonical chat-completion request accepted by the proxy.
// Known fields are typed; everything else the caller sends is carried in
// Params and forwarded to openai-compatible providers untouched.
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream,omitempty"`
	Params   map[string]any `json:"-"`
}

// chatRequestKnownFields are stripped from the raw body when collecting
// passthrough params.
var chatRequestKnownFields = map[string]bool{
	"model":    true,
	"messages": true,
	"stream":   true,
}

// UnmarshalJSON decodes the typed fields and collects every remaining
// top-level field into Params.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias ChatRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if chatRequestKnownFields[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		a.Params = raw
	}

	*r = ChatRequest(a)
	return nil
}

// AssistantMessage is the message object inside a normalized choice. Content
// is always a plain string after normalization.
type AssistantMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolCalls any    `json:"tool_calls,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
	Logprobs     any              `json:"logprobs,omitempty"`
}

// Usage represents token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the canonical chat-completion response. Choices always has
// at least one element.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// ModelCapabilities is the per-model capability record consumed by the media
// gate. ProviderID identifies the provider the model resolves to.
type ModelCapabilities struct {
	ProviderID          string
	SupportsImageUpload bool
	SupportsVideoUpload bool
}

// ModelInfo describes a model entry exposed via GET /v1/models.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
	Created int64  `json:"created,omitempty"`
}

// ModelList is the canonical model listing response.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}
