package transform

import (
	"encoding/json"
	"strings"

	"github.com/syaikhipin/ipinproxy/internal/domain"
)

// Default generation parameters for folded-prompt endpoints.
const (
	defaultMaxNewTokens = 1024
	defaultTemperature  = 0.7
	defaultTopP         = 0.9
)

// HuggingFace folds the message list into a single prompt string for
// instruction endpoints that have no concept of chat turns.
type HuggingFace struct{}

var _ Transformer = (*HuggingFace)(nil)

func (*HuggingFace) Kind() Kind { return KindHuggingFace }

func (*HuggingFace) ChatRequest(req domain.ChatRequest, upstreamModel string) (Request, error) {
	parameters := map[string]any{
		"max_new_tokens":   defaultMaxNewTokens,
		"temperature":      defaultTemperature,
		"top_p":            defaultTopP,
		"return_full_text": false,
	}
	if v, ok := req.Params["max_tokens"]; ok {
		parameters["max_new_tokens"] = v
	}
	if v, ok := req.Params["temperature"]; ok {
		parameters["temperature"] = v
	}
	if v, ok := req.Params["top_p"]; ok {
		parameters["top_p"] = v
	}

	payload := map[string]any{
		"inputs":     FoldPrompt(req.Messages),
		"parameters": parameters,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, err
	}
	// The provider base URL already addresses the model endpoint.
	return Request{Path: "", ContentType: "application/json", Body: body}, nil
}

// FoldPrompt renders chat turns as "<Role>: <content>" lines separated by
// blank lines, closing with a bare "Assistant:" cue for the model to
// continue from.
func FoldPrompt(messages []domain.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content.String())
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func roleLabel(role string) string {
	switch role {
	case "system":
		return "System"
	case "assistant":
		return "Assistant"
	default:
		return "User"
	}
}
