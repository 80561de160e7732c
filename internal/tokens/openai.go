package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/syaikhipin/ipinproxy/internal/domain"
)

// OpenAICounter counts tokens for OpenAI-family models with tiktoken.
type OpenAICounter struct {
	matcher *ModelMatcher

	// Codec construction loads vocabulary tables, so resolved codecs are
	// cached per encoding.
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

var _ Counter = (*OpenAICounter)(nil)

func NewOpenAICounter() *OpenAICounter {
	return &OpenAICounter{
		matcher: NewModelMatcher(
			// "o" prefixes cover the o1/o3/o4 reasoning families.
			[]string{"gpt-", "o1", "o3", "o4", "chatgpt-", "text-embedding", "text-davinci"},
			[]string{"davinci", "curie", "babbage", "ada"},
		),
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// SupportsModel reports whether tiktoken covers the model.
func (c *OpenAICounter) SupportsModel(model string) bool {
	return c.matcher.Matches(model)
}

// getCodec resolves the tokenizer for a model, preferring the exact model
// mapping and falling back to an encoding chosen by prefix.
func (c *OpenAICounter) getCodec(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model))); err == nil {
		return codec, nil
	}

	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer encoding %s: %w", encoding, err)
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()
	return codec, nil
}

// modelToEncoding picks an encoding for models tiktoken has no exact entry
// for: O200kBase for gpt-4o and newer families, Cl100kBase for the gpt-4 /
// gpt-3.5 / embedding generation, the 50k encodings for legacy completions
// models.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "chatgpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"),
		strings.HasPrefix(model, "gpt-3.5"),
		strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-davinci"):
		return tokenizer.P50kBase
	case model == "davinci", model == "curie", model == "babbage", model == "ada":
		return tokenizer.R50kBase
	default:
		return tokenizer.O200kBase
	}
}

// Per-message overheads from OpenAI's chat format documentation: 3 tokens per
// message plus 1 for the role, and 3 for assistant priming at the end.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	assistantPriming = 3

	// imageOverhead is the base cost of a low-detail image attachment.
	imageOverhead = 85
)

// CountMessages counts prompt tokens for a chat request.
func (c *OpenAICounter) CountMessages(model string, messages []domain.Message) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage + tokensPerRole

		if msg.Content.IsSimpleText() {
			ids, _, _ := codec.Encode(msg.Content.Text)
			total += len(ids)
			continue
		}
		for _, part := range msg.Content.Parts {
			switch {
			case part.Type == domain.ContentTypeText:
				ids, _, _ := codec.Encode(part.Text)
				total += len(ids)
			case part.IsImageTagged(), part.IsVideoTagged():
				total += imageOverhead
			}
		}
	}
	total += assistantPriming
	return total, nil
}

// CountText tokenizes a plain string and returns its token count.
func (c *OpenAICounter) CountText(model, text string) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
