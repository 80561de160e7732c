// Package tokens estimates token usage for requests whose upstream response
// carried no usage block. Counts feed the usage log only; they never modify
// a response body.
package tokens

import (
	"strings"

	"github.com/syaikhipin/ipinproxy/internal/domain"
)

// Counter counts tokens for one family of models.
type Counter interface {
	SupportsModel(model string) bool
	CountMessages(model string, messages []domain.Message) (int, error)
	CountText(model, text string) (int, error)
}

// Registry picks the counter for a model and falls back to the character
// estimator when no counter matches or a counter fails.
type Registry struct {
	counters []Counter
	fallback *Estimator
}

func NewRegistry() *Registry {
	return &Registry{fallback: NewEstimator()}
}

// Register adds a counter to the registry.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// CountMessages counts prompt-side tokens. The second return reports whether
// the count is an estimate rather than a tokenizer count.
func (r *Registry) CountMessages(model string, messages []domain.Message) (int, bool) {
	for _, counter := range r.counters {
		if !counter.SupportsModel(model) {
			continue
		}
		n, err := counter.CountMessages(model, messages)
		if err == nil {
			return n, false
		}
	}
	n, _ := r.fallback.CountMessages(model, messages)
	return n, true
}

// CountText counts completion-side tokens for a response text.
func (r *Registry) CountText(model, text string) (int, bool) {
	for _, counter := range r.counters {
		if !counter.SupportsModel(model) {
			continue
		}
		n, err := counter.CountText(model, text)
		if err == nil {
			return n, false
		}
	}
	n, _ := r.fallback.CountText(model, text)
	return n, true
}

// Estimator approximates token counts from character length. It is the
// fallback for models without a real tokenizer.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// perMessageOverhead covers role tokens and separators.
const perMessageOverhead = 4

func (e *Estimator) CountMessages(model string, messages []domain.Message) (int, error) {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Role)
		totalChars += len(msg.Content.String())
		totalChars += perMessageOverhead
	}
	return int(float64(totalChars) / e.CharsPerToken), nil
}

func (e *Estimator) CountText(model, text string) (int, error) {
	return int(float64(len(text)) / e.CharsPerToken), nil
}

// SupportsModel returns true; the estimator handles every model.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// ModelMatcher matches model names against prefix and exact patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{prefixes: prefixes, exact: exact}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
