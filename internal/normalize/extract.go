// Package normalize converts arbitrarily-shaped upstream provider responses
// into the canonical chat-completion schema. Every function here is pure and
// total: no input, including a cyclic object graph, causes a failure.
package normalize

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// extractPriorityKeys are scanned first, in order, when pulling text out of
// an object. Remaining keys follow in sorted order.
var extractPriorityKeys = []string{
	"text", "content", "output_text", "output", "result", "response",
	"completion", "answer", "value", "parts", "data", "message",
}

// visited tracks object and array references already expanded in the current
// extraction, keyed by reference identity so structurally equal but distinct
// values stay distinct.
type visited map[uintptr]struct{}

func (s visited) enter(v any) bool {
	ptr := reflect.ValueOf(v).Pointer()
	if _, ok := s[ptr]; ok {
		return false
	}
	s[ptr] = struct{}{}
	return true
}

// Text turns an arbitrary decoded JSON value into a best-effort string. Nulls
// become "", primitives their string form, arrays join their elements'
// extractions with newlines, and objects are scanned priority-keys-first.
// Revisiting an already-seen reference yields "" so cyclic graphs terminate.
func Text(v any) string {
	return extract(v, make(visited))
}

func extract(v any, seen visited) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return formatNumber(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case []any:
		if len(val) == 0 {
			return ""
		}
		if !seen.enter(val) {
			return ""
		}
		var fragments []string
		for _, elem := range val {
			if text := extract(elem, seen); text != "" {
				fragments = append(fragments, text)
			}
		}
		return strings.Join(fragments, "\n")
	case map[string]any:
		if !seen.enter(val) {
			return ""
		}
		return extractObject(val, seen)
	default:
		return fmt.Sprint(val)
	}
}

func extractObject(obj map[string]any, seen visited) string {
	var fragments []string
	consumed := make(map[string]bool, len(extractPriorityKeys))

	for _, key := range extractPriorityKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		consumed[key] = true
		if text := extract(v, seen); text != "" {
			fragments = append(fragments, text)
		}
	}

	rest := make([]string, 0, len(obj))
	for key := range obj {
		if !consumed[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		if text := extract(obj[key], seen); text != "" {
			fragments = append(fragments, text)
		}
	}

	return strings.Join(fragments, "\n")
}

// formatNumber renders integral floats without a decimal point, matching how
// token counts and timestamps read on the wire.
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
