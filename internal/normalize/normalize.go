package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syaikhipin/ipinproxy/internal/domain"
)

// assistantRoles are the role/type markers accepted when scanning a messages
// array for the latest model turn.
var assistantRoles = map[string]bool{
	"assistant": true,
	"model":     true,
	"ai":        true,
	"bot":       true,
}

// responsePriorityFields are checked on the root object, in order, when no
// recognized envelope matched. The list deliberately differs from
// extractPriorityKeys: here a message object becomes a role+content fragment
// instead of being recursed into.
var responsePriorityFields = []string{
	"output_text", "output", "result", "text", "message",
	"content", "response", "completion", "answer",
}

// FromBytes normalizes a raw upstream body. Bodies that do not parse as JSON
// are treated as bare text.
func FromBytes(body []byte, model string) domain.ChatResponse {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		raw = string(body)
	}
	return Response(raw, model)
}

// Response converts any upstream value into exactly one canonical
// chat-completion response. It never fails and never returns zero choices.
// model is the caller-supplied model id, used unless the upstream named one.
func Response(raw any, model string) domain.ChatResponse {
	return response(raw, model, make(visited))
}

func response(raw any, model string, seen visited) domain.ChatResponse {
	if obj, ok := raw.(map[string]any); ok && seen.enter(obj) {
		// 1. OpenAI-style choices array.
		if elems, ok := obj["choices"].([]any); ok && len(elems) > 0 {
			return buildResponse(obj, model, choicesFrom(elems))
		}

		// 2. Envelope with a nested data object: normalize the inner value,
		// then patch the outer id/usage over gaps the inner left.
		if data, ok := obj["data"].(map[string]any); ok {
			inner := response(data, model, seen)
			if id, ok := stringField(obj, "id"); ok {
				if _, innerHas := data["id"]; !innerHas {
					inner.ID = id
				}
			}
			if outerUsage, ok := obj["usage"]; ok {
				if _, innerHas := data["usage"]; !innerHas {
					inner.Usage = Usage(outerUsage)
				}
			}
			return inner
		}

		// 3. Candidates array; empty-text candidates are dropped and the
		// branch only counts when at least one survives.
		if elems, ok := obj["candidates"].([]any); ok {
			if choices := candidatesFrom(elems); len(choices) > 0 {
				return buildResponse(obj, model, choices)
			}
		}

		// 4. Fragment recovery from a trailing assistant message and the
		// well-known root fields.
		if choices := fragmentsFrom(obj); len(choices) > 0 {
			return buildResponse(obj, model, choices)
		}
	}

	// 5. Bare strings pass through verbatim; anything else gets best-effort
	// extraction. 6. Either way the caller receives exactly one choice.
	text, ok := raw.(string)
	if !ok {
		text = Text(raw)
	}
	return buildResponse(objOrNil(raw), model, []domain.Choice{textChoice(0, "assistant", text)})
}

func choicesFrom(elems []any) []domain.Choice {
	choices := make([]domain.Choice, 0, len(elems))
	for i, elem := range elems {
		m, ok := elem.(map[string]any)
		if !ok {
			choices = append(choices, textChoice(i, "assistant", Text(elem)))
			continue
		}

		index := i
		if idx, ok := numberField(m, "index"); ok {
			index = int(idx)
		}

		msg, ok := m["message"].(map[string]any)
		if !ok {
			choices = append(choices, textChoice(index, "assistant", Text(m)))
			continue
		}

		role := "assistant"
		if r, ok := stringField(msg, "role"); ok {
			role = r
		}
		content, ok := msg["content"].(string)
		if !ok {
			content = Text(msg["content"])
		}
		finish := "stop"
		if f, ok := stringField(m, "finish_reason"); ok {
			finish = f
		}

		choice := domain.Choice{
			Index:        index,
			Message:      domain.AssistantMessage{Role: role, Content: content},
			FinishReason: finish,
		}
		if tc, ok := msg["tool_calls"]; ok {
			choice.Message.ToolCalls = tc
		}
		if lp, ok := m["logprobs"]; ok && lp != nil {
			choice.Logprobs = lp
		}
		choices = append(choices, choice)
	}
	return choices
}

func candidatesFrom(elems []any) []domain.Choice {
	var choices []domain.Choice
	for _, elem := range elems {
		var text string
		switch m := elem.(type) {
		case map[string]any:
			if content, ok := m["content"]; ok {
				text = Text(content)
			} else {
				text = Text(m)
			}
		default:
			text = Text(elem)
		}
		if text == "" {
			continue
		}
		choices = append(choices, textChoice(len(choices), "assistant", text))
	}
	return choices
}

type fragment struct {
	role    string
	content string
}

func fragmentsFrom(obj map[string]any) []domain.Choice {
	var frags []fragment

	// The most recent assistant-like turn in a messages array, if any.
	if msgs, ok := obj["messages"].([]any); ok {
		for i := len(msgs) - 1; i >= 0; i-- {
			m, ok := msgs[i].(map[string]any)
			if !ok {
				continue
			}
			role, _ := stringField(m, "role")
			if role == "" {
				role, _ = stringField(m, "type")
			}
			if !assistantRoles[strings.ToLower(role)] {
				continue
			}
			if text := messageText(m); text != "" {
				frags = append(frags, fragment{role: "assistant", content: text})
			}
			break
		}
	}

	for _, field := range responsePriorityFields {
		v, ok := obj[field]
		if !ok {
			continue
		}
		if field == "message" {
			if mm, ok := v.(map[string]any); ok {
				role := "assistant"
				if r, ok := stringField(mm, "role"); ok {
					role = r
				}
				if text := Text(mm["content"]); text != "" {
					frags = append(frags, fragment{role: role, content: text})
				}
				continue
			}
		}
		if text := Text(v); text != "" {
			frags = append(frags, fragment{role: "assistant", content: text})
		}
	}

	choices := make([]domain.Choice, 0, len(frags))
	for i, f := range frags {
		choices = append(choices, textChoice(i, f.role, f.content))
	}
	return choices
}

// messageText pulls the text out of one message element without letting the
// role marker bleed into the output.
func messageText(m map[string]any) string {
	if v, ok := m["content"]; ok {
		return Text(v)
	}
	if v, ok := m["text"]; ok {
		return Text(v)
	}
	return ""
}

// buildResponse wraps resolved choices in the canonical envelope, filling id,
// created, model and usage from src when the upstream supplied them.
func buildResponse(src map[string]any, model string, choices []domain.Choice) domain.ChatResponse {
	resp := domain.ChatResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: choices,
	}
	if src == nil {
		return resp
	}
	if id, ok := stringField(src, "id"); ok {
		resp.ID = id
	}
	if created, ok := numberField(src, "created"); ok {
		resp.Created = int64(created)
	}
	if m, ok := stringField(src, "model"); ok {
		resp.Model = m
	}
	resp.Usage = Usage(src["usage"])
	return resp
}

func textChoice(index int, role, content string) domain.Choice {
	return domain.Choice{
		Index:        index,
		Message:      domain.AssistantMessage{Role: role, Content: content},
		FinishReason: "stop",
	}
}

func stringField(obj map[string]any, key string) (string, bool) {
	s, ok := obj[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func numberField(obj map[string]any, key string) (float64, bool) {
	f, ok := obj[key].(float64)
	return f, ok
}

func objOrNil(raw any) map[string]any {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	return obj
}
