// Package serde converts typed domain values to and from the plain, tagged
// representation carried over the wire. Serialize walks a value down to
// scalars, flattening known types into maps with a "type" discriminant.
// Revive reconstructs typed values structurally: an incoming map is matched
// against shape signatures in a fixed priority order, falling back to
// field-wise recursion when nothing matches. The signature checks are not
// mutually exclusive for every conceivable input, so the priority order is
// part of the contract and is pinned by tests.
package serde

import (
	"time"

	"github.com/langchain-ai/langserve-go/internal/schema"
)

// Serialize converts v into a wire-safe plain value: arrays element-wise,
// typed domain values into discriminant-tagged maps, plain maps field-wise.
// Scalars (including time.Time) pass through untouched.
func Serialize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64, time.Time:
		return v
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Serialize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Serialize(e)
		}
		return out
	case *schema.MessageChunk:
		m := serializeMessage(&t.Message)
		m["type"] = schema.ChunkTypeAI
		return m
	case schema.MessageChunk:
		m := serializeMessage(&t.Message)
		m["type"] = schema.ChunkTypeAI
		return m
	case *schema.Message:
		return serializeMessage(t)
	case schema.Message:
		return serializeMessage(&t)
	case *schema.Document:
		return map[string]any{
			"page_content": t.PageContent,
			"metadata":     orEmptyMap(t.Metadata),
		}
	case schema.Document:
		return Serialize(&t)
	case *schema.Generation:
		out := map[string]any{
			"text":            t.Text,
			"generation_info": orEmptyMap(t.GenerationInfo),
			"type":            t.Type,
		}
		if t.Message != nil {
			out["message"] = serializeMessage(t.Message)
		}
		return out
	case schema.Generation:
		return Serialize(&t)
	case *schema.StringPromptValue:
		return map[string]any{"text": t.Text}
	case schema.StringPromptValue:
		return map[string]any{"text": t.Text}
	case *schema.ChatPromptValue:
		msgs := make([]any, len(t.Messages))
		for i, m := range t.Messages {
			msgs[i] = serializeMessage(m)
		}
		return map[string]any{"messages": msgs}
	case schema.ChatPromptValue:
		return Serialize(&t)
	default:
		return v
	}
}

func serializeMessage(m *schema.Message) map[string]any {
	out := map[string]any{
		"content":           Serialize(m.Content),
		"type":              m.Type,
		"additional_kwargs": orEmptyMap(m.AdditionalKwargs),
	}
	if m.Name != "" {
		out["name"] = m.Name
	}
	if m.Role != "" {
		out["role"] = m.Role
	}
	if m.ToolCallID != "" {
		out["tool_call_id"] = m.ToolCallID
	}
	return out
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// reviver pairs a shape signature with its constructor. Revive evaluates
// revivers in slice order; the first matching signature wins.
type reviver struct {
	name      string
	matches   func(m map[string]any) bool
	construct func(m map[string]any) any
}

var revivers []reviver

func init() {
	revivers = []reviver{
		{
			name:      "document",
			matches:   hasKeys("page_content", "metadata"),
			construct: reviveDocument,
		},
		{
			name:      "message",
			matches:   hasKeys("content", "type", "additional_kwargs"),
			construct: func(m map[string]any) any { return reviveMessage(m) },
		},
		{
			name:      "generation",
			matches:   hasKeys("text", "generation_info", "type"),
			construct: reviveGeneration,
		},
		{
			name:      "chat_prompt",
			matches:   hasKeys("messages"),
			construct: reviveChatPrompt,
		},
		{
			name: "string_prompt",
			matches: func(m map[string]any) bool {
				_, ok := m["text"]
				return ok && len(m) == 1
			},
			construct: func(m map[string]any) any {
				return &schema.StringPromptValue{Text: asString(m["text"])}
			},
		},
	}
}

// Revive reconstructs typed domain values from their wire representation.
// It is idempotent: already-typed values pass through unchanged, and maps
// matching no signature are revived field-wise.
func Revive(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Revive(e)
		}
		return out
	case map[string]any:
		for _, r := range revivers {
			if r.matches(t) {
				return r.construct(t)
			}
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Revive(e)
		}
		return out
	default:
		return v
	}
}

func hasKeys(keys ...string) func(map[string]any) bool {
	return func(m map[string]any) bool {
		for _, k := range keys {
			if _, ok := m[k]; !ok {
				return false
			}
		}
		return true
	}
}

func reviveDocument(m map[string]any) any {
	doc := &schema.Document{PageContent: asString(m["page_content"])}
	if md, ok := m["metadata"].(map[string]any); ok {
		doc.Metadata = md
	} else {
		doc.Metadata = map[string]any{}
	}
	return doc
}

func reviveMessage(m map[string]any) any {
	msg := schema.Message{
		Content:    Revive(m["content"]),
		Type:       asString(m["type"]),
		Name:       asString(m["name"]),
		Role:       asString(m["role"]),
		ToolCallID: asString(m["tool_call_id"]),
	}
	if kw, ok := m["additional_kwargs"].(map[string]any); ok {
		msg.AdditionalKwargs = kw
	} else {
		msg.AdditionalKwargs = map[string]any{}
	}
	if msg.Type == schema.ChunkTypeAI {
		msg.Type = schema.MessageTypeAI
		return &schema.MessageChunk{Message: msg}
	}
	return &msg
}

func reviveGeneration(m map[string]any) any {
	gen := &schema.Generation{
		Text: asString(m["text"]),
		Type: asString(m["type"]),
	}
	if gi, ok := m["generation_info"].(map[string]any); ok {
		gen.GenerationInfo = gi
	} else {
		gen.GenerationInfo = map[string]any{}
	}
	if raw, ok := m["message"].(map[string]any); ok {
		switch msg := reviveMessage(raw).(type) {
		case *schema.Message:
			gen.Message = msg
		case *schema.MessageChunk:
			gen.Message = &msg.Message
		}
	}
	return gen
}

func reviveChatPrompt(m map[string]any) any {
	raw, _ := m["messages"].([]any)
	pv := &schema.ChatPromptValue{Messages: make([]*schema.Message, 0, len(raw))}
	for _, e := range raw {
		em, ok := e.(map[string]any)
		if !ok {
			continue
		}
		switch msg := reviveMessage(em).(type) {
		case *schema.Message:
			pv.Messages = append(pv.Messages, msg)
		case *schema.MessageChunk:
			pv.Messages = append(pv.Messages, &msg.Message)
		}
	}
	return pv
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
