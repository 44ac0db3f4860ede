package schema

// Message type discriminants as they appear on the wire.
const (
	MessageTypeHuman    = "human"
	MessageTypeAI       = "ai"
	MessageTypeSystem   = "system"
	MessageTypeChat     = "chat"
	MessageTypeFunction = "function"
	MessageTypeTool     = "tool"

	// ChunkTypeAI marks an incremental AI message fragment on the wire.
	ChunkTypeAI = "AIMessageChunk"
)

// Message is one unit of model conversation. Type selects the subtype; chat
// messages additionally carry Role, tool messages ToolCallID, and function
// messages Name.
type Message struct {
	Content          any            `json:"content"`
	Type             string         `json:"type"`
	Name             string         `json:"name,omitempty"`
	AdditionalKwargs map[string]any `json:"additional_kwargs"`
	Role             string         `json:"role,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
}

// MessageChunk is an incremental message fragment produced while a chat model
// streams. Chunks with string content concatenate.
type MessageChunk struct {
	Message
}

// NewAIMessageChunk wraps a raw streamed token in a chunk, used when the
// engine streams plain text for a chat-style run.
func NewAIMessageChunk(text string) *MessageChunk {
	return &MessageChunk{Message: Message{
		Content:          text,
		Type:             MessageTypeAI,
		AdditionalKwargs: map[string]any{},
	}}
}

// Concat appends other onto c, returning a new chunk. Non-string content on
// either side falls back to other's content, matching last-writer semantics
// for structured payloads.
func (c *MessageChunk) Concat(other *MessageChunk) *MessageChunk {
	if other == nil {
		return c
	}
	out := *c
	left, lok := c.Content.(string)
	right, rok := other.Content.(string)
	if lok && rok {
		out.Content = left + right
	} else {
		out.Content = other.Content
	}
	if len(other.AdditionalKwargs) > 0 {
		merged := make(map[string]any, len(c.AdditionalKwargs)+len(other.AdditionalKwargs))
		for k, v := range c.AdditionalKwargs {
			merged[k] = v
		}
		for k, v := range other.AdditionalKwargs {
			merged[k] = v
		}
		out.AdditionalKwargs = merged
	}
	return &out
}
