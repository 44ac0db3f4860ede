package schema

// Document is a content+metadata record returned by retrievers.
type Document struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
}

// Generation type discriminants.
const (
	GenerationTypeText = "Generation"
	GenerationTypeChat = "ChatGeneration"
)

// Generation is one completion produced by a model call. Chat generations
// carry the underlying message alongside its text rendering.
type Generation struct {
	Text           string         `json:"text"`
	GenerationInfo map[string]any `json:"generation_info"`
	Type           string         `json:"type"`
	Message        *Message       `json:"message,omitempty"`
}

// StringPromptValue is a plain-text prompt rendering.
type StringPromptValue struct {
	Text string `json:"text"`
}

// ChatPromptValue is a chat-shaped prompt rendering.
type ChatPromptValue struct {
	Messages []*Message `json:"messages"`
}
