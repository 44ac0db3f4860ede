package model

import "time"

const (
	RunTypeChain     = "chain"
	RunTypeLLM       = "llm"
	RunTypeChatModel = "chat_model"
	RunTypePrompt    = "prompt"
	RunTypeTool      = "tool"
	RunTypeRetriever = "retriever"
)

// Run is one node of the execution tree. The execution engine creates a Run
// when a unit of work begins and mutates it on completion (outputs, end time)
// or incrementally through streamed-chunk notifications. Tracers only ever
// read from it.
type Run struct {
	ID          string         `json:"id"`
	ParentRunID *string        `json:"parent_run_id,omitempty"`
	Name        string         `json:"name"`
	RunType     string         `json:"run_type" validate:"oneof=chain llm chat_model prompt tool retriever"`
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     *time.Time     `json:"end_time,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Outputs     map[string]any `json:"outputs,omitempty"`
	Error       *string        `json:"error,omitempty"`
}
