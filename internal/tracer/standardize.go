package tracer

import (
	"errors"
	"fmt"

	"github.com/langchain-ai/langserve-go/internal/model"
)

// Schema formats. The original format passes run inputs and outputs through
// untouched; the streaming-events format normalizes them for event consumers.
const (
	SchemaFormatOriginal        = "original"
	SchemaFormatStreamingEvents = "streaming_events"
)

var ErrOriginalSchemaInputs = errors.New("standardized inputs are not available under the original schema format")

// passthroughTypes already produce well-shaped inputs and outputs; the
// unwrap below only applies to general composition units whose values were
// boxed under a single artificial key.
func passthroughType(runType string) bool {
	switch runType {
	case model.RunTypeRetriever, model.RunTypeLLM, model.RunTypePrompt:
		return true
	}
	return false
}

// StandardizeInputs normalizes run inputs for the given schema format.
// Requesting standardized inputs under the original format is a contract
// violation and fails fast.
func StandardizeInputs(run *model.Run, schemaFormat string) (any, error) {
	if schemaFormat == SchemaFormatOriginal {
		return nil, ErrOriginalSchemaInputs
	}
	if schemaFormat != SchemaFormatStreamingEvents {
		return nil, fmt.Errorf("unknown schema format %q", schemaFormat)
	}
	if run.Inputs == nil {
		return nil, nil
	}
	if passthroughType(run.RunType) {
		return run.Inputs, nil
	}
	if len(run.Inputs) == 1 {
		if v, ok := run.Inputs["input"]; ok {
			return v, nil
		}
	}
	return run.Inputs, nil
}

// StandardizeOutputs normalizes run outputs. Under the original format
// outputs pass through unmodified for every run type.
func StandardizeOutputs(run *model.Run, schemaFormat string) any {
	if run.Outputs == nil {
		return nil
	}
	if schemaFormat == SchemaFormatOriginal || passthroughType(run.RunType) {
		return run.Outputs
	}
	if len(run.Outputs) == 1 {
		if v, ok := run.Outputs["output"]; ok {
			return v
		}
	}
	return run.Outputs
}
