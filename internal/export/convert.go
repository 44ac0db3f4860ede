package export

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	collectortracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"

	"github.com/langchain-ai/langserve-go/internal/runlog"
)

const entryTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// traceID derives a stable 16-byte trace id from the root run id. UUID run
// ids map to their raw bytes; anything else is hashed.
func traceID(runID string) []byte {
	if id, err := uuid.Parse(runID); err == nil {
		b := [16]byte(id)
		return b[:]
	}
	sum := sha256.Sum256([]byte(runID))
	return sum[:16]
}

func spanID(runID string) []byte {
	sum := sha256.Sum256([]byte("span:" + runID))
	return sum[:8]
}

func unixNano(ts string) uint64 {
	t, err := time.Parse(entryTimeFormat, ts)
	if err != nil {
		return 0
	}
	return uint64(t.UnixNano())
}

func strAttr(key, val string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: val}},
	}
}

func tagsAttr(tags []string) *commonpb.KeyValue {
	vals := make([]*commonpb.AnyValue, len(tags))
	for i, t := range tags {
		vals[i] = &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: t}}
	}
	return &commonpb.KeyValue{
		Key: "langsmith.tags",
		Value: &commonpb.AnyValue{
			Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{Values: vals}},
		},
	}
}

func jsonAttr(key string, v any) *commonpb.KeyValue {
	b, err := json.Marshal(v)
	if err != nil {
		return strAttr(key, "<unencodable>")
	}
	return strAttr(key, string(b))
}

// Convert flattens a materialized run-log document into one OTLP trace: a
// root span for the document and one child span per log entry.
func Convert(state *runlog.RunState) *collectortracepb.ExportTraceServiceRequest {
	tid := traceID(state.ID)
	rootSpanID := spanID(state.ID)

	root := &tracepb.Span{
		TraceId: tid,
		SpanId:  rootSpanID,
		Name:    state.Name,
		Kind:    tracepb.Span_SPAN_KIND_INTERNAL,
		Attributes: []*commonpb.KeyValue{
			strAttr("langsmith.span_kind", state.Type),
			strAttr("langsmith.trace.run_id", state.ID),
		},
	}
	if state.FinalOutput != nil {
		root.Attributes = append(root.Attributes, jsonAttr("gen_ai.completion", state.FinalOutput))
	}

	spans := []*tracepb.Span{root}
	var first, last uint64
	for _, key := range state.Logs.Keys() {
		entry, _ := state.Logs.Get(key)
		span := &tracepb.Span{
			TraceId:           tid,
			SpanId:            spanID(entry.ID),
			ParentSpanId:      rootSpanID,
			Name:              entry.Name,
			Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
			StartTimeUnixNano: unixNano(entry.StartTime),
			EndTimeUnixNano:   unixNano(entry.EndTime),
			Attributes: []*commonpb.KeyValue{
				strAttr("langsmith.span_kind", entry.Type),
				strAttr("langsmith.trace.run_id", entry.ID),
				tagsAttr(entry.Tags),
			},
		}
		if entry.Inputs != nil {
			span.Attributes = append(span.Attributes, jsonAttr("gen_ai.prompt", entry.Inputs))
		}
		if entry.FinalOutput != nil {
			span.Attributes = append(span.Attributes, jsonAttr("gen_ai.completion", entry.FinalOutput))
		}
		for k, v := range entry.Metadata {
			span.Attributes = append(span.Attributes, jsonAttr("langsmith.metadata."+k, v))
		}
		if first == 0 || (span.StartTimeUnixNano != 0 && span.StartTimeUnixNano < first) {
			first = span.StartTimeUnixNano
		}
		if span.EndTimeUnixNano > last {
			last = span.EndTimeUnixNano
		}
		spans = append(spans, span)
	}
	root.StartTimeUnixNano = first
	root.EndTimeUnixNano = last

	return &collectortracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{strAttr("service.name", "langserve-go")},
			},
			ScopeSpans: []*tracepb.ScopeSpans{{
				Scope: &commonpb.InstrumentationScope{Name: "langserve-go/runlog"},
				Spans: spans,
			}},
		}},
	}
}
