package tracer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/langchain-ai/langserve-go/internal/callbacks"
	"github.com/langchain-ai/langserve-go/internal/model"
	"github.com/langchain-ai/langserve-go/internal/runlog"
	"github.com/langchain-ai/langserve-go/internal/schema"
	"github.com/langchain-ai/langserve-go/internal/util"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newRun(name, runType string, tags ...string) *model.Run {
	if tags == nil {
		tags = []string{}
	}
	return &model.Run{
		ID:        uuid.NewString(),
		Name:      name,
		RunType:   runType,
		Tags:      tags,
		StartTime: t0,
	}
}

func endRun(run *model.Run, outputs map[string]any) *model.Run {
	run.Outputs = outputs
	run.EndTime = util.TimePtr(t0.Add(time.Second))
	return run
}

// drain collects everything currently buffered, then materializes it.
func materialize(t *testing.T, tr *LogStreamTracer) *runlog.RunState {
	t.Helper()
	log := runlog.NewRunLog()
	for {
		select {
		case p, ok := <-tr.Patches():
			if !ok {
				return log.State
			}
			next, err := log.Concat(p)
			if err != nil {
				t.Fatalf("concat patch: %v", err)
			}
			log = next
		default:
			return log.State
		}
	}
}

func TestRootIsNeverALogEntry(t *testing.T) {
	tr := New(Config{})
	ctx := context.Background()

	root := newRun("pipeline", model.RunTypeChain)
	if err := tr.OnRunCreate(ctx, root); err != nil {
		t.Fatal(err)
	}
	child := newRun("step", model.RunTypeChain)
	if err := tr.OnRunCreate(ctx, child); err != nil {
		t.Fatal(err)
	}

	state := materialize(t, tr)
	if state.ID != root.ID {
		t.Fatalf("state root id = %q, expected %q", state.ID, root.ID)
	}
	if _, ok := state.Logs.Get("pipeline"); ok {
		t.Error("root run must not appear under /logs")
	}
	if _, ok := state.Logs.Get("step"); !ok {
		t.Error("child run missing from /logs")
	}
}

func TestSiblingKeyAssignment(t *testing.T) {
	tr := New(Config{})
	ctx := context.Background()

	if err := tr.OnRunCreate(ctx, newRun("pipeline", model.RunTypeChain)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := tr.OnRunCreate(ctx, newRun("worker", model.RunTypeTool)); err != nil {
			t.Fatal(err)
		}
	}

	state := materialize(t, tr)
	keys := state.Logs.Keys()
	expected := []string{"worker", "worker:2", "worker:3"}
	if len(keys) != len(expected) {
		t.Fatalf("got keys %v, expected %v", keys, expected)
	}
	for i, k := range expected {
		if keys[i] != k {
			t.Errorf("key[%d] = %q, expected %q", i, keys[i], k)
		}
	}
}

func TestExcludedRunEventsAreSilentNoOps(t *testing.T) {
	tr := New(Config{Filter: Filter{IncludeNames: []string{"kept"}}})
	ctx := context.Background()

	if err := tr.OnRunCreate(ctx, newRun("pipeline", model.RunTypeChain)); err != nil {
		t.Fatal(err)
	}
	dropped := newRun("dropped", model.RunTypeTool)
	if err := tr.OnRunCreate(ctx, dropped); err != nil {
		t.Fatal(err)
	}
	if err := tr.OnRunToken(ctx, dropped.ID, "tok", nil); err != nil {
		t.Fatalf("token for excluded run should be a no-op, got %v", err)
	}
	if err := tr.OnRunEnd(ctx, endRun(dropped, map[string]any{"output": 1})); err != nil {
		t.Fatalf("end for excluded run should be a no-op, got %v", err)
	}
	if err := tr.OnRunToken(ctx, "never-seen", "tok", nil); err != nil {
		t.Fatalf("token for unknown run should be a no-op, got %v", err)
	}

	state := materialize(t, tr)
	if state.Logs.Len() != 0 {
		t.Fatalf("expected empty logs, got %v", state.Logs.Keys())
	}
}

func TestStreamedChunksAccumulate(t *testing.T) {
	tr := New(Config{})
	ctx := context.Background()

	if err := tr.OnRunCreate(ctx, newRun("pipeline", model.RunTypeChain)); err != nil {
		t.Fatal(err)
	}
	step := newRun("step", model.RunTypeTool)
	if err := tr.OnRunCreate(ctx, step); err != nil {
		t.Fatal(err)
	}
	for _, tok := range []string{"ol", "leh"} {
		if err := tr.OnRunToken(ctx, step.ID, tok, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := tr.OnRunEnd(ctx, endRun(step, map[string]any{"output": "olleh"})); err != nil {
		t.Fatal(err)
	}

	state := materialize(t, tr)
	entry, ok := state.Logs.Get("step")
	if !ok {
		t.Fatal("missing entry for step")
	}
	if len(entry.StreamedOutput) != 2 || entry.StreamedOutput[0] != "ol" {
		t.Errorf("streamed_output = %v", entry.StreamedOutput)
	}
	if len(entry.StreamedOutputStr) != 2 || entry.StreamedOutputStr[1] != "leh" {
		t.Errorf("streamed_output_str = %v", entry.StreamedOutputStr)
	}
	if entry.EndTime == "" {
		t.Error("end_time not set")
	}
}

func TestChatModelTokenSynthesizesChunk(t *testing.T) {
	tr := New(Config{})
	ctx := context.Background()

	if err := tr.OnRunCreate(ctx, newRun("pipeline", model.RunTypeChain)); err != nil {
		t.Fatal(err)
	}
	chat := newRun("model", model.RunTypeChatModel)
	if err := tr.OnRunCreate(ctx, chat); err != nil {
		t.Fatal(err)
	}
	if err := tr.OnRunToken(ctx, chat.ID, "hi", nil); err != nil {
		t.Fatal(err)
	}

	state := materialize(t, tr)
	entry, _ := state.Logs.Get("model")
	chunk, ok := entry.StreamedOutput[0].(*schema.MessageChunk)
	if !ok {
		t.Fatalf("expected synthesized MessageChunk, got %T", entry.StreamedOutput[0])
	}
	if chunk.Content != "hi" {
		t.Errorf("chunk content = %v", chunk.Content)
	}
}

func TestStreamingEventsFormatCarriesInputs(t *testing.T) {
	tr := New(Config{SchemaFormat: SchemaFormatStreamingEvents})
	ctx := context.Background()

	if err := tr.OnRunCreate(ctx, newRun("pipeline", model.RunTypeChain)); err != nil {
		t.Fatal(err)
	}
	step := newRun("step", model.RunTypeChain)
	step.Inputs = map[string]any{"input": "hello"}
	if err := tr.OnRunCreate(ctx, step); err != nil {
		t.Fatal(err)
	}
	if err := tr.OnRunEnd(ctx, endRun(step, map[string]any{"output": "olleh"})); err != nil {
		t.Fatal(err)
	}

	state := materialize(t, tr)
	entry, _ := state.Logs.Get("step")
	if entry.Inputs != "hello" {
		t.Errorf("inputs = %v, expected unwrapped %q", entry.Inputs, "hello")
	}
	if entry.FinalOutput != "olleh" {
		t.Errorf("final_output = %v, expected unwrapped %q", entry.FinalOutput, "olleh")
	}
}

func TestRootEndClosesStream(t *testing.T) {
	tr := New(Config{})
	ctx := context.Background()

	root := newRun("pipeline", model.RunTypeChain)
	if err := tr.OnRunCreate(ctx, root); err != nil {
		t.Fatal(err)
	}
	if err := tr.OnRunEnd(ctx, endRun(root, map[string]any{"output": "done"})); err != nil {
		t.Fatal(err)
	}

	if err := tr.OnRunCreate(ctx, newRun("late", model.RunTypeChain)); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("write after close = %v, expected ErrStreamClosed", err)
	}

	state := materialize(t, tr)
	if state.FinalOutput == nil {
		t.Error("root final_output not set")
	}
	// Channel must be closed now.
	if _, ok := <-tr.Patches(); ok {
		t.Error("expected closed patch channel")
	}
}

func TestKeepAliveLeavesStreamOpen(t *testing.T) {
	tr := New(Config{KeepAlive: true})
	ctx := context.Background()

	root := newRun("pipeline", model.RunTypeChain)
	if err := tr.OnRunCreate(ctx, root); err != nil {
		t.Fatal(err)
	}
	if err := tr.OnRunEnd(ctx, endRun(root, map[string]any{"output": "done"})); err != nil {
		t.Fatal(err)
	}
	if err := tr.OnRunCreate(ctx, newRun("more", model.RunTypeChain)); err != nil {
		t.Fatalf("KeepAlive tracer refused further runs: %v", err)
	}
}

func TestBackpressuredSendHonorsContext(t *testing.T) {
	tr := New(Config{BufferSize: 1})
	ctx := context.Background()

	if err := tr.OnRunCreate(ctx, newRun("pipeline", model.RunTypeChain)); err != nil {
		t.Fatal(err)
	}
	// Buffer is now full; the next send must block until cancelled.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := tr.OnRunCreate(cancelled, newRun("step", model.RunTypeChain))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamLogDriver(t *testing.T) {
	ctx := context.Background()

	engine := func(ctx context.Context, h callbacks.Handler) (<-chan any, error) {
		out := make(chan any)
		go func() {
			defer close(out)
			root := newRun("pipeline", model.RunTypeChain)
			root.Inputs = map[string]any{"input": "hello"}
			_ = h.OnRunCreate(ctx, root)

			step := newRun("reverse", model.RunTypeTool)
			_ = h.OnRunCreate(ctx, step)
			_ = h.OnRunToken(ctx, step.ID, "olleh", nil)
			_ = h.OnRunEnd(ctx, endRun(step, map[string]any{"output": "olleh"}))

			out <- "olleh"
			_ = h.OnRunEnd(ctx, endRun(root, map[string]any{"output": "olleh"}))
		}()
		return out, nil
	}

	patches, err := StreamLog(ctx, Config{}, engine)
	if err != nil {
		t.Fatal(err)
	}
	log := runlog.NewRunLog()
	for p := range patches {
		next, err := log.Concat(p)
		if err != nil {
			t.Fatalf("concat: %v", err)
		}
		log = next
	}

	state := log.State
	if len(state.StreamedOutput) != 1 || state.StreamedOutput[0] != "olleh" {
		t.Errorf("root streamed_output = %v", state.StreamedOutput)
	}
	if _, ok := state.Logs.Get("reverse"); !ok {
		t.Error("missing reverse entry")
	}
	if state.FinalOutput == nil {
		t.Error("root final_output not set")
	}
}

// A root chunk emitted immediately after creation must never reach the
// consumer ahead of the initial document replace: the replace resets the
// document, so a chunk that slipped in front of it would vanish from the
// materialized state. Tight loop because the loss is a scheduling race.
func TestStreamLogRootChunkSurvivesInitialReplace(t *testing.T) {
	ctx := context.Background()

	engine := func(ctx context.Context, h callbacks.Handler) (<-chan any, error) {
		out := make(chan any, 1)
		go func() {
			defer close(out)
			root := newRun("pipeline", model.RunTypeChain)
			_ = h.OnRunCreate(ctx, root)
			out <- "chunk"
			_ = h.OnRunEnd(ctx, endRun(root, map[string]any{"output": "chunk"}))
		}()
		return out, nil
	}

	for i := 0; i < 1000; i++ {
		patches, err := StreamLog(ctx, Config{}, engine)
		if err != nil {
			t.Fatal(err)
		}
		log := runlog.NewRunLog()
		for p := range patches {
			next, err := log.Concat(p)
			if err != nil {
				t.Fatalf("iteration %d: concat: %v", i, err)
			}
			log = next
		}
		if len(log.State.StreamedOutput) != 1 {
			t.Fatalf("iteration %d: root streamed_output = %v, chunk was lost",
				i, log.State.StreamedOutput)
		}
	}
}
