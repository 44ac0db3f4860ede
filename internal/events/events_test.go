package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/langchain-ai/langserve-go/internal/callbacks"
	"github.com/langchain-ai/langserve-go/internal/model"
	"github.com/langchain-ai/langserve-go/internal/tracer"
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

func collect(s *Synthesizer) []StreamEvent {
	var out []StreamEvent
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// runReverse drives the lifecycle of a single unit of work named "reverse"
// that reverses its input and streams the result as one chunk.
func runReverse(ctx context.Context, h callbacks.Handler) {
	run := newRun("reverse", model.RunTypeChain)
	run.Inputs = map[string]any{"input": "hello"}
	_ = h.OnRunCreate(ctx, run)
	_ = h.OnRunToken(ctx, run.ID, "olleh", nil)
	_ = h.OnRunEnd(ctx, endRun(run, map[string]any{"output": "olleh"}))
}

// runSequence drives a three-step pipeline. Each child is tagged with its
// step marker; child "3" carries an extra user tag. The wrapper taps the
// final child's chunk as its own single streamed unit.
func runSequence(ctx context.Context, h callbacks.Handler) {
	root := newRun("sequence", model.RunTypeChain)
	root.Inputs = map[string]any{"input": "v0"}
	_ = h.OnRunCreate(ctx, root)

	for i := 1; i <= 3; i++ {
		tags := []string{fmt.Sprintf("seq:step:%d", i)}
		if i == 3 {
			tags = append(tags, "my_tag")
		}
		child := newRun(fmt.Sprintf("%d", i), model.RunTypeChain, tags...)
		child.Inputs = map[string]any{"input": fmt.Sprintf("v%d", i-1)}
		_ = h.OnRunCreate(ctx, child)
		_ = h.OnRunToken(ctx, child.ID, fmt.Sprintf("v%d", i), nil)
		_ = h.OnRunEnd(ctx, endRun(child, map[string]any{"output": fmt.Sprintf("v%d", i)}))
	}

	_ = h.OnRunToken(ctx, root.ID, "v3", nil)
	_ = h.OnRunEnd(ctx, endRun(root, map[string]any{"output": "v3"}))
}

func TestUnsupportedVersionFailsFast(t *testing.T) {
	for _, version := range []string{"", "v1", "v3"} {
		if _, err := New(Config{Version: version}); !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("New(version=%q) = %v, expected ErrUnsupportedVersion", version, err)
		}
	}
}

func TestSingleRunEventTriple(t *testing.T) {
	s, err := New(Config{Version: Version})
	if err != nil {
		t.Fatal(err)
	}
	runReverse(context.Background(), s)

	evs := collect(s)
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(evs), evs)
	}

	expected := []struct {
		event string
		check func(ev StreamEvent) error
	}{
		{"on_chain_start", func(ev StreamEvent) error {
			if ev.Data.Input != "hello" {
				return fmt.Errorf("start input = %v", ev.Data.Input)
			}
			return nil
		}},
		{"on_chain_stream", func(ev StreamEvent) error {
			if ev.Data.Chunk != "olleh" {
				return fmt.Errorf("stream chunk = %v", ev.Data.Chunk)
			}
			return nil
		}},
		{"on_chain_end", func(ev StreamEvent) error {
			if ev.Data.Output != "olleh" {
				return fmt.Errorf("end output = %v", ev.Data.Output)
			}
			if ev.Data.Input != "hello" {
				return fmt.Errorf("end input = %v", ev.Data.Input)
			}
			return nil
		}},
	}

	runID := evs[0].RunID
	for i, ex := range expected {
		ev := evs[i]
		if ev.Event != ex.event {
			t.Errorf("event[%d] = %q, expected %q", i, ev.Event, ex.event)
		}
		if ev.Name != "reverse" {
			t.Errorf("event[%d].Name = %q", i, ev.Name)
		}
		if ev.RunID != runID {
			t.Errorf("event[%d] has run id %q, expected shared %q", i, ev.RunID, runID)
		}
		if len(ev.Tags) != 0 || len(ev.Metadata) != 0 {
			t.Errorf("event[%d] tags/metadata not empty: %v %v", i, ev.Tags, ev.Metadata)
		}
		if err := ex.check(ev); err != nil {
			t.Errorf("event[%d]: %v", i, err)
		}
	}
}

func TestSequenceEventOrdering(t *testing.T) {
	s, err := New(Config{Version: Version})
	if err != nil {
		t.Fatal(err)
	}
	runSequence(context.Background(), s)

	evs := collect(s)
	var names []string
	for _, ev := range evs {
		names = append(names, ev.Event+":"+ev.Name)
	}
	expected := []string{
		"on_chain_start:sequence",
		"on_chain_start:1", "on_chain_stream:1", "on_chain_end:1",
		"on_chain_start:2", "on_chain_stream:2", "on_chain_end:2",
		"on_chain_start:3", "on_chain_stream:3", "on_chain_end:3",
		"on_chain_stream:sequence",
		"on_chain_end:sequence",
	}
	if len(names) != len(expected) {
		t.Fatalf("got %d events %v, expected %d", len(names), names, len(expected))
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("event[%d] = %q, expected %q", i, names[i], expected[i])
		}
	}

	// Step markers surface verbatim on child events.
	for _, ev := range evs {
		if ev.Name == "2" && len(ev.Tags) > 0 && ev.Tags[0] != "seq:step:2" {
			t.Errorf("child 2 tags = %v", ev.Tags)
		}
	}

	// The wrapper streams exactly one chunk: the final child's.
	for _, ev := range evs {
		if ev.Name == "sequence" && ev.Event == "on_chain_stream" && ev.Data.Chunk != "v3" {
			t.Errorf("wrapper chunk = %v", ev.Data.Chunk)
		}
	}
}

func TestSequenceFilterByName(t *testing.T) {
	s, err := New(Config{
		Version: Version,
		Filter:  tracer.Filter{IncludeNames: []string{"1"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	runSequence(context.Background(), s)

	evs := collect(s)
	if len(evs) != 3 {
		t.Fatalf("expected 3 events for run 1 only, got %d: %+v", len(evs), evs)
	}
	for _, ev := range evs {
		if ev.Name != "1" {
			t.Errorf("unexpected event for %q: %s", ev.Name, ev.Event)
		}
	}
}

func TestSequenceFilterByTagAndExcludedName(t *testing.T) {
	s, err := New(Config{
		Version: Version,
		Filter: tracer.Filter{
			IncludeTags:  []string{"my_tag"},
			ExcludeNames: []string{"2"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	runSequence(context.Background(), s)

	evs := collect(s)
	if len(evs) != 3 {
		t.Fatalf("expected 3 events for run 3 only, got %d: %+v", len(evs), evs)
	}
	for _, ev := range evs {
		if ev.Name != "3" {
			t.Errorf("unexpected event for %q: %s", ev.Name, ev.Event)
		}
	}
}

func TestInputWithheldUntilEndWhenUnknown(t *testing.T) {
	s, err := New(Config{Version: Version})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	run := newRun("lazy", model.RunTypeChain)
	_ = s.OnRunCreate(ctx, run)
	run.Inputs = map[string]any{"input": "late"}
	_ = s.OnRunEnd(ctx, endRun(run, map[string]any{"output": "done"}))

	evs := collect(s)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Data.Input != nil {
		t.Errorf("start input should be withheld, got %v", evs[0].Data.Input)
	}
	if evs[1].Data.Input != "late" {
		t.Errorf("end input = %v, expected %q", evs[1].Data.Input, "late")
	}
}

func TestOutputFallsBackToAccumulatedChunks(t *testing.T) {
	s, err := New(Config{Version: Version})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	run := newRun("streamer", model.RunTypeChain)
	_ = s.OnRunCreate(ctx, run)
	_ = s.OnRunToken(ctx, run.ID, "ol", nil)
	_ = s.OnRunToken(ctx, run.ID, "leh", nil)
	run.EndTime = util.TimePtr(t0.Add(time.Second))
	_ = s.OnRunEnd(ctx, run)

	evs := collect(s)
	last := evs[len(evs)-1]
	if last.Data.Output != "olleh" {
		t.Errorf("end output = %v, expected accumulated %q", last.Data.Output, "olleh")
	}
}

func TestEventsAfterCloseFailLoudly(t *testing.T) {
	s, err := New(Config{Version: Version})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	root := newRun("root", model.RunTypeChain)
	_ = s.OnRunCreate(ctx, root)
	_ = s.OnRunEnd(ctx, endRun(root, map[string]any{"output": 1}))

	if err := s.OnRunCreate(ctx, newRun("late", model.RunTypeChain)); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}
