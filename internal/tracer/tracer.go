// Package tracer turns run lifecycle notifications into an ordered stream of
// run-log patches. A LogStreamTracer owns the inclusion filter and the
// standardization layer, assigns stable document keys to runs, and writes
// every patch onto a single bounded output channel in arrival order.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/langchain-ai/langserve-go/internal/model"
	"github.com/langchain-ai/langserve-go/internal/runlog"
	"github.com/langchain-ai/langserve-go/internal/schema"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

var ErrStreamClosed = errors.New("tracer: patch stream is closed")

type Config struct {
	Filter Filter
	// SchemaFormat selects input/output normalization. Defaults to
	// SchemaFormatOriginal.
	SchemaFormat string
	// BufferSize bounds the output channel. Sends block (backpressure) once
	// the consumer falls this far behind. Defaults to 1024.
	BufferSize int
	// KeepAlive leaves the channel open after the root run completes, for
	// callers composing this tracer's output with other streams.
	KeepAlive bool
}

// LogStreamTracer receives lifecycle calls and emits patches. Lifecycle
// handlers must not be invoked in parallel; per-run ordering (create, chunks,
// end) is the engine's responsibility. Calls for different runs may
// interleave freely.
type LogStreamTracer struct {
	cfg Config
	ch  chan *runlog.RunLogPatch

	rootID      string
	keyByRunID  map[string]string
	countByName map[string]int
	runsByID    map[string]*model.Run
	closed      bool
}

func New(cfg Config) *LogStreamTracer {
	if cfg.SchemaFormat == "" {
		cfg.SchemaFormat = SchemaFormatOriginal
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}
	return &LogStreamTracer{
		cfg:         cfg,
		ch:          make(chan *runlog.RunLogPatch, cfg.BufferSize),
		keyByRunID:  make(map[string]string),
		countByName: make(map[string]int),
		runsByID:    make(map[string]*model.Run),
	}
}

// Patches is the tracer's output stream. It is closed when the root run
// completes, unless KeepAlive is set.
func (t *LogStreamTracer) Patches() <-chan *runlog.RunLogPatch {
	return t.ch
}

// Close ends the stream. Subsequent lifecycle calls fail with
// ErrStreamClosed. Closing twice is a no-op.
func (t *LogStreamTracer) Close() {
	if t.closed {
		return
	}
	t.closed = true
	close(t.ch)
}

func (t *LogStreamTracer) send(ctx context.Context, ops ...runlog.Op) error {
	if t.closed {
		return ErrStreamClosed
	}
	select {
	case t.ch <- runlog.NewRunLogPatch(ops...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *LogStreamTracer) include(run *model.Run) bool {
	if run.ID == t.rootID {
		return false
	}
	return t.cfg.Filter.Include(run)
}

func (t *LogStreamTracer) OnRunCreate(ctx context.Context, run *model.Run) error {
	if t.rootID == "" {
		t.rootID = run.ID
		state := runlog.NewRunState(run.ID, run.Name, run.RunType)
		if err := t.send(ctx, runlog.Op{Op: runlog.OpReplace, Path: "", Value: state}); err != nil {
			return err
		}
	}
	if !t.include(run) {
		return nil
	}

	key := run.Name
	t.countByName[run.Name]++
	if n := t.countByName[run.Name]; n > 1 {
		key = fmt.Sprintf("%s:%d", run.Name, n)
	}
	t.keyByRunID[run.ID] = key
	t.runsByID[run.ID] = run

	entry := &runlog.LogEntry{
		ID:                run.ID,
		Name:              run.Name,
		Type:              run.RunType,
		Tags:              append([]string{}, run.Tags...),
		Metadata:          run.Metadata,
		StartTime:         run.StartTime.UTC().Format(timeFormat),
		StreamedOutput:    []any{},
		StreamedOutputStr: []string{},
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	if t.cfg.SchemaFormat == SchemaFormatStreamingEvents {
		inputs, err := StandardizeInputs(run, t.cfg.SchemaFormat)
		if err != nil {
			return err
		}
		entry.Inputs = inputs
	}
	return t.send(ctx, runlog.Op{
		Op:    runlog.OpAdd,
		Path:  "/logs/" + runlog.EscapeSegment(key),
		Value: entry,
	})
}

func (t *LogStreamTracer) OnRunToken(ctx context.Context, runID, token string, chunk any) error {
	key, ok := t.keyByRunID[runID]
	if !ok {
		// Excluded or unknown run; chunks for it are not an error.
		return nil
	}
	value := chunk
	if value == nil {
		if run := t.runsByID[runID]; run != nil && run.RunType == model.RunTypeChatModel {
			value = schema.NewAIMessageChunk(token)
		} else {
			value = token
		}
	}
	prefix := "/logs/" + runlog.EscapeSegment(key)
	ops := []runlog.Op{{Op: runlog.OpAdd, Path: prefix + "/streamed_output/-", Value: value}}
	if token != "" {
		ops = append(ops, runlog.Op{Op: runlog.OpAdd, Path: prefix + "/streamed_output_str/-", Value: token})
	}
	return t.send(ctx, ops...)
}

func (t *LogStreamTracer) OnRunEnd(ctx context.Context, run *model.Run) error {
	var ops []runlog.Op

	if key, ok := t.keyByRunID[run.ID]; ok {
		prefix := "/logs/" + runlog.EscapeSegment(key)
		if t.cfg.SchemaFormat == SchemaFormatStreamingEvents {
			inputs, err := StandardizeInputs(run, t.cfg.SchemaFormat)
			if err != nil {
				return err
			}
			ops = append(ops, runlog.Op{Op: runlog.OpReplace, Path: prefix + "/inputs", Value: inputs})
		}
		ops = append(ops, runlog.Op{
			Op:    runlog.OpAdd,
			Path:  prefix + "/final_output",
			Value: StandardizeOutputs(run, t.cfg.SchemaFormat),
		})
		if run.EndTime != nil {
			ops = append(ops, runlog.Op{
				Op:    runlog.OpAdd,
				Path:  prefix + "/end_time",
				Value: run.EndTime.UTC().Format(timeFormat),
			})
		}
	} else if run.ID != t.rootID {
		return nil
	}

	if run.ID == t.rootID {
		ops = append(ops, runlog.Op{
			Op:    runlog.OpReplace,
			Path:  "/final_output",
			Value: StandardizeOutputs(run, t.cfg.SchemaFormat),
		})
		if err := t.send(ctx, ops...); err != nil {
			return err
		}
		if !t.cfg.KeepAlive {
			t.Close()
		}
		return nil
	}
	return t.send(ctx, ops...)
}

// FormatTime renders t the way log entries carry timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}
