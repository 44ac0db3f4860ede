// Package events derives semantic lifecycle events (start, streaming chunk,
// end) from the same run lifecycle calls the tracer observes. The synthesizer
// is an independent tap: it shares no state with the tracer and can run
// alongside one on the same engine via callbacks.Multi.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/langchain-ai/langserve-go/internal/model"
	"github.com/langchain-ai/langserve-go/internal/schema"
	"github.com/langchain-ai/langserve-go/internal/tracer"
)

// Version is the only defined event-stream protocol version.
const Version = "v2"

var (
	ErrUnsupportedVersion = errors.New("events: unsupported event stream version")
	ErrStreamClosed       = errors.New("events: event stream is closed")
)

// StreamEvent is one synthesized lifecycle event. Event is
// "on_<runtype>_<phase>" with phase one of start, stream, end.
type StreamEvent struct {
	Event    string         `json:"event"`
	Name     string         `json:"name"`
	RunID    string         `json:"run_id"`
	Tags     []string       `json:"tags"`
	Metadata map[string]any `json:"metadata"`
	Data     EventData      `json:"data"`
}

// EventData carries up to three optional fields depending on phase: input on
// start (when known) and end, chunk on stream, output on end.
type EventData struct {
	Input  any `json:"input,omitempty"`
	Output any `json:"output,omitempty"`
	Chunk  any `json:"chunk,omitempty"`
}

type Config struct {
	Filter tracer.Filter
	// Version selects the synthesis rules. Only Version ("v2") is defined;
	// anything else fails at construction.
	Version string
	// BufferSize bounds the event channel. Defaults to 1024.
	BufferSize int
}

type runInfo struct {
	run *model.Run
	// accumulated streamed output, used as the end-event output when the run
	// completes without explicit outputs.
	text  string
	chunk *schema.MessageChunk
}

// Synthesizer consumes lifecycle calls and emits StreamEvents for every run
// the filter admits, including the root.
type Synthesizer struct {
	cfg    Config
	ch     chan StreamEvent
	runs   map[string]*runInfo
	rootID string
	closed bool
}

func New(cfg Config) (*Synthesizer, error) {
	if cfg.Version != Version {
		return nil, fmt.Errorf("%w: %q (supported: %s)", ErrUnsupportedVersion, cfg.Version, Version)
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 1024
	}
	return &Synthesizer{
		cfg:  cfg,
		ch:   make(chan StreamEvent, cfg.BufferSize),
		runs: make(map[string]*runInfo),
	}, nil
}

// Events is the synthesizer's output stream. It closes when the root run
// completes.
func (s *Synthesizer) Events() <-chan StreamEvent {
	return s.ch
}

func (s *Synthesizer) Close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (s *Synthesizer) send(ctx context.Context, ev StreamEvent) error {
	if s.closed {
		return ErrStreamClosed
	}
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func eventName(runType, phase string) string {
	return "on_" + runType + "_" + phase
}

func (s *Synthesizer) newEvent(run *model.Run, phase string) StreamEvent {
	ev := StreamEvent{
		Event:    eventName(run.RunType, phase),
		Name:     run.Name,
		RunID:    run.ID,
		Tags:     append([]string{}, run.Tags...),
		Metadata: run.Metadata,
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	return ev
}

func (s *Synthesizer) OnRunCreate(ctx context.Context, run *model.Run) error {
	if s.rootID == "" {
		s.rootID = run.ID
	}
	if !s.cfg.Filter.Include(run) {
		return nil
	}
	s.runs[run.ID] = &runInfo{run: run}

	ev := s.newEvent(run, "start")
	if len(run.Inputs) > 0 {
		input, err := tracer.StandardizeInputs(run, tracer.SchemaFormatStreamingEvents)
		if err != nil {
			return err
		}
		ev.Data.Input = input
	}
	return s.send(ctx, ev)
}

func (s *Synthesizer) OnRunToken(ctx context.Context, runID, token string, chunk any) error {
	info, ok := s.runs[runID]
	if !ok {
		return nil
	}
	value := chunk
	if value == nil {
		if info.run.RunType == model.RunTypeChatModel {
			value = schema.NewAIMessageChunk(token)
		} else {
			value = token
		}
	}
	switch c := value.(type) {
	case *schema.MessageChunk:
		if info.chunk == nil {
			info.chunk = c
		} else {
			info.chunk = info.chunk.Concat(c)
		}
	case string:
		info.text += c
	}

	ev := s.newEvent(info.run, "stream")
	ev.Data.Chunk = value
	return s.send(ctx, ev)
}

func (s *Synthesizer) OnRunEnd(ctx context.Context, run *model.Run) error {
	info, ok := s.runs[run.ID]
	if !ok {
		if run.ID == s.rootID {
			s.Close()
		}
		return nil
	}
	delete(s.runs, run.ID)

	ev := s.newEvent(run, "end")
	input, err := tracer.StandardizeInputs(run, tracer.SchemaFormatStreamingEvents)
	if err != nil {
		return err
	}
	ev.Data.Input = input

	output := tracer.StandardizeOutputs(run, tracer.SchemaFormatStreamingEvents)
	if output == nil {
		switch {
		case info.chunk != nil:
			output = info.chunk
		case info.text != "":
			output = info.text
		}
	}
	ev.Data.Output = output

	if err := s.send(ctx, ev); err != nil {
		return err
	}
	if run.ID == s.rootID {
		s.Close()
	}
	return nil
}
