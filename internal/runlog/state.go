package runlog

import (
	"bytes"
	"encoding/json"
)

// LogEntry is the tracer's projection of a run into the materialized
// document. Entries are append-only: once added they are only ever extended
// by streamed chunks and finalized by completion, never removed.
type LogEntry struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Tags      []string       `json:"tags"`
	Metadata  map[string]any `json:"metadata"`
	StartTime string         `json:"start_time"`
	// StreamedOutput accumulates structured chunks, StreamedOutputStr the
	// textual tokens, both in arrival order.
	StreamedOutput    []any    `json:"streamed_output"`
	StreamedOutputStr []string `json:"streamed_output_str"`
	// Inputs is only populated under the streaming-events schema format.
	Inputs      any    `json:"inputs,omitempty"`
	FinalOutput any    `json:"final_output"`
	EndTime     string `json:"end_time,omitempty"`
}

func (e *LogEntry) copy() *LogEntry {
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	c.StreamedOutput = append([]any(nil), e.StreamedOutput...)
	c.StreamedOutputStr = append([]string(nil), e.StreamedOutputStr...)
	return &c
}

// Logs is the run-key → LogEntry mapping of the document. Iteration and JSON
// encoding follow insertion order (discovery order of the runs), not map
// order.
type Logs struct {
	keys    []string
	entries map[string]*LogEntry
}

func NewLogs() *Logs {
	return &Logs{entries: make(map[string]*LogEntry)}
}

func (l *Logs) Get(key string) (*LogEntry, bool) {
	e, ok := l.entries[key]
	return e, ok
}

func (l *Logs) Set(key string, e *LogEntry) {
	if _, ok := l.entries[key]; !ok {
		l.keys = append(l.keys, key)
	}
	l.entries[key] = e
}

func (l *Logs) Delete(key string) {
	if _, ok := l.entries[key]; !ok {
		return
	}
	delete(l.entries, key)
	for i, k := range l.keys {
		if k == key {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			break
		}
	}
}

func (l *Logs) Len() int { return len(l.entries) }

// Keys returns the entry keys in insertion order.
func (l *Logs) Keys() []string {
	return append([]string(nil), l.keys...)
}

func (l *Logs) Copy() *Logs {
	c := NewLogs()
	for _, k := range l.keys {
		c.Set(k, l.entries[k].copy())
	}
	return c
}

func (l *Logs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range l.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		eb, err := json.Marshal(l.entries[k])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (l *Logs) UnmarshalJSON(data []byte) error {
	raw := make(map[string]*LogEntry)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil { // opening brace
		return err
	}
	l.entries = make(map[string]*LogEntry)
	l.keys = nil
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
		l.Set(key, raw[key])
	}
	return nil
}

// RunState is the root materialized document reconstructed from the patch
// stream.
type RunState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	// StreamedOutput accumulates the root run's own streamed chunks.
	StreamedOutput []any `json:"streamed_output"`
	FinalOutput    any   `json:"final_output"`
	Logs           *Logs `json:"logs"`
}

func NewRunState(id, name, runType string) *RunState {
	return &RunState{
		ID:             id,
		Name:           name,
		Type:           runType,
		StreamedOutput: []any{},
		Logs:           NewLogs(),
	}
}

func (s *RunState) Copy() *RunState {
	c := *s
	c.StreamedOutput = append([]any(nil), s.StreamedOutput...)
	if s.Logs != nil {
		c.Logs = s.Logs.Copy()
	} else {
		c.Logs = NewLogs()
	}
	return &c
}
