package runlog

import (
	"errors"
	"fmt"
	"strings"
)

const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
)

// Op is one patch operation. Path is a slash-delimited pointer into the
// document; a trailing "-" segment appends to a sequence. Segments escape
// "/" as "~1" and "~" as "~0".
type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

var (
	ErrBadPointer   = errors.New("malformed path pointer")
	ErrPathNotFound = errors.New("path does not exist")
	ErrBadOp        = errors.New("unknown patch operation")
	ErrBadValue     = errors.New("value has wrong shape for path")
)

// EscapeSegment makes s safe to embed as one path segment.
func EscapeSegment(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

func unescapeSegment(s string) string {
	s = strings.ReplaceAll(s, "~1", "/")
	return strings.ReplaceAll(s, "~0", "~")
}

// ApplyOps applies ops in order to a copy of s and returns the resulting
// state. s itself is never mutated: if any single op is invalid the whole
// application fails and the caller's state is untouched. A nil s stands for
// the empty document.
func ApplyOps(s *RunState, ops []Op) (*RunState, error) {
	var next *RunState
	if s == nil {
		next = NewRunState("", "", "")
	} else {
		next = s.Copy()
	}
	for i, op := range ops {
		var err error
		next, err = applyOp(next, op)
		if err != nil {
			return nil, fmt.Errorf("apply op %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	return next, nil
}

func applyOp(s *RunState, op Op) (*RunState, error) {
	switch op.Op {
	case OpAdd, OpReplace, OpRemove:
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadOp, op.Op)
	}

	if op.Path == "" {
		if op.Op == OpRemove {
			return nil, fmt.Errorf("%w: cannot remove document root", ErrBadOp)
		}
		return toRunState(op.Value)
	}
	if !strings.HasPrefix(op.Path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrBadPointer, op.Path)
	}
	segs := strings.Split(op.Path[1:], "/")
	for i := range segs {
		segs[i] = unescapeSegment(segs[i])
	}

	switch {
	case len(segs) == 2 && segs[0] == "streamed_output" && segs[1] == "-":
		if op.Op != OpAdd {
			return nil, fmt.Errorf("%w: %q on append position", ErrBadOp, op.Op)
		}
		s.StreamedOutput = append(s.StreamedOutput, op.Value)
		return s, nil

	case len(segs) == 1 && segs[0] == "final_output":
		if op.Op == OpRemove {
			s.FinalOutput = nil
		} else {
			s.FinalOutput = op.Value
		}
		return s, nil

	case segs[0] == "logs" && len(segs) == 2:
		key := segs[1]
		switch op.Op {
		case OpRemove:
			if _, ok := s.Logs.Get(key); !ok {
				return nil, fmt.Errorf("%w: /logs/%s", ErrPathNotFound, key)
			}
			s.Logs.Delete(key)
		case OpReplace:
			if _, ok := s.Logs.Get(key); !ok {
				return nil, fmt.Errorf("%w: /logs/%s", ErrPathNotFound, key)
			}
			fallthrough
		case OpAdd:
			entry, err := toLogEntry(op.Value)
			if err != nil {
				return nil, err
			}
			s.Logs.Set(key, entry)
		}
		return s, nil

	case segs[0] == "logs" && len(segs) >= 3:
		key := segs[1]
		entry, ok := s.Logs.Get(key)
		if !ok {
			return nil, fmt.Errorf("%w: /logs/%s", ErrPathNotFound, key)
		}
		return s, applyEntryOp(entry, segs[2:], op)
	}
	return nil, fmt.Errorf("%w: %q", ErrPathNotFound, op.Path)
}

func applyEntryOp(entry *LogEntry, segs []string, op Op) error {
	switch {
	case len(segs) == 2 && segs[0] == "streamed_output" && segs[1] == "-":
		if op.Op != OpAdd {
			return fmt.Errorf("%w: %q on append position", ErrBadOp, op.Op)
		}
		entry.StreamedOutput = append(entry.StreamedOutput, op.Value)
		return nil
	case len(segs) == 2 && segs[0] == "streamed_output_str" && segs[1] == "-":
		if op.Op != OpAdd {
			return fmt.Errorf("%w: %q on append position", ErrBadOp, op.Op)
		}
		str, ok := op.Value.(string)
		if !ok {
			return fmt.Errorf("%w: streamed_output_str takes strings", ErrBadValue)
		}
		entry.StreamedOutputStr = append(entry.StreamedOutputStr, str)
		return nil
	case len(segs) == 1 && segs[0] == "final_output":
		if op.Op == OpRemove {
			entry.FinalOutput = nil
		} else {
			entry.FinalOutput = op.Value
		}
		return nil
	case len(segs) == 1 && segs[0] == "inputs":
		if op.Op == OpRemove {
			entry.Inputs = nil
		} else {
			entry.Inputs = op.Value
		}
		return nil
	case len(segs) == 1 && segs[0] == "end_time":
		str, ok := op.Value.(string)
		if !ok {
			return fmt.Errorf("%w: end_time takes a string", ErrBadValue)
		}
		entry.EndTime = str
		return nil
	}
	return fmt.Errorf("%w: unsupported entry path %q", ErrPathNotFound, strings.Join(segs, "/"))
}

func toRunState(v any) (*RunState, error) {
	switch t := v.(type) {
	case *RunState:
		return t.Copy(), nil
	case map[string]any:
		s := NewRunState(asString(t["id"]), asString(t["name"]), asString(t["type"]))
		if so, ok := t["streamed_output"].([]any); ok {
			s.StreamedOutput = append(s.StreamedOutput, so...)
		}
		s.FinalOutput = t["final_output"]
		if logs, ok := t["logs"].(map[string]any); ok {
			for k, raw := range logs {
				entry, err := toLogEntry(raw)
				if err != nil {
					return nil, err
				}
				s.Logs.Set(k, entry)
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: document root takes a run state", ErrBadValue)
}

func toLogEntry(v any) (*LogEntry, error) {
	switch t := v.(type) {
	case *LogEntry:
		return t.copy(), nil
	case map[string]any:
		e := &LogEntry{
			ID:          asString(t["id"]),
			Name:        asString(t["name"]),
			Type:        asString(t["type"]),
			StartTime:   asString(t["start_time"]),
			EndTime:     asString(t["end_time"]),
			Inputs:      t["inputs"],
			FinalOutput: t["final_output"],
		}
		if tags, ok := t["tags"].([]any); ok {
			for _, tag := range tags {
				e.Tags = append(e.Tags, asString(tag))
			}
		}
		if tags, ok := t["tags"].([]string); ok {
			e.Tags = append(e.Tags, tags...)
		}
		if md, ok := t["metadata"].(map[string]any); ok {
			e.Metadata = md
		}
		if so, ok := t["streamed_output"].([]any); ok {
			e.StreamedOutput = append(e.StreamedOutput, so...)
		}
		if ss, ok := t["streamed_output_str"].([]any); ok {
			for _, sv := range ss {
				e.StreamedOutputStr = append(e.StreamedOutputStr, asString(sv))
			}
		}
		if ss, ok := t["streamed_output_str"].([]string); ok {
			e.StreamedOutputStr = append(e.StreamedOutputStr, ss...)
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: log entry path takes an entry", ErrBadValue)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
