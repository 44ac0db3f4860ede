// Package runlog implements the incremental state protocol for traced runs:
// a JSON-Patch-style operation stream (RunLogPatch) and the materialized
// document it reconstructs (RunLog). Applying every patch ever emitted to the
// empty document always yields the current state; RunLog.Concat maintains the
// same state incrementally without replaying history.
package runlog

import (
	"encoding/json"
	"slices"
)

// RunLogPatch is an ordered delta. Concatenation appends ops; it is
// associative and order-sensitive.
type RunLogPatch struct {
	Ops []Op `json:"ops"`
}

func NewRunLogPatch(ops ...Op) *RunLogPatch {
	return &RunLogPatch{Ops: ops}
}

// Concat appends other's ops and replays the entire combined list against the
// empty document. This is the O(total ops) path used when no materialized
// state is at hand.
func (p *RunLogPatch) Concat(other *RunLogPatch) (*RunLog, error) {
	ops := append(slices.Clone(p.Ops), other.Ops...)
	state, err := ApplyOps(nil, ops)
	if err != nil {
		return nil, err
	}
	return &RunLog{Ops: ops, State: state}, nil
}

// RunLog pairs the full op history with its materialized state. The state
// always equals applying Ops to the empty document.
type RunLog struct {
	Ops   []Op      `json:"ops"`
	State *RunState `json:"state"`
}

// NewRunLog returns an empty log ready for incremental concatenation.
func NewRunLog() *RunLog {
	return &RunLog{State: NewRunState("", "", "")}
}

// Concat appends other's ops but applies only them, against the
// already-materialized state. The result is identical to a full replay of the
// combined history.
func (l *RunLog) Concat(other *RunLogPatch) (*RunLog, error) {
	state, err := ApplyOps(l.State, other.Ops)
	if err != nil {
		return nil, err
	}
	return &RunLog{Ops: append(slices.Clone(l.Ops), other.Ops...), State: state}, nil
}

func (l *RunLog) String() string {
	b, err := json.MarshalIndent(l.State, "", "  ")
	if err != nil {
		return "RunLog(<unencodable>)"
	}
	return "RunLog(" + string(b) + ")"
}
