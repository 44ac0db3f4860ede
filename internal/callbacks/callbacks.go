// Package callbacks defines the lifecycle notification interface the
// execution engine drives. A Handler receives one call when a run is created,
// one per streamed chunk, and one when the run completes. The engine must
// deliver calls for a single run in that order and must never deliver two
// calls in parallel; calls for different runs may interleave arbitrarily.
package callbacks

import (
	"context"

	"github.com/langchain-ai/langserve-go/internal/model"
)

type Handler interface {
	// OnRunCreate is invoked once when the engine begins a unit of work.
	OnRunCreate(ctx context.Context, run *model.Run) error
	// OnRunToken is invoked for each streamed unit. token carries the textual
	// form when one exists; chunk carries a structured incremental value when
	// the engine supplies one, else nil.
	OnRunToken(ctx context.Context, runID, token string, chunk any) error
	// OnRunEnd is invoked once when the run completes. run.Outputs and
	// run.EndTime are populated by then.
	OnRunEnd(ctx context.Context, run *model.Run) error
}

// Multi fans a lifecycle call out to several handlers in order, stopping at
// the first error.
type Multi []Handler

func (m Multi) OnRunCreate(ctx context.Context, run *model.Run) error {
	for _, h := range m {
		if err := h.OnRunCreate(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) OnRunToken(ctx context.Context, runID, token string, chunk any) error {
	for _, h := range m {
		if err := h.OnRunToken(ctx, runID, token, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) OnRunEnd(ctx context.Context, run *model.Run) error {
	for _, h := range m {
		if err := h.OnRunEnd(ctx, run); err != nil {
			return err
		}
	}
	return nil
}
