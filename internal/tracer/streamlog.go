package tracer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/langchain-ai/langserve-go/internal/callbacks"
	"github.com/langchain-ai/langserve-go/internal/runlog"
)

// StreamFunc starts the engine's streaming entry point with the given
// lifecycle handler attached and returns the root run's output stream. The
// engine closes the returned channel when the root run completes.
type StreamFunc func(ctx context.Context, h callbacks.Handler) (<-chan any, error)

// StreamLog runs stream under a fresh tracer and merges the tracer's patches
// with the root run's own streamed output. Root chunks become
// "/streamed_output/-" appends; everything else comes straight off the
// tracer. The returned channel closes once both sources are drained.
func StreamLog(ctx context.Context, cfg Config, stream StreamFunc) (<-chan *runlog.RunLogPatch, error) {
	t := New(cfg)
	chunks, err := stream(ctx, t)
	if err != nil {
		return nil, err
	}

	out := make(chan *runlog.RunLogPatch)
	g, gctx := errgroup.WithContext(ctx)

	// The chunk forwarder must not get ahead of the tracer's first patch: the
	// root "replace of the whole document" op resets state, so a chunk append
	// that slips in front of it would be wiped out on materialization.
	rootForwarded := make(chan struct{})
	var rootOnce sync.Once
	signalRoot := func() { rootOnce.Do(func() { close(rootForwarded) }) }

	g.Go(func() error {
		defer signalRoot()
		for p := range t.Patches() {
			select {
			case out <- p:
			case <-gctx.Done():
				return gctx.Err()
			}
			signalRoot()
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-rootForwarded:
		case <-gctx.Done():
			return gctx.Err()
		}
		for c := range chunks {
			p := runlog.NewRunLogPatch(runlog.Op{
				Op:    runlog.OpAdd,
				Path:  "/streamed_output/-",
				Value: c,
			})
			select {
			case out <- p:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out, nil
}
