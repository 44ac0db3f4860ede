// Package export ships materialized run-log documents to an OTLP/HTTP trace
// collector. Each exported document becomes one trace: the root run as the
// root span and every log entry as a child span.
package export

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/DataDog/zstd"
	"golang.org/x/sync/semaphore"
	"google.golang.org/protobuf/proto"

	"github.com/langchain-ai/langserve-go/internal/runlog"
)

type Config struct {
	Endpoint       string
	Headers        map[string]string
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	InFlight       int
	// Compress zstd-encodes request bodies.
	Compress bool
}

// Exporter is a thread-safe OTLP uploader. Retryable failures back off
// exponentially with jitter up to MaxAttempts.
type Exporter struct {
	cfg    Config
	sem    *semaphore.Weighted
	client *http.Client
}

func New(cfg Config) *Exporter {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.InFlight == 0 {
		cfg.InFlight = 10
	}
	return &Exporter{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.InFlight)),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Send exports state asynchronously, bounded by the in-flight limit.
// Delivery failures are logged, not returned.
func (e *Exporter) Send(ctx context.Context, state *runlog.RunState) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		slog.Warn("exporter ctx cancelled before send")
		return
	}
	go func() {
		defer e.sem.Release(1)
		if err := e.Export(context.Background(), state); err != nil {
			slog.Error("failed to export run log", "err", err)
		}
	}()
}

// WaitForCompletion blocks until every in-flight Send has finished.
func (e *Exporter) WaitForCompletion(ctx context.Context) error {
	if err := e.sem.Acquire(ctx, int64(e.cfg.InFlight)); err != nil {
		return err
	}
	e.sem.Release(int64(e.cfg.InFlight))
	return nil
}

// Export converts state into OTLP spans and posts them synchronously.
func (e *Exporter) Export(ctx context.Context, state *runlog.RunState) error {
	payload, err := proto.Marshal(Convert(state))
	if err != nil {
		return fmt.Errorf("marshal trace request: %w", err)
	}
	if e.cfg.Compress {
		payload, err = zstd.Compress(nil, payload)
		if err != nil {
			return fmt.Errorf("compress trace request: %w", err)
		}
	}

	url := e.cfg.Endpoint + "/v1/traces"
	var attempt int
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-protobuf")
		if e.cfg.Compress {
			req.Header.Set("Content-Encoding", "zstd")
		}
		for k, v := range e.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := e.client.Do(req)
		if err == nil && (resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted) {
			resp.Body.Close()
			return nil
		}

		retryable := err != nil
		var status int
		if resp != nil {
			status = resp.StatusCode
			switch status {
			case http.StatusRequestTimeout,
				http.StatusTooManyRequests,
				http.StatusInternalServerError,
				http.StatusBadGateway,
				http.StatusServiceUnavailable,
				http.StatusGatewayTimeout:
				retryable = true
			}
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			resp.Body.Close()
			slog.Error("trace export failed",
				"attempt", attempt, "status", status,
				"response", string(body), "will_retry", retryable)
		}

		attempt++
		if !retryable || attempt >= e.cfg.MaxAttempts {
			if err != nil {
				return fmt.Errorf("trace export failed after %d attempts: %w", attempt, err)
			}
			return fmt.Errorf("trace export failed after %d attempts: status %d", attempt, status)
		}
		select {
		case <-time.After(backoff(e.cfg.BackoffInitial, e.cfg.BackoffMax, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	d := time.Duration(exp)
	if d > max {
		d = max
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	r := binary.BigEndian.Uint64(b[:])
	jitter := time.Duration(r % uint64(d/2))
	return d/2 + jitter
}
