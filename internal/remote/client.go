// Package remote implements the HTTP client side of the runnable wire
// protocol: single invocations, batches, output streaming, and the run-log
// patch stream, plus the raw schema endpoints. Payloads cross the wire in
// their serialized plain form and are revived into typed values on the way
// back in.
package remote

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DataDog/zstd"

	"github.com/langchain-ai/langserve-go/internal/runlog"
	"github.com/langchain-ai/langserve-go/internal/serde"
)

var (
	ErrReturnExceptionsUnsupported = errors.New("remote: per-item exception suppression is not supported for remote batch calls")
	ErrMissingOutput               = errors.New("remote: response carries no output field")
	ErrNoBody                      = errors.New("remote: response carries no usable body")

	errUnsupportedEncoding = errors.New("remote: unsupported Content-Encoding in response")
)

// StatusError reports a non-OK HTTP response, embedding the status code and
// the server's message body.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: server returned %d: %s", e.StatusCode, e.Message)
}

// RunConfig is the per-invocation configuration forwarded to the server.
// Callbacks never cross the wire.
type RunConfig struct {
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Configurable map[string]any `json:"configurable,omitempty"`
	Callbacks    any            `json:"-"`
}

type Config struct {
	BaseURL string
	// Timeout applies to every request including streams. Defaults to 60s.
	Timeout time.Duration
	// Headers are added to every request.
	Headers    map[string]string
	HTTPClient *http.Client
}

type Client struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, client: client}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept-Encoding", "gzip, zstd")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

// decodeBody unwraps the response body according to its Content-Encoding.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Body == nil {
		return nil, ErrNoBody
	}
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		gzr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		return gzr, nil
	case "zstd":
		return zstd.NewReader(resp.Body), nil
	}
	return nil, errUnsupportedEncoding
}

// checkStatus turns a non-OK response into a StatusError carrying the
// server's message.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var msg string
	if resp.Body != nil {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 32*1024))
		msg = strings.TrimSpace(string(raw))
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}

type invokeRequest struct {
	Input  any            `json:"input"`
	Config any            `json:"config"`
	Kwargs map[string]any `json:"kwargs"`
}

func orEmptyConfig(cfg *RunConfig) *RunConfig {
	if cfg == nil {
		return &RunConfig{}
	}
	return cfg
}

func orEmptyKwargs(kw map[string]any) map[string]any {
	if kw == nil {
		return map[string]any{}
	}
	return kw
}

// Invoke runs the remote runnable once and returns its revived output.
func (c *Client) Invoke(ctx context.Context, input any, cfg *RunConfig, kwargs map[string]any) (any, error) {
	resp, err := c.do(ctx, http.MethodPost, "/invoke", invokeRequest{
		Input:  serde.Serialize(input),
		Config: orEmptyConfig(cfg),
		Kwargs: orEmptyKwargs(kwargs),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	raw, err := readOutputField(resp)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return serde.Revive(out), nil
}

type batchRequest struct {
	Inputs []any          `json:"inputs"`
	Config any            `json:"config"`
	Kwargs map[string]any `json:"kwargs"`
}

// BatchOptions configure a Batch call. Config applies batch-wide; Configs, if
// set, provide per-item overrides merged on top of Config.
type BatchOptions struct {
	Config  *RunConfig
	Configs []*RunConfig
	Kwargs  map[string]any
	// ReturnExceptions requests per-item error suppression, which the remote
	// protocol cannot honor. Setting it fails the call immediately.
	ReturnExceptions bool
}

// Batch runs the remote runnable over several inputs in one request.
func (c *Client) Batch(ctx context.Context, inputs []any, opts *BatchOptions) ([]any, error) {
	if opts == nil {
		opts = &BatchOptions{}
	}
	if opts.ReturnExceptions {
		return nil, ErrReturnExceptionsUnsupported
	}

	serialized := make([]any, len(inputs))
	for i, in := range inputs {
		serialized[i] = serde.Serialize(in)
	}

	var config any = orEmptyConfig(opts.Config)
	if len(opts.Configs) > 0 {
		merged := make([]*RunConfig, len(inputs))
		for i := range inputs {
			var per *RunConfig
			if i < len(opts.Configs) {
				per = opts.Configs[i]
			}
			merged[i] = mergeConfigs(opts.Config, per)
		}
		config = merged
	}

	resp, err := c.do(ctx, http.MethodPost, "/batch", batchRequest{
		Inputs: serialized,
		Config: config,
		Kwargs: orEmptyKwargs(opts.Kwargs),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	raw, err := readOutputField(resp)
	if err != nil {
		return nil, err
	}
	var outs []any
	if err := json.Unmarshal(raw, &outs); err != nil {
		return nil, fmt.Errorf("decode batch output: %w", err)
	}
	for i, out := range outs {
		outs[i] = serde.Revive(out)
	}
	return outs, nil
}

// mergeConfigs layers per-item config on top of the batch-level one.
func mergeConfigs(base, per *RunConfig) *RunConfig {
	out := &RunConfig{}
	for _, cfg := range []*RunConfig{base, per} {
		if cfg == nil {
			continue
		}
		out.Tags = append(out.Tags, cfg.Tags...)
		if len(cfg.Metadata) > 0 {
			if out.Metadata == nil {
				out.Metadata = map[string]any{}
			}
			for k, v := range cfg.Metadata {
				out.Metadata[k] = v
			}
		}
		if len(cfg.Configurable) > 0 {
			if out.Configurable == nil {
				out.Configurable = map[string]any{}
			}
			for k, v := range cfg.Configurable {
				out.Configurable[k] = v
			}
		}
	}
	return out
}

func readOutputField(resp *http.Response) (json.RawMessage, error) {
	reader, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(reader).Decode(&envelope); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoBody
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	raw, ok := envelope["output"]
	if !ok {
		return nil, ErrMissingOutput
	}
	return raw, nil
}

// StreamOutput is one unit of a /stream response. A non-nil Err ends the
// stream.
type StreamOutput struct {
	Chunk any
	Err   error
}

// Stream invokes the runnable and surfaces each streamed output unit as it
// arrives. A non-OK response fails synchronously; mid-stream failures arrive
// as the final StreamOutput.
func (c *Client) Stream(ctx context.Context, input any, cfg *RunConfig) (<-chan StreamOutput, error) {
	resp, err := c.do(ctx, http.MethodPost, "/stream", invokeRequest{
		Input:  serde.Serialize(input),
		Config: orEmptyConfig(cfg),
		Kwargs: map[string]any{},
	})
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	reader, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	out := make(chan StreamOutput)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		defer reader.Close()
		err := readSSE(reader, func(ev sseEvent) error {
			switch ev.name {
			case "", "data":
				var v any
				if err := json.Unmarshal(ev.data, &v); err != nil {
					return fmt.Errorf("decode stream chunk: %w", err)
				}
				select {
				case out <- StreamOutput{Chunk: serde.Revive(v)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			case "error":
				return serverStreamError(ev.data)
			case "end":
				return nil
			default:
				slog.Debug("ignoring unknown stream event", "event", ev.name)
				return nil
			}
		})
		if err != nil {
			// The consumer may have cancelled and stopped ranging; never block
			// on delivering the terminal error.
			select {
			case out <- StreamOutput{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// serverStreamError decodes an in-band error frame.
func serverStreamError(data []byte) error {
	var body struct {
		StatusCode int    `json:"status_code"`
		Message    string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		return &StatusError{StatusCode: http.StatusInternalServerError, Message: strings.TrimSpace(string(data))}
	}
	return &StatusError{StatusCode: body.StatusCode, Message: body.Message}
}

// StreamLogOptions flatten the run-inclusion filter onto the wire request.
type StreamLogOptions struct {
	IncludeNames []string
	IncludeTypes []string
	IncludeTags  []string
	ExcludeNames []string
	ExcludeTypes []string
	ExcludeTags  []string
}

type streamLogRequest struct {
	Input        any            `json:"input"`
	Config       any            `json:"config"`
	Kwargs       map[string]any `json:"kwargs"`
	Diff         bool           `json:"diff"`
	IncludeNames []string       `json:"include_names,omitempty"`
	IncludeTypes []string       `json:"include_types,omitempty"`
	IncludeTags  []string       `json:"include_tags,omitempty"`
	ExcludeNames []string       `json:"exclude_names,omitempty"`
	ExcludeTypes []string       `json:"exclude_types,omitempty"`
	ExcludeTags  []string       `json:"exclude_tags,omitempty"`
}

// StreamLogOutput is one revived patch batch from a /stream_log response.
type StreamLogOutput struct {
	Patch *runlog.RunLogPatch
	Err   error
}

// StreamLog invokes the runnable and surfaces the remote tracer's patch
// stream. Each data frame is one JSON-encoded op batch, revived and wrapped
// into a RunLogPatch.
func (c *Client) StreamLog(ctx context.Context, input any, cfg *RunConfig, opts *StreamLogOptions) (<-chan StreamLogOutput, error) {
	if opts == nil {
		opts = &StreamLogOptions{}
	}
	resp, err := c.do(ctx, http.MethodPost, "/stream_log", streamLogRequest{
		Input:        serde.Serialize(input),
		Config:       orEmptyConfig(cfg),
		Kwargs:       map[string]any{},
		Diff:         false,
		IncludeNames: opts.IncludeNames,
		IncludeTypes: opts.IncludeTypes,
		IncludeTags:  opts.IncludeTags,
		ExcludeNames: opts.ExcludeNames,
		ExcludeTypes: opts.ExcludeTypes,
		ExcludeTags:  opts.ExcludeTags,
	})
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	reader, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	out := make(chan StreamLogOutput)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		defer reader.Close()
		err := readSSE(reader, func(ev sseEvent) error {
			switch ev.name {
			case "", "data":
				var batch struct {
					Ops []runlog.Op `json:"ops"`
				}
				if err := json.Unmarshal(ev.data, &batch); err != nil {
					return fmt.Errorf("decode patch batch: %w", err)
				}
				for i := range batch.Ops {
					batch.Ops[i].Value = serde.Revive(batch.Ops[i].Value)
				}
				select {
				case out <- StreamLogOutput{Patch: runlog.NewRunLogPatch(batch.Ops...)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			case "error":
				return serverStreamError(ev.data)
			case "end":
				return nil
			default:
				return nil
			}
		})
		if err != nil {
			select {
			case out <- StreamLogOutput{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// InputSchema returns the runnable's raw input JSON schema, unmodified.
func (c *Client) InputSchema(ctx context.Context) (json.RawMessage, error) {
	return c.getSchema(ctx, "/input_schema")
}

// OutputSchema returns the runnable's raw output JSON schema, unmodified.
func (c *Client) OutputSchema(ctx context.Context) (json.RawMessage, error) {
	return c.getSchema(ctx, "/output_schema")
}

// ConfigSchema returns the runnable's raw config JSON schema, unmodified.
func (c *Client) ConfigSchema(ctx context.Context) (json.RawMessage, error) {
	return c.getSchema(ctx, "/config_schema")
}

func (c *Client) getSchema(ctx context.Context, path string) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	reader, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrNoBody
	}
	return json.RawMessage(raw), nil
}
