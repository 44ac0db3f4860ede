// Command runlog drives a remote runnable from the terminal: one-shot
// invocation, output streaming, and tailing the run-log patch stream with
// optional OTLP export of the final document.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/langchain-ai/langserve-go/internal/config"
	"github.com/langchain-ai/langserve-go/internal/export"
	"github.com/langchain-ai/langserve-go/internal/remote"
	"github.com/langchain-ai/langserve-go/internal/runlog"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	flagURL     string
	flagTimeout time.Duration
	flagHeaders []string
)

func newClient() *remote.Client {
	headers := make(map[string]string, len(flagHeaders))
	for _, h := range flagHeaders {
		k, v, ok := strings.Cut(h, "=")
		if !ok {
			log.Fatalf("malformed header %q (want key=value)", h)
		}
		headers[k] = v
	}
	return remote.New(remote.Config{
		BaseURL: flagURL,
		Timeout: flagTimeout,
		Headers: headers,
	})
}

// parseInput accepts a JSON document, "-" for stdin, or a bare string.
func parseInput(arg string) (any, error) {
	if arg == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, err
		}
		arg = string(raw)
	}
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg, nil
	}
	return v, nil
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("encode output: %v", err)
	}
	fmt.Println(string(b))
}

func main() {
	cfg := config.Load()

	root := &cobra.Command{
		Use:     "runlog",
		Short:   "Interact with a remote runnable's invoke/stream/stream_log endpoints",
		Version: Version,
	}
	root.PersistentFlags().StringVar(&flagURL, "url", cfg.BaseURL, "base URL of the remote runnable")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", cfg.Timeout, "request timeout")
	root.PersistentFlags().StringArrayVar(&flagHeaders, "header", nil, "extra request header (key=value, repeatable)")

	root.AddCommand(newInvokeCmd(), newStreamCmd(), newTailCmd(cfg), newSchemaCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newInvokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <input>",
		Short: "Invoke the runnable once and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseInput(args[0])
			if err != nil {
				return err
			}
			out, err := newClient().Invoke(cmd.Context(), input, nil, nil)
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
}

func newStreamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream <input>",
		Short: "Stream the runnable's output chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseInput(args[0])
			if err != nil {
				return err
			}
			ch, err := newClient().Stream(cmd.Context(), input, nil)
			if err != nil {
				return err
			}
			for out := range ch {
				if out.Err != nil {
					return out.Err
				}
				printJSON(out.Chunk)
			}
			return nil
		},
	}
}

func newTailCmd(cfg config.Config) *cobra.Command {
	var opts remote.StreamLogOptions
	var showState, doExport bool

	cmd := &cobra.Command{
		Use:   "tail <input>",
		Short: "Tail the run-log patch stream, optionally materializing state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := parseInput(args[0])
			if err != nil {
				return err
			}
			if doExport && cfg.OTLPEndpoint == "" {
				return fmt.Errorf("--export requires OTLP_ENDPOINT to be set")
			}

			ch, err := newClient().StreamLog(cmd.Context(), input, nil, &opts)
			if err != nil {
				return err
			}

			state := runlog.NewRunLog()
			g, _ := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				for out := range ch {
					if out.Err != nil {
						return out.Err
					}
					next, err := state.Concat(out.Patch)
					if err != nil {
						return err
					}
					state = next
					if showState {
						printJSON(state.State)
					} else {
						printJSON(out.Patch)
					}
				}
				return nil
			})
			if err := g.Wait(); err != nil {
				return err
			}

			if doExport {
				exp := export.New(export.Config{
					Endpoint:    cfg.OTLPEndpoint,
					Compress:    cfg.OTLPCompress,
					MaxAttempts: cfg.MaxRetries,
				})
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := exp.Export(ctx, state.State); err != nil {
					return err
				}
				log.Printf("exported run log to %s", cfg.OTLPEndpoint)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&opts.IncludeNames, "include-names", nil, "only log runs with these names")
	cmd.Flags().StringSliceVar(&opts.IncludeTypes, "include-types", nil, "only log runs with these types")
	cmd.Flags().StringSliceVar(&opts.IncludeTags, "include-tags", nil, "only log runs carrying these tags")
	cmd.Flags().StringSliceVar(&opts.ExcludeNames, "exclude-names", nil, "drop runs with these names")
	cmd.Flags().StringSliceVar(&opts.ExcludeTypes, "exclude-types", nil, "drop runs with these types")
	cmd.Flags().StringSliceVar(&opts.ExcludeTags, "exclude-tags", nil, "drop runs carrying these tags")
	cmd.Flags().BoolVar(&showState, "state", false, "print the materialized state after each patch")
	cmd.Flags().BoolVar(&doExport, "export", false, "export the final document to the OTLP endpoint")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema <input|output|config>",
		Short:     "Fetch one of the runnable's JSON schemas",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"input", "output", "config"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			var raw json.RawMessage
			var err error
			switch args[0] {
			case "input":
				raw, err = c.InputSchema(cmd.Context())
			case "output":
				raw, err = c.OutputSchema(cmd.Context())
			case "config":
				raw, err = c.ConfigSchema(cmd.Context())
			default:
				return fmt.Errorf("unknown schema %q", args[0])
			}
			if err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				fmt.Println(string(raw))
				return nil
			}
			printJSON(v)
			return nil
		},
	}
}
