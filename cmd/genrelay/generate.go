package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"genrelay/internal/domain"
)

type generateFlags struct {
	prompt     string
	task       string
	system     string
	schemaFile string
	voice      string
	maxTokens  int
	timeout    time.Duration
	output     string
	asJSON     bool
}

func newGenerateCmd(g *globalFlags) *cobra.Command {
	f := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run one generation request through the chain (default command)",
		Long: `Run one generation request through the preference chain and print the
result. The prompt comes from --prompt, the positional arguments, or stdin
when the prompt is "-".

Examples:
  genrelay generate "Summarise the release notes"
  genrelay --prompt "List three colours" --task structured --schema colours.json
  genrelay generate --task speech --voice alloy --output hello.mp3 "Hello"
  echo "Translate to French: good morning" | genrelay generate -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			req, err := f.request(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if f.timeout > 0 {
				var tcancel context.CancelFunc
				ctx, tcancel = context.WithTimeout(ctx, f.timeout)
				defer tcancel()
			}

			res, err := a.dispatcher.Generate(ctx, req)
			if err != nil {
				printFailure(cmd.ErrOrStderr(), err)
				return err
			}
			return f.print(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&f.prompt, "prompt", "p", "", "Prompt text (\"-\" reads stdin)")
	cmd.Flags().StringVarP(&f.task, "task", "t", string(domain.TaskText), "Task kind (text|structured|speech)")
	cmd.Flags().StringVar(&f.system, "system", "", "System instruction")
	cmd.Flags().StringVar(&f.schemaFile, "schema", "", "JSON schema file for structured output")
	cmd.Flags().StringVar(&f.voice, "voice", "", "Voice for speech output")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Output token limit (0 = provider default)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Overall deadline (0 = dispatch.timeout from config)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write speech audio to this file")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the full result, including the attempt trail, as JSON")
	return cmd
}

// request builds the generation request from flags, positional args and stdin.
func (f *generateFlags) request(args []string, stdin io.Reader) (domain.GenerationRequest, error) {
	prompt := f.prompt
	if prompt == "" {
		prompt = strings.Join(args, " ")
	}
	if prompt == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return domain.GenerationRequest{}, fmt.Errorf("read prompt from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if strings.TrimSpace(prompt) == "" {
		return domain.GenerationRequest{}, fmt.Errorf("%w: a prompt is required (--prompt, argument, or \"-\" for stdin)", domain.ErrInvalidInput)
	}

	kind := domain.TaskKind(f.task)
	if !kind.Valid() {
		return domain.GenerationRequest{}, fmt.Errorf("%w: unknown task %q", domain.ErrInvalidInput, f.task)
	}
	if kind == domain.TaskSpeech && f.output == "" && !f.asJSON {
		return domain.GenerationRequest{}, fmt.Errorf("%w: speech output needs --output", domain.ErrInvalidInput)
	}

	payload := domain.TaskPayload{
		Prompt:    prompt,
		System:    f.system,
		Voice:     f.voice,
		MaxTokens: f.maxTokens,
	}
	if f.schemaFile != "" {
		schema, err := os.ReadFile(f.schemaFile)
		if err != nil {
			return domain.GenerationRequest{}, fmt.Errorf("%w: read schema: %v", domain.ErrInvalidInput, err)
		}
		payload.Schema = schema
	}
	return domain.GenerationRequest{Kind: kind, Payload: payload}, nil
}

func (f *generateFlags) print(w io.Writer, res *domain.GenerationResult) error {
	if f.output != "" && len(res.Audio) > 0 {
		if err := os.WriteFile(f.output, res.Audio, 0o644); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}
	if f.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if len(res.Audio) > 0 {
		fmt.Fprintf(w, "wrote %d bytes (%s) to %s via %s\n", len(res.Audio), res.MimeType, f.output, res.ProviderUsed)
		return nil
	}
	fmt.Fprintln(w, res.Content)
	return nil
}

// printFailure writes the per-provider trail of a failed dispatch.
func printFailure(w io.Writer, err error) {
	var agg *domain.AggregateFailure
	if !errors.As(err, &agg) {
		return
	}
	if agg.TimedOut {
		fmt.Fprintln(w, "deadline reached before any provider succeeded")
	} else {
		fmt.Fprintln(w, "no provider could serve the request")
	}
	for _, rec := range agg.Attempts {
		fmt.Fprintf(w, "  #%d %-40s %-10s attempts=%d %s\n",
			rec.Position, rec.Key(), rec.Outcome, rec.AttemptNumber, rec.ErrorDetail)
	}
	for _, key := range agg.Skipped {
		fmt.Fprintf(w, "  -- %-40s skipped (task not supported)\n", key)
	}
}
