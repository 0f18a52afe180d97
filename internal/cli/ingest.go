package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewindhq/rewind/internal/archive"
	"github.com/rewindhq/rewind/internal/config"
	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/runstate"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Record bool
}

// IngestSummary totals one ingest pass over a recorded or file-borne
// event stream.
type IngestSummary struct {
	Events      int `json:"events"`
	Applied     int `json:"applied"`
	Pending     int `json:"pending"`
	Rejected    int `json:"rejected"`
	Recorded    int `json:"recorded,omitempty"`
	Runs        int `json:"runs"`
	Checkpoints int `json:"checkpoints"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest [events.jsonl]",
		Short: "Feed an event stream through a store",
		Long: `Read producer events into a fresh store and report what happened.

Events come from a JSONL file of wire envelopes, or from the archive
named by --archive when no file is given. With --record, file events
are also appended to the archive, deduplicated on (thread, seq).

Exit codes:
  0 - Stream processed (rejected events are reported, not fatal)
  2 - Command error (unreadable file, malformed JSON, archive errors)

Examples:
  rewind ingest ./events.jsonl
  rewind ingest ./events.jsonl --archive ./rewind.db --record
  rewind ingest --archive ./rewind.db --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Record, "record", false, "also append file events to the archive")

	return cmd
}

func runIngest(opts *IngestOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Record && len(args) == 0 {
		return NewExitError(ExitCommandError, "--record needs a file to record; the archive is already recorded")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	store := runstate.New(config.Defaults(), runstate.WithLogger(logger))

	var arch *archive.Archive
	if len(args) == 0 || opts.Record {
		var err error
		arch, err = requireArchive(opts.RootOptions)
		if err != nil {
			return err
		}
		defer arch.Close()
	}

	var summary IngestSummary
	ingestOne := func(ev event.Event) {
		res := store.Ingest(ev)
		summary.Events++
		switch {
		case res.Rejected != nil:
			summary.Rejected++
		case res.Pending:
			summary.Pending++
		case res.Applied:
			summary.Applied++
		}
		if res.Checkpointed {
			summary.Checkpoints++
		}
	}

	if len(args) == 1 {
		err := ingestFile(ctx, args[0], logger, &summary, func(ev event.Event) error {
			ingestOne(ev)
			if !opts.Record {
				return nil
			}
			inserted, err := arch.WriteEvent(ctx, ev)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to record event", err)
			}
			if inserted {
				summary.Recorded++
			}
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		threads, err := arch.Threads(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list threads", err)
		}
		for _, th := range threads {
			if _, err := arch.ReplayInto(ctx, th.ThreadID, func(ev event.Event) error {
				ingestOne(ev)
				return nil
			}); err != nil {
				return WrapExitError(ExitCommandError, "failed to replay archive", err)
			}
		}
	}

	summary.Runs = len(store.Runs())

	if opts.Format == "json" {
		return outputIngestJSON(cmd, summary)
	}
	return outputIngestText(cmd, summary)
}

// ingestFile streams wire envelopes out of a JSONL file. An envelope
// that fails to decode is dropped and counted; a JSON syntax error
// aborts, since the decoder cannot resynchronize past it.
func ingestFile(ctx context.Context, path string, log *slog.Logger, summary *IngestSummary, apply func(event.Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open events file", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return WrapExitError(ExitCommandError, "ingest cancelled", err)
		}

		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("malformed JSON at value %d", i+1), err)
		}

		ev, err := event.DecodeWire(raw)
		if err != nil {
			log.Warn("dropping undecodable event", "index", i, "error", err)
			summary.Events++
			summary.Rejected++
			continue
		}
		if err := apply(ev); err != nil {
			return err
		}
	}
}

// outputIngestJSON outputs the ingest summary as JSON.
func outputIngestJSON(cmd *cobra.Command, summary IngestSummary) error {
	response := CLIResponse{
		Status: "ok",
		Data:   summary,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputIngestText outputs the ingest summary as text.
func outputIngestText(cmd *cobra.Command, summary IngestSummary) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Ingest Summary: %d event(s), %d run(s)\n", summary.Events, summary.Runs)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Applied: %d\n", summary.Applied)
	fmt.Fprintf(w, "  Pending: %d\n", summary.Pending)
	fmt.Fprintf(w, "  Rejected: %d\n", summary.Rejected)
	fmt.Fprintf(w, "  Checkpoints: %d\n", summary.Checkpoints)
	if summary.Recorded > 0 {
		fmt.Fprintf(w, "  Recorded: %d\n", summary.Recorded)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "✓ Ingest complete")
	return nil
}
