package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewindhq/rewind/internal/archive"
	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/seq"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Thread string
	Kinds  []string
	Node   string
	From   string
	To     string
	Limit  int
}

// ThreadListing holds the per-thread archive summary.
type ThreadListing struct {
	Threads []archive.StreamSummary `json:"threads"`
	Total   int                     `json:"total"`
}

// EventListing holds a filtered slice of one thread's recorded events,
// each in wire-envelope form.
type EventListing struct {
	ThreadID string            `json:"thread_id"`
	Events   []json.RawMessage `json:"events"`
	Returned int               `json:"returned"`
	Total    int               `json:"total"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Browse recorded threads and events",
		Long: `List the threads recorded in the archive, or one thread's events.

Without --thread, every recorded thread is listed with its event count
and sequence range. With --thread, the thread's events are listed in
sequence order, optionally filtered by kind, node, and seq range.

Exit codes:
  0 - Listing produced
  2 - Command error (archive not found, bad filter, etc.)

Examples:
  rewind inspect --archive ./rewind.db
  rewind inspect --archive ./rewind.db --thread run-1
  rewind inspect --archive ./rewind.db --thread run-1 --kind node_start --kind node_end
  rewind inspect --archive ./rewind.db --thread run-1 --from 10 --to 50 --limit 20`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Thread, "thread", "", "list a single thread's events")
	cmd.Flags().StringArrayVar(&opts.Kinds, "kind", nil, "filter by event kind (repeatable)")
	cmd.Flags().StringVar(&opts.Node, "node", "", "filter by node name")
	cmd.Flags().StringVar(&opts.From, "from", "", "lowest sequence to include")
	cmd.Flags().StringVar(&opts.To, "to", "", "highest sequence to include")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum events to return (0 for all)")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	arch, err := requireArchive(opts.RootOptions)
	if err != nil {
		return err
	}
	defer arch.Close()

	if opts.Thread == "" {
		return inspectThreads(ctx, arch, opts, cmd)
	}
	return inspectEvents(ctx, arch, opts, cmd)
}

func inspectThreads(ctx context.Context, arch *archive.Archive, opts *InspectOptions, cmd *cobra.Command) error {
	threads, err := arch.Threads(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list threads", err)
	}

	if opts.Format == "json" {
		listing := ThreadListing{Threads: threads, Total: len(threads)}
		if listing.Threads == nil {
			listing.Threads = []archive.StreamSummary{}
		}
		response := CLIResponse{Status: "ok", Data: listing}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	}

	w := cmd.OutOrStdout()
	if len(threads) == 0 {
		fmt.Fprintln(w, "No threads found in archive.")
		return nil
	}

	fmt.Fprintf(w, "Threads: %d recorded\n", len(threads))
	fmt.Fprintln(w)
	for _, th := range threads {
		fmt.Fprintf(w, "%s\n", th.ThreadID)
		fmt.Fprintf(w, "  Events: %d (seq %s..%s)\n", th.Events, th.FirstSeq, th.LastSeq)
		fmt.Fprintf(w, "  Last seen: %s\n", th.LastSeen.UTC().Format(time.RFC3339))
		fmt.Fprintln(w)
	}
	return nil
}

func inspectEvents(ctx context.Context, arch *archive.Archive, opts *InspectOptions, cmd *cobra.Command) error {
	query, err := buildQuery(opts)
	if err != nil {
		return err
	}

	events, err := arch.Events(ctx, query)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query events", err)
	}
	total, err := arch.Count(ctx, query)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count events", err)
	}

	if opts.Format == "json" {
		return outputEventsJSON(cmd, opts.Thread, events, total)
	}

	w := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintf(w, "No recorded events match for thread %s.\n", opts.Thread)
		return nil
	}

	fmt.Fprintf(w, "Events: %d of %d for %s\n", len(events), total, opts.Thread)
	fmt.Fprintln(w)
	for _, ev := range events {
		line := fmt.Sprintf("%-8s %s", ev.Seq, ev.Kind)
		if ev.NodeName != "" {
			line = fmt.Sprintf("%-8s %-20s %s", ev.Seq, ev.Kind, ev.NodeName)
		}
		fmt.Fprintln(w, line)
		if opts.Verbose {
			fmt.Fprintf(w, "         at %s", ev.Timestamp.UTC().Format(time.RFC3339Nano))
			if ev.StateHash != "" {
				fmt.Fprintf(w, "  hash %s", ev.StateHash)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

// buildQuery translates the filter flags into an archive query.
func buildQuery(opts *InspectOptions) (archive.Query, error) {
	q := archive.Query{
		ThreadID: opts.Thread,
		NodeName: opts.Node,
		Limit:    opts.Limit,
	}

	for _, k := range opts.Kinds {
		kind := event.Kind(k)
		if !kind.Valid() {
			return archive.Query{}, NewExitError(ExitCommandError, fmt.Sprintf("unknown event kind %q", k))
		}
		q.Kinds = append(q.Kinds, kind)
	}

	var err error
	if opts.From != "" {
		q.FromSeq, err = seq.Parse(opts.From)
		if err != nil {
			return archive.Query{}, WrapExitError(ExitCommandError, "invalid --from", err)
		}
	}
	if opts.To != "" {
		q.ToSeq, err = seq.Parse(opts.To)
		if err != nil {
			return archive.Query{}, WrapExitError(ExitCommandError, "invalid --to", err)
		}
	}
	return q, nil
}

// outputEventsJSON lists events in wire-envelope form, the same shape
// producers send and the server's events endpoint returns.
func outputEventsJSON(cmd *cobra.Command, threadID string, events []event.Event, total int) error {
	listing := EventListing{
		ThreadID: threadID,
		Events:   make([]json.RawMessage, 0, len(events)),
		Returned: len(events),
		Total:    total,
	}
	for _, ev := range events {
		wire, err := ev.EncodeWire()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode event", err)
		}
		listing.Events = append(listing.Events, wire)
	}

	response := CLIResponse{Status: "ok", Data: listing}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
