package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rewindhq/rewind/internal/config"
	"github.com/rewindhq/rewind/internal/event"
	"github.com/rewindhq/rewind/internal/runstate"
	"github.com/rewindhq/rewind/internal/seq"
	"github.com/rewindhq/rewind/internal/state"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Thread string
	Seq    string // position to reconstruct, live when empty
	Verify bool
}

// VerifyReport cross-checks the checkpoint-based reconstruction against
// a full replay of the recorded stream from the empty initial state.
type VerifyReport struct {
	EventsReplayed int      `json:"events_replayed"`
	Consistent     bool     `json:"consistent"`
	DriftPaths     []string `json:"drift_paths,omitempty"`
	HashesChecked  int      `json:"hashes_checked"`
	HashMismatches []string `json:"hash_mismatches,omitempty"`
}

// ReplayReport holds the reconstruction of one thread at one position.
type ReplayReport struct {
	View         runstate.GraphViewModel `json:"view"`
	Events       int                     `json:"events"`
	Verification *VerifyReport           `json:"verification,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reconstruct a recorded run at a position",
		Long: `Replay a thread's recorded events and print its state at a position.

The recorded stream is fed through a fresh store, then the requested
position is reconstructed from the nearest verified checkpoint plus
replay. Without --seq the live (newest) position is shown. With
--verify, the reconstruction is cross-checked against a full replay
from the empty initial state, and every producer-supplied state hash
is recomputed along the way.

Exit codes:
  0 - Position reconstructed (and verified, if requested)
  1 - Verification failed, or the position is beyond retained history
  2 - Command error (archive not found, unknown thread, etc.)

Examples:
  rewind replay --archive ./rewind.db --thread run-1
  rewind replay --archive ./rewind.db --thread run-1 --seq 42
  rewind replay --archive ./rewind.db --thread run-1 --verify --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Thread, "thread", "", "thread id to replay (required)")
	_ = cmd.MarkFlagRequired("thread")
	cmd.Flags().StringVar(&opts.Seq, "seq", "", "sequence position to reconstruct (default live)")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "cross-check checkpoint replay against full replay")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	arch, err := requireArchive(opts.RootOptions)
	if err != nil {
		return err
	}
	defer arch.Close()

	var target seq.Seq
	live := opts.Seq == ""
	if !live {
		target, err = seq.Parse(opts.Seq)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --seq", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	store := runstate.New(config.Defaults(), runstate.WithLogger(logger))

	var events []event.Event
	n, err := arch.ReplayInto(ctx, opts.Thread, func(ev event.Event) error {
		events = append(events, ev)
		store.Ingest(ev)
		return nil
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to replay archive", err)
	}
	if n == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no recorded events for thread %q", opts.Thread))
	}

	var vm runstate.GraphViewModel
	if live {
		vm, err = store.LiveView(opts.Thread)
	} else {
		vm, err = store.ViewAt(opts.Thread, target)
	}
	if err != nil {
		if runstate.IsGap(err) {
			return WrapExitError(ExitFailure, "requested position is beyond retained history", err)
		}
		return WrapExitError(ExitCommandError, "failed to reconstruct state", err)
	}

	report := ReplayReport{View: vm, Events: n}
	if opts.Verify {
		report.Verification = verifyReplay(events, vm)
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, report)
	}
	return outputReplayText(cmd, report, opts.Verbose)
}

// verifyReplay folds the recorded stream from the empty initial state
// up to the reconstructed position and compares outcomes. The fold
// honors the same oversize-full-state rule the store applies, so the
// two paths agree on which events changed state. Producer hashes are
// recomputed against the folded state right after each bearing event.
func verifyReplay(events []event.Event, vm runstate.GraphViewModel) *VerifyReport {
	report := &VerifyReport{Consistent: true}
	limit := config.Defaults().MaxFullStateSizeBytes

	var folded state.Value
	for _, ev := range events {
		if ev.Seq.Compare(vm.Seq) > 0 {
			break
		}
		report.EventsReplayed++

		applyState := true
		if full, ok := ev.FullState(); ok {
			if int64(len(state.AppendCanonical(nil, full))) > limit {
				applyState = false
			}
		}
		if applyState {
			folded = event.ApplyState(folded, ev)
		}

		if ev.StateHash != "" && ev.StateBearing() && applyState {
			report.HashesChecked++
			if got := state.Hash(folded).Hex(); !strings.EqualFold(got, ev.StateHash) {
				report.HashMismatches = append(report.HashMismatches, ev.Seq.String())
			}
		}
	}

	report.DriftPaths = state.Diff(vm.State, folded)
	if len(report.DriftPaths) > 0 || len(report.HashMismatches) > 0 {
		report.Consistent = false
	}
	return report
}

// outputReplayJSON outputs the replay report as JSON.
func outputReplayJSON(cmd *cobra.Command, report ReplayReport) error {
	response := CLIResponse{
		Status: "ok",
		Data:   report,
	}

	if report.Verification != nil && !report.Verification.Consistent {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_REPLAY_DRIFT",
			Message: "checkpoint replay disagrees with full replay",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if response.Status == "error" {
		return NewExitError(ExitFailure, "replay verification failed")
	}
	return nil
}

// outputReplayText outputs the replay report as text.
func outputReplayText(cmd *cobra.Command, report ReplayReport, verbose bool) error {
	w := cmd.OutOrStdout()
	vm := report.View

	position := vm.Seq.String()
	if vm.IsLive {
		position += " (live)"
	}
	fmt.Fprintf(w, "Thread: %s\n", vm.ThreadID)
	fmt.Fprintf(w, "Position: %s\n", position)
	fmt.Fprintf(w, "State hash: %s\n", vm.StateHash)
	fmt.Fprintf(w, "Unsafe numbers: %v\n", vm.UnsafeNumbers)
	if vm.Finished {
		fmt.Fprintln(w, "Finished: true")
	} else if vm.ActiveNode != "" {
		fmt.Fprintf(w, "Active node: %s\n", vm.ActiveNode)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "State:")
	fmt.Fprintf(w, "  %s\n", state.Canonicalize(vm.State))
	fmt.Fprintln(w)

	if len(vm.ChangedPaths) > 0 {
		fmt.Fprintln(w, "Changed paths:")
		for _, p := range vm.ChangedPaths {
			fmt.Fprintf(w, "  %s\n", p)
		}
		fmt.Fprintln(w)
	}

	if len(vm.Nodes) > 0 {
		fmt.Fprintln(w, "Nodes:")
		names := make([]string, 0, len(vm.Nodes))
		for name := range vm.Nodes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			nv := vm.Nodes[name]
			line := fmt.Sprintf("  %-20s %s", name, nv.Status)
			if nv.DurationMS > 0 {
				line += fmt.Sprintf(" (%dms)", nv.DurationMS)
			}
			if verbose && nv.Traversals > 0 {
				line += fmt.Sprintf(" [%d traversal(s)]", nv.Traversals)
			}
			if nv.Error != "" {
				line += " error: " + nv.Error
			}
			fmt.Fprintln(w, line)
		}
		if len(vm.OutOfSchemaNodes) > 0 {
			fmt.Fprintf(w, "  Out of schema: %s\n", strings.Join(vm.OutOfSchemaNodes, ", "))
		}
		fmt.Fprintln(w)
	}

	v := report.Verification
	if v == nil {
		fmt.Fprintf(w, "✓ Reconstructed from %d recorded event(s)\n", report.Events)
		return nil
	}

	if v.Consistent {
		fmt.Fprintf(w, "✓ Checkpoint replay matches full replay (%d events, %d hashes checked)\n",
			v.EventsReplayed, v.HashesChecked)
		return nil
	}

	fmt.Fprintln(w, "✗ Replay verification failed")
	for _, p := range v.DriftPaths {
		fmt.Fprintf(w, "  drift at %s\n", p)
	}
	for _, s := range v.HashMismatches {
		fmt.Fprintf(w, "  hash mismatch at seq %s\n", s)
	}
	return NewExitError(ExitFailure, "replay verification failed")
}
