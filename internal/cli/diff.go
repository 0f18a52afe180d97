package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewindhq/rewind/internal/state"
)

// DiffReport lists where two JSON documents structurally differ.
type DiffReport struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Paths     []string `json:"paths"`
	Identical bool     `json:"identical"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <old.json> <new.json>",
		Short: "Structurally diff two JSON documents",
		Long: `Print the JSON Pointer paths at which two documents differ.

Documents are compared structurally after canonicalization, so key
order and number spelling never count as differences. Each reported
path names the shallowest differing location; "/" means the documents
differ at the root. Pass "-" for either argument to read standard
input.

Exit codes:
  0 - Documents are structurally identical
  1 - Differences found
  2 - Command error (unreadable file, invalid JSON)

Examples:
  rewind diff ./before.json ./after.json
  rewind diff ./before.json ./after.json --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(rootOpts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runDiff(opts *RootOptions, oldPath, newPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	oldVal, err := readDocument(oldPath, cmd)
	if err != nil {
		return outputDiffError(formatter, oldPath, err)
	}
	newVal, err := readDocument(newPath, cmd)
	if err != nil {
		return outputDiffError(formatter, newPath, err)
	}

	paths := state.Diff(newVal, oldVal)
	report := DiffReport{
		From:      oldPath,
		To:        newPath,
		Paths:     paths,
		Identical: len(paths) == 0,
	}

	if formatter.Format == "json" {
		return outputDiffJSON(cmd, report)
	}
	return outputDiffText(cmd, report)
}

// readDocument loads and decodes one JSON document argument.
func readDocument(path string, cmd *cobra.Command) (state.Value, error) {
	data, err := readInput(path, cmd)
	if err != nil {
		return nil, err
	}
	return state.Decode(data)
}

func outputDiffError(formatter *OutputFormatter, path string, err error) error {
	message := fmt.Sprintf("%s: %v", path, err)
	_ = formatter.Error("E_READ", message, nil)
	return NewExitError(ExitCommandError, message)
}

// outputDiffJSON outputs the diff report as JSON.
func outputDiffJSON(cmd *cobra.Command, report DiffReport) error {
	response := CLIResponse{
		Status: "ok",
		Data:   report,
	}

	if !report.Identical {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DIFFERENCES",
			Message: fmt.Sprintf("%d path(s) differ", len(report.Paths)),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !report.Identical {
		// Differences found = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d path(s) differ", len(report.Paths)))
	}
	return nil
}

// outputDiffText outputs the diff report as text.
func outputDiffText(cmd *cobra.Command, report DiffReport) error {
	w := cmd.OutOrStdout()

	if report.Identical {
		fmt.Fprintln(w, "✓ No differences")
		return nil
	}

	for _, p := range report.Paths {
		fmt.Fprintln(w, p)
	}
	// Differences found = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("%d path(s) differ", len(report.Paths)))
}
