package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewindhq/rewind/internal/state"
)

// HashReport is the canonicalization result for one JSON document.
type HashReport struct {
	Canonical     string `json:"canonical"`
	Hash          string `json:"hash"`
	UnsafeNumbers bool   `json:"unsafe_numbers"`
	SizeBytes     int    `json:"size_bytes"`
}

// NewHashCommand creates the hash command.
func NewHashCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash <file.json>",
		Short: "Canonicalize a JSON document and hash it",
		Long: `Print a JSON document's canonical form and its SHA-256 digest.

Any implementation hashing the same logical value must produce the same
digest, so this is the interop check against a producer's state_hash.
The unsafe-numbers flag reports whether any numeric leaf exceeds 2^53,
past which the digest cannot prove what the producer originally held.

Pass "-" to read standard input.

Exit codes:
  0 - Document canonicalized
  2 - Command error (unreadable file, invalid JSON)

Examples:
  rewind hash ./state.json
  cat state.json | rewind hash -
  rewind hash ./state.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHash(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runHash(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	data, err := readInput(path, cmd)
	if err != nil {
		return outputHashError(formatter, "E_READ", fmt.Sprintf("failed to read %s: %v", path, err))
	}
	formatter.VerboseLog("Read %d byte(s) from %s", len(data), path)

	value, err := state.Decode(data)
	if err != nil {
		return outputHashError(formatter, "E_PARSE", err.Error())
	}

	canonical := state.Canonicalize(value)
	h := state.Hash(value)
	report := HashReport{
		Canonical:     canonical,
		Hash:          h.Hex(),
		UnsafeNumbers: h.HasUnsafeNumbers,
		SizeBytes:     len(canonical),
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintln(formatter.Writer, canonical)
	fmt.Fprintf(formatter.Writer, "SHA-256: %s\n", report.Hash)
	fmt.Fprintf(formatter.Writer, "Unsafe numbers: %v\n", report.UnsafeNumbers)
	return nil
}

// outputHashError reports a hash failure in the configured format.
func outputHashError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// readInput reads path, or standard input when path is "-".
func readInput(path string, cmd *cobra.Command) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
