package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewindhq/rewind/internal/archive"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Archive string // path to the SQLite event archive
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rewind CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rewind",
		Short: "Rewind - time travel for workflow runs",
		Long:  "An event-sourced store that ingests workflow run telemetry and reconstructs any run's state at any recorded position.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Archive, "archive", "", "path to the SQLite event archive")

	// Add subcommands
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewHashCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// requireArchive opens the archive named by the global --archive flag.
// Commands that read or record history call this first.
func requireArchive(opts *RootOptions) (*archive.Archive, error) {
	if opts.Archive == "" {
		return nil, NewExitError(ExitCommandError, "an archive path is required (--archive)")
	}
	arch, err := archive.Open(opts.Archive)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	return arch, nil
}
