package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewindhq/rewind/internal/archive"
	"github.com/rewindhq/rewind/internal/config"
	"github.com/rewindhq/rewind/internal/manifest"
	"github.com/rewindhq/rewind/internal/runstate"
	"github.com/rewindhq/rewind/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Manifest string

	MaxEventsPerRun      int
	MaxRuns              int
	CheckpointInterval   int
	MaxCheckpointsPerRun int
	MaxCheckpointState   string
	MaxFullState         string
	MaxSchemaJSON        string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ingest and view server",
		Long: `Start the HTTP server that ingests producer events and serves run views.

The server accepts telemetry over POST and WebSocket, maintains bounded
in-memory run state with periodic checkpoints, and reconstructs views at
any retained position. With --archive, recorded history also backs the
per-run events endpoint. The process runs until interrupted.

Examples:
  rewind serve --addr :8787
  rewind serve --addr :8787 --archive ./rewind.db --manifest ./graph.cue
  rewind serve --checkpoint-interval 25 --max-events-per-run 2000 --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	defaults := config.Defaults()
	cmd.Flags().StringVar(&opts.Addr, "addr", ":8787", "listen address")
	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "path to a graph manifest declaring the expected node set")
	cmd.Flags().IntVar(&opts.MaxEventsPerRun, "max-events-per-run", defaults.MaxEventsPerRun, "events retained per run")
	cmd.Flags().IntVar(&opts.MaxRuns, "max-runs", defaults.MaxRuns, "runs observed at once")
	cmd.Flags().IntVar(&opts.CheckpointInterval, "checkpoint-interval", defaults.CheckpointInterval, "applied events between checkpoints")
	cmd.Flags().IntVar(&opts.MaxCheckpointsPerRun, "max-checkpoints-per-run", defaults.MaxCheckpointsPerRun, "checkpoints retained per run")
	cmd.Flags().StringVar(&opts.MaxCheckpointState, "max-checkpoint-state-size", "2M", "checkpoint snapshot size cap (K/M/G suffix)")
	cmd.Flags().StringVar(&opts.MaxFullState, "max-full-state-size", "8M", "full-state replacement size cap (K/M/G suffix)")
	cmd.Flags().StringVar(&opts.MaxSchemaJSON, "max-schema-size", "1M", "declared-schema payload size cap (K/M/G suffix)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := serveLimits(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid limit flags", err)
	}

	storeOpts := []runstate.StoreOption{runstate.WithLogger(slog.Default())}
	if opts.Manifest != "" {
		slog.Info("loading manifest", "path", opts.Manifest)
		m, err := manifest.Load(opts.Manifest)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load manifest", err)
		}
		storeOpts = append(storeOpts, runstate.WithExpectedNodes(m.NodeNames()))
		slog.Info("manifest loaded", "graph", m.Name, "nodes", len(m.Nodes))
	}

	store := runstate.New(cfg, storeOpts...)

	serverOpts := []server.ServerOption{server.WithLogger(slog.Default())}
	if opts.Archive != "" {
		slog.Info("opening archive", "path", opts.Archive)
		arch, err := archive.Open(opts.Archive)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open archive", err)
		}
		defer func() {
			if closeErr := arch.Close(); closeErr != nil {
				slog.Error("error closing archive", "error", closeErr)
			}
		}()
		serverOpts = append(serverOpts, server.WithArchive(arch))
	}

	srv := server.NewServer(store, serverOpts...)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	}()

	// Handlers only enqueue events; this loop applies them in order.
	drained := make(chan error, 1)
	go func() {
		drained <- srv.Run(ctx)
	}()

	slog.Info("server starting", "addr", opts.Addr)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", opts.Addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	serveErr := httpServer.ListenAndServe()
	cancel()
	if err := <-drained; err != nil && err != context.Canceled && err != context.DeadlineExceeded {
		return WrapExitError(ExitFailure, "intake error", err)
	}
	if serveErr != nil && serveErr != http.ErrServerClosed {
		return WrapExitError(ExitFailure, "server error", serveErr)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// serveLimits converts the limit flags into store options through the
// same query-string parser the dashboard links use. A value the parser
// would warn about is a hard error here: the operator typed it.
func serveLimits(opts *ServeOptions) (config.Options, error) {
	q := url.Values{}
	q.Set("maxEventsPerRun", strconv.Itoa(opts.MaxEventsPerRun))
	q.Set("maxRuns", strconv.Itoa(opts.MaxRuns))
	q.Set("checkpointInterval", strconv.Itoa(opts.CheckpointInterval))
	q.Set("maxCheckpointsPerRun", strconv.Itoa(opts.MaxCheckpointsPerRun))
	q.Set("maxCheckpointStateSizeBytes", opts.MaxCheckpointState)
	q.Set("maxFullStateSizeBytes", opts.MaxFullState)
	q.Set("maxSchemaJsonSizeBytes", opts.MaxSchemaJSON)

	cfg, warnings := config.FromQuery(q)
	if len(warnings) > 0 {
		return config.Options{}, fmt.Errorf("%s", strings.Join(warnings, "; "))
	}
	return cfg, nil
}
