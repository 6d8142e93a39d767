package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-tool-gateway/internal/settings"
	"github.com/vikashloomba/mcp-tool-gateway/pkg/mcpmgr"
)

type checkOptions struct {
	config    string
	transport string
	timeout   mcpmgr.Duration
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &checkOptions{timeout: mcpmgr.Duration(60 * time.Second)}
	cmd := &cobra.Command{
		Use:           "backend-check",
		Short:         "Validate a backend config file and connect every backend once",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.config, "config", "c", "", "Backend config file, JSON or YAML")
	cmd.Flags().StringVar(&opts.transport, "transport", string(mcpmgr.TransportStdio), "Only check backends supporting this transport")
	cmd.Flags().Var(&opts.timeout, "timeout", "Overall time allowed for connecting")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "Log level for connection diagnostics")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// runCheck prints one line per eligible backend and fails when any backend
// could not connect.
func runCheck(ctx context.Context, out io.Writer, opts *checkOptions) error {
	mode, err := mcpmgr.ParseTransportMode(opts.transport)
	if err != nil {
		return err
	}
	logger, err := settings.NewLogger(os.Stderr, opts.logLevel, "text")
	if err != nil {
		return err
	}
	backends, err := mcpmgr.LoadBackends(opts.config)
	if err != nil {
		return err
	}
	manager, err := mcpmgr.NewManager(backends, &mcpmgr.ManagerOptions{
		ClientName: "backend-check",
		Mode:       mode,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout.Duration())
		defer cancel()
	}
	initErr := manager.Initialize(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	defer func() { _ = manager.Shutdown(shutdownCtx) }()
	if initErr != nil {
		return initErr
	}

	failed := 0
	for _, summary := range manager.Summaries() {
		if summary.Status == mcpmgr.StatusConnected {
			fmt.Fprintf(out, "%s: %s (%d tools)\n", summary.Name, summary.Status, summary.Tools)
			continue
		}
		failed++
		fmt.Fprintf(out, "%s: %s: %s\n", summary.Name, summary.Status, summary.Reason)
	}
	fmt.Fprintf(out, "%d/%d backend(s) connected\n", manager.ConnectedCount(), manager.TotalCount())
	if failed > 0 {
		return fmt.Errorf("%d backend(s) failed to connect", failed)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "backend-check:", err)
		stop()
		os.Exit(1)
	}
}
