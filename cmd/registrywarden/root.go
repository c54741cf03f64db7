// Package registrywarden wires the cobra root command: flags over the
// environment-variable contract the rest of the codebase reads directly
// ($CONFIG_PATH, $LOG_LEVEL, $LOG_PATH, $METRICS_ADDR, $AUDIT_DB_PATH).
package registrywarden

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"registrywarden/internal/audit"
	"registrywarden/internal/controller"
	"registrywarden/internal/logging"
	"registrywarden/internal/metrics"
	"registrywarden/internal/runtime"
)

var (
	configPath  string
	logLevel    string
	metricsAddr string
	auditDBPath string
)

// NewRootCommand builds the registrywarden root command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registrywarden",
		Short: "Container-registry retention controller",
		Long: "registrywarden watches a container runtime for labeled Docker/OCI\n" +
			"distribution registries and periodically deletes image tags from them\n" +
			"according to per-instance rules, then triggers garbage collection.\n" +
			"Per-registry GC cadence is controlled by the external config file's\n" +
			"registries.<name>.gc.always key, not a flag or container label.",
		RunE: run,
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the external configuration file (overrides $CONFIG_PATH)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides $LOG_LEVEL)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (overrides $METRICS_ADDR)")
	cmd.Flags().StringVar(&auditDBPath, "audit-db", "", "path to the audit sqlite database (overrides $AUDIT_DB_PATH)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		os.Setenv("CONFIG_PATH", configPath)
	}
	if logLevel != "" {
		os.Setenv("LOG_LEVEL", logLevel)
	}
	if metricsAddr != "" {
		os.Setenv("METRICS_ADDR", metricsAddr)
	}
	if auditDBPath != "" {
		os.Setenv("AUDIT_DB_PATH", auditDBPath)
	}

	log := logging.New()
	defer log.Sync()

	rtClient, err := runtime.NewDockerClient()
	if err != nil {
		return fmt.Errorf("creating runtime client: %w", err)
	}

	auditDB, err := audit.Open(audit.Path())
	if err != nil {
		log.Warn("failed to open audit database, audit trail disabled", zap.Error(err))
		auditDB = nil
	} else {
		defer auditDB.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := metrics.Serve(ctx, metrics.Addr()); err != nil {
			log.Error("metrics server stopped with an error", zap.Error(err))
		}
	}()

	ctl := controller.New(rtClient, auditDB, log)
	if err := ctl.Run(ctx); err != nil {
		return fmt.Errorf("controller exited with error: %w", err)
	}
	return nil
}

// Execute runs the root command and exits the process non-zero on
// failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
