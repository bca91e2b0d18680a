// Command genesis-orchestrator runs the cluster-wide reconciler of
// spec.md §4.4, the IAM-gated agent-facing HTTP surface (pkg/transport
// /httpapi), and the outbox event dispatcher (pkg/events), all sharing
// one Postgres-backed resource store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/genesis-core/pkg/config"
	"github.com/cuemby/genesis-core/pkg/events"
	"github.com/cuemby/genesis-core/pkg/iam"
	"github.com/cuemby/genesis-core/pkg/log"
	"github.com/cuemby/genesis-core/pkg/metrics"
	"github.com/cuemby/genesis-core/pkg/orchestrator"
	"github.com/cuemby/genesis-core/pkg/scheduler"
	"github.com/cuemby/genesis-core/pkg/storage"
	"github.com/cuemby/genesis-core/pkg/transport/httpapi"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "genesis-orchestrator",
	Short:   "Genesis Core cluster-wide reconciler and agent-facing control plane",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("genesis-orchestrator %s (%s)\n", Version, Commit))
	rootCmd.Flags().String("config-file", "", "path to a single YAML config file")
	rootCmd.Flags().String("config-dir", "", "path to a directory of YAML config files, applied in lexical order")
	rootCmd.Flags().String("bootstrap-admin-username", "", "if set, ensure a bootstrap admin user with *.*.* exists on startup")
	rootCmd.Flags().String("bootstrap-admin-email", "", "email for --bootstrap-admin-username")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON")
}

func run(cmd *cobra.Command, _ []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DB.ConnectionURL == "" {
		return fmt.Errorf("db.connection_url is required")
	}

	store, err := storage.Open(cfg.DB.ConnectionURL)
	if err != nil {
		return fmt.Errorf("open resource store: %w", err)
	}
	defer store.Close()

	iamStore, err := iam.Open(cfg.DB.ConnectionURL)
	if err != nil {
		return fmt.Errorf("open iam store: %w", err)
	}
	defer iamStore.Close()

	kernel, err := iam.NewKernel(iamStore)
	if err != nil {
		return fmt.Errorf("build iam kernel: %w", err)
	}

	if username, _ := cmd.Flags().GetString("bootstrap-admin-username"); username != "" {
		email, _ := cmd.Flags().GetString("bootstrap-admin-email")
		bootstrapCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := kernel.Bootstrap(bootstrapCtx, username, email); err != nil {
			return fmt.Errorf("bootstrap admin user: %w", err)
		}
		log.Info("bootstrap admin user ensured")
	}

	registry := scheduler.NewRegistry()
	assigner := orchestrator.NewAssigner()
	recon := orchestrator.NewReconciler(orchestrator.Config{
		PollInterval:   cfg.Orchestrator.PollInterval,
		ClaimBatchSize: cfg.Orchestrator.ClaimBatchSize,
		LeaseWindow:    cfg.Orchestrator.LeaseWindow,
		StuckAfter:     cfg.Orchestrator.StuckAfter,
		MaxAttempts:    cfg.Orchestrator.MaxAttempts,
		ProjectID:      cfg.Orchestrator.ProjectID,
	}, store, registry, assigner)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	dispatcher := events.NewDispatcher(store, broker)

	server := httpapi.NewServer(assigner, registry, kernel, store, cfg.Orchestrator.ProjectID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recon.Start(ctx)
	defer recon.Stop()

	go dispatcher.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(ctx, cfg.HTTP.ListenAddr); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	go metrics.ServeHandler(ctx, cfg.HTTP.MetricsListenAddr)

	log.Info("genesis-orchestrator started")
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("genesis-orchestrator stopped cleanly")
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config-file")
	configDir, _ := cmd.Flags().GetString("config-dir")
	switch {
	case configDir != "":
		return config.LoadDir(configDir)
	case configFile != "":
		return config.Load(configFile)
	default:
		return nil, fmt.Errorf("one of --config-file or --config-dir is required")
	}
}
