// Command genesis-agent runs the per-node universal agent: it
// authenticates to the control plane, advertises its capabilities, and
// drives the bounded-poll reconciliation loop of spec.md §4.3 against
// whichever capability drivers this node's config enables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/genesis-core/pkg/agent"
	"github.com/cuemby/genesis-core/pkg/capability"
	"github.com/cuemby/genesis-core/pkg/config"
	"github.com/cuemby/genesis-core/pkg/drivers/certificate"
	"github.com/cuemby/genesis-core/pkg/drivers/compute"
	"github.com/cuemby/genesis-core/pkg/drivers/password"
	"github.com/cuemby/genesis-core/pkg/drivers/service"
	"github.com/cuemby/genesis-core/pkg/log"
	"github.com/cuemby/genesis-core/pkg/security"
	"github.com/cuemby/genesis-core/pkg/storage"
)

// Version information, set via ldflags during build.
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
	Use:     "genesis-agent",
	Short:   "Genesis Core universal agent",
	Long:    "genesis-agent drives the per-node reconciliation loop that realizes target resources as actuals through capability drivers.",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("genesis-agent %s (%s)\n", Version, Commit))
	rootCmd.Flags().String("config-file", "", "path to a single YAML config file")
	rootCmd.Flags().String("config-dir", "", "path to a directory of YAML config files, applied in lexical order")
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
	if cfg.Agent.NodeID == "" {
		return fmt.Errorf("universal_agent.node_id is required")
	}

	drivers, cleanup, err := buildDrivers(cfg)
	if err != nil {
		return fmt.Errorf("build capability drivers: %w", err)
	}
	defer cleanup()

	a := agent.New(agent.Config{
		NodeID:           cfg.Agent.NodeID,
		AuthEndpoint:     cfg.Agent.AuthEndpoint,
		OrchEndpoint:     cfg.Agent.OrchEndpoint,
		StatusEndpoint:   cfg.Agent.StatusEndpoint,
		StaticCredential: cfg.Agent.StaticCredential,
		PollInterval:     cfg.Agent.PollInterval,
		ProjectID:        cfg.Agent.ProjectID,
	}, drivers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}
	log.Info("genesis-agent started")

	<-ctx.Done()
	a.Stop()
	log.Info("genesis-agent stopped cleanly")
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

// buildDrivers constructs exactly the capability drivers named in
// universal_agent.caps_drivers, keyed by capability.Kind. KindComputeNode
// routes between the containerd-backed dummy driver and the libvirt stub
// per the owning MachinePool's driver field, which means it needs its own
// read-only handle on the resource store to look the pool up; that handle
// is opened lazily and only when the node advertises the compute kind.
func buildDrivers(cfg *config.Config) (map[capability.Kind]capability.Driver, func(), error) {
	out := make(map[capability.Kind]capability.Driver, len(cfg.Agent.CapsDrivers))
	var store storage.Store
	cleanup := func() {
		if store != nil {
			store.Close()
		}
	}

	for _, name := range cfg.Agent.CapsDrivers {
		kind := capability.Kind(name)
		if !kind.HasDriver() {
			cleanup()
			return nil, nil, fmt.Errorf("caps_drivers: %q is not a registrable capability kind", name)
		}
		driverCfg := cfg.Agent.DriverConfig[name]

		var (
			d   capability.Driver
			err error
		)
		switch kind {
		case capability.KindComputeNode:
			if store == nil {
				store, err = storage.Open(cfg.DB.ConnectionURL)
				if err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("open store for compute router: %w", err)
				}
			}
			dummy, derr := compute.NewDummyDriver(driverCfg)
			if derr != nil {
				cleanup()
				return nil, nil, derr
			}
			libvirt, lerr := compute.NewLibvirtDriver(driverCfg)
			if lerr != nil {
				cleanup()
				return nil, nil, lerr
			}
			d = compute.NewRouter(store, dummy, libvirt)
		case capability.KindPassword:
			d, err = password.NewDriver(driverCfg)
		case capability.KindCertificate:
			d, err = certificate.NewDriver(security.NewCertAuthority())(driverCfg)
		case capability.KindServiceNode:
			d, err = service.NewDriver(driverCfg)
		default:
			err = fmt.Errorf("no agent-side driver implementation for kind %q", name)
		}
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		out[kind] = d
	}
	if len(out) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("universal_agent.caps_drivers must advertise at least one kind")
	}
	return out, cleanup, nil
}
