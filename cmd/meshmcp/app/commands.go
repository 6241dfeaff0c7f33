// Package app provides the entry point for the meshmcp command-line
// application.
package app

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meshmcp/meshmcp/pkg/batch"
	"github.com/meshmcp/meshmcp/pkg/cache"
	"github.com/meshmcp/meshmcp/pkg/config"
	"github.com/meshmcp/meshmcp/pkg/handler"
	"github.com/meshmcp/meshmcp/pkg/health"
	"github.com/meshmcp/meshmcp/pkg/logger"
	"github.com/meshmcp/meshmcp/pkg/obsv"
	"github.com/meshmcp/meshmcp/pkg/registry"
	"github.com/meshmcp/meshmcp/pkg/router"
	"github.com/meshmcp/meshmcp/pkg/server"
	"github.com/meshmcp/meshmcp/pkg/transport"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:               "meshmcp",
	DisableAutoGenTag: true,
	Short:             "meshmcp - Aggregate and proxy multiple MCP servers",
	Long: `meshmcp is a proxy that aggregates multiple MCP (Model Context Protocol)
servers into a single unified endpoint. It provides:

- Tool, resource, and prompt aggregation from multiple backend MCP servers
- Health-aware routing with circuit breaking per backend
- Response caching and request batching
- Hot-reloadable configuration with no restart required`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the meshmcp CLI.
func NewRootCmd() *cobra.Command {
	// Clear flags and subcommands left by an earlier call so they are not
	// registered twice on the shared root command.
	rootCmd.ResetFlags()
	rootCmd.ResetCommands()

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to meshmcp configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the meshmcp server",
		Long: `Start meshmcp to aggregate and proxy multiple MCP servers.

The server reads the configuration file specified by --config, connects to
every enabled backend, and starts listening for MCP client connections on
the configured host and port.`,
		RunE: runServe,
	}
	cmd.Flags().String("host", "", "Host address to bind to (overrides config)")
	cmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
	cmd.Flags().Bool("watch", true, "Reload configuration and hot-swap backends on file change")
	cmd.Flags().Bool("metrics", true, "Expose Prometheus metrics at /metrics")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("meshmcp version: %s", version)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the meshmcp configuration file for syntax and semantic errors.

This command checks:
- YAML syntax validity
- Required fields presence
- Backend transport configuration correctness`,
		RunE: func(_ *cobra.Command, _ []string) error {
			configPath := viper.GetString("config")
			if configPath == "" {
				return fmt.Errorf("no configuration file specified, use --config flag")
			}

			cfg, err := loadAndValidateConfig(configPath)
			if err != nil {
				return err
			}

			logger.Infof("✓ Configuration is valid")
			logger.Infof("  Name: %s", cfg.Name)
			logger.Infof("  Group: %s", cfg.Group)
			logger.Infof("  Backends: %d", len(cfg.Backends))
			logger.Infof("  Router algorithm: %s", cfg.Router.Algorithm)
			return nil
		},
	}
}

func loadAndValidateConfig(configPath string) (*config.Config, error) {
	logger.Infof("Loading configuration from: %s", configPath)

	loader := config.NewYAMLLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}

	validator := config.NewValidator()
	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	logger.Infof("Configuration loaded and validated: %d backends", len(cfg.Backends))
	return cfg, nil
}

// runServe wires every collaborator package together and blocks until the
// command's context is canceled.
//
//nolint:gocyclo // server initialization naturally touches every package
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	configPath := viper.GetString("config")
	if configPath == "" {
		return fmt.Errorf("no configuration file specified, use --config flag")
	}

	cfg, err := loadAndValidateConfig(configPath)
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	transports := transport.NewFactory(cfg.Transport.MaxConnsPerBackend, time.Duration(cfg.Transport.MaxIdleAge), cfg.Transport.MaxRetries)

	descriptors := cfg.ToDescriptors()
	reg := registry.New(descriptors, cfg.Registry.VirtualNodes)
	reg.OnRelease(func(snap *registry.Snapshot) {
		for _, d := range snap.All() {
			transports.Release(d.ID)
		}
	})

	// metrics is always built and wired into every collaborator so request,
	// cache, batch, and breaker outcomes are recorded regardless of whether
	// the /metrics HTTP endpoint is exposed.
	metrics := obsv.New()

	checker := health.NewChecker(transports, metrics)
	for _, d := range reg.Current().All() {
		interval := time.Duration(d.HealthCheck.IntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 10 * time.Second
		}
		checker.Start(ctx, d, interval)
	}
	defer checker.Stop()

	rt := router.New(cfg.ToRouterConfig(), checker)
	c := cache.New(cfg.ToCacheConfig(), metrics)

	var agg *batch.Aggregator
	if cfg.Batch.Enabled {
		agg = batch.New(cfg.ToBatchConfig(), metrics)
	}

	h := handler.New(reg, rt, checker, transports, c, agg, nil, metrics, cfg.ToHandlerConfig())

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: 30 * time.Second,
		Version:         version,
	}
	if enableMetrics, _ := cmd.Flags().GetBool("metrics"); enableMetrics {
		srvCfg.MetricsHandler = promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
	}
	srv := server.New(srvCfg, h, reg, checker)

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		watcher, err := config.NewWatcher(configPath, reg, transports)
		if err != nil {
			logger.Warnf("config watcher unavailable, hot reload disabled: %v", err)
		} else {
			go watcher.Run(ctx)
		}
	}

	logger.Infof("Starting meshmcp server at %s", srv.Address())
	return srv.Start(ctx)
}
