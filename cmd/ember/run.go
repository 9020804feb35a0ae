package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ember-gateway/ember/pkg/admission"
	"ember-gateway/ember/pkg/cli"
	"ember-gateway/ember/pkg/config"
	"ember-gateway/ember/pkg/server"
	"ember-gateway/ember/pkg/telemetry/logging"
	"ember-gateway/ember/pkg/telemetry/tracing"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	watchConfig   bool
	apiKeys       []string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway",
	Long: `Start the gateway with the specified configuration.

The gateway listens on the configured address, admitting requests through
an optional admission hook and routing them to the model's backend
process, starting it first if it is not already running.

Examples:
  # Start with default config
  ember run

  # Start with custom config
  ember run --config /etc/ember/config.yaml

  # Override listen address
  ember run --listen 0.0.0.0:8080

  # Validate config without starting the gateway
  ember run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
	runCmd.Flags().BoolVar(&runFlags.watchConfig, "watch-config", true, "reload configuration when the config file changes on disk")
	runCmd.Flags().StringSliceVar(&runFlags.apiKeys, "api-key", nil, "require one of these keys via Authorization: Bearer <key> or ?api_key= (repeatable); unset disables admission checks")
}

func runServer(cmd *cobra.Command, args []string) error {
	path := config.ConfigPathFromEnv(cfgFile)
	if err := config.Initialize(path); err != nil {
		return cli.NewConfigError(path, fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Telemetry.Logging.Level,
		Format: cfg.Telemetry.Logging.Format,
		Writer: os.Stdout,
	})
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("initialize logger: %w", err))
	}
	defer logger.Shutdown()
	slogger := logger.Slog()

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("initialize tracing: %w", err))
	}
	defer tracer.Shutdown(context.Background())

	opts := server.Options{
		AdmissionHook: buildAdmissionHook(slogger),
		ConfigPath:    path,
		WatchConfig:   runFlags.watchConfig,
		Tracer:        tracer,
	}

	srv, err := server.New(cfg, slogger, opts)
	if err != nil {
		return cli.NewCommandError("run", fmt.Errorf("build server: %w", err))
	}

	printBanner(cfg, path)

	ctx := cli.SetupSignalHandler()
	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	fmt.Println("gateway stopped")
	return nil
}

// buildAdmissionHook wires --api-key into an admission.APIKeyHook accepting
// a bearer token or an api_key query parameter. With no keys configured,
// every request is admitted.
func buildAdmissionHook(logger *slog.Logger) admission.Hook {
	if len(runFlags.apiKeys) == 0 {
		return admission.Allow
	}
	allowed := make(map[string]struct{}, len(runFlags.apiKeys))
	for _, k := range runFlags.apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			allowed[k] = struct{}{}
		}
	}
	sources := []admission.KeySource{
		{Header: "Authorization", Scheme: "Bearer"},
		{Query: "api_key"},
	}
	return admission.APIKeyHook(sources, allowed, logger)
}

func printBanner(cfg *config.Config, path string) {
	fmt.Printf("Ember %s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", path)
	fmt.Printf("Listening on %s (%d models configured)\n", cfg.Proxy.ListenAddress, len(cfg.Models))
	fmt.Printf("Health endpoint: http://%s/health\n", cfg.Proxy.ListenAddress)
	fmt.Printf("Metrics endpoint: http://%s/metrics\n", cfg.Proxy.ListenAddress)
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Printf("Prometheus endpoint: http://%s%s\n", cfg.Proxy.ListenAddress, cfg.Telemetry.Metrics.Path)
	}
	fmt.Println("Press Ctrl+C to stop")
}
