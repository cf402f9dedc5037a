package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nandemo-ya/testcontainers-go-pinot/internal/config"
	"github.com/nandemo-ya/testcontainers-go-pinot/internal/logging"
)

var (
	// Used for flags
	configPath string
	logLevel   string

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "pinot-cluster",
		Short: "Run a disposable Apache Pinot cluster in Docker",
		Long: `pinot-cluster starts ZooKeeper, a Pinot controller, broker and server,
and optionally a minion and a LocalStack S3 emulator, on a private Docker
network. It is meant for local experiments and integration tests.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		logging.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is ./pinot-tc.yaml or $HOME/.pinot-tc/pinot-tc.yaml)")
	RootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")

	RootCmd.AddCommand(upCmd)
	RootCmd.AddCommand(topologyCmd)
	RootCmd.AddCommand(healthCmd)
	RootCmd.AddCommand(queryCmd)
}

// setup loads configuration and installs the global logger
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logging.Initialize(&logging.Config{
		Level:  logging.ParseLevel(level),
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	logging.Debug("configuration loaded",
		"controller", cfg.Pinot.Controller.URL,
		"broker", cfg.Pinot.Broker.URL,
		"pinotImage", cfg.Cluster.PinotImage)
	return nil
}
