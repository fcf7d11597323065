// Package cmd implements the blobsync command line.
package cmd

import (
	"context"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/blobsync/internal/config"
	"github.com/3leaps/blobsync/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "none",
	BuildDate: "unknown",
}

var (
	cfgFile  string
	verbose  bool
	readOnly bool
)

var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Synchronize objects between storage containers",
	Long: `blobsync makes a destination container mirror the objects of a source
container using server-side copies.

Supported backends: s3://, minio://, az:// and file://.

Output is JSONL on stdout (or --output file:path); logs go to stderr.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: $XDG_CONFIG_HOME/blobsync/blobsync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&readOnly, "readonly", false, "Refuse any command that would modify a container")
}

// SetVersionInfo records build information for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// IsReadOnly reports whether the readonly latch is set by flag or config.
func IsReadOnly() bool {
	if readOnly {
		return true
	}
	if cfg := config.GetConfig(); cfg != nil {
		return cfg.ReadOnly
	}
	return false
}

// initRuntime loads configuration and installs the CLI logger.
func initRuntime(cmd *cobra.Command, _ []string) error {
	config.SetConfigFile(cfgFile)

	overrides := map[string]any{}
	if verbose {
		overrides["logging"] = map[string]any{"level": "debug"}
	}
	if cmd.Flags().Changed("readonly") {
		overrides["readonly"] = readOnly
	}

	cfg, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		observability.InitCLILogger(config.AppName, verbose)
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.NewLogger(observability.Options{
		Name:    config.AppName,
		Level:   cfg.Logging.Level,
		Profile: cfg.Logging.Profile,
	})
	if err != nil {
		observability.InitCLILogger(config.AppName, verbose)
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	observability.SetCLILogger(logger)

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("level", cfg.Logging.Level),
		zap.String("profile", cfg.Logging.Profile),
		zap.Bool("readonly", cfg.ReadOnly))
	return nil
}
