package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/blobsync/internal/config"
	"github.com/3leaps/blobsync/internal/observability"
	"github.com/3leaps/blobsync/pkg/preflight"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight <src-uri> <dst-uri>",
	Short: "Probe permissions and capabilities for a sync",
	Long: `Probe permissions and capabilities before running a sync.

Emits a JSONL preflight record (blobsync.preflight.v1). No mode ever
creates, copies or deletes anything.

Examples:
  # Plan-only: no provider calls
  blobsync preflight s3://src/images/ s3://dst/images/ --mode plan-only

  # Read-safe: one-object listings of both sides
  blobsync preflight az://assets az://assets-backup --mode read-safe --delegated-access`,
	Args: cobra.ExactArgs(2),
	RunE: runPreflight,
}

var (
	preflightMode      string
	preflightPrefix    string
	preflightDelegated bool
	preflightOutput    string
	preflightSrc       endpointOptions
	preflightDst       endpointOptions
)

func init() {
	rootCmd.AddCommand(preflightCmd)

	f := preflightCmd.Flags()
	f.StringVar(&preflightMode, "mode", string(preflight.ModeReadSafe), "Preflight mode (plan-only|read-safe)")
	f.StringVar(&preflightPrefix, "prefix", "", "Name prefix (overrides the URI paths)")
	f.BoolVar(&preflightDelegated, "delegated-access", false, "Check that the source can issue read tokens")
	f.StringVarP(&preflightOutput, "output", "o", "stdout", "Report destination: stdout or file:<path>")
	f.StringVar(&preflightSrc.Region, "src-region", "", "Source region")
	f.StringVar(&preflightDst.Region, "dst-region", "", "Destination region")
	f.StringVar(&preflightSrc.Endpoint, "src-endpoint", "", "Source endpoint")
	f.StringVar(&preflightDst.Endpoint, "dst-endpoint", "", "Destination endpoint")
	f.StringVar(&preflightSrc.Profile, "src-profile", "", "Source AWS profile")
	f.StringVar(&preflightDst.Profile, "dst-profile", "", "Destination AWS profile")
	f.StringVar(&preflightSrc.ConnectionString, "src-connection-string", "", "Source Azure connection string")
	f.StringVar(&preflightDst.ConnectionString, "dst-connection-string", "", "Destination Azure connection string")

	preflightCmd.Long += "\n\nSafety:\n- --readonly (or BLOBSYNC_READONLY=true) is honored; preflight never mutates."
}

func runPreflight(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mode, err := preflight.ParseMode(preflightMode)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --mode value", err)
	}

	srcURI, err := ParseURI(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid source URI", err)
	}
	dstURI, err := ParseURI(args[1])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid destination URI", err)
	}
	prefix, err := resolvePrefix(srcURI, dstURI, preflightPrefix)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid prefix", err)
	}

	if c := config.GetConfig(); c != nil {
		preflightSrc.MaxKeys = c.Sync.MaxKeys
		preflightDst.MaxKeys = c.Sync.MaxKeys
	}

	src, err := openContainer(ctx, srcURI, preflightSrc)
	if err != nil {
		return exitError(exitCodeFor(err), "Failed to open source container", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := openContainer(ctx, dstURI, preflightDst)
	if err != nil {
		return exitError(exitCodeFor(err), "Failed to open destination container", err)
	}
	defer func() { _ = dst.Close() }()

	writer, cleanup, err := createWriter(preflightOutput, uuid.NewString(), src.Type().String())
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	rec, pfErr := preflight.Sync(ctx, src, dst, preflight.Spec{
		Mode:            mode,
		Prefix:          prefix,
		DelegatedAccess: preflightDelegated,
	})
	if rec != nil {
		if err := writer.WritePreflight(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write preflight record", err)
		}
	}
	if pfErr != nil {
		observability.CLILogger.Error("Preflight failed",
			zap.String("source", srcURI.String()),
			zap.String("destination", dstURI.String()),
			zap.Error(pfErr))
		return exitError(foundry.ExitExternalServiceUnavailable, "Preflight failed", pfErr)
	}

	observability.CLILogger.Info(fmt.Sprintf("Preflight passed (%s)", mode),
		zap.String("source", srcURI.String()),
		zap.String("destination", dstURI.String()))
	return nil
}
