package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/blobsync/internal/config"
	"github.com/3leaps/blobsync/internal/observability"
	"github.com/3leaps/blobsync/internal/server"
	"github.com/3leaps/blobsync/pkg/events"
	"github.com/3leaps/blobsync/pkg/manifest"
	"github.com/3leaps/blobsync/pkg/match"
	"github.com/3leaps/blobsync/pkg/output"
	"github.com/3leaps/blobsync/pkg/plan"
	"github.com/3leaps/blobsync/pkg/preflight"
	"github.com/3leaps/blobsync/pkg/provider"
	"github.com/3leaps/blobsync/pkg/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync [<src-uri> <dst-uri>]",
	Short: "Make a destination container mirror a source container",
	Long: `Copy objects from a source container into a destination container with
server-side copies, optionally deleting destination objects the source no
longer has.

Object names are preserved. The URI path (or --prefix) limits both sides to
one name prefix.

Containers and settings can come from a manifest (--job); flags override it.

Examples:
  blobsync sync s3://src-bucket/images/ s3://dst-bucket/images/
  blobsync sync az://assets az://assets-backup --delete-orphans --overwrite only-if-newer
  blobsync sync minio://raw minio://mirror --src-endpoint http://localhost:9000 --dst-endpoint http://localhost:9000
  blobsync sync --job sync.yaml --dry-run
  blobsync sync file:///data/a file:///data/b --include '**/*.parquet' --output file:run.jsonl`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runSync,
}

var (
	syncJobPath       string
	syncOutput        string
	syncPrefix        string
	syncOverwrite     string
	syncCopyMissing   bool
	syncDeleteOrphans bool
	syncPropagateMeta bool
	syncDelegated     bool
	syncIncludes      []string
	syncExcludes      []string
	syncDryRun        bool
	syncFailFast      bool
	syncConcurrency   int
	syncRateLimit     float64
	syncEvents        bool
	syncStatusAddr    string
	syncPreflightMode string
	syncPathStyle     bool
	syncSrcRegion     string
	syncDstRegion     string
	syncSrcEndpoint   string
	syncDstEndpoint   string
	syncSrcProfile    string
	syncDstProfile    string
	syncSrcConnString string
	syncDstConnString string
	syncSrcInsecure   bool
	syncDstInsecure   bool
	syncStatusLinger  time.Duration
)

func init() {
	rootCmd.AddCommand(syncCmd)

	f := syncCmd.Flags()
	f.StringVarP(&syncJobPath, "job", "j", "", "Path to sync manifest (YAML or JSON)")
	f.StringVarP(&syncOutput, "output", "o", "", "Report destination: stdout or file:<path>")
	f.StringVar(&syncPrefix, "prefix", "", "Sync only names with this prefix (overrides the URI paths)")
	f.StringVar(&syncOverwrite, "overwrite", "never", "Overwrite policy for names on both sides (never|only-if-newer|always)")
	f.BoolVar(&syncCopyMissing, "copy-missing", true, "Copy source objects missing from the destination")
	f.BoolVar(&syncDeleteOrphans, "delete-orphans", false, "Delete destination objects missing from the source")
	f.BoolVar(&syncPropagateMeta, "propagate-metadata", false, "Carry source user metadata onto copies")
	f.BoolVar(&syncDelegated, "delegated-access", false, "Read the source through a short-lived read token (automatic across Azure accounts)")
	f.StringSliceVar(&syncIncludes, "include", nil, "Only sync names matching these globs (repeatable)")
	f.StringSliceVar(&syncExcludes, "exclude", nil, "Skip names matching these globs (repeatable)")
	f.BoolVar(&syncDryRun, "dry-run", false, "Compute and report the plan without copying or deleting")
	f.BoolVar(&syncFailFast, "fail-fast", false, "Stop at the first failed item")
	f.IntVar(&syncConcurrency, "concurrency", 0, "Parallel copy/delete operations (default from config)")
	f.Float64Var(&syncRateLimit, "rate-limit", 0, "Maximum copy/delete requests per second (0 = unlimited)")
	f.BoolVar(&syncEvents, "events", false, "Include event records in the report")
	f.StringVar(&syncStatusAddr, "status-addr", "", "Serve /health and /status on host:port while the sync runs")
	f.DurationVar(&syncStatusLinger, "status-linger", 0, "Keep the status server up this long after the sync finishes")
	f.StringVar(&syncPreflightMode, "preflight", "", "Run preflight checks first (plan-only|read-safe)")

	f.BoolVar(&syncPathStyle, "path-style", false, "Force path-style S3 addressing")
	f.StringVar(&syncSrcRegion, "src-region", "", "Source region")
	f.StringVar(&syncDstRegion, "dst-region", "", "Destination region")
	f.StringVar(&syncSrcEndpoint, "src-endpoint", "", "Source endpoint (S3-compatible URL or MinIO host:port)")
	f.StringVar(&syncDstEndpoint, "dst-endpoint", "", "Destination endpoint (S3-compatible URL or MinIO host:port)")
	f.StringVar(&syncSrcProfile, "src-profile", "", "Source AWS profile")
	f.StringVar(&syncDstProfile, "dst-profile", "", "Destination AWS profile")
	f.StringVar(&syncSrcConnString, "src-connection-string", "", "Source Azure connection string (default $"+AzureConnectionStringEnv+")")
	f.StringVar(&syncDstConnString, "dst-connection-string", "", "Destination Azure connection string (default $"+AzureConnectionStringEnv+")")
	f.BoolVar(&syncSrcInsecure, "src-insecure", false, "Disable TLS for a bare MinIO source endpoint")
	f.BoolVar(&syncDstInsecure, "dst-insecure", false, "Disable TLS for a bare MinIO destination endpoint")
}

// syncJob is a fully resolved sync invocation.
type syncJob struct {
	src, dst         *ContainerURI
	srcOpts, dstOpts endpointOptions
	cfg              syncer.Config
	delegatedSet     bool
	destination      string
	events           bool
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	job, err := resolveSyncJob(cmd, args)
	if err != nil {
		return err
	}

	if IsReadOnly() && !job.cfg.DryRun {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: sync would modify the destination",
			errors.New("rerun with --dry-run or without --readonly"))
	}
	if job.cfg.UseDelegatedAccess && job.src.Provider != provider.ProviderAzureBlob {
		return exitError(foundry.ExitInvalidArgument, "Delegated access needs an az:// source",
			fmt.Errorf("%s sources cannot issue read tokens", job.src.Provider))
	}

	src, err := openContainer(ctx, job.src, job.srcOpts)
	if err != nil {
		observability.CLILogger.Error("Failed to open source", zap.String("uri", job.src.String()), zap.Error(err))
		return exitError(exitCodeFor(err), "Failed to open source container", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := openContainer(ctx, job.dst, job.dstOpts)
	if err != nil {
		observability.CLILogger.Error("Failed to open destination", zap.String("uri", job.dst.String()), zap.Error(err))
		return exitError(exitCodeFor(err), "Failed to open destination container", err)
	}
	defer func() { _ = dst.Close() }()

	if !job.delegatedSet && crossAccount(src, dst) {
		observability.CLILogger.Info("Containers are in different accounts; using delegated access",
			zap.String("source", job.src.String()),
			zap.String("destination", job.dst.String()))
		job.cfg.UseDelegatedAccess = true
	}

	runID := uuid.NewString()
	writer, cleanup, err := createWriter(job.destination, runID, src.Type().String())
	if err != nil {
		observability.CLILogger.Error("Failed to create writer", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	if syncPreflightMode != "" {
		if err := runSyncPreflight(ctx, writer, src, dst, job); err != nil {
			return err
		}
	}

	tracker := events.NewTracker()
	observers := []events.Observer{events.NewLogObserver(observability.CLILogger.With(zap.String("run_id", runID))), tracker}
	if job.events {
		observers = append(observers, &events.JSONLObserver{Writer: writer})
	}

	stopStatus, err := startStatusServer(ctx, syncStatusAddr, tracker)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to start status server", err)
	}
	defer stopStatus()

	observability.CLILogger.Info("Starting sync",
		zap.String("run_id", runID),
		zap.String("source", job.src.String()),
		zap.String("destination", job.dst.String()),
		zap.String("prefix", job.cfg.Prefix),
		zap.String("overwrite", job.cfg.Overwrite.String()),
		zap.Bool("delete_orphans", job.cfg.DeleteOrphans),
		zap.Bool("delegated_access", job.cfg.UseDelegatedAccess),
		zap.Bool("dry_run", job.cfg.DryRun),
		zap.Int("concurrency", job.cfg.Concurrency))

	s := &syncer.Syncer{Observer: events.Multi(observers...), RunID: runID}
	report, runErr := s.Run(ctx, src, dst, job.cfg)

	if report != nil {
		writeReport(ctx, writer, job, report)
	}
	if runErr != nil {
		return syncFailure(ctx, writer, runErr)
	}

	observability.CLILogger.Info("Sync completed",
		zap.String("run_id", runID),
		zap.Int("copied", report.Batch.Copied),
		zap.Int("deleted", report.Batch.Deleted),
		zap.Int("failed", report.Batch.Failed),
		zap.Duration("duration", report.Duration))

	if report.Batch.Failed > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable,
			fmt.Sprintf("Sync completed with %d failed items", report.Batch.Failed), report.Batch.Err())
	}
	return nil
}

// resolveSyncJob layers config defaults, the manifest and flags.
func resolveSyncJob(cmd *cobra.Command, args []string) (*syncJob, error) {
	flags := cmd.Flags()

	var m *manifest.Manifest
	if syncJobPath != "" {
		loaded, err := manifest.Load(syncJobPath)
		if err != nil {
			observability.CLILogger.Error("Failed to load manifest", zap.String("path", syncJobPath), zap.Error(err))
			return nil, exitError(manifestExitCode(err), "Invalid manifest", err)
		}
		m = loaded
	}

	var srcRaw, dstRaw string
	switch {
	case len(args) == 2:
		srcRaw, dstRaw = args[0], args[1]
	case len(args) == 0 && m != nil:
		srcRaw, dstRaw = m.Source.URI, m.Destination.URI
	default:
		return nil, exitError(foundry.ExitInvalidArgument, "sync needs <src-uri> <dst-uri> or --job",
			fmt.Errorf("got %d arguments", len(args)))
	}

	src, err := ParseURI(srcRaw)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid source URI", err)
	}
	dst, err := ParseURI(dstRaw)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid destination URI", err)
	}

	base := syncer.DefaultConfig()
	var cfgExcludes []string
	if c := config.GetConfig(); c != nil {
		base = c.SyncDefaults()
		cfgExcludes = c.Sync.Excludes
	}

	job := &syncJob{src: src, dst: dst, cfg: base, destination: manifest.DefaultDestination}
	var includes, excludes []string

	if m != nil {
		job.cfg, err = m.SyncConfig(base)
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
		}
		job.srcOpts = endpointFromManifest(m.Source)
		job.dstOpts = endpointFromManifest(m.Destination)
		job.destination = m.Output.Destination
		job.events = m.Output.Events
		job.delegatedSet = m.Sync.DelegatedAccess
		includes = m.Match.Includes
		excludes = m.Match.Excludes
	}

	if err := applySyncFlags(flags.Changed, job); err != nil {
		return nil, err
	}

	if flags.Changed("include") {
		includes = syncIncludes
	}
	excludes = append(append(append([]string{}, cfgExcludes...), excludes...), syncExcludes...)
	job.cfg.Filter = nil
	if len(includes) > 0 || len(excludes) > 0 {
		matcher, err := match.New(match.Config{Includes: includes, Excludes: excludes})
		if err != nil {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid match patterns", err)
		}
		job.cfg.Filter = matcher
	}

	job.cfg.Prefix, err = resolvePrefix(src, dst, syncPrefix)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid prefix", err)
	}

	if err := job.cfg.Validate(); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid sync settings", err)
	}
	return job, nil
}

// applySyncFlags overlays flags the user set explicitly.
func applySyncFlags(changed func(string) bool, job *syncJob) error {
	if changed("overwrite") {
		p, err := plan.ParseOverwritePolicy(syncOverwrite)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --overwrite value", err)
		}
		job.cfg.Overwrite = p
	}
	if changed("copy-missing") {
		job.cfg.CopyMissing = syncCopyMissing
	}
	if changed("delete-orphans") {
		job.cfg.DeleteOrphans = syncDeleteOrphans
	}
	if changed("propagate-metadata") {
		job.cfg.PropagateMetadata = syncPropagateMeta
	}
	if changed("delegated-access") {
		job.cfg.UseDelegatedAccess = syncDelegated
		job.delegatedSet = true
	}
	if changed("dry-run") {
		job.cfg.DryRun = syncDryRun
	}
	if changed("fail-fast") {
		job.cfg.FailFast = syncFailFast
	}
	if changed("concurrency") {
		job.cfg.Concurrency = syncConcurrency
	}
	if changed("rate-limit") {
		job.cfg.RateLimit = syncRateLimit
	}
	if changed("output") {
		job.destination = syncOutput
	}
	if changed("events") {
		job.events = syncEvents
	}

	if changed("path-style") {
		job.srcOpts.PathStyle = syncPathStyle
		job.dstOpts.PathStyle = syncPathStyle
	}
	overlay := func(dst *string, flag, value string) {
		if changed(flag) {
			*dst = value
		}
	}
	overlay(&job.srcOpts.Region, "src-region", syncSrcRegion)
	overlay(&job.dstOpts.Region, "dst-region", syncDstRegion)
	overlay(&job.srcOpts.Endpoint, "src-endpoint", syncSrcEndpoint)
	overlay(&job.dstOpts.Endpoint, "dst-endpoint", syncDstEndpoint)
	overlay(&job.srcOpts.Profile, "src-profile", syncSrcProfile)
	overlay(&job.dstOpts.Profile, "dst-profile", syncDstProfile)
	overlay(&job.srcOpts.ConnectionString, "src-connection-string", syncSrcConnString)
	overlay(&job.dstOpts.ConnectionString, "dst-connection-string", syncDstConnString)
	if changed("src-insecure") {
		job.srcOpts.Insecure = syncSrcInsecure
	}
	if changed("dst-insecure") {
		job.dstOpts.Insecure = syncDstInsecure
	}

	if c := config.GetConfig(); c != nil {
		job.srcOpts.MaxKeys = c.Sync.MaxKeys
		job.dstOpts.MaxKeys = c.Sync.MaxKeys
	}
	return nil
}

// runSyncPreflight checks capabilities and records the result before any
// mutating call.
func runSyncPreflight(ctx context.Context, writer output.Writer, src, dst provider.Container, job *syncJob) error {
	mode, err := preflight.ParseMode(syncPreflightMode)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --preflight value", err)
	}
	rec, pfErr := preflight.Sync(ctx, src, dst, preflight.Spec{
		Mode:            mode,
		Prefix:          job.cfg.Prefix,
		DelegatedAccess: job.cfg.UseDelegatedAccess,
	})
	if rec != nil {
		if err := writer.WritePreflight(ctx, rec); err != nil {
			observability.CLILogger.Warn("Failed to write preflight record", zap.Error(err))
		}
	}
	if pfErr != nil {
		observability.CLILogger.Error("Preflight failed", zap.Error(pfErr))
		return exitError(foundry.ExitExternalServiceUnavailable, "Preflight failed", pfErr)
	}
	return nil
}

// writeReport emits the plan (dry run), item results and summary.
func writeReport(ctx context.Context, writer output.Writer, job *syncJob, report *syncer.Report) {
	warn := func(what string, err error) {
		if err != nil {
			observability.CLILogger.Warn("Failed to write "+what+" record", zap.Error(err))
		}
	}

	if report.DryRun && report.Plan != nil {
		warn("plan", writer.WritePlan(ctx, planRecord(job, report.Plan)))
	}

	batch := report.Batch
	if batch == nil {
		batch = &syncer.BatchReport{}
	}
	for _, r := range batch.Results {
		warn("item", writer.WriteItem(ctx, itemRecord(r)))
	}
	warn("summary", writer.WriteSummary(ctx, summaryRecord(report, batch)))
}

func planRecord(job *syncJob, p *plan.CopyPlan) *output.PlanRecord {
	return &output.PlanRecord{
		Source:      job.src.String(),
		Destination: job.dst.String(),
		Prefix:      job.cfg.Prefix,
		Overwrite:   job.cfg.Overwrite.String(),
		ToCopy:      p.Copies(),
		ToDelete:    p.Deletes(),
		Missing:     len(p.Missing),
		Fresh:       len(p.Fresh),
	}
}

func itemRecord(r syncer.Result) *output.ItemRecord {
	rec := &output.ItemRecord{
		Name:     r.Name,
		Op:       string(r.Op),
		Outcome:  string(r.Outcome),
		Attempts: r.Attempts,
	}
	if r.Err != nil {
		rec.ErrorCode = output.CodeForKind(string(r.Kind))
		rec.Error = r.Err.Error()
	}
	return rec
}

func summaryRecord(report *syncer.Report, batch *syncer.BatchReport) *output.SummaryRecord {
	sum := &output.SummaryRecord{
		SourceObjects: report.SourceObjects,
		DestObjects:   report.DestObjects,
		Copied:        batch.Copied,
		Deleted:       batch.Deleted,
		Absent:        batch.Absent,
		Failed:        batch.Failed,
		Skipped:       batch.Skipped,
		Created:       report.Created,
		DryRun:        report.DryRun,
		Duration:      report.Duration,
		DurationHuman: report.Duration.Round(time.Millisecond).String(),
	}
	if report.Plan != nil {
		sum.PlannedCopies = len(report.Plan.ToCopy)
		sum.PlannedDelete = len(report.Plan.ToDelete)
		sum.Fresh = len(report.Plan.Fresh)
	}
	return sum
}

// syncFailure records a run-level error and maps it onto an exit code.
func syncFailure(ctx context.Context, writer output.Writer, err error) error {
	rec := &output.ErrorRecord{
		Code:    output.CodeForKind(string(syncer.Classify(err))),
		Message: err.Error(),
	}
	if werr := writer.WriteError(context.WithoutCancel(ctx), rec); werr != nil {
		observability.CLILogger.Warn("Failed to write error record", zap.Error(werr))
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		observability.CLILogger.Warn("Sync cancelled", zap.Error(err))
		return exitError(foundry.ExitSignalInt, "Sync cancelled", err)
	}
	observability.CLILogger.Error("Sync failed", zap.Error(err))
	return exitError(exitCodeFor(err), "Sync failed", err)
}

// exitCodeFor maps a provider or sync error onto an exit code.
func exitCodeFor(err error) int {
	switch {
	case syncer.IsConfigurationError(err), provider.IsUnsupported(err), provider.IsInvalidCredentials(err):
		return foundry.ExitInvalidArgument
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	}
	if isBackendConfigError(err) {
		return foundry.ExitInvalidArgument
	}
	return foundry.ExitExternalServiceUnavailable
}

// manifestExitCode maps manifest load failures onto exit codes.
func manifestExitCode(err error) int {
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, manifest.ErrManifestNotFound):
		return foundry.ExitFileNotFound
	case errors.Is(err, manifest.ErrValidationFailed):
		return foundry.ExitInvalidArgument
	case errors.As(err, &pathErr), strings.HasPrefix(err.Error(), "permission denied"):
		return foundry.ExitFileReadError
	}
	return foundry.ExitInvalidArgument
}

// createWriter creates an output writer for dest ("stdout" or
// "file:<path>"). Returns the writer, a cleanup function, and any error.
func createWriter(dest, runID, providerName string) (output.Writer, func(), error) {
	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID, providerName)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	if path == "" {
		return nil, nil, fmt.Errorf("output destination %q has no path", dest)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, runID, providerName)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}

// startStatusServer serves run status on addr until the returned stop
// function is called. An empty addr starts nothing.
func startStatusServer(ctx context.Context, addr string, tracker *events.Tracker) (func(), error) {
	if addr == "" {
		return func() {}, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("status address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("status address %q: invalid port", addr)
	}

	opts := []server.Option{
		server.WithStatus(tracker),
		server.WithLogger(observability.CLILogger),
		server.WithVersion(server.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
	}
	if c := config.GetConfig(); c != nil {
		opts = append(opts, server.WithTimeouts(c.Server.ReadTimeout, c.Server.WriteTimeout, c.Server.ShutdownTimeout))
	}
	srv := server.New(host, port, opts...)

	srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(srvCtx); err != nil {
			observability.CLILogger.Error("Status server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()

	return func() {
		if syncStatusLinger > 0 {
			select {
			case <-time.After(syncStatusLinger):
			case <-ctx.Done():
			}
		}
		cancel()
		<-done
	}, nil
}
