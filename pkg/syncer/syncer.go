// Package syncer runs one synchronization of a source container into a
// destination container.
//
// A run lists both sides, computes a plan, optionally issues a read token
// for the source, then issues server-side copies followed by deletes. Runs
// are idempotent: a second run over unchanged containers plans no copies
// under OnlyIfNewer or Never, and no deletes.
//
// Both containers are listed before any write, so objects changed between
// listing and execution are acted on as listed. Nothing coordinates
// concurrent runs against the same destination, and a cancelled run leaves
// whatever copies and deletes were already issued.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/3leaps/blobsync/pkg/events"
	"github.com/3leaps/blobsync/pkg/plan"
	"github.com/3leaps/blobsync/pkg/provider"
	"github.com/3leaps/blobsync/pkg/snapshot"
)

// Config controls one run.
type Config struct {
	// Prefix limits both listings.
	Prefix string

	Overwrite     plan.OverwritePolicy
	CopyMissing   bool
	DeleteOrphans bool

	// PropagateMetadata replaces destination metadata with the source
	// metadata plus the provenance tag.
	PropagateMetadata bool

	// UseDelegatedAccess signs source URLs with a read token minted by the
	// source container. Required when the destination service cannot read
	// the source with its own credentials.
	UseDelegatedAccess bool

	// Filter restricts both listings. Nil keeps every name.
	Filter snapshot.Filter

	// DryRun stops after planning.
	DryRun bool

	// FailFast stops the batch at the first failed item and makes Run
	// return ErrBatchFailed.
	FailFast bool

	Retry       RetryPolicy
	TokenWindow TokenWindow

	// RateLimit caps copy and delete calls per second. Zero is unlimited.
	RateLimit float64

	// Concurrency is the number of copies or deletes in flight.
	Concurrency int

	// MaxKeys caps the listing page size. Zero uses the backend default.
	MaxKeys int
}

// DefaultConfig copies missing objects and never overwrites or deletes.
func DefaultConfig() Config {
	return Config{
		Overwrite:   plan.Never,
		CopyMissing: true,
		Retry:       DefaultRetryPolicy(),
		TokenWindow: TokenWindow{Base: DefaultTokenBase, PerObject: DefaultTokenPerObject},
		Concurrency: 1,
	}
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	switch {
	case c.Overwrite < plan.Never || c.Overwrite > plan.Always:
		return &ConfigError{Field: "Overwrite", Message: fmt.Sprintf("unknown policy %d", int(c.Overwrite))}
	case c.Concurrency < 0:
		return &ConfigError{Field: "Concurrency", Message: "must not be negative"}
	case c.RateLimit < 0:
		return &ConfigError{Field: "RateLimit", Message: "must not be negative"}
	case c.MaxKeys < 0:
		return &ConfigError{Field: "MaxKeys", Message: "must not be negative"}
	case c.Retry.MaxAttempts < 0 || c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0:
		return &ConfigError{Field: "Retry", Message: "must not be negative"}
	case c.TokenWindow.Base < 0 || c.TokenWindow.PerObject < 0:
		return &ConfigError{Field: "TokenWindow", Message: "must not be negative"}
	}
	return nil
}

func (c *Config) policy() plan.Policy {
	return plan.Policy{Overwrite: c.Overwrite, CopyMissing: c.CopyMissing, DeleteOrphans: c.DeleteOrphans}
}

// Report describes a finished run.
type Report struct {
	RunID string

	Plan  *plan.CopyPlan
	Batch *BatchReport

	SourceObjects int
	DestObjects   int

	// Created is set when the destination container was created.
	Created bool
	DryRun  bool

	// TokenExpiry is set when a read token was issued.
	TokenExpiry time.Time

	Duration time.Duration
}

// Syncer runs syncs. The zero value is usable.
type Syncer struct {
	Observer events.Observer

	// RunID names the next run. Empty generates a UUID.
	RunID string

	// Now is the token clock. Nil uses time.Now.
	Now func() time.Time
}

// SyncWithin syncs two containers the destination can read directly.
func SyncWithin(ctx context.Context, source, dest provider.Container, cfg Config, obs events.Observer) (*Report, error) {
	cfg.UseDelegatedAccess = false
	return (&Syncer{Observer: obs}).Run(ctx, source, dest, cfg)
}

// SyncAcross syncs containers in different accounts, reading the source
// through a delegated-access token.
func SyncAcross(ctx context.Context, source, dest provider.Container, cfg Config, obs events.Observer) (*Report, error) {
	cfg.UseDelegatedAccess = true
	return (&Syncer{Observer: obs}).Run(ctx, source, dest, cfg)
}

// Run executes one sync. It fails on configuration errors, listing errors,
// and token errors. Item failures are reported in Report.Batch and only
// fail the run under FailFast. A non-nil Report is returned whenever
// listing completed.
func (s *Syncer) Run(ctx context.Context, source, dest provider.Container, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	obs := events.OrNop(s.Observer)

	var minter provider.ReadTokenMinter
	if cfg.UseDelegatedAccess {
		m, ok := source.(provider.ReadTokenMinter)
		if !ok {
			return nil, &ConfigError{
				Field:   "UseDelegatedAccess",
				Message: fmt.Sprintf("%s source %q cannot issue read tokens", source.Type(), source.Name()),
			}
		}
		minter = m
	}

	runID := s.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &Report{RunID: runID, DryRun: cfg.DryRun}

	lister := &snapshot.Lister{Observer: obs, Fetch: retryFetch(cfg.Retry)}
	srcSnap, err := lister.Snapshot(ctx, source, snapshot.Options{
		Prefix:          cfg.Prefix,
		IncludeMetadata: cfg.PropagateMetadata,
		Filter:          cfg.Filter,
		MaxKeys:         cfg.MaxKeys,
		Side:            events.SideSource,
	})
	if err != nil {
		return nil, fmt.Errorf("list source %s: %w", source.Name(), err)
	}

	dstSnap, err := lister.Snapshot(ctx, dest, snapshot.Options{
		Prefix:          cfg.Prefix,
		IncludeMetadata: cfg.Overwrite == plan.OnlyIfNewer || cfg.PropagateMetadata,
		Filter:          cfg.Filter,
		MaxKeys:         cfg.MaxKeys,
		EnsureContainer: !cfg.DryRun,
		Side:            events.SideDestination,
	})
	if err != nil {
		if !cfg.DryRun || !provider.IsBucketNotFound(err) {
			return nil, fmt.Errorf("list destination %s: %w", dest.Name(), err)
		}
		dstSnap = snapshot.New(dest.Name())
	}

	p := plan.Diff(srcSnap, dstSnap, cfg.policy())
	for _, name := range p.FreshNames() {
		obs.Observe(ctx, events.Event{Type: events.OverwriteSkipped, Container: dest.Name(), Side: events.SideDestination, Name: name})
	}
	report.Plan = p
	report.SourceObjects = srcSnap.Len()
	report.DestObjects = dstSnap.Len()
	report.Created = dstSnap.Created

	if cfg.DryRun {
		report.Batch = &BatchReport{}
		report.Duration = time.Since(start)
		obs.Observe(ctx, events.Event{Type: events.SyncFinished})
		return report, nil
	}

	obs.Observe(ctx, events.Event{Type: events.SyncStarted, Count: len(p.ToCopy) + len(p.ToDelete)})

	var token *Token
	if minter != nil && len(p.ToCopy) > 0 {
		issuer := &TokenIssuer{Window: cfg.TokenWindow, Now: s.Now}
		_, err := cfg.Retry.Do(ctx, func(ctx context.Context) error {
			var err error
			token, err = issuer.Issue(ctx, minter, len(p.ToCopy))
			return err
		})
		if err != nil {
			return report, fmt.Errorf("issue read token for %s: %w", source.Name(), err)
		}
		report.TokenExpiry = token.Expiry
		obs.Observe(ctx, events.Event{Type: events.TokenIssued, Container: source.Name(), Expiry: token.Expiry})
	}

	exec := &Executor{
		Observer:    obs,
		Retry:       cfg.Retry,
		Concurrency: cfg.Concurrency,
		FailFast:    cfg.FailFast,
	}
	if cfg.RateLimit > 0 {
		exec.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	report.Batch = exec.Execute(ctx, ExecuteInput{
		Source:            source,
		Dest:              dest,
		Plan:              p,
		SourceSnapshot:    srcSnap,
		Token:             token,
		PropagateMetadata: cfg.PropagateMetadata,
	})
	report.Duration = time.Since(start)
	obs.Observe(ctx, events.Event{Type: events.SyncFinished, Count: len(report.Batch.Results)})

	if cfg.FailFast && report.Batch.Failed > 0 {
		first := report.Batch.Failures()[0]
		return report, fmt.Errorf("%w: %s %s: %w", ErrBatchFailed, first.Op, first.Name, first.Err)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func retryFetch(policy RetryPolicy) snapshot.FetchFunc {
	return func(ctx context.Context, fetch func(context.Context) (*provider.ListResult, error)) (*provider.ListResult, error) {
		var page *provider.ListResult
		_, err := policy.Do(ctx, func(ctx context.Context) error {
			var err error
			page, err = fetch(ctx)
			return err
		})
		return page, err
	}
}
