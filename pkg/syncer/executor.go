package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/3leaps/blobsync/pkg/events"
	"github.com/3leaps/blobsync/pkg/plan"
	"github.com/3leaps/blobsync/pkg/provider"
	"github.com/3leaps/blobsync/pkg/snapshot"
)

// Op is the operation applied to one object.
type Op string

const (
	OpCopy   Op = "copy"
	OpDelete Op = "delete"
)

// Outcome is the result of one operation.
type Outcome string

const (
	OutcomeCopied  Outcome = "copied"
	OutcomeDeleted Outcome = "deleted"
	// OutcomeAbsent is a delete of an object that no longer existed.
	OutcomeAbsent  Outcome = "absent"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Result records one executed (or skipped) item.
type Result struct {
	Name     string
	Op       Op
	Outcome  Outcome
	Kind     Kind
	Err      error
	Attempts int
}

// BatchReport aggregates the results of a batch.
type BatchReport struct {
	Results []Result

	Copied  int
	Deleted int
	Absent  int
	Failed  int
	Skipped int
}

func (b *BatchReport) add(r Result) {
	b.Results = append(b.Results, r)
	switch r.Outcome {
	case OutcomeCopied:
		b.Copied++
	case OutcomeDeleted:
		b.Deleted++
	case OutcomeAbsent:
		b.Absent++
	case OutcomeFailed:
		b.Failed++
	case OutcomeSkipped:
		b.Skipped++
	}
}

// Failures returns the failed results in execution order.
func (b *BatchReport) Failures() []Result {
	var out []Result
	for _, r := range b.Results {
		if r.Outcome == OutcomeFailed {
			out = append(out, r)
		}
	}
	return out
}

// Err joins all item errors, or returns nil when nothing failed.
func (b *BatchReport) Err() error {
	var errs []error
	for _, r := range b.Failures() {
		errs = append(errs, fmt.Errorf("%s %s: %w", r.Op, r.Name, r.Err))
	}
	return errors.Join(errs...)
}

// Executor issues the copies and deletes of a plan.
type Executor struct {
	Observer events.Observer
	Retry    RetryPolicy

	// Limiter paces every backend call. Nil means unlimited.
	Limiter *rate.Limiter

	// Concurrency is the number of items in flight. Values below one mean
	// one, which issues items strictly in sorted order.
	Concurrency int

	// FailFast stops the batch at the first failed item.
	FailFast bool
}

// ExecuteInput is the work of one batch.
type ExecuteInput struct {
	Source provider.Container
	Dest   provider.Container
	Plan   *plan.CopyPlan

	// SourceSnapshot supplies ETags and metadata for copied names.
	SourceSnapshot *snapshot.Snapshot

	// Token signs source URLs when set.
	Token *Token

	PropagateMetadata bool
}

// Execute runs every copy, then every delete, each in sorted name order.
// Item failures are recorded in the report; the batch continues unless
// FailFast is set. Items not run because of FailFast or cancellation are
// reported as skipped.
func (e *Executor) Execute(ctx context.Context, in ExecuteInput) *BatchReport {
	obs := events.OrNop(e.Observer)
	report := &BatchReport{}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	var stopped atomic.Bool

	run := func(op Op, names []string, fn func(context.Context, string) Result) {
		for _, r := range e.runAll(runCtx, op, names, &stopped, stop, fn) {
			if r.Outcome == OutcomeFailed {
				obs.Observe(ctx, events.Event{Type: events.ItemFailed, Name: r.Name, Err: r.Err})
			}
			report.add(r)
		}
	}

	run(OpCopy, in.Plan.Copies(), func(ctx context.Context, name string) Result {
		return e.copyOne(ctx, obs, in, name)
	})
	run(OpDelete, in.Plan.Deletes(), func(ctx context.Context, name string) Result {
		return e.deleteOne(ctx, obs, in.Dest, name)
	})
	return report
}

func (e *Executor) runAll(ctx context.Context, op Op, names []string, stopped *atomic.Bool, stop context.CancelFunc, fn func(context.Context, string) Result) []Result {
	results := make([]Result, len(names))
	if len(names) == 0 {
		return results
	}

	workers := max(1, min(e.Concurrency, len(names)))
	indexCh := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexCh {
				if stopped.Load() || ctx.Err() != nil {
					results[i] = Result{Name: names[i], Op: op, Outcome: OutcomeSkipped}
					continue
				}
				r := fn(ctx, names[i])
				if r.Outcome == OutcomeFailed && stopped.Load() && r.Kind == KindCanceled {
					r = Result{Name: names[i], Op: op, Outcome: OutcomeSkipped, Attempts: r.Attempts}
				}
				if r.Outcome == OutcomeFailed && e.FailFast && stopped.CompareAndSwap(false, true) {
					stop()
				}
				results[i] = r
			}
		}()
	}
	for i := range names {
		indexCh <- i
	}
	close(indexCh)
	wg.Wait()
	return results
}

func (e *Executor) wait(ctx context.Context) error {
	if e.Limiter == nil {
		return nil
	}
	return e.Limiter.Wait(ctx)
}

func (e *Executor) copyOne(ctx context.Context, obs events.Observer, in ExecuteInput, name string) Result {
	res := Result{Name: name, Op: OpCopy}

	src, ok := in.SourceSnapshot.Get(name)
	if !ok {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("%s not in source snapshot", name)
		res.Kind = Classify(res.Err)
		return res
	}

	var metadata map[string]string
	if in.PropagateMetadata {
		metadata = propagatedMetadata(src)
		obs.Observe(ctx, events.Event{Type: events.MetadataSetting, Container: in.Dest.Name(), Name: name, ETag: src.ETag})
	}

	sourceURL := in.Source.Object(name).URL()
	if in.Token != nil {
		signed, err := provider.SignURL(sourceURL, in.Token.Value)
		if err != nil {
			res.Outcome, res.Err, res.Kind = OutcomeFailed, err, KindConfig
			return res
		}
		sourceURL = signed
	}

	obs.Observe(ctx, events.Event{Type: events.CopyStarted, Container: in.Dest.Name(), Name: name})
	dst := in.Dest.Object(name)
	attempts, err := e.Retry.Do(ctx, func(ctx context.Context) error {
		if err := e.wait(ctx); err != nil {
			return err
		}
		return dst.StartCopyFrom(ctx, sourceURL, metadata)
	})
	res.Attempts = attempts
	if err != nil {
		res.Outcome, res.Err, res.Kind = OutcomeFailed, err, Classify(err)
		return res
	}
	res.Outcome = OutcomeCopied
	obs.Observe(ctx, events.Event{Type: events.CopyFinished, Container: in.Dest.Name(), Name: name})
	return res
}

func (e *Executor) deleteOne(ctx context.Context, obs events.Observer, dest provider.Container, name string) Result {
	res := Result{Name: name, Op: OpDelete}
	obs.Observe(ctx, events.Event{Type: events.DeleteStarted, Container: dest.Name(), Name: name})

	obj := dest.Object(name)
	var existed bool
	attempts, err := e.Retry.Do(ctx, func(ctx context.Context) error {
		if err := e.wait(ctx); err != nil {
			return err
		}
		var err error
		existed, err = obj.DeleteIfExists(ctx)
		return err
	})
	res.Attempts = attempts
	if err != nil {
		res.Outcome, res.Err, res.Kind = OutcomeFailed, err, Classify(err)
		return res
	}
	res.Outcome = OutcomeDeleted
	if !existed {
		res.Outcome = OutcomeAbsent
	}
	obs.Observe(ctx, events.Event{Type: events.DeleteFinished, Container: dest.Name(), Name: name, Existed: existed})
	return res
}

// propagatedMetadata builds the destination metadata for a copy: the
// source metadata verbatim plus the provenance tag. Destination metadata
// is replaced, never merged.
func propagatedMetadata(src snapshot.ObjectRecord) map[string]string {
	out := make(map[string]string, len(src.Metadata)+1)
	for k, v := range src.Metadata {
		if strings.EqualFold(k, plan.ProvenanceKey) {
			continue
		}
		out[k] = v
	}
	out[plan.ProvenanceKey] = src.ETag
	return out
}
