// Package preflight checks that a sync can plausibly run before any
// mutating call is made.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/blobsync/pkg/output"
	"github.com/3leaps/blobsync/pkg/provider"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	// ModePlanOnly makes no provider calls.
	ModePlanOnly Mode = "plan-only"

	// ModeReadSafe lists both containers and mints a short-lived token when
	// delegated access is requested. It never writes.
	ModeReadSafe Mode = "read-safe"
)

// ParseMode parses a mode name. Empty selects ModeReadSafe.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeReadSafe:
		return ModeReadSafe, nil
	case ModePlanOnly:
		return ModePlanOnly, nil
	}
	return "", fmt.Errorf("unknown preflight mode %q (expected plan-only or read-safe)", s)
}

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode   Mode
	Prefix string

	// DelegatedAccess requires the source to mint read tokens.
	DelegatedAccess bool
}

// Capability names are stable strings used in JSONL output.
const (
	CapSourceList  = "source.list"
	CapSourceToken = "source.token"
	CapDestList    = "destination.list"
	CapDestCreate  = "destination.create"
)

// probeTokenWindow is the lifetime of the token minted by read-safe checks.
const probeTokenWindow = 5 * time.Minute

// Sync checks the capabilities a sync from source into dest needs. The
// record lists every check made; the error joins every failed check.
func Sync(ctx context.Context, source, dest provider.Container, spec Spec) (*output.PreflightRecord, error) {
	rec := &output.PreflightRecord{
		Mode:    string(spec.Mode),
		Results: []output.PreflightCheckResult{},
	}
	var errs []error

	fail := func(capability, method string, err error) {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: capability,
			Allowed:    false,
			Method:     method,
			ErrorCode:  normalizeErrorCode(err),
			Detail:     err.Error(),
		})
		errs = append(errs, fmt.Errorf("%s: %w", capability, err))
	}
	pass := func(capability, method, detail string) {
		rec.Results = append(rec.Results, output.PreflightCheckResult{
			Capability: capability,
			Allowed:    true,
			Method:     method,
			Detail:     detail,
		})
	}

	minter, canMint := source.(provider.ReadTokenMinter)
	if spec.DelegatedAccess && !canMint {
		fail(CapSourceToken, "ReadTokenMinter", fmt.Errorf("%s backend cannot mint read tokens: %w", source.Type(), provider.ErrUnsupported))
	}

	if spec.Mode == ModePlanOnly {
		return rec, errors.Join(errs...)
	}

	method := fmt.Sprintf("List(prefix=%q,maxKeys=1)", spec.Prefix)

	if _, err := source.List(ctx, provider.ListOptions{Prefix: spec.Prefix, MaxKeys: 1}); err != nil {
		fail(CapSourceList, method, err)
	} else {
		pass(CapSourceList, method, "")
	}

	switch _, err := dest.List(ctx, provider.ListOptions{Prefix: spec.Prefix, MaxKeys: 1}); {
	case err == nil:
		pass(CapDestList, method, "")
	case provider.IsBucketNotFound(err):
		// Absent destinations are created by the sync itself.
		pass(CapDestCreate, "CreateIfNotExists", "destination container absent; created on first sync")
	default:
		fail(CapDestList, method, err)
	}

	if spec.DelegatedAccess && canMint {
		start := time.Now()
		_, err := minter.MintReadToken(ctx, provider.TokenOptions{
			Start:       start,
			Expiry:      start.Add(probeTokenWindow),
			Permissions: provider.ReadOnly,
		})
		tokenMethod := fmt.Sprintf("MintReadToken(%s,%s)", provider.ReadOnly, probeTokenWindow)
		if err != nil {
			fail(CapSourceToken, tokenMethod, err)
		} else {
			pass(CapSourceToken, tokenMethod, "")
		}
	}

	return rec, errors.Join(errs...)
}

func normalizeErrorCode(err error) string {
	switch {
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case provider.IsBucketNotFound(err), provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeProviderUnavailable
	case provider.IsUnsupported(err):
		return output.ErrCodeInvalidConfig
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return output.ErrCodeTimeout
	default:
		return output.ErrCodeInternal
	}
}
