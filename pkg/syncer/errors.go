package syncer

import (
	"context"
	"errors"

	"github.com/3leaps/blobsync/pkg/provider"
)

var (
	// ErrConfiguration marks an invalid or unsatisfiable sync configuration.
	ErrConfiguration = errors.New("invalid sync configuration")

	// ErrBatchFailed is returned by Run under FailFast when an item fails.
	ErrBatchFailed = errors.New("sync batch failed")
)

// ConfigError describes one invalid configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "sync config: " + e.Field + ": " + e.Message
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// IsConfigurationError reports whether err is a configuration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// Kind is a coarse error class used in reports.
type Kind string

const (
	KindNone         Kind = ""
	KindConfig       Kind = "config"
	KindNotFound     Kind = "not_found"
	KindAccessDenied Kind = "access_denied"
	KindThrottled    Kind = "throttled"
	KindUnavailable  Kind = "unavailable"
	KindTimeout      Kind = "timeout"
	KindCanceled     Kind = "canceled"
	KindTransport    Kind = "transport"
)

// Classify maps err onto a Kind. Any error that is not a configuration
// problem or a cancellation is a transport error of some class.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case IsConfigurationError(err), provider.IsUnsupported(err):
		return KindConfig
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case provider.IsNotFound(err), provider.IsBucketNotFound(err):
		return KindNotFound
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return KindAccessDenied
	case provider.IsThrottled(err):
		return KindThrottled
	case provider.IsProviderUnavailable(err):
		return KindUnavailable
	case provider.IsTimeout(err):
		return KindTimeout
	default:
		return KindTransport
	}
}
