package syncer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blobsync/pkg/provider"
)

func TestRetryPolicy_Do(t *testing.T) {
	var slept []time.Duration
	orig := sleep
	sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	t.Cleanup(func() { sleep = orig })

	throttled := &provider.ProviderError{Op: "List", Err: provider.ErrThrottled}
	timedOut := &provider.ProviderError{Op: "List", Err: &net.OpError{Op: "read", Net: "tcp", Err: ioTimeout{}}}
	deadline := fmt.Errorf("list: %w", context.DeadlineExceeded)

	tests := []struct {
		name         string
		errs         []error
		policy       RetryPolicy
		wantAttempts int
		wantErr      error
	}{
		{"success", []error{nil}, RetryPolicy{}, 1, nil},
		{"transient then success", []error{throttled, nil}, RetryPolicy{}, 2, nil},
		{"exhausted", []error{throttled, throttled, throttled, throttled}, RetryPolicy{}, 3, provider.ErrThrottled},
		{"permanent", []error{provider.ErrAccessDenied, nil}, RetryPolicy{}, 1, provider.ErrAccessDenied},
		{"retries disabled", []error{throttled, nil}, RetryPolicy{MaxAttempts: 1}, 1, provider.ErrThrottled},
		{"unavailable", []error{provider.ErrProviderUnavailable, provider.ErrProviderUnavailable, nil}, RetryPolicy{MaxAttempts: 5}, 3, nil},
		{"network timeout", []error{timedOut, timedOut, nil}, RetryPolicy{}, 3, nil},
		{"network timeout exhausted", []error{timedOut, timedOut, timedOut}, RetryPolicy{}, 3, timedOut},
		{"context deadline", []error{deadline, nil}, RetryPolicy{}, 1, context.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slept = nil
			calls := 0
			attempts, err := tt.policy.Do(context.Background(), func(context.Context) error {
				err := tt.errs[calls]
				calls++
				return err
			})
			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantAttempts, calls)
			assert.Len(t, slept, tt.wantAttempts-1)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRetryPolicy_DoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := RetryPolicy{}.Do(ctx, func(context.Context) error {
		t.Fatal("must not be called")
		return nil
	})
	assert.Equal(t, 0, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_DoCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	attempts, err := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return provider.ErrThrottled
	})
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, provider.ErrThrottled)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	tests := []struct {
		attempt int
		nominal time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{30, time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.attempt), func(t *testing.T) {
			for range 20 {
				d := p.Backoff(tt.attempt)
				require.GreaterOrEqual(t, d, tt.nominal*3/4)
				require.LessOrEqual(t, d, tt.nominal*5/4)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	wrap := func(err error) error { return &provider.ProviderError{Op: "X", Err: err} }
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{&ConfigError{Field: "f", Message: "m"}, KindConfig},
		{wrap(provider.ErrUnsupported), KindConfig},
		{context.Canceled, KindCanceled},
		{fmt.Errorf("op: %w", context.DeadlineExceeded), KindCanceled},
		{wrap(provider.ErrNotFound), KindNotFound},
		{wrap(provider.ErrBucketNotFound), KindNotFound},
		{wrap(provider.ErrAccessDenied), KindAccessDenied},
		{wrap(provider.ErrInvalidCredentials), KindAccessDenied},
		{wrap(provider.ErrThrottled), KindThrottled},
		{wrap(provider.ErrProviderUnavailable), KindUnavailable},
		{wrap(&net.OpError{Op: "read", Net: "tcp", Err: ioTimeout{}}), KindTimeout},
		{errors.New("connection reset"), KindTransport},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

type ioTimeout struct{}

func (ioTimeout) Error() string   { return "i/o timeout" }
func (ioTimeout) Timeout() bool   { return true }
func (ioTimeout) Temporary() bool { return true }
