package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		expected string
	}{
		{
			name:     "with key",
			err:      &ProviderError{Op: "StartCopyFrom", Provider: ProviderS3, Bucket: "dest", Key: "path/to/file.txt", Err: ErrNotFound},
			expected: "s3 StartCopyFrom: dest/path/to/file.txt: object not found",
		},
		{
			name:     "without key",
			err:      &ProviderError{Op: "List", Provider: ProviderAzureBlob, Bucket: "src", Err: ErrAccessDenied},
			expected: "azblob List: src: access denied",
		},
		{
			name:     "without bucket",
			err:      &ProviderError{Op: "New", Provider: ProviderMinio, Err: errors.New("bad endpoint")},
			expected: "minio New: bad endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	wrap := func(err error) error {
		return fmt.Errorf("outer: %w", &ProviderError{Op: "Op", Provider: ProviderFile, Err: err})
	}

	tests := []struct {
		name  string
		check func(error) bool
		match error
		other error
	}{
		{"not found", IsNotFound, ErrNotFound, ErrAccessDenied},
		{"access denied", IsAccessDenied, ErrAccessDenied, ErrNotFound},
		{"bucket not found", IsBucketNotFound, ErrBucketNotFound, ErrNotFound},
		{"invalid credentials", IsInvalidCredentials, ErrInvalidCredentials, ErrAccessDenied},
		{"unavailable", IsProviderUnavailable, ErrProviderUnavailable, ErrThrottled},
		{"throttled", IsThrottled, ErrThrottled, ErrProviderUnavailable},
		{"unsupported", IsUnsupported, ErrUnsupported, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.match))
			assert.True(t, tt.check(wrap(tt.match)))
			assert.False(t, tt.check(wrap(tt.other)))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&ProviderError{Err: ErrThrottled}))
	assert.True(t, IsTransient(&ProviderError{Err: ErrProviderUnavailable}))
	assert.False(t, IsTransient(&ProviderError{Err: ErrAccessDenied}))
	assert.False(t, IsTransient(nil))

	timeout := &ProviderError{Op: "List", Err: &net.OpError{Op: "read", Net: "tcp", Err: timeoutError{}}}
	assert.True(t, IsTimeout(timeout))
	assert.True(t, IsTransient(timeout))
	assert.False(t, IsTimeout(&ProviderError{Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}}))
	assert.False(t, IsTimeout(fmt.Errorf("list: %w", context.DeadlineExceeded)))
	assert.False(t, IsTransient(context.DeadlineExceeded))
}

func TestPermissions_String(t *testing.T) {
	assert.Equal(t, "r", ReadOnly.String())
	assert.Equal(t, "rl", Permissions{Read: true, List: true}.String())
	assert.Equal(t, "", Permissions{}.String())
}

func TestSignURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		token    string
		expected string
	}{
		{"no token", "https://acct.blob.core.windows.net/c/a.txt", "", "https://acct.blob.core.windows.net/c/a.txt"},
		{"plain", "https://acct.blob.core.windows.net/c/a.txt", "sv=2021&sig=x", "https://acct.blob.core.windows.net/c/a.txt?sv=2021&sig=x"},
		{"leading question mark", "https://h/c/a.txt", "?sig=x", "https://h/c/a.txt?sig=x"},
		{"existing query", "https://h/c/a.txt?versionid=1", "sig=x", "https://h/c/a.txt?versionid=1&sig=x"},
		{"escaped name", "https://h/c/dir/a%20b.txt", "sig=x", "https://h/c/dir/a%20b.txt?sig=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SignURL(tt.url, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := SignURL("://bad", "sig=x")
	assert.Error(t, err)
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
