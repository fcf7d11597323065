package azblob

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/blobsync/pkg/provider"
)

const testConnString = "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=a2V5;EndpointSuffix=core.windows.net"

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantAccount string
		wantKey     bool
		wantErr     string
	}{
		{name: "account key", input: testConnString, wantAccount: "acct", wantKey: true},
		{name: "case insensitive keys", input: "accountname=acct;accountkey=k", wantAccount: "acct", wantKey: true},
		{name: "sas only", input: "BlobEndpoint=https://acct.blob.core.windows.net;SharedAccessSignature=sv=1", wantAccount: ""},
		{name: "development storage", input: "UseDevelopmentStorage=true", wantAccount: "devstoreaccount1", wantKey: true},
		{name: "empty", input: "  ", wantErr: "cannot be empty"},
		{name: "malformed", input: "AccountName", wantErr: "malformed segment"},
		{name: "no account", input: "AccountKey=k", wantErr: "AccountName or BlobEndpoint"},
		{name: "no credential", input: "AccountName=acct", wantErr: "AccountKey or SharedAccessSignature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := ParseConnectionString(tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				var cfgErr *ConfigError
				assert.True(t, errors.As(err, &cfgErr))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAccount, cs.AccountName)
			assert.Equal(t, tt.wantKey, cs.HasKey)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"valid", Config{ConnectionString: testConnString, Container: "c"}, ""},
		{"missing container", Config{ConnectionString: testConnString}, "container name is required"},
		{"missing connection string", Config{Container: "c"}, "cannot be empty"},
		{"page too large", Config{ConnectionString: testConnString, Container: "c", MaxKeys: 5001}, "between 0 and 5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_BlobURL(t *testing.T) {
	c, err := New(Config{ConnectionString: testConnString, Container: "photos"})
	require.NoError(t, err)
	assert.Equal(t, "acct", c.AccountName())
	assert.Equal(t, provider.ProviderAzureBlob, c.Type())
	assert.Equal(t, "https://acct.blob.core.windows.net/photos/a.jpg", c.Object("a.jpg").URL())
}

func TestObject_URLCredentials(t *testing.T) {
	tests := []struct {
		name      string
		connStr   string
		wantQuery string
	}{
		{name: "account key", connStr: testConnString, wantQuery: ""},
		{
			name:      "sas only",
			connStr:   "BlobEndpoint=https://acct.blob.core.windows.net;SharedAccessSignature=sv=1&sig=abc",
			wantQuery: "sv=1&sig=abc",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{ConnectionString: tt.connStr, Container: "photos"})
			require.NoError(t, err)

			u, err := url.Parse(c.Object("a.jpg").URL())
			require.NoError(t, err)
			assert.Equal(t, "acct.blob.core.windows.net", u.Host)
			assert.Equal(t, "/photos/a.jpg", u.Path)
			assert.Equal(t, tt.wantQuery, u.RawQuery)
		})
	}
}

func TestTokenFromSASURL(t *testing.T) {
	token, err := tokenFromSASURL("https://acct.blob.core.windows.net/photos?se=2026&sp=r&sig=abc")
	require.NoError(t, err)
	assert.Equal(t, "se=2026&sp=r&sig=abc", token)

	_, err = tokenFromSASURL("https://acct.blob.core.windows.net/photos")
	assert.Error(t, err)
}

func TestMetadataMaps(t *testing.T) {
	v := "1"
	assert.Equal(t, map[string]string{"srcETag": "1"}, fromPtrMap(map[string]*string{"srcETag": &v, "nil": nil}))
	assert.Empty(t, fromPtrMap(nil))
	assert.Nil(t, toPtrMap(nil))

	ptrs := toPtrMap(map[string]string{"a": "1", "b": "2"})
	require.Len(t, ptrs, 2)
	assert.Equal(t, "1", *ptrs["a"])
	assert.Equal(t, "2", *ptrs["b"])
}

func TestCleanETag(t *testing.T) {
	etag := azcore.ETag(`"0x8D1"`)
	assert.Equal(t, "0x8D1", cleanETag(&etag))
	assert.Equal(t, "", cleanETag(nil))
}

func TestCheckCopySource(t *testing.T) {
	assert.NoError(t, checkCopySource("https://acct.blob.core.windows.net/c/a?sig=x"))
	assert.ErrorIs(t, checkCopySource("s3://bucket/a"), provider.ErrUnsupported)
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		code     string
		expected error
	}{
		{"BlobNotFound", provider.ErrNotFound},
		{"ContainerNotFound", provider.ErrBucketNotFound},
		{"AuthorizationFailure", provider.ErrAccessDenied},
		{"CannotVerifyCopySource", provider.ErrAccessDenied},
		{"AuthenticationFailed", provider.ErrInvalidCredentials},
		{"ServerBusy", provider.ErrThrottled},
		{"OperationTimedOut", provider.ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			respErr := &azcore.ResponseError{ErrorCode: tt.code, StatusCode: http.StatusBadRequest}
			assert.ErrorIs(t, wrapError("Op", "c", "k", respErr), tt.expected)
		})
	}

	other := errors.New("boom")
	assert.ErrorIs(t, wrapError("Op", "c", "k", other), other)
}
