package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/3leaps/blobsync/pkg/manifest"
	"github.com/3leaps/blobsync/pkg/provider"
	"github.com/3leaps/blobsync/pkg/provider/azblob"
	"github.com/3leaps/blobsync/pkg/provider/file"
	"github.com/3leaps/blobsync/pkg/provider/minio"
	"github.com/3leaps/blobsync/pkg/provider/s3"
)

// AzureConnectionStringEnv is consulted when no connection string is given
// for an az:// container.
const AzureConnectionStringEnv = "AZURE_STORAGE_CONNECTION_STRING"

// MinioEndpointEnv is consulted when no endpoint is given for a minio://
// container.
const MinioEndpointEnv = "MINIO_ENDPOINT"

// endpointOptions carries per-side connection settings from flags and the
// manifest.
type endpointOptions struct {
	Region           string
	Endpoint         string
	Profile          string
	PathStyle        bool
	Insecure         bool
	ConnectionString string

	// ConnectionStringEnv names a variable read before
	// AZURE_STORAGE_CONNECTION_STRING.
	ConnectionStringEnv string

	MaxKeys int
}

// endpointFromManifest converts a manifest endpoint into options.
func endpointFromManifest(e manifest.EndpointConfig) endpointOptions {
	return endpointOptions{
		Region:              e.Region,
		Endpoint:            e.Endpoint,
		Profile:             e.Profile,
		PathStyle:           e.PathStyle,
		Insecure:            e.Insecure,
		ConnectionStringEnv: e.ConnectionStringEnv,
	}
}

// connectionString resolves the Azure connection string: explicit value,
// then the named variable, then AZURE_STORAGE_CONNECTION_STRING.
func (o endpointOptions) connectionString() string {
	if o.ConnectionString != "" {
		return o.ConnectionString
	}
	if o.ConnectionStringEnv != "" {
		if v := os.Getenv(o.ConnectionStringEnv); v != "" {
			return v
		}
	}
	return os.Getenv(AzureConnectionStringEnv)
}

// openContainer creates the backend for u.
func openContainer(ctx context.Context, u *ContainerURI, opts endpointOptions) (provider.Container, error) {
	switch u.Provider {
	case provider.ProviderS3:
		return s3.New(ctx, s3.Config{
			Bucket:   u.Container,
			Region:   opts.Region,
			Endpoint: opts.Endpoint,
			Profile:  opts.Profile,
			// S3-compatible services (moto, MinIO, etc.) require path-style
			// URLs behind a custom endpoint.
			ForcePathStyle: opts.PathStyle || opts.Endpoint != "",
			MaxKeys:        opts.MaxKeys,
		})

	case provider.ProviderMinio:
		endpoint := opts.Endpoint
		if endpoint == "" {
			endpoint = os.Getenv(MinioEndpointEnv)
		}
		host, secure := minioEndpoint(endpoint, opts.Insecure)
		return minio.New(minio.Config{
			Endpoint: host,
			Bucket:   u.Container,
			Region:   opts.Region,
			Secure:   secure,
			MaxKeys:  opts.MaxKeys,
		})

	case provider.ProviderAzureBlob:
		return azblob.New(azblob.Config{
			ConnectionString: opts.connectionString(),
			Container:        u.Container,
			MaxKeys:          opts.MaxKeys,
		})

	case provider.ProviderFile:
		return file.New(file.Config{BaseDir: u.Container, MaxKeys: opts.MaxKeys})
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, u.Provider)
}

// minioEndpoint strips an http(s) scheme from raw. A scheme decides TLS;
// a bare host:port uses TLS unless insecure is set.
func minioEndpoint(raw string, insecure bool) (string, bool) {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(raw, "https://"), "/"), true
	case strings.HasPrefix(raw, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(raw, "http://"), "/"), false
	}
	return raw, !insecure
}

// crossAccount reports whether src and dst are Azure containers in
// different storage accounts.
func crossAccount(src, dst provider.Container) bool {
	s, ok := src.(*azblob.Container)
	if !ok {
		return false
	}
	d, ok := dst.(*azblob.Container)
	if !ok {
		return false
	}
	return s.AccountName() != "" && d.AccountName() != "" && !strings.EqualFold(s.AccountName(), d.AccountName())
}

// isBackendConfigError reports whether err is a backend configuration
// problem rather than a service failure.
func isBackendConfigError(err error) bool {
	var s3Err *s3.ConfigError
	var minioErr *minio.ConfigError
	var azErr *azblob.ConfigError
	return errors.As(err, &s3Err) || errors.As(err, &minioErr) || errors.As(err, &azErr)
}
