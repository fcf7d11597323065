package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/blobsync/pkg/provider"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates the URI is missing a container name.
	ErrMissingBucket = errors.New("missing container name")
)

// schemes maps URI schemes onto backends.
var schemes = map[string]provider.ProviderType{
	"s3":    provider.ProviderS3,
	"minio": provider.ProviderMinio,
	"az":    provider.ProviderAzureBlob,
	"file":  provider.ProviderFile,
}

// ContainerURI is a parsed container address.
//
// Example URIs:
//   - s3://bucket
//   - s3://bucket/images/
//   - minio://bucket/prefix/
//   - az://container/prefix/
//   - file:///var/data/mirror
type ContainerURI struct {
	// Scheme is the URI scheme as written (s3, minio, az, file).
	Scheme string

	// Provider is the backend the scheme selects.
	Provider provider.ProviderType

	// Container is the bucket or container name. For file:// it is the
	// directory path.
	Container string

	// Prefix is the name prefix after the container. Always empty for
	// file://.
	Prefix string
}

// String returns the URI in canonical form.
func (u *ContainerURI) String() string {
	if u.Provider == provider.ProviderFile {
		return u.Scheme + "://" + u.Container
	}
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Container, u.Prefix)
}

// ParseURI parses a container URI. Glob characters are rejected in the
// prefix; filters belong in --include and --exclude.
func ParseURI(uri string) (*ContainerURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	schemeEnd := strings.Index(uri, "://")
	if schemeEnd == -1 {
		return nil, fmt.Errorf("%w: missing scheme (expected s3://, minio://, az:// or file://)", ErrInvalidURI)
	}

	scheme := strings.ToLower(uri[:schemeEnd])
	typ, ok := schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s (supported: s3, minio, az, file)", ErrUnsupportedProvider, scheme)
	}

	remainder := uri[schemeEnd+3:]
	if remainder == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}

	if typ == provider.ProviderFile {
		return &ContainerURI{Scheme: scheme, Provider: typ, Container: remainder}, nil
	}

	container, prefix, _ := strings.Cut(remainder, "/")
	if container == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	if strings.ContainsAny(container, "?#*") {
		return nil, fmt.Errorf("%w: invalid container name %q", ErrInvalidURI, container)
	}
	if strings.ContainsAny(prefix, "*?[{") {
		return nil, fmt.Errorf("%w: patterns are not supported in %s; use --include/--exclude", ErrInvalidURI, uri)
	}

	return &ContainerURI{Scheme: scheme, Provider: typ, Container: container, Prefix: prefix}, nil
}

// resolvePrefix picks the sync prefix. Names are preserved across
// containers, so both URIs must agree on it unless override is set.
func resolvePrefix(src, dst *ContainerURI, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	switch {
	case src.Prefix == dst.Prefix:
		return src.Prefix, nil
	case dst.Prefix == "":
		return src.Prefix, nil
	case src.Prefix == "":
		return dst.Prefix, nil
	}
	return "", fmt.Errorf("%w: source prefix %q and destination prefix %q differ; object names are preserved, so use one prefix or --prefix",
		ErrInvalidURI, src.Prefix, dst.Prefix)
}
