package provider

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Optional container capability interfaces.
//
// These interfaces are used for feature detection (type assertions). The core
// Container interface remains intentionally small.

// ReadTokenMinter can mint a delegated-access token scoped to the whole
// container. The token is a URL query string (without the leading '?') that
// grants the listed permissions between Start and Expiry.
type ReadTokenMinter interface {
	MintReadToken(ctx context.Context, opts TokenOptions) (string, error)
}

// TokenOptions configures a delegated-access token.
type TokenOptions struct {
	// Start is when the token becomes valid.
	Start time.Time

	// Expiry is when the token stops being valid.
	Expiry time.Time

	// Permissions granted by the token.
	Permissions Permissions
}

// Permissions is the permission set of a delegated-access token.
type Permissions struct {
	Read bool
	List bool
}

// ReadOnly grants read access to object content only.
var ReadOnly = Permissions{Read: true}

// String renders the permissions in SAS order ("r", "rl").
func (p Permissions) String() string {
	var b strings.Builder
	if p.Read {
		b.WriteByte('r')
	}
	if p.List {
		b.WriteByte('l')
	}
	return b.String()
}

// SignURL attaches a delegated-access token to an object address.
// Existing query parameters on rawURL are preserved.
func SignURL(rawURL, token string) (string, error) {
	token = strings.TrimPrefix(token, "?")
	if token == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.RawQuery == "" {
		u.RawQuery = token
	} else {
		u.RawQuery = u.RawQuery + "&" + token
	}
	return u.String(), nil
}
