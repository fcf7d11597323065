package syncer

import (
	"context"
	"time"

	"github.com/3leaps/blobsync/pkg/provider"
)

// Token window defaults. A batch of n copies gets
// DefaultTokenBase + n*DefaultTokenPerObject.
const (
	DefaultTokenBase      = 2 * time.Hour
	DefaultTokenPerObject = 2 * time.Minute
)

// TokenWindow sizes the validity of delegated-access tokens.
type TokenWindow struct {
	Base      time.Duration
	PerObject time.Duration
}

// Token is a read-only delegated-access token for one source container.
type Token struct {
	Value  string
	Start  time.Time
	Expiry time.Time
}

// TokenIssuer mints one token per batch.
type TokenIssuer struct {
	Window TokenWindow

	// Now defaults to time.Now.
	Now func() time.Time
}

// Issue mints a read-only token valid from now until
// now + Base + PerObject*count.
func (t *TokenIssuer) Issue(ctx context.Context, minter provider.ReadTokenMinter, count int) (*Token, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	base, per := t.Window.Base, t.Window.PerObject
	if base == 0 {
		base = DefaultTokenBase
	}
	if per == 0 {
		per = DefaultTokenPerObject
	}

	start := now()
	expiry := start.Add(base + time.Duration(count)*per)
	value, err := minter.MintReadToken(ctx, provider.TokenOptions{
		Start:       start,
		Expiry:      expiry,
		Permissions: provider.ReadOnly,
	})
	if err != nil {
		return nil, err
	}
	return &Token{Value: value, Start: start, Expiry: expiry}, nil
}
