// ABOUTME: Authentication context for carrying the verified principal through handlers
// ABOUTME: Provides WithPrincipal/FromContext for propagating it via context

package auth

import (
	"context"

	"github.com/2389/wallboard-gateway/internal/presence"
)

type principalKey struct{}

// WithPrincipal returns a new context carrying p.
func WithPrincipal(ctx context.Context, p presence.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by the middleware, if any.
func FromContext(ctx context.Context) (presence.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(presence.Principal)
	return p, ok
}
