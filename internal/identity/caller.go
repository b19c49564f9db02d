// Package identity resolves the caller of a request from its session token.
package identity

import "context"

// Caller is the identity a request was made with. The zero value is an
// anonymous caller.
type Caller struct {
	ExternalID string
}

// Authenticated reports whether the identity provider vouched for the caller.
func (c Caller) Authenticated() bool {
	return c.ExternalID != ""
}

type contextKey int

const callerKey contextKey = iota

// WithCaller stores the resolved caller in ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext returns the caller stored by WithCaller, or an anonymous one.
func CallerFromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey).(Caller)
	return c
}
