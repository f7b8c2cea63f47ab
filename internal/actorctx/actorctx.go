// Package actorctx carries the authenticated caller through request
// contexts so downstream logs can name it.
package actorctx

import "context"

type ctxKey struct{}

func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, ctxKey{}, caller)
}

func CallerFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)

	return v, ok && v != ""
}
