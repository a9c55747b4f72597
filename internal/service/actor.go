package service

import "context"

type actorContextKey struct{}

// WithActor attaches the authenticated API key ID to the context so that
// mutations can attribute audit log entries.
func WithActor(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, keyID)
}

func actorFromContext(ctx context.Context) string {
	keyID, _ := ctx.Value(actorContextKey{}).(string)
	return keyID
}
