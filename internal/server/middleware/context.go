package middleware

import "context"

type contextKey string

const (
	// ContextKeyActorID carries the authenticated caller's identity
	// (JWT subject or API key name).
	ContextKeyActorID contextKey = "actor_id"
	// ContextKeyAuthMethod carries how the caller authenticated:
	// "jwt" or "api_key".
	ContextKeyAuthMethod contextKey = "auth_method"
)

// ActorIDFromContext returns the authenticated actor id, if any.
func ActorIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyActorID).(string)
	return id, ok
}
