package shared

import "context"

type actorContextKey struct{}

// ContextWithActorID stores the id of the user issuing the command.
func ContextWithActorID(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actorID)
}

// ActorIDFromContext extracts the actor id, if any.
func ActorIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorContextKey{}).(int64)
	return id, ok && id > 0
}
