package shared

import "context"

// Actor identifies the caller on whose behalf an operation runs.
type Actor struct {
	ID   int64
	Name string
}

// PermissionPredicate answers whether an actor may perform an action.
// The predicate is injected by the hosting application; the core only
// consults it and surfaces ErrForbidden on refusal.
type PermissionPredicate func(ctx context.Context, actor Actor, action string) bool

// AllowAll grants every action. Used as the default when the host does not
// inject a predicate.
func AllowAll(context.Context, Actor, string) bool { return true }

type actorKey struct{}

// ContextWithActor stores the actor in the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored in the context, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

// Authorize consults the predicate and maps refusal to ErrForbidden.
func Authorize(ctx context.Context, predicate PermissionPredicate, actor Actor, action string) error {
	if predicate == nil {
		return nil
	}
	if !predicate(ctx, actor, action) {
		return ErrForbidden
	}
	return nil
}
