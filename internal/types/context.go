package types

import "context"

// ActorType identifies the kind of authenticated entity making a request.
type ActorType string

const (
	ActorTypeDriver ActorType = "driver"
	ActorTypeOwner  ActorType = "owner"
	ActorTypeSystem ActorType = "system"
)

// Actor represents the identity performing an operation. It is supplied by
// the upstream authentication provider and trusted as-is.
type Actor struct {
	ID     string
	Type   ActorType
	Source string // Origin of the request (e.g., "mobile_app", "ops_cli").
}

// IsSystem reports whether the actor is an operator or scheduled job.
func (a Actor) IsSystem() bool {
	return a.Type == ActorTypeSystem
}

// Context Keys
type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
