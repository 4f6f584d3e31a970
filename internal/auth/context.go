package auth

import (
	"context"

	"github.com/ilikefeeling/reshk-sub001/internal/models"
)

type contextKey string

const actorKey contextKey = "actor"

// WithActor attaches the authenticated actor to ctx
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the authenticated actor. The zero Actor means anonymous.
func ActorFrom(ctx context.Context) models.Actor {
	actor, _ := ctx.Value(actorKey).(models.Actor)
	return actor
}
