package middleware

import (
	"context"
	"errors"

	"peerchat/internal/app/commands"
	"peerchat/internal/app/queries"
	"peerchat/internal/domain/chat"
)

var (
	ErrUnauthenticated = errors.New("principal missing")
	ErrForbidden       = errors.New("actor does not match principal")
)

type principalKey struct{}

// WithPrincipal stores the authenticated user id on ctx. Authentication itself happens upstream.
func WithPrincipal(ctx context.Context, id chat.UserID) context.Context {
	return context.WithValue(ctx, principalKey{}, id)
}

func PrincipalFrom(ctx context.Context) (chat.UserID, bool) {
	id, ok := ctx.Value(principalKey{}).(chat.UserID)
	return id, ok && id != ""
}

// Actor is implemented by bus messages issued on behalf of a user.
type Actor interface {
	ActorID() chat.UserID
}

type Authorizer interface {
	Authorize(ctx context.Context, message any) error
}

// ActorAuthorizer only lets a principal act as itself. Messages without an actor pass.
type ActorAuthorizer struct{}

func (ActorAuthorizer) Authorize(ctx context.Context, message any) error {
	actor, ok := message.(Actor)
	if !ok {
		return nil
	}
	principal, ok := PrincipalFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if actor.ActorID() != principal {
		return ErrForbidden
	}
	return nil
}

func Authorization(a Authorizer) CommandMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next commands.Bus) commands.Bus {
		nextFn := next.Dispatch
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if err := a.Authorize(ctx, cmd); err != nil {
				return nil, err
			}
			return nextFn(ctx, cmd)
		})
	}
}

func QueryAuthorization(a Authorizer) QueryMiddleware {
	if a == nil {
		panic("middleware: authorizer required")
	}
	return func(next queries.Bus) queries.Bus {
		nextFn := next.Ask
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if err := a.Authorize(ctx, q); err != nil {
				return nil, err
			}
			return nextFn(ctx, q)
		})
	}
}
