// Package identity abstracts the identity provider. The gateway only ever
// asks "who is the current user" and "sign this user out"; sign-in itself
// is an external OAuth redirect flow owned by the frontend.
package identity

import (
	"context"
	"errors"
)

// User is the resolved identity of a signed-in user.
type User struct {
	ID    string
	Email string
	Name  string
}

// ErrNoSession means no user could be resolved for the current request.
var ErrNoSession = errors.New("no active session")

// Service resolves the current user and signs users out.
type Service interface {
	// Current returns the user for ctx, or ErrNoSession.
	Current(ctx context.Context) (*User, error)

	// SignOut invalidates the user's sessions. Idempotent.
	SignOut(ctx context.Context, userID string) error
}

type ctxKey struct{}

// WithUser stores a verified user on the context. The HTTP layer calls this
// after token verification; everything downstream reads it back.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user previously stored with WithUser.
func FromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ctxKey{}).(*User)
	return u, ok
}

// ContextService resolves identity purely from request-scoped context
// claims. Used in tests and local development where no real provider runs.
type ContextService struct{}

func (ContextService) Current(ctx context.Context) (*User, error) {
	u, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoSession
	}
	return u, nil
}

func (ContextService) SignOut(context.Context, string) error { return nil }
