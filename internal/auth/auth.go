package auth

import (
	"context"

	"github.com/quartershq/quarters/internal/user"
)

type contextKey int

const userContextKey contextKey = iota

// SessionCookie is the name of the cookie carrying the session token for
// browser clients. API clients send the same token as a bearer token.
const SessionCookie = "quarters_session"

// ContextWithUser returns a new context carrying the given user.
func ContextWithUser(ctx context.Context, u *user.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext extracts the user from the context, or nil if not present.
func UserFromContext(ctx context.Context) *user.User {
	u, _ := ctx.Value(userContextKey).(*user.User)
	return u
}

// SessionLookup is the interface for resolving a session token to its user.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (*user.User, error)
}
