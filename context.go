package ghauth

import (
	"context"
	"net/http"
)

type contextKey string

const userContextKey contextKey = "ghauth_user"

// WithUser returns a copy of ctx carrying the logged-in user. RequireAuth and
// LoadUser call it once the session cookie resolves.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

// UserFromContext returns the user stored by WithUser, or nil for anonymous
// requests.
func UserFromContext(ctx context.Context) *User {
	u, ok := ctx.Value(userContextKey).(*User)
	if !ok {
		return nil
	}
	return u
}

// Convenience for handlers.
func CurrentUser(r *http.Request) *User {
	return UserFromContext(r.Context())
}
