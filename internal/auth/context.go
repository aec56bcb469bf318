// Package auth resolves request identity: session tokens, the request-scoped
// user and organisation invitation tokens.
package auth

import (
	"context"

	"github.com/selah/selah/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey contextKey = "user"

// ContextWithUser adds the resolved user to the context.
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the resolved user, or nil if unauthenticated.
func UserFromContext(ctx context.Context) *model.User {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok {
		return nil
	}
	return user
}

// UserIDFromContext returns the user ID, or "" if unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	if user := UserFromContext(ctx); user != nil {
		return user.ID
	}
	return ""
}
