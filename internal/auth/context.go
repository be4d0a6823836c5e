// ABOUTME: Carries the authenticated user id through request handlers
// ABOUTME: WithUser/UserFromContext mirror how the middleware stores identity

package auth

import "context"

type userContextKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserFromContext returns the authenticated user id, or "" if there is none.
func UserFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userContextKey{}).(string)
	return userID
}

// MustUserFromContext is UserFromContext for handlers mounted behind the middleware.
func MustUserFromContext(ctx context.Context) string {
	userID := UserFromContext(ctx)
	if userID == "" {
		panic("auth: user not found in context")
	}
	return userID
}
