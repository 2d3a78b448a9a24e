package auth

import (
	"context"
	"fmt"
)

// Context keys for authentication data
type contextKey string

const (
	// UserIDKey holds the authenticated user's numeric ID
	UserIDKey contextKey = "user_id"

	// TokenJTIKey holds the JWT ID of the presented token
	TokenJTIKey contextKey = "token_jti"

	// ClientIPKey holds the remote address the request arrived from
	ClientIPKey contextKey = "client_ip"
)

// WithUserID returns a context carrying the authenticated user ID
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserIDFromContext extracts the authenticated user ID from the context
func UserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	if !ok {
		return 0, fmt.Errorf("no authenticated user in context")
	}
	return userID, nil
}

// WithClientIP returns a context carrying the client's remote address
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// ClientIPFromContext extracts the client IP, empty when absent
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ClientIPKey).(string)
	return ip
}
