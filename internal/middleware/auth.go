package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/openlms/pesepay-gateway/internal/auth"
	"go.uber.org/zap"
)

// sessionCookieName is the cookie the host LMS sets alongside the redirect
// into the checkout flow.
const sessionCookieName = "pesepay_session"

// SessionAuth authenticates browser-facing routes (checkout, return) with the
// HS256 session token the host LMS issues. Webhooks do not go through this;
// they are authenticated by transaction lookup instead.
type SessionAuth struct {
	tokens *auth.TokenManager
	logger *zap.Logger
}

// NewSessionAuth creates session authentication middleware
func NewSessionAuth(tokens *auth.TokenManager, logger *zap.Logger) *SessionAuth {
	return &SessionAuth{
		tokens: tokens,
		logger: logger,
	}
}

// Middleware rejects requests without a valid session token and puts the
// authenticated user ID on the request context.
func (sa *SessionAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractToken(r)
		if tokenString == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		claims, err := sa.tokens.ValidateToken(tokenString)
		if err != nil {
			sa.logger.Warn("Rejected request with invalid session token",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}

		ctx := auth.WithUserID(r.Context(), claims.UserID)
		ctx = auth.WithClientIP(ctx, clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the token from the Authorization header, the session
// cookie, or a token query parameter, in that order. The query form exists
// because the return redirect comes from Pesepay's domain and carries no
// headers or cookies we set.
func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimPrefix(header, "Bearer ")
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
