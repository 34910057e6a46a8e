package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/CrowderSoup/boardsync/services"
)

type contextKey string

const subjectContextKey contextKey = "subject"

type AuthMiddleware struct {
	authService *services.AuthService
}

func NewAuthMiddleware(authService *services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
	}
}

// Auth accepts a bearer token in the Authorization header, or in the
// token query parameter for WebSocket upgrades.
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := r.URL.Query().Get("token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			// Extract token from Bearer format
			authParts := strings.Split(authHeader, " ")
			if len(authParts) != 2 || authParts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}
			tokenString = authParts[1]
		}
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		subject, err := m.authService.VerifyJWT(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}

		ctx := context.WithValue(r.Context(), subjectContextKey, subject)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject returns the token subject stored by Auth.
func Subject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectContextKey).(string)
	return subject, ok
}
