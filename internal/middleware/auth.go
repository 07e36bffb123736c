package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/garantia/server/internal/apperr"
	"github.com/garantia/server/internal/auth"
	"github.com/garantia/server/internal/model"
)

// SessionCookie is the cookie carrying the session token
const SessionCookie = "token"

type contextKey string

const userKey contextKey = "user"

// AuthMiddleware validates the session token from the cookie or bearer header,
// loads the user, and attaches it to the context
func AuthMiddleware(jwtService *auth.JWTService, authService *auth.AuthService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := sessionToken(r)
			if err != nil {
				respondWithError(w, apperr.CodeUnauthorized, err.Error())
				return
			}

			claims, err := jwtService.VerifyToken(tokenString)
			if err != nil {
				respondWithError(w, apperr.CodeUnauthorized, "invalid or expired token")
				return
			}

			user, err := authService.SessionUser(r.Context(), claims)
			if err != nil {
				code := apperr.CodeOf(err)
				if code != apperr.CodeUnauthorized {
					logger.ErrorContext(r.Context(), "session lookup failed", slog.Any("error", err))
				}
				respondWithError(w, code, publicMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireRole rejects users whose role is not one of roles. Must run after AuthMiddleware.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUser(r.Context())
			if !ok {
				respondWithError(w, apperr.CodeUnauthorized, "unauthorized")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondWithError(w, apperr.CodeForbidden, "insufficient role")
		})
	}
}

// CronAuth accepts only requests carrying "Bearer <secret>"
func CronAuth(secret string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if secret == "" || subtle.ConstantTimeCompare(got, want) != 1 {
				respondWithError(w, apperr.CodeUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUser returns the user attached to the request context (set by AuthMiddleware)
func GetUser(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// WithUser attaches a user to ctx
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// sessionToken prefers the session cookie and falls back to the Authorization header
func sessionToken(r *http.Request) (string, error) {
	if c, err := r.Cookie(SessionCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing session")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}

	tokenString := strings.TrimSpace(parts[1])
	if tokenString == "" {
		return "", errors.New("missing token")
	}
	return tokenString, nil
}

func publicMessage(err error) string {
	e, ok := apperr.As(err)
	if !ok || e.Code == apperr.CodeInternal || e.Message == "" {
		return "internal error"
	}
	return e.Message
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, code apperr.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	response := map[string]any{
		"success": false,
		"error":   map[string]string{"code": string(code), "message": message},
	}
	_ = json.NewEncoder(w).Encode(response)
}
