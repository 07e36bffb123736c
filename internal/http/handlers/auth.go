package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/garantia/server/internal/apperr"
	"github.com/garantia/server/internal/auth"
	"github.com/garantia/server/internal/middleware"
	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/notify"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
	ipLimiter   *middleware.RateLimiter
	sessionTTL  time.Duration
	devMode     bool
	errorResponder
}

// NewAuthHandler creates a new auth handler. Login is limited to
// loginLimit attempts per client IP per loginWindow.
func NewAuthHandler(
	authService *auth.AuthService,
	sessionTTL time.Duration,
	loginLimit int,
	loginWindow time.Duration,
	logger *slog.Logger,
	devMode bool,
) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		ipLimiter:      middleware.NewRateLimiter(loginWindow, loginLimit),
		sessionTTL:     sessionTTL,
		devMode:        devMode,
		errorResponder: errorResponder{logger: logger, devMode: devMode},
	}
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the JSON response for login
type loginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"tokenType"`
	User      userResponse `json:"user"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID    string     `json:"id"`
	Email string     `json:"email"`
	Name  string     `json:"name"`
	Role  model.Role `json:"role"`
}

func toUserResponse(u model.User) userResponse {
	return userResponse{ID: u.ID.String(), Email: u.Email, Name: u.Name, Role: u.Role}
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		h.respondWithError(w, r, apperr.New(apperr.CodeRateLimited, "too many login attempts"))
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	user, token, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeUnauthorized {
			h.logger.InfoContext(r.Context(), "login rejected", slog.String("email", notify.MaskEmail(req.Email)))
		}
		h.respondWithError(w, r, err)
		return
	}

	h.setSessionCookie(w, token, int(h.sessionTTL.Seconds()))
	h.logger.InfoContext(r.Context(), "login succeeded", slog.String("user_id", user.ID.String()))

	respondWithData(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		User:      toUserResponse(*user),
	})
}

// HandleLogout handles POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	h.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

// HandleMe handles GET /auth/me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		h.respondWithError(w, r, apperr.New(apperr.CodeUnauthorized, "unauthorized"))
		return
	}
	respondWithData(w, http.StatusOK, toUserResponse(*user))
}

// setSessionCookie writes the session cookie; maxAge < 0 deletes it
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !h.devMode,
		SameSite: http.SameSiteStrictMode,
	})
}
