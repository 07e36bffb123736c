package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/garantia/server/internal/apperr"
	"github.com/garantia/server/internal/db"
	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/repo"
)

var errBadCredentials = apperr.New(apperr.CodeUnauthorized, "invalid credentials")

// AuthService orchestrates authentication operations
type AuthService struct {
	jwtService *JWTService
	userRepo   repo.UserRepo
	logger     *slog.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(jwtService *JWTService, userRepo repo.UserRepo, logger *slog.Logger) *AuthService {
	return &AuthService{
		jwtService: jwtService,
		userRepo:   userRepo,
		logger:     logger,
	}
}

// Login checks email/password and issues a session token.
// Unknown users, wrong passwords and unreadable hashes are all UNAUTHORIZED.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, "", apperr.Invalid("email and password are required", "email", "password")
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, "", errBadCredentials
		}
		return nil, "", db.StoreError("get user", err)
	}

	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored password hash unreadable",
			slog.String("user_id", user.ID.String()),
			slog.Any("error", err),
		)
		return nil, "", errBadCredentials
	}
	if !ok {
		return nil, "", errBadCredentials
	}

	token, err := s.jwtService.SignSession(user)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.CodeInternal, "failed to issue session", err)
	}

	return &user, token, nil
}

// SessionUser resolves verified claims to the current user record
func (s *AuthService) SessionUser(ctx context.Context, claims *SessionClaims) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.New(apperr.CodeUnauthorized, "user not found")
		}
		return nil, db.StoreError("get user", err)
	}
	return &user, nil
}
