package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/repo"
)

// SeedAdmin creates the first admin account when the user table is empty.
// It reports whether a user was created.
func SeedAdmin(ctx context.Context, users repo.UserRepo, email, name, password string) (bool, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return false, fmt.Errorf("admin email and password are required")
	}
	if name == "" {
		name = "Administrator"
	}

	n, err := users.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	if _, err := users.Create(ctx, email, name, model.RoleAdmin, hash); err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}
