package auth

import (
	"context"
	"database/sql/driver"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garantia/server/internal/apperr"
	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/repo/repotest"
)

const testSecret = "test-jwt-secret-at-least-32-characters-long"

func TestHashPassword_roundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$"))

	ok, err := VerifyPassword(hash, "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hash, "wrong horse")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPassword_saltedPerCall(t *testing.T) {
	h1, err := HashPassword("same")
	require.NoError(t, err)
	h2, err := HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestVerifyPassword_malformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$2a$10$bcrypthashvalue",
		"$argon2id$v=19$m=0,t=2,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=19456,t=2,p=1$!!!$a2V5",
	} {
		_, err := VerifyPassword(encoded, "pw")
		assert.ErrorIs(t, err, ErrMalformedHash, "hash %q", encoded)
	}
}

func TestJWTService_signAndVerify(t *testing.T) {
	svc := NewJWTService(testSecret, 0)
	assert.Equal(t, DefaultSessionTTL, svc.TTL())

	user := model.User{ID: uuid.New(), Email: "seller@shop.test", Role: model.RoleSeller}
	token, err := svc.SignSession(user)
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.Email, claims.Email)
	assert.Equal(t, model.RoleSeller, claims.Role)
	assert.WithinDuration(t, time.Now().Add(DefaultSessionTTL), claims.ExpiresAt.Time, time.Minute)
}

func TestJWTService_rejectsExpiredAndForeignTokens(t *testing.T) {
	svc := NewJWTService(testSecret, time.Hour)
	user := model.User{ID: uuid.New(), Email: "a@shop.test", Role: model.RoleAdmin}
	token, err := svc.SignSession(user)
	require.NoError(t, err)

	later := NewJWTService(testSecret, time.Hour)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = later.VerifyToken(token)
	assert.Error(t, err, "expired token must not verify")

	other := NewJWTService("another-secret-that-is-also-32-chars-long", time.Hour)
	_, err = other.VerifyToken(token)
	assert.Error(t, err, "token signed with another secret must not verify")

	_, err = svc.VerifyToken("not.a.token")
	assert.Error(t, err)
}

func newAuthService(t *testing.T) (*AuthService, *repotest.Users) {
	t.Helper()
	users := repotest.NewUsers()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthService(NewJWTService(testSecret, 0), users, logger), users
}

func TestAuthService_Login(t *testing.T) {
	svc, users := newAuthService(t)
	hash, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	_, err = users.Create(context.Background(), "Admin@Shop.test", "Admin", model.RoleAdmin, hash)
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		user, token, err := svc.Login(context.Background(), " admin@shop.test ", "s3cret-pass")
		require.NoError(t, err)
		assert.Equal(t, "admin@shop.test", user.Email)
		assert.NotEmpty(t, token)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(context.Background(), "admin@shop.test", "nope")
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, _, err := svc.Login(context.Background(), "ghost@shop.test", "s3cret-pass")
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, _, err := svc.Login(context.Background(), "", "")
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	})
}

func TestAuthService_LoginMalformedHashIsUnauthorized(t *testing.T) {
	svc, users := newAuthService(t)
	_, err := users.Create(context.Background(), "seller@shop.test", "Seller", model.RoleSeller, "not-a-hash")
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), "seller@shop.test", "anything")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestAuthService_LoginStoreDown(t *testing.T) {
	svc, users := newAuthService(t)
	users.Err = driver.ErrBadConn

	_, _, err := svc.Login(context.Background(), "admin@shop.test", "pw")
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
}

func TestSeedAdmin(t *testing.T) {
	users := repotest.NewUsers()

	created, err := SeedAdmin(context.Background(), users, "root@shop.test", "", "first-password")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = SeedAdmin(context.Background(), users, "other@shop.test", "Other", "second-password")
	require.NoError(t, err)
	assert.False(t, created, "seeding is skipped once users exist")

	admin, err := users.GetByEmail(context.Background(), "root@shop.test")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, admin.Role)
	assert.Equal(t, "Administrator", admin.Name)
	ok, err := VerifyPassword(admin.PasswordHash, "first-password")
	require.NoError(t, err)
	assert.True(t, ok)
}
