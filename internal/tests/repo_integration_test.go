package tests

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garantia/server/internal/db"
	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/repo"
)

func newClaim(createdAt time.Time) model.Claim {
	return model.Claim{
		ID:                uuid.New(),
		CustomerName:      "Ana Pérez",
		CustomerPhone:     "555-0101",
		Address:           "Av. Corrientes 1234",
		Brand:             "Yamaha",
		Model:             "FZ25",
		Serial:            "YMH-0042",
		PurchaseDate:      time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		InvoiceNumber:     "A-1",
		DamagedPart:       "Clutch",
		DamageDate:        time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		DamageDescription: "Slips under load",
		CustomerSignature: "data:image/png;base64,AAA",
		Status:            model.StatusPending,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
}

func TestClaimRepoIntegration(t *testing.T) {
	database := OpenTestDB(t)
	ctx := context.Background()
	claims := repo.NewClaimRepo(database)
	users := repo.NewUserRepo(database)

	reset := func(t *testing.T) {
		t.Helper()
		require.NoError(t, TruncateTables(ctx, database), "truncate tables")
	}

	t.Run("A_CreateAndGet", func(t *testing.T) {
		reset(t)
		c := newClaim(time.Now().UTC().Truncate(time.Microsecond))
		owner := "Luis"
		c.OwnerName = &owner
		require.NoError(t, claims.Create(ctx, c))

		got, err := claims.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.CustomerName, got.CustomerName)
		assert.Equal(t, model.StatusPending, got.Status)
		require.NotNil(t, got.OwnerName)
		assert.Equal(t, "Luis", *got.OwnerName)
		assert.Nil(t, got.OwnerPhone)
		assert.Nil(t, got.AssignedToID)
		assert.True(t, c.CreatedAt.Equal(got.CreatedAt))

		_, err = claims.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("B_ListOrderAndFilter", func(t *testing.T) {
		reset(t)
		base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
		older := newClaim(base)
		newer := newClaim(base.Add(time.Minute))
		newer.Status = model.StatusRejected
		require.NoError(t, claims.Create(ctx, older))
		require.NoError(t, claims.Create(ctx, newer))

		all, err := claims.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, newer.ID, all[0].ID)

		pending := model.StatusPending
		only, err := claims.List(ctx, &pending)
		require.NoError(t, err)
		require.Len(t, only, 1)
		assert.Equal(t, older.ID, only[0].ID)

		counts, err := claims.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[model.Status]int{model.StatusPending: 1, model.StatusRejected: 1}, counts)
	})

	t.Run("C_DamageDateCheck", func(t *testing.T) {
		reset(t)
		c := newClaim(time.Now().UTC())
		c.DamageDate = c.PurchaseDate.Add(-24 * time.Hour)
		assert.Error(t, claims.Create(ctx, c), "schema rejects damage before purchase")
	})

	t.Run("D_UpdateAndDelete", func(t *testing.T) {
		reset(t)
		c := newClaim(time.Now().UTC().Truncate(time.Microsecond))
		require.NoError(t, claims.Create(ctx, c))

		memo := "NC-1"
		prev := c.UpdatedAt
		c.CreditMemo = &memo
		c.Status = model.StatusApproved
		c.UpdatedAt = c.UpdatedAt.Add(time.Second)
		stored, err := claims.Update(ctx, c, repo.UpdateOptions{ExpectedUpdatedAt: prev})
		require.NoError(t, err)
		assert.Equal(t, model.StatusApproved, stored.Status)
		assert.True(t, c.UpdatedAt.Equal(stored.UpdatedAt))

		got, err := claims.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusApproved, got.Status)
		require.NotNil(t, got.CreditMemo)
		assert.Equal(t, "NC-1", *got.CreditMemo)

		require.NoError(t, claims.Delete(ctx, c.ID))
		assert.ErrorIs(t, claims.Delete(ctx, c.ID), repo.ErrNotFound)
		_, err = claims.Update(ctx, c, repo.UpdateOptions{ExpectedUpdatedAt: c.UpdatedAt})
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})

	t.Run("E_ReminderStampIsConditional", func(t *testing.T) {
		reset(t)
		seller, err := users.Create(ctx, "Seller@Example.com ", "Seller", model.RoleSeller, "x")
		require.NoError(t, err)
		assert.Equal(t, "seller@example.com", seller.Email)

		now := time.Now().UTC().Truncate(time.Microsecond)
		assignedAt := now.Add(-30 * time.Hour)
		c := newClaim(assignedAt)
		c.AssignedToID = &seller.ID
		c.AssignedAt = &assignedAt
		require.NoError(t, claims.Create(ctx, c))

		cutoff := now.Add(-24 * time.Hour)
		due, err := claims.ListDueReminders(ctx, cutoff, cutoff)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, c.ID, due[0].ID)

		stamped, err := claims.MarkReminderSent(ctx, c.ID, uuid.New(), now, cutoff)
		require.NoError(t, err)
		assert.False(t, stamped, "stamp requires the current assignee")

		stamped, err = claims.MarkReminderSent(ctx, c.ID, seller.ID, now, cutoff)
		require.NoError(t, err)
		assert.True(t, stamped)

		// a concurrent sweep with the same cutoff must not stamp again
		stamped, err = claims.MarkReminderSent(ctx, c.ID, seller.ID, now, cutoff)
		require.NoError(t, err)
		assert.False(t, stamped)

		due, err = claims.ListDueReminders(ctx, cutoff, cutoff)
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("F_StampSkipsResolvedClaims", func(t *testing.T) {
		reset(t)
		seller, err := users.Create(ctx, "seller@example.com", "Seller", model.RoleSeller, "x")
		require.NoError(t, err)

		now := time.Now().UTC().Truncate(time.Microsecond)
		assignedAt := now.Add(-30 * time.Hour)
		c := newClaim(assignedAt)
		c.Status = model.StatusRejected
		c.AssignedToID = &seller.ID
		c.AssignedAt = &assignedAt
		require.NoError(t, claims.Create(ctx, c))

		stamped, err := claims.MarkReminderSent(ctx, c.ID, seller.ID, now, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.False(t, stamped)
	})

	t.Run("G_SellerDeleteUnassigns", func(t *testing.T) {
		reset(t)
		seller, err := users.Create(ctx, "gone@example.com", "Gone", model.RoleSeller, "x")
		require.NoError(t, err)
		at := time.Now().UTC()
		c := newClaim(at)
		c.AssignedToID = &seller.ID
		c.AssignedAt = &at
		require.NoError(t, claims.Create(ctx, c))

		_, err = database.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, seller.ID)
		require.NoError(t, err)

		got, err := claims.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Nil(t, got.AssignedToID)
	})

	t.Run("H_UpdateKeepsConcurrentStamp", func(t *testing.T) {
		reset(t)
		seller, err := users.Create(ctx, "seller@example.com", "Seller", model.RoleSeller, "x")
		require.NoError(t, err)

		now := time.Now().UTC().Truncate(time.Microsecond)
		assignedAt := now.Add(-30 * time.Hour)
		c := newClaim(assignedAt)
		c.AssignedToID = &seller.ID
		c.AssignedAt = &assignedAt
		require.NoError(t, claims.Create(ctx, c))

		snapshot, err := claims.GetByID(ctx, c.ID)
		require.NoError(t, err)
		stamped, err := claims.MarkReminderSent(ctx, c.ID, seller.ID, now, now.Add(-24*time.Hour))
		require.NoError(t, err)
		require.True(t, stamped)

		notes := "waiting for parts"
		edit := snapshot
		edit.TechnicianNotes = &notes
		edit.UpdatedAt = now
		stored, err := claims.Update(ctx, edit, repo.UpdateOptions{ExpectedUpdatedAt: snapshot.UpdatedAt})
		require.NoError(t, err)
		require.NotNil(t, stored.LastReminderSent, "edit must not clear the reminder stamp")
		assert.True(t, now.Equal(*stored.LastReminderSent))
		require.NotNil(t, stored.AssignedToID)
		assert.Equal(t, seller.ID, *stored.AssignedToID)
	})

	t.Run("I_StaleUpdateConflicts", func(t *testing.T) {
		reset(t)
		c := newClaim(time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond))
		require.NoError(t, claims.Create(ctx, c))

		first := c
		first.Status = model.StatusRejected
		first.UpdatedAt = c.UpdatedAt.Add(time.Minute)
		_, err := claims.Update(ctx, first, repo.UpdateOptions{ExpectedUpdatedAt: c.UpdatedAt})
		require.NoError(t, err)

		stale := c
		stale.TechnicianNotes = &stale.CustomerName
		stale.UpdatedAt = c.UpdatedAt.Add(2 * time.Minute)
		_, err = claims.Update(ctx, stale, repo.UpdateOptions{ExpectedUpdatedAt: c.UpdatedAt})
		assert.ErrorIs(t, err, repo.ErrConflict)

		got, err := claims.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusRejected, got.Status)
		assert.Nil(t, got.TechnicianNotes)
	})

	t.Run("J_GetUsersByIDs", func(t *testing.T) {
		reset(t)
		a, err := users.Create(ctx, "a@example.com", "A", model.RoleSeller, "x")
		require.NoError(t, err)
		b, err := users.Create(ctx, "b@example.com", "B", model.RoleAdmin, "x")
		require.NoError(t, err)

		got, err := users.GetByIDs(ctx, []uuid.UUID{a.ID, b.ID, uuid.New()})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "A", got[a.ID].Name)
		assert.Equal(t, model.RoleAdmin, got[b.ID].Role)

		empty, err := users.GetByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("K_AdvisoryLockExcludes", func(t *testing.T) {
		locker := db.NewAdvisoryLocker(database)

		release, ok, err := locker.TryLock(ctx, "integration-lock")
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = locker.TryLock(ctx, "integration-lock")
		require.NoError(t, err)
		assert.False(t, ok, "second session must not get the lock")

		release()
		release2, ok, err := locker.TryLock(ctx, "integration-lock")
		require.NoError(t, err)
		assert.True(t, ok)
		release2()
	})
}
