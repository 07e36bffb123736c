// Package repotest provides in-memory repository implementations for tests.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/repo"
)

// Claims is an in-memory repo.ClaimRepo.
type Claims struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]model.Claim
	order  []uuid.UUID
	Err    error // when set, every call fails with it
	Stamps int   // successful MarkReminderSent calls
}

var _ repo.ClaimRepo = (*Claims)(nil)

// NewClaims creates an empty claim store.
func NewClaims() *Claims {
	return &Claims{rows: make(map[uuid.UUID]model.Claim)}
}

func (c *Claims) Create(_ context.Context, claim model.Claim) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if _, ok := c.rows[claim.ID]; ok {
		return fmt.Errorf("duplicate warranty id %s", claim.ID)
	}
	c.rows[claim.ID] = claim
	c.order = append(c.order, claim.ID)
	return nil
}

func (c *Claims) GetByID(_ context.Context, id uuid.UUID) (model.Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return model.Claim{}, c.Err
	}
	claim, ok := c.rows[id]
	if !ok {
		return model.Claim{}, fmt.Errorf("warranty %s: %w", id, repo.ErrNotFound)
	}
	return claim, nil
}

func (c *Claims) List(_ context.Context, status *model.Status) ([]model.Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	out := make([]model.Claim, 0, len(c.rows))
	for _, id := range c.order {
		claim, ok := c.rows[id]
		if !ok {
			continue
		}
		if status != nil && claim.Status != *status {
			continue
		}
		out = append(out, claim)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID.String(), out[j].ID.String()) > 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (c *Claims) Update(_ context.Context, claim model.Claim, opts repo.UpdateOptions) (model.Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return model.Claim{}, c.Err
	}
	stored, ok := c.rows[claim.ID]
	if !ok {
		return model.Claim{}, fmt.Errorf("warranty %s: %w", claim.ID, repo.ErrNotFound)
	}
	if !stored.UpdatedAt.Equal(opts.ExpectedUpdatedAt) {
		return model.Claim{}, fmt.Errorf("warranty %s: %w", claim.ID, repo.ErrConflict)
	}
	if !opts.WriteAssignment {
		claim.AssignedToID = stored.AssignedToID
		claim.AssignedAt = stored.AssignedAt
		claim.LastReminderSent = stored.LastReminderSent
	}
	claim.CreatedAt = stored.CreatedAt
	c.rows[claim.ID] = claim
	return claim, nil
}

func (c *Claims) Delete(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if _, ok := c.rows[id]; !ok {
		return fmt.Errorf("warranty %s: %w", id, repo.ErrNotFound)
	}
	delete(c.rows, id)
	return nil
}

func (c *Claims) CountByStatus(_ context.Context) (map[model.Status]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	counts := make(map[model.Status]int)
	for _, claim := range c.rows {
		counts[claim.Status]++
	}
	return counts, nil
}

func (c *Claims) ListDueReminders(_ context.Context, assignedBefore, remindedBefore time.Time) ([]model.Claim, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	var out []model.Claim
	for _, id := range c.order {
		claim, ok := c.rows[id]
		if !ok {
			continue
		}
		if claim.Status != model.StatusPending || claim.AssignedToID == nil || claim.AssignedAt == nil {
			continue
		}
		if !claim.AssignedAt.Before(assignedBefore) {
			continue
		}
		if claim.LastReminderSent != nil && !claim.LastReminderSent.Before(remindedBefore) {
			continue
		}
		out = append(out, claim)
	}
	return out, nil
}

func (c *Claims) MarkReminderSent(_ context.Context, id, sellerID uuid.UUID, at, remindedBefore time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	claim, ok := c.rows[id]
	if !ok {
		return false, nil
	}
	if claim.Status != model.StatusPending || claim.AssignedToID == nil || *claim.AssignedToID != sellerID {
		return false, nil
	}
	if claim.LastReminderSent != nil && !claim.LastReminderSent.Before(remindedBefore) {
		return false, nil
	}
	claim.LastReminderSent = &at
	c.rows[id] = claim
	c.Stamps++
	return true, nil
}

// Put stores a claim as-is, bypassing validation.
func (c *Claims) Put(claim model.Claim) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[claim.ID]; !ok {
		c.order = append(c.order, claim.ID)
	}
	c.rows[claim.ID] = claim
}

// Users is an in-memory repo.UserRepo.
type Users struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.User
	Err  error
}

var _ repo.UserRepo = (*Users)(nil)

// NewUsers creates an empty user store.
func NewUsers() *Users {
	return &Users{rows: make(map[uuid.UUID]model.User)}
}

func (u *Users) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return model.User{}, u.Err
	}
	user, ok := u.rows[id]
	if !ok {
		return model.User{}, fmt.Errorf("user: %w", repo.ErrNotFound)
	}
	return user, nil
}

func (u *Users) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return nil, u.Err
	}
	out := make(map[uuid.UUID]model.User, len(ids))
	for _, id := range ids {
		if user, ok := u.rows[id]; ok {
			out[id] = user
		}
	}
	return out, nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return model.User{}, u.Err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range u.rows {
		if user.Email == email {
			return user, nil
		}
	}
	return model.User{}, fmt.Errorf("user: %w", repo.ErrNotFound)
}

func (u *Users) Create(_ context.Context, email, name string, role model.Role, passwordHash string) (model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return model.User{}, u.Err
	}
	user := model.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         name,
		Role:         role,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	for _, existing := range u.rows {
		if existing.Email == user.Email {
			return model.User{}, fmt.Errorf("duplicate email %s", user.Email)
		}
	}
	u.rows[user.ID] = user
	return user, nil
}

func (u *Users) Count(_ context.Context) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Err != nil {
		return 0, u.Err
	}
	return len(u.rows), nil
}

// Add stores a user with the given role and returns it.
func (u *Users) Add(email string, role model.Role) model.User {
	user, err := u.Create(context.Background(), email, email, role, "")
	if err != nil {
		panic(err)
	}
	return user
}
