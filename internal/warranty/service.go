// Package warranty implements the claim lifecycle: intake, resolution updates,
// assignment and the reminder sweep.
package warranty

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/garantia/server/internal/apperr"
	"github.com/garantia/server/internal/db"
	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/repo"
)

const defaultNotifyTimeout = 10 * time.Second

var claimsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warranty_claims_created_total",
	Help: "Warranty claims accepted at intake.",
})

// Notifier sends claim notices. Implementations report failures as errors
// but callers never propagate them.
type Notifier interface {
	ClaimCreated(ctx context.Context, c model.Claim) error
	ClaimAssigned(ctx context.Context, c model.Claim, seller model.User) error
	Reminder(ctx context.Context, c model.Claim, seller model.User) error
}

// Draft is an intake submission. Dates are YYYY-MM-DD or RFC 3339.
type Draft struct {
	CustomerName      string
	CustomerPhone     string
	Address           string
	OwnerName         string
	OwnerPhone        string
	Brand             string
	Model             string
	Serial            string
	PurchaseDate      string
	InvoiceNumber     string
	DamagedPart       string
	DamagedPartSerial string
	DamageDate        string
	DamageDescription string
	CustomerSignature string
}

// Patch is a partial resolution update. Nil fields are left unchanged;
// a pointer to an empty string clears the field.
type Patch struct {
	Status            *model.Status
	CreditMemo        *string
	ReplacementPart   *string
	ReplacementSerial *string
	SellerSignature   *string
	ManagementDate    *string
	TechnicianNotes   *string
	ResolutionDate    *string
	AssignedToID      *uuid.UUID
	Unassign          bool
}

// changesAssignment reports whether the patch touches the assignee
func (p Patch) changesAssignment() bool {
	return p.AssignedToID != nil || p.Unassign
}

// Service is the warranty lifecycle controller
type Service struct {
	claims        repo.ClaimRepo
	users         repo.UserRepo
	notifier      Notifier
	logger        *slog.Logger
	notifyTimeout time.Duration

	now   func() time.Time
	newID func() uuid.UUID

	inflight sync.WaitGroup
}

// NewService creates a new lifecycle controller. notifyTimeout <= 0 uses 10s.
func NewService(claims repo.ClaimRepo, users repo.UserRepo, notifier Notifier, logger *slog.Logger, notifyTimeout time.Duration) *Service {
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}
	return &Service{
		claims:        claims,
		users:         users,
		notifier:      notifier,
		logger:        logger,
		notifyTimeout: notifyTimeout,
		now:           time.Now,
		newID:         uuid.New,
	}
}

// Create validates an intake draft and persists it as a pending claim.
// The admin notice is sent in the background.
func (s *Service) Create(ctx context.Context, d Draft) (model.Claim, error) {
	if missing := d.missingFields(); len(missing) > 0 {
		return model.Claim{}, apperr.Invalid("missing required fields: "+strings.Join(missing, ", "), missing...)
	}

	purchase, err := parseDate("purchaseDate", d.PurchaseDate)
	if err != nil {
		return model.Claim{}, err
	}
	damage, err := parseDate("damageDate", d.DamageDate)
	if err != nil {
		return model.Claim{}, err
	}
	if damage.Before(purchase) {
		return model.Claim{}, apperr.Invalid("damageDate cannot be earlier than purchaseDate", "damageDate")
	}

	now := s.timestamp()
	c := model.Claim{
		ID:                s.newID(),
		CustomerName:      d.CustomerName,
		CustomerPhone:     d.CustomerPhone,
		Address:           d.Address,
		OwnerName:         optional(d.OwnerName),
		OwnerPhone:        optional(d.OwnerPhone),
		Brand:             d.Brand,
		Model:             d.Model,
		Serial:            d.Serial,
		PurchaseDate:      purchase,
		InvoiceNumber:     d.InvoiceNumber,
		DamagedPart:       d.DamagedPart,
		DamagedPartSerial: optional(d.DamagedPartSerial),
		DamageDate:        damage,
		DamageDescription: d.DamageDescription,
		CustomerSignature: d.CustomerSignature,
		Status:            model.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.claims.Create(ctx, c); err != nil {
		return model.Claim{}, db.StoreError("create warranty", err)
	}
	claimsCreatedTotal.Inc()
	s.logger.InfoContext(ctx, "warranty created", slog.String("warranty_id", c.ID.String()))

	created := c
	s.dispatch("created", c.ID, func(ctx context.Context) error {
		return s.notifier.ClaimCreated(ctx, created)
	})
	return c, nil
}

// Get returns a claim or NOT_FOUND
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Claim, error) {
	c, err := s.claims.GetByID(ctx, id)
	if err != nil {
		return model.Claim{}, s.lookupErr(err)
	}
	return c, nil
}

// List returns claims newest first, optionally only those with the given status
func (s *Service) List(ctx context.Context, status *model.Status) ([]model.Claim, error) {
	if status != nil && !status.Valid() {
		return nil, apperr.Invalid("unknown status "+string(*status), "status")
	}
	claims, err := s.claims.List(ctx, status)
	if err != nil {
		return nil, db.StoreError("list warranties", err)
	}
	return claims, nil
}

// Assignees loads the assigned users of claims, keyed by user ID.
// Claims whose assignee no longer exists are simply absent from the result.
func (s *Service) Assignees(ctx context.Context, claims ...model.Claim) (map[uuid.UUID]model.User, error) {
	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0)
	for _, c := range claims {
		if c.AssignedToID == nil || seen[*c.AssignedToID] {
			continue
		}
		seen[*c.AssignedToID] = true
		ids = append(ids, *c.AssignedToID)
	}
	if len(ids) == 0 {
		return map[uuid.UUID]model.User{}, nil
	}
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, db.StoreError("get assignees", err)
	}
	return users, nil
}

// Delete removes a claim unconditionally. Administrative use only.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.claims.Delete(ctx, id); err != nil {
		return s.lookupErr(err)
	}
	s.logger.InfoContext(ctx, "warranty deleted", slog.String("warranty_id", id.String()))
	return nil
}

// Stats counts claims by status and the number of user accounts
func (s *Service) Stats(ctx context.Context) (model.Stats, error) {
	counts, err := s.claims.CountByStatus(ctx)
	if err != nil {
		return model.Stats{}, db.StoreError("count warranties", err)
	}
	users, err := s.users.Count(ctx)
	if err != nil {
		return model.Stats{}, db.StoreError("count users", err)
	}

	stats := model.Stats{
		Pending:   counts[model.StatusPending],
		Approved:  counts[model.StatusApproved],
		Rejected:  counts[model.StatusRejected],
		Completed: counts[model.StatusCompleted],
		Users:     users,
	}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// Update applies a patch without any caller restrictions
func (s *Service) Update(ctx context.Context, id uuid.UUID, p Patch) (model.Claim, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, err
	}
	return s.update(ctx, current, p)
}

// UpdateAs applies a patch on behalf of a signed-in user.
// Admins may change anything. Sellers may not change the assignment and
// may only touch claims that are unassigned or assigned to them.
func (s *Service) UpdateAs(ctx context.Context, actor model.User, id uuid.UUID, p Patch) (model.Claim, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return model.Claim{}, err
	}
	if actor.Role != model.RoleAdmin {
		if p.changesAssignment() {
			return model.Claim{}, apperr.New(apperr.CodeForbidden, "only admins can change the assignment")
		}
		if current.AssignedToID != nil && *current.AssignedToID != actor.ID {
			return model.Claim{}, apperr.New(apperr.CodeForbidden, "warranty is assigned to another seller")
		}
	}
	return s.update(ctx, current, p)
}

func (s *Service) update(ctx context.Context, current model.Claim, p Patch) (model.Claim, error) {
	if p.AssignedToID != nil && p.Unassign {
		return model.Claim{}, apperr.Invalid("cannot assign and unassign in the same update", "assignedToId")
	}

	next := current
	if p.Status != nil {
		if !p.Status.Valid() {
			return model.Claim{}, apperr.Invalid("unknown status "+string(*p.Status), "status")
		}
		next.Status = *p.Status
	}
	applyText(&next.CreditMemo, p.CreditMemo)
	applyText(&next.ReplacementPart, p.ReplacementPart)
	applyText(&next.ReplacementSerial, p.ReplacementSerial)
	applyText(&next.SellerSignature, p.SellerSignature)
	applyText(&next.TechnicianNotes, p.TechnicianNotes)
	if err := applyDate(&next.ManagementDate, "managementDate", p.ManagementDate); err != nil {
		return model.Claim{}, err
	}
	if err := applyDate(&next.ResolutionDate, "resolutionDate", p.ResolutionDate); err != nil {
		return model.Claim{}, err
	}

	now := s.timestamp()

	var seller *model.User
	switch {
	case p.Unassign:
		next.AssignedToID = nil
		next.AssignedAt = nil
		next.LastReminderSent = nil
	case p.AssignedToID != nil && (current.AssignedToID == nil || *current.AssignedToID != *p.AssignedToID):
		u, err := s.users.GetByID(ctx, *p.AssignedToID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return model.Claim{}, apperr.Invalid("assigned user does not exist", "assignedToId")
			}
			return model.Claim{}, db.StoreError("get seller", err)
		}
		seller = &u
		sellerID := u.ID
		next.AssignedToID = &sellerID
		next.AssignedAt = &now
		next.LastReminderSent = nil
	}

	if next.Status != model.StatusPending {
		if missing := missingResolutionFields(next); len(missing) > 0 {
			return model.Claim{}, apperr.Invalid("missing required fields: "+strings.Join(missing, ", "), missing...)
		}
	}

	// updated_at strictly increases, even if the clock goes back, so every
	// write moves the version the next guarded write must match
	next.UpdatedAt = now
	if !next.UpdatedAt.After(current.UpdatedAt) {
		next.UpdatedAt = current.UpdatedAt.Add(time.Microsecond)
	}

	stored, err := s.claims.Update(ctx, next, repo.UpdateOptions{
		ExpectedUpdatedAt: current.UpdatedAt,
		WriteAssignment:   p.Unassign || seller != nil,
	})
	if err != nil {
		return model.Claim{}, s.lookupErr(err)
	}
	next = stored

	if current.Status != next.Status {
		s.logger.InfoContext(ctx, "warranty status changed",
			slog.String("warranty_id", next.ID.String()),
			slog.String("from", string(current.Status)),
			slog.String("to", string(next.Status)),
		)
	}

	if seller != nil {
		assigned, to := next, *seller
		s.dispatch("assigned", next.ID, func(ctx context.Context) error {
			return s.notifier.ClaimAssigned(ctx, assigned, to)
		})
	}
	return next, nil
}

// Wait blocks until background notifications have finished
func (s *Service) Wait() {
	s.inflight.Wait()
}

// dispatch runs fn detached from the request. Failures are logged, never returned.
func (s *Service) dispatch(kind string, id uuid.UUID, fn func(ctx context.Context) error) {
	if s.notifier == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("notification panicked",
					slog.String("kind", kind),
					slog.String("warranty_id", id.String()),
					slog.Any("panic", r),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn("notification failed",
				slog.String("kind", kind),
				slog.String("warranty_id", id.String()),
				slog.Any("error", err),
			)
		}
	}()
}

// timestamp is the current time at the store's microsecond precision
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) lookupErr(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFound("warranty not found")
	}
	if errors.Is(err, repo.ErrConflict) {
		return apperr.New(apperr.CodeConflict, "warranty was modified by someone else, reload and retry")
	}
	return db.StoreError("warranty store", err)
}

func applyText(dst **string, v *string) {
	if v == nil {
		return
	}
	*dst = optional(*v)
}

func applyDate(dst **time.Time, field string, v *string) error {
	if v == nil {
		return nil
	}
	if blank(*v) {
		*dst = nil
		return nil
	}
	t, err := parseDate(field, *v)
	if err != nil {
		return err
	}
	*dst = &t
	return nil
}
