package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/garantia/server/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a guarded write finds the row changed since it was read
	ErrConflict = errors.New("modified concurrently")
)

// UpdateOptions guards a claim write
type UpdateOptions struct {
	// ExpectedUpdatedAt must equal the stored updated_at or the write fails with ErrConflict
	ExpectedUpdatedAt time.Time
	// WriteAssignment also writes assigned_to_id, assigned_at and last_reminder_sent.
	// When false those columns keep whatever is stored, including a concurrent reminder stamp.
	WriteAssignment bool
}

// ClaimRepo defines the interface for warranty claim repository operations
type ClaimRepo interface {
	Create(ctx context.Context, c model.Claim) error
	GetByID(ctx context.Context, id uuid.UUID) (model.Claim, error)
	List(ctx context.Context, status *model.Status) ([]model.Claim, error)
	Update(ctx context.Context, c model.Claim, opts UpdateOptions) (model.Claim, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	ListDueReminders(ctx context.Context, assignedBefore, remindedBefore time.Time) ([]model.Claim, error)
	MarkReminderSent(ctx context.Context, id, sellerID uuid.UUID, at, remindedBefore time.Time) (bool, error)
}

type claimRepo struct {
	db *sql.DB
}

// NewClaimRepo creates a new ClaimRepo instance
func NewClaimRepo(db *sql.DB) ClaimRepo {
	return &claimRepo{db: db}
}

const claimColumns = `
	id, customer_name, customer_phone, address, owner_name, owner_phone,
	brand, model, serial, purchase_date, invoice_number,
	damaged_part, damaged_part_serial, damage_date, damage_description, customer_signature,
	status, credit_memo, replacement_part, replacement_serial, seller_signature,
	management_date, technician_notes, resolution_date,
	assigned_to_id, assigned_at, last_reminder_sent, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (model.Claim, error) {
	var c model.Claim
	var status string
	err := row.Scan(
		&c.ID, &c.CustomerName, &c.CustomerPhone, &c.Address, &c.OwnerName, &c.OwnerPhone,
		&c.Brand, &c.Model, &c.Serial, &c.PurchaseDate, &c.InvoiceNumber,
		&c.DamagedPart, &c.DamagedPartSerial, &c.DamageDate, &c.DamageDescription, &c.CustomerSignature,
		&status, &c.CreditMemo, &c.ReplacementPart, &c.ReplacementSerial, &c.SellerSignature,
		&c.ManagementDate, &c.TechnicianNotes, &c.ResolutionDate,
		&c.AssignedToID, &c.AssignedAt, &c.LastReminderSent, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.Claim{}, err
	}
	c.Status = model.Status(status)
	return c, nil
}

func scanClaims(rows *sql.Rows) ([]model.Claim, error) {
	defer rows.Close()
	claims := make([]model.Claim, 0)
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan warranty: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate warranties: %w", err)
	}
	return claims, nil
}

// Create inserts a new claim. ID and timestamps are set by the caller.
func (r *claimRepo) Create(ctx context.Context, c model.Claim) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO warranties (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29)
	`,
		c.ID, c.CustomerName, c.CustomerPhone, c.Address, c.OwnerName, c.OwnerPhone,
		c.Brand, c.Model, c.Serial, c.PurchaseDate, c.InvoiceNumber,
		c.DamagedPart, c.DamagedPartSerial, c.DamageDate, c.DamageDescription, c.CustomerSignature,
		string(c.Status), c.CreditMemo, c.ReplacementPart, c.ReplacementSerial, c.SellerSignature,
		c.ManagementDate, c.TechnicianNotes, c.ResolutionDate,
		c.AssignedToID, c.AssignedAt, c.LastReminderSent, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert warranty: %w", err)
	}
	return nil
}

// GetByID retrieves a claim by ID
func (r *claimRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Claim, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM warranties WHERE id = $1`, id)
	c, err := scanClaim(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Claim{}, fmt.Errorf("warranty %s: %w", id, ErrNotFound)
		}
		return model.Claim{}, fmt.Errorf("query warranty: %w", err)
	}
	return c, nil
}

// List returns claims newest first, optionally filtered by status
func (r *claimRepo) List(ctx context.Context, status *model.Status) ([]model.Claim, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status != nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+claimColumns+` FROM warranties
			WHERE status = $1
			ORDER BY created_at DESC, id DESC
		`, string(*status))
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+claimColumns+` FROM warranties
			ORDER BY created_at DESC, id DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list warranties: %w", err)
	}
	return scanClaims(rows)
}

// Update writes the mutable columns of c in one statement and returns the stored row.
// The write only applies if updated_at still equals opts.ExpectedUpdatedAt.
func (r *claimRepo) Update(ctx context.Context, c model.Claim, opts UpdateOptions) (model.Claim, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE warranties SET
			customer_name = $2, customer_phone = $3, address = $4, owner_name = $5, owner_phone = $6,
			brand = $7, model = $8, serial = $9, purchase_date = $10, invoice_number = $11,
			damaged_part = $12, damaged_part_serial = $13, damage_date = $14, damage_description = $15,
			customer_signature = $16,
			status = $17, credit_memo = $18, replacement_part = $19, replacement_serial = $20,
			seller_signature = $21, management_date = $22, technician_notes = $23, resolution_date = $24,
			assigned_to_id = CASE WHEN $29::boolean THEN $25::uuid ELSE assigned_to_id END,
			assigned_at = CASE WHEN $29::boolean THEN $26::timestamptz ELSE assigned_at END,
			last_reminder_sent = CASE WHEN $29::boolean THEN $27::timestamptz ELSE last_reminder_sent END,
			updated_at = $28
		WHERE id = $1 AND updated_at = $30
		RETURNING `+claimColumns,
		c.ID, c.CustomerName, c.CustomerPhone, c.Address, c.OwnerName, c.OwnerPhone,
		c.Brand, c.Model, c.Serial, c.PurchaseDate, c.InvoiceNumber,
		c.DamagedPart, c.DamagedPartSerial, c.DamageDate, c.DamageDescription,
		c.CustomerSignature,
		string(c.Status), c.CreditMemo, c.ReplacementPart, c.ReplacementSerial,
		c.SellerSignature, c.ManagementDate, c.TechnicianNotes, c.ResolutionDate,
		c.AssignedToID, c.AssignedAt, c.LastReminderSent, c.UpdatedAt,
		opts.WriteAssignment, opts.ExpectedUpdatedAt,
	)
	stored, err := scanClaim(row)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Claim{}, fmt.Errorf("update warranty: %w", err)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM warranties WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return model.Claim{}, fmt.Errorf("check warranty: %w", err)
	}
	if !exists {
		return model.Claim{}, fmt.Errorf("warranty %s: %w", c.ID, ErrNotFound)
	}
	return model.Claim{}, fmt.Errorf("warranty %s: %w", c.ID, ErrConflict)
}

// Delete removes a claim
func (r *claimRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM warranties WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete warranty: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("warranty %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountByStatus returns the number of claims per status; absent statuses are omitted
func (r *claimRepo) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, count(*) FROM warranties GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count warranties: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

// ListDueReminders returns pending, assigned claims assigned before assignedBefore
// whose last reminder is unset or older than remindedBefore
func (r *claimRepo) ListDueReminders(ctx context.Context, assignedBefore, remindedBefore time.Time) ([]model.Claim, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM warranties
		WHERE status = 'pending'
		  AND assigned_to_id IS NOT NULL
		  AND assigned_at < $1
		  AND (last_reminder_sent IS NULL OR last_reminder_sent < $2)
		ORDER BY assigned_at ASC
	`, assignedBefore, remindedBefore)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return scanClaims(rows)
}

// MarkReminderSent stamps last_reminder_sent only while the claim is still pending,
// still assigned to sellerID, and has no reminder after remindedBefore.
// Returns false when the guard did not match.
func (r *claimRepo) MarkReminderSent(ctx context.Context, id, sellerID uuid.UUID, at, remindedBefore time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE warranties SET last_reminder_sent = $2
		WHERE id = $1
		  AND status = 'pending'
		  AND assigned_to_id = $4
		  AND (last_reminder_sent IS NULL OR last_reminder_sent < $3)
	`, id, at, remindedBefore, sellerID)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
