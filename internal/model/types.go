package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the resolution state of a warranty claim
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
)

// Statuses lists every valid claim status in display order
var Statuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusCompleted}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Role is the role carried by a user account and its session token
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleSeller Role = "seller"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSeller
}

// User represents a staff account (admin or seller)
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
}

// Claim represents a warranty claim from intake to resolution
type Claim struct {
	ID uuid.UUID

	// Intake
	CustomerName      string
	CustomerPhone     string
	Address           string
	OwnerName         *string
	OwnerPhone        *string
	Brand             string
	Model             string
	Serial            string
	PurchaseDate      time.Time
	InvoiceNumber     string
	DamagedPart       string
	DamagedPartSerial *string
	DamageDate        time.Time
	DamageDescription string
	CustomerSignature string

	// Resolution (seller side)
	Status            Status
	CreditMemo        *string
	ReplacementPart   *string
	ReplacementSerial *string
	SellerSignature   *string
	ManagementDate    *time.Time
	TechnicianNotes   *string
	ResolutionDate    *time.Time

	// Assignment
	AssignedToID     *uuid.UUID
	AssignedAt       *time.Time
	LastReminderSent *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stats summarizes claim counts by status
type Stats struct {
	Total     int
	Pending   int
	Approved  int
	Rejected  int
	Completed int
	Users     int
}
