package entity

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
)

// Status is the lifecycle state of an invitation. Only pending is not
// terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Invitation is a single-use credential for materializing a membership.
// Only the hash of its token is stored.
type Invitation struct {
	ID            ident.ID           `db:"id" json:"id"`
	Email         string             `db:"email" json:"email"`
	Roles         membership.RoleSet `db:"roles" json:"roles"`
	RolesKey      string             `db:"roles_key" json:"-"`
	PropertyID    *ident.ID          `db:"property_id" json:"propertyId,omitempty"`
	UnitID        *ident.ID          `db:"unit_id" json:"unitId,omitempty"`
	TokenHash     string             `db:"token_hash" json:"-"`
	Status        Status             `db:"status" json:"status"`
	ExpiresAt     time.Time          `db:"expires_at" json:"expiresAt"`
	CreatedBy     ident.ID           `db:"created_by" json:"createdBy"`
	AcceptedBy    *ident.ID          `db:"accepted_by" json:"acceptedBy,omitempty"`
	AcceptedAt    *time.Time         `db:"accepted_at" json:"acceptedAt,omitempty"`
	RevokedBy     *ident.ID          `db:"revoked_by" json:"revokedBy,omitempty"`
	RevokedAt     *time.Time         `db:"revoked_at" json:"revokedAt,omitempty"`
	DeclineReason *string            `db:"decline_reason" json:"declineReason,omitempty"`
	DeclinedAt    *time.Time         `db:"declined_at" json:"declinedAt,omitempty"`
	AttemptCount  int                `db:"attempt_count" json:"attemptCount"`
	LastAttemptAt *time.Time         `db:"last_attempt_at" json:"lastAttemptAt,omitempty"`
	ResendCount   int                `db:"resend_count" json:"resendCount"`
	LastResendAt  *time.Time         `db:"last_resend_at" json:"lastResendAt,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updatedAt"`
}

func (i *Invitation) IsPending() bool { return i.Status == StatusPending }

// Overdue reports a pending invitation whose expiry has passed.
func (i *Invitation) Overdue(now time.Time) bool {
	return i.IsPending() && now.After(i.ExpiresAt)
}

// Property returns the target property or the zero ID.
func (i *Invitation) Property() ident.ID { return ident.Deref(i.PropertyID) }

func (i *Invitation) Unit() ident.ID { return ident.Deref(i.UnitID) }

// Attrs are the resource-local identities used by the policy catalog.
func (i *Invitation) Attrs() map[string]ident.ID {
	return map[string]ident.ID{"createdBy": i.CreatedBy}
}

// SameTarget reports whether both invitations address the same email,
// property and unit.
func (i *Invitation) SameTarget(o *Invitation) bool {
	return i.Email == o.Email && i.Property() == o.Property() && i.Unit() == o.Unit()
}

func (i *Invitation) Clone() *Invitation {
	cp := *i
	cp.Roles = i.Roles.Clone()
	return &cp
}

// Filter narrows invitation listings.
type Filter struct {
	Status     Status
	PropertyID ident.ID
	Email      string
	Limit      int
	Offset     int
}

// View is the redacted form shown to the unauthenticated token holder.
type View struct {
	ID           ident.ID           `json:"id"`
	Email        string             `json:"email"`
	Roles        membership.RoleSet `json:"roles"`
	Role         membership.Role    `json:"role"`
	Property     ident.ID           `json:"property,omitempty"`
	PropertyName string             `json:"propertyName,omitempty"`
	Unit         ident.ID           `json:"unit,omitempty"`
	UnitLabel    string             `json:"unitLabel,omitempty"`
	ExpiresAt    time.Time          `json:"expiresAt"`
	InviterName  string             `json:"inviterName,omitempty"`
	UserExists   bool               `json:"userExists"`
}
