package entity

import (
	"strings"
	"time"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
)

// Status is the registration state of an account.
type Status string

const (
	StatusPendingEmail         Status = "pending_email"
	StatusPendingAdminApproval Status = "pending_admin_approval"
	StatusActive               Status = "active"
	StatusDeactivated          Status = "deactivated"
)

// GlobalRole is the account-wide role, independent of memberships.
type GlobalRole string

const (
	RoleAdmin GlobalRole = "admin"
	RoleUser  GlobalRole = "user"
)

// User represents an account row in the `users` table.
type User struct {
	ID                  ident.ID   `db:"id" json:"id"`
	Email               string     `db:"email" json:"email"`
	EmailVerified       bool       `db:"email_verified" json:"emailVerified"`
	FirstName           string     `db:"first_name" json:"firstName"`
	LastName            string     `db:"last_name" json:"lastName"`
	Phone               *string    `db:"phone" json:"phone,omitempty"`
	PasswordHash        *string    `db:"password_hash" json:"-"`
	PasswordAlgo        *string    `db:"password_algo" json:"-"`
	PasswordUpdatedAt   *time.Time `db:"password_updated_at" json:"-"`
	Status              Status     `db:"status" json:"status"`
	GlobalRole          GlobalRole `db:"global_role" json:"globalRole"`
	ActivatedByAdmin    bool       `db:"activated_by_admin" json:"-"`
	LoginFailedAttempts int        `db:"login_failed_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"-"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	Version             int64      `db:"version" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
	DeactivatedAt       *time.Time `db:"deactivated_at" json:"deactivatedAt,omitempty"`
}

// IsActive reports whether the account may act.
func (u *User) IsActive() bool { return u != nil && u.Status == StatusActive }

// IsLocked reports whether a lockout is in force at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// CanActivate holds the activation invariant: an active account has a
// verified email or was activated by an administrator.
func (u *User) CanActivate() bool { return u.EmailVerified || u.ActivatedByAdmin }

// DisplayName is used in emails and invitation views.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// NormalizeEmail case-folds and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MinimalAuthView is the minimal projection required for token claim hydration.
type MinimalAuthView struct {
	ID            ident.ID   `db:"id" json:"id"`
	GlobalRole    GlobalRole `db:"global_role" json:"globalRole"`
	Status        Status     `db:"status" json:"status"`
	Version       int64      `db:"version" json:"-"`
	Email         string     `db:"email" json:"email"`
	EmailVerified bool       `db:"email_verified" json:"emailVerified"`
}
