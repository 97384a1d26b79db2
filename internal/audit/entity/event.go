package entity

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
)

// Kind names what happened.
type Kind string

const (
	KindInviteIssued          Kind = "invite.issued"
	KindInviteAccepted        Kind = "invite.accepted"
	KindInviteDeclined        Kind = "invite.declined"
	KindInviteCancelled       Kind = "invite.cancelled"
	KindInviteResent          Kind = "invite.resent"
	KindInviteExpired         Kind = "invite.expired"
	KindMembershipGranted     Kind = "membership.granted"
	KindMembershipUpdated     Kind = "membership.updated"
	KindMembershipDeactivated Kind = "membership.deactivated"
	KindMembershipRoleRevoked Kind = "membership.role_revoked"
	KindUserRegistered        Kind = "user.registered"
	KindUserLogin             Kind = "user.login"
	KindUserPromoted          Kind = "user.promoted"
	KindUserPasswordReset     Kind = "user.password_reset"
	KindAuthzDenied           Kind = "authz.denied"
)

// Status is the outcome recorded with an event.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is an append-only row in action_events.
type Event struct {
	ID           string    `db:"id" json:"id"`
	Kind         Kind      `db:"kind" json:"kind"`
	ActorID      *ident.ID `db:"actor_id" json:"actorId,omitempty"`
	ResourceKind string    `db:"resource_kind" json:"resourceKind"`
	ResourceID   string    `db:"resource_id" json:"resourceId"`
	OldSnapshot  Snapshot  `db:"old_snapshot" json:"old,omitempty"`
	NewSnapshot  Snapshot  `db:"new_snapshot" json:"new,omitempty"`
	IP           string    `db:"ip" json:"ip"`
	Description  string    `db:"description" json:"description"`
	Status       Status    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Snapshot is a JSON document stored in a JSONB column; empty means NULL.
type Snapshot []byte

func (s Snapshot) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return []byte(s), nil
}

func (s *Snapshot) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
	case []byte:
		*s = append(Snapshot(nil), v...)
	case string:
		*s = Snapshot(v)
	default:
		return fmt.Errorf("snapshot: unsupported type %T", src)
	}
	return nil
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

// Filter narrows an audit listing.
type Filter struct {
	Kind         Kind
	ActorID      ident.ID
	ResourceKind string
	ResourceID   string
	Since        *time.Time
	Limit        int
	Offset       int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Normalize clamps paging values.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
