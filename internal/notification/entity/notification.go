package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
)

// Kind names the notification template shown in the app.
type Kind string

const (
	KindInvitationReceived Kind = "invitation.received"
	KindInvitationDeclined Kind = "invitation.declined"
	KindInvitationAccepted Kind = "invitation.accepted"
)

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID        ident.ID   `db:"id" json:"id"`
	UserID    ident.ID   `db:"user_id" json:"userId"`
	Kind      Kind       `db:"kind" json:"kind"`
	Title     string     `db:"title" json:"title"`
	Body      string     `db:"body" json:"body"`
	Data      Data       `db:"data" json:"data"`
	ReadAt    *time.Time `db:"read_at" json:"readAt,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
}

// Data is free-form payload stored as JSONB.
type Data map[string]string

func (d Data) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func (d *Data) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("notification data: unsupported type %T", src)
	}
	return json.Unmarshal(b, d)
}
