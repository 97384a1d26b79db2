package entity

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
)

// Property is a managed building or lot. Deactivation is reversible.
type Property struct {
	ID        ident.ID  `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Unit belongs to exactly one property.
type Unit struct {
	ID         ident.ID  `db:"id" json:"id"`
	PropertyID ident.ID  `db:"property_id" json:"propertyId"`
	Label      string    `db:"label" json:"label"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time `db:"updated_at" json:"updatedAt"`
}
