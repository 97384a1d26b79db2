package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/property/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

// PropertyRepo reads properties and units. Their CRUD lives with the
// property controllers; this service only resolves and checks them.
type PropertyRepo struct {
	db *sqlx.DB
}

func NewPropertyRepo(db *sqlx.DB) *PropertyRepo { return &PropertyRepo{db: db} }

func (r *PropertyRepo) GetProperty(ctx context.Context, id ident.ID) (*entity.Property, error) {
	const q = `SELECT id, name, address, active, created_at, updated_at FROM properties WHERE id=$1`
	var p entity.Property
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &p, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("property_not_found", "property not found")
		}
		return nil, fmt.Errorf("select property: %w", err)
	}
	return &p, nil
}

func (r *PropertyRepo) GetUnit(ctx context.Context, id ident.ID) (*entity.Unit, error) {
	const q = `SELECT id, property_id, label, active, created_at, updated_at FROM units WHERE id=$1`
	var u entity.Unit
	if err := sqlx.GetContext(ctx, database.Conn(ctx, r.db), &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("unit_not_found", "unit not found")
		}
		return nil, fmt.Errorf("select unit: %w", err)
	}
	return &u, nil
}

// PropertyOfUnit resolves the owning property of a unit.
func (r *PropertyRepo) PropertyOfUnit(ctx context.Context, unitID ident.ID) (ident.ID, error) {
	u, err := r.GetUnit(ctx, unitID)
	if err != nil {
		return "", err
	}
	return u.PropertyID, nil
}
