package memstore

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	property "github.com/ovaphlow/pitchfork/service-tenancy/internal/property/entity"
)

// Properties implements the property repository and seeds rows.
type Properties struct{ db *DB }

func (r *Properties) GetProperty(_ context.Context, id ident.ID) (*property.Property, error) {
	var out *property.Property
	r.db.read(func(s *state) {
		if p, ok := s.properties[id]; ok {
			cp := *p
			out = &cp
		}
	})
	if out == nil {
		return nil, apperr.NotFound("property_not_found", "property not found")
	}
	return out, nil
}

func (r *Properties) GetUnit(_ context.Context, id ident.ID) (*property.Unit, error) {
	var out *property.Unit
	r.db.read(func(s *state) {
		if u, ok := s.units[id]; ok {
			cp := *u
			out = &cp
		}
	})
	if out == nil {
		return nil, apperr.NotFound("unit_not_found", "unit not found")
	}
	return out, nil
}

func (r *Properties) PropertyOfUnit(ctx context.Context, unitID ident.ID) (ident.ID, error) {
	u, err := r.GetUnit(ctx, unitID)
	if err != nil {
		return "", err
	}
	return u.PropertyID, nil
}

// AddProperty stores an active property. An empty id is generated.
func (r *Properties) AddProperty(id ident.ID, name string) *property.Property {
	if id.IsZero() {
		id = ident.New()
	}
	now := r.db.now()
	p := &property.Property{ID: id, Name: name, Active: true, CreatedAt: now, UpdatedAt: now}
	_ = r.db.write(func(s *state) error {
		s.properties[id] = p
		return nil
	})
	cp := *p
	return &cp
}

// AddUnit stores an active unit of propertyID.
func (r *Properties) AddUnit(id, propertyID ident.ID, label string) *property.Unit {
	if id.IsZero() {
		id = ident.New()
	}
	now := r.db.now()
	u := &property.Unit{ID: id, PropertyID: propertyID, Label: label, Active: true, CreatedAt: now, UpdatedAt: now}
	_ = r.db.write(func(s *state) error {
		s.units[id] = u
		return nil
	})
	cp := *u
	return &cp
}

// SetPropertyActive toggles the property's active flag.
func (r *Properties) SetPropertyActive(id ident.ID, active bool) {
	_ = r.db.write(func(s *state) error {
		if p, ok := s.properties[id]; ok {
			p.Active = active
			p.UpdatedAt = r.db.now()
		}
		return nil
	})
}
