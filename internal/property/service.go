package property

import (
	"context"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/property/entity"
)

// Repository is the read contract for properties and units.
type Repository interface {
	GetProperty(ctx context.Context, id ident.ID) (*entity.Property, error)
	GetUnit(ctx context.Context, id ident.ID) (*entity.Unit, error)
	PropertyOfUnit(ctx context.Context, unitID ident.ID) (ident.ID, error)
}

// Service resolves membership targets.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Target is a resolved (property, unit) pair.
type Target struct {
	Property *entity.Property
	Unit     *entity.Unit
}

// Inactive reports whether the property or the unit is deactivated.
func (t Target) Inactive() bool {
	if t.Property != nil && !t.Property.Active {
		return true
	}
	return t.Unit != nil && !t.Unit.Active
}

// Resolve loads the property and the optional unit and checks that the
// unit belongs to the property.
func (s *Service) Resolve(ctx context.Context, propertyID ident.ID, unitID *ident.ID) (Target, error) {
	p, err := s.repo.GetProperty(ctx, propertyID)
	if err != nil {
		return Target{}, err
	}
	t := Target{Property: p}
	if unitID == nil {
		return t, nil
	}
	u, err := s.repo.GetUnit(ctx, *unitID)
	if err != nil {
		return Target{}, err
	}
	if !u.PropertyID.Equal(p.ID) {
		return Target{}, apperr.Validation("unit_property_mismatch", "unit does not belong to property")
	}
	t.Unit = u
	return t, nil
}

// GetProperty loads a property.
func (s *Service) GetProperty(ctx context.Context, id ident.ID) (*entity.Property, error) {
	return s.repo.GetProperty(ctx, id)
}

// GetUnit loads a unit.
func (s *Service) GetUnit(ctx context.Context, id ident.ID) (*entity.Unit, error) {
	return s.repo.GetUnit(ctx, id)
}

// PropertyOfUnit resolves the property a unit belongs to.
func (s *Service) PropertyOfUnit(ctx context.Context, unitID ident.ID) (ident.ID, error) {
	return s.repo.PropertyOfUnit(ctx, unitID)
}
