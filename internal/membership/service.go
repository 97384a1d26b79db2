// Package membership is the store of user ↔ property ↔ unit grants.
package membership

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/property"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

// Repository is the persistence contract of the store.
type Repository interface {
	Upsert(ctx context.Context, m *entity.Membership) (*entity.Membership, bool, error)
	Get(ctx context.Context, id ident.ID) (*entity.Membership, error)
	GetByKey(ctx context.Context, k entity.Key) (*entity.Membership, error)
	Update(ctx context.Context, m *entity.Membership) error
	Find(ctx context.Context, f entity.Filter) ([]*entity.Membership, error)
	List(ctx context.Context, scope authz.Scope, f entity.Filter) ([]*entity.Membership, error)
}

// Targets resolves and checks the property and unit of a grant.
type Targets interface {
	Resolve(ctx context.Context, propertyID ident.ID, unitID *ident.ID) (property.Target, error)
}

type Users interface {
	GetByID(ctx context.Context, id ident.ID) (*user.User, error)
}

var (
	errNoRoles        = apperr.Validation("roles_required", "at least one role is required")
	errTenantNeedUnit = apperr.Validation("tenant_requires_unit", "tenant role requires a unit")
	errAlreadyOff     = apperr.Conflict("membership_inactive", "membership is already inactive")
	errRoleNotHeld    = apperr.NotFound("role_not_held", "membership does not hold this role")
)

// Store enforces the membership invariants on top of the repository.
type Store struct {
	repo    Repository
	targets Targets
	users   Users
	logger  *zap.SugaredLogger
}

func NewStore(repo Repository, targets Targets, users Users, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{repo: repo, targets: targets, users: users, logger: logger}
}

// UpsertInput is one grant.
type UpsertInput struct {
	UserID      ident.ID
	PropertyID  ident.ID
	UnitID      *ident.ID
	Roles       entity.RoleSet
	GrantedBy   ident.ID
	StartDate   *time.Time
	EndDate     *time.Time
	Permissions entity.Permissions
}

func (in UpsertInput) validate() error {
	if in.UserID.IsZero() {
		return apperr.Validation("user_required", "user is required")
	}
	if in.PropertyID.IsZero() {
		return apperr.Validation("property_required", "property is required")
	}
	if in.Roles.Empty() {
		return errNoRoles
	}
	if err := in.Roles.Validate(); err != nil {
		return apperr.Validation("unknown_role", err.Error())
	}
	if in.Roles.Contains(entity.RoleTenant) && in.UnitID == nil {
		return errTenantNeedUnit
	}
	if in.StartDate != nil && in.EndDate != nil && !in.EndDate.After(*in.StartDate) {
		return apperr.Validation("invalid_dates", "end date must follow start date")
	}
	return nil
}

// Resolve checks that the grant target exists and is consistent.
func (s *Store) Resolve(ctx context.Context, propertyID ident.ID, unitID *ident.ID) (property.Target, error) {
	return s.targets.Resolve(ctx, propertyID, unitID)
}

// Upsert merges in.Roles into the row of the (user, property, unit)
// triple, creating an active row when none exists. Repeating a grant is
// a no-op on the row count and the role set.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (*entity.Membership, bool, error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}
	if _, err := s.users.GetByID(ctx, in.UserID); err != nil {
		return nil, false, err
	}
	if _, err := s.targets.Resolve(ctx, in.PropertyID, in.UnitID); err != nil {
		return nil, false, err
	}
	m, created, err := s.repo.Upsert(ctx, &entity.Membership{
		UserID:      in.UserID,
		PropertyID:  in.PropertyID,
		UnitID:      in.UnitID,
		Roles:       entity.NewRoleSet(in.Roles...),
		Active:      true,
		InvitedBy:   ident.Ptr(in.GrantedBy),
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		Permissions: in.Permissions,
	})
	if err != nil {
		return nil, false, err
	}
	s.logger.Debugw("membership upserted", "membership_id", m.ID, "user_id", m.UserID,
		"property_id", m.PropertyID, "roles", m.Roles.Key(), "created", created)
	return m, created, nil
}

func (s *Store) Get(ctx context.Context, id ident.ID) (*entity.Membership, error) {
	return s.repo.Get(ctx, id)
}

// Deactivate switches a row off. Roles are kept for audit.
func (s *Store) Deactivate(ctx context.Context, id ident.ID) (*entity.Membership, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, errAlreadyOff
	}
	m.Active = false
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// RevokeRole removes one role from the row of k. A row left without roles
// is deactivated.
func (s *Store) RevokeRole(ctx context.Context, k entity.Key, role entity.Role) (*entity.Membership, error) {
	m, err := s.repo.GetByKey(ctx, k)
	if err != nil {
		return nil, err
	}
	if !m.Roles.Contains(role) {
		return nil, errRoleNotHeld
	}
	m.Roles = m.Roles.Without(role)
	if m.Roles.Empty() {
		m.Active = false
	}
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateInput changes the mutable columns; nil fields are left alone.
type UpdateInput struct {
	Roles       *entity.RoleSet
	Active      *bool
	EndDate     *time.Time
	ClearEnd    bool
	Permissions entity.Permissions
}

// Update applies in to row id. An empty role set deactivates the row.
func (s *Store) Update(ctx context.Context, id ident.ID, in UpdateInput) (*entity.Membership, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Roles != nil {
		roles := entity.NewRoleSet(*in.Roles...)
		if err := roles.Validate(); err != nil {
			return nil, apperr.Validation("unknown_role", err.Error())
		}
		m.Roles = roles
		if roles.Empty() {
			m.Active = false
		}
	}
	if in.Active != nil {
		if *in.Active && m.Roles.Empty() {
			return nil, errNoRoles
		}
		m.Active = *in.Active
	}
	if in.ClearEnd {
		m.EndDate = nil
	} else if in.EndDate != nil {
		m.EndDate = in.EndDate
	}
	if in.Permissions != nil {
		m.Permissions = in.Permissions.Clone()
	}
	if err := m.Validate(); err != nil {
		return nil, errTenantNeedUnit
	}
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// FindForUser returns the user's rows, active only unless
// f.IncludeInactive is set.
func (s *Store) FindForUser(ctx context.Context, userID ident.ID, f entity.Filter) ([]*entity.Membership, error) {
	f.UserID = userID
	return s.repo.Find(ctx, f)
}

// FindForProperty returns the property's rows, active only unless
// f.IncludeInactive is set.
func (s *Store) FindForProperty(ctx context.Context, propertyID ident.ID, f entity.Filter) ([]*entity.Membership, error) {
	f.PropertyID = propertyID
	return s.repo.Find(ctx, f)
}

// List returns rows admitted by scope.
func (s *Store) List(ctx context.Context, scope authz.Scope, f entity.Filter) ([]*entity.Membership, error) {
	if scope.Empty() {
		return []*entity.Membership{}, nil
	}
	return s.repo.List(ctx, scope, f)
}

// ExistsActive reports whether an active row of the user on the property
// holds any of required. A nil unit matches rows on any unit; a unit
// matches that unit and property-wide rows.
func (s *Store) ExistsActive(ctx context.Context, userID, propertyID ident.ID, unitID *ident.ID, required entity.RoleSet) (bool, error) {
	ms, err := s.repo.Find(ctx, entity.Filter{
		UserID:     userID,
		PropertyID: propertyID,
		UnitID:     ident.Deref(unitID),
		Roles:      required,
		Limit:      1,
	})
	if err != nil {
		return false, err
	}
	return len(ms) > 0, nil
}

// Holds returns the row of an exact triple, or nil when there is none.
func (s *Store) Holds(ctx context.Context, k entity.Key) (*entity.Membership, error) {
	m, err := s.repo.GetByKey(ctx, k)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
