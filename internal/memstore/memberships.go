package memstore

import (
	"context"
	"sort"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/policy"
)

func errMembershipNotFound() error {
	return apperr.NotFound("membership_not_found", "membership not found")
}

// Memberships implements the membership repository with the same merge
// semantics as the Postgres upsert.
type Memberships struct{ db *DB }

func (r *Memberships) Upsert(_ context.Context, m *membership.Membership) (*membership.Membership, bool, error) {
	var (
		out     *membership.Membership
		created bool
	)
	err := r.db.write(func(s *state) error {
		now := r.db.now()
		key := m.Key()
		for _, row := range s.memberships {
			if row.Key() != key {
				continue
			}
			row.Roles = row.Roles.Union(m.Roles)
			row.Active = true
			if row.InvitedBy == nil {
				row.InvitedBy = m.InvitedBy
			}
			if row.StartDate == nil {
				row.StartDate = m.StartDate
			}
			row.UpdatedAt = now
			out = row.Clone()
			return nil
		}
		row := m.Clone()
		if row.ID.IsZero() {
			row.ID = ident.New()
		}
		row.Roles = membership.NewRoleSet(row.Roles...)
		row.Active = true
		row.CreatedAt, row.UpdatedAt = now, now
		if err := row.Validate(); err != nil {
			return err
		}
		s.memberships[row.ID] = row
		out, created = row.Clone(), true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func (r *Memberships) Get(_ context.Context, id ident.ID) (*membership.Membership, error) {
	var out *membership.Membership
	r.db.read(func(s *state) {
		if m, ok := s.memberships[id]; ok {
			out = m.Clone()
		}
	})
	if out == nil {
		return nil, errMembershipNotFound()
	}
	return out, nil
}

func (r *Memberships) GetByKey(_ context.Context, k membership.Key) (*membership.Membership, error) {
	var out *membership.Membership
	r.db.read(func(s *state) {
		for _, m := range s.memberships {
			if m.Key() == k {
				out = m.Clone()
				return
			}
		}
	})
	if out == nil {
		return nil, errMembershipNotFound()
	}
	return out, nil
}

func (r *Memberships) Update(_ context.Context, m *membership.Membership) error {
	return r.db.write(func(s *state) error {
		row, ok := s.memberships[m.ID]
		if !ok {
			return errMembershipNotFound()
		}
		row.Roles = membership.NewRoleSet(m.Roles...)
		row.Active = m.Active
		row.EndDate = m.EndDate
		row.Permissions = m.Permissions.Clone()
		row.UpdatedAt = r.db.now()
		m.UpdatedAt = row.UpdatedAt
		return nil
	})
}

func (r *Memberships) Find(ctx context.Context, f membership.Filter) ([]*membership.Membership, error) {
	return r.List(ctx, authz.Scope{All: true}, f)
}

func (r *Memberships) List(_ context.Context, scope authz.Scope, f membership.Filter) ([]*membership.Membership, error) {
	var out []*membership.Membership
	r.db.read(func(s *state) {
		for _, m := range s.memberships {
			if !matchMembership(m, f) {
				continue
			}
			ref := authz.ResourceRef{
				Kind:       policy.KindMembership,
				ID:         m.ID,
				PropertyID: m.PropertyID,
				UnitID:     m.Unit(),
				Attrs:      map[string]ident.ID{"user": m.UserID},
			}
			if scope.Matches(ref) {
				out = append(out, m.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.Limit, f.Offset), nil
}

func matchMembership(m *membership.Membership, f membership.Filter) bool {
	if !f.UserID.IsZero() && m.UserID != f.UserID {
		return false
	}
	if !f.PropertyID.IsZero() && m.PropertyID != f.PropertyID {
		return false
	}
	if !f.UnitID.IsZero() && m.UnitID != nil && *m.UnitID != f.UnitID {
		return false
	}
	if len(f.Roles) > 0 && !m.Roles.Intersects(f.Roles) {
		return false
	}
	return f.IncludeInactive || m.Active
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
