package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/policy"
)

func errInvitationNotFound() error {
	return apperr.NotFound("invite_not_found", "invitation not found")
}

// Invitations implements the invitation repository, including the
// pending-target and token-hash uniqueness of the Postgres indexes.
type Invitations struct{ db *DB }

// checkUnique must run under the write lock.
func checkUnique(s *state, inv *entity.Invitation) error {
	for id, other := range s.invitations {
		if id == inv.ID {
			continue
		}
		if other.TokenHash == inv.TokenHash {
			return apperr.Conflict("duplicate_token", "token already in use")
		}
		if inv.IsPending() && other.IsPending() && other.SameTarget(inv) && other.RolesKey == inv.RolesKey {
			return apperr.Conflict("duplicate_pending_invite", "a pending invitation already exists for this target")
		}
	}
	return nil
}

func (r *Invitations) Create(_ context.Context, inv *entity.Invitation) error {
	inv.RolesKey = inv.Roles.Key()
	return r.db.write(func(s *state) error {
		if err := checkUnique(s, inv); err != nil {
			return err
		}
		if _, exists := s.invitations[inv.ID]; exists {
			return apperr.Conflict("duplicate_id", "invitation id already exists")
		}
		s.invitations[inv.ID] = inv.Clone()
		return nil
	})
}

// Get ignores lock; transactions are already serialized.
func (r *Invitations) Get(_ context.Context, id ident.ID, _ bool) (*entity.Invitation, error) {
	var out *entity.Invitation
	r.db.read(func(s *state) {
		if inv, ok := s.invitations[id]; ok {
			out = inv.Clone()
		}
	})
	if out == nil {
		return nil, errInvitationNotFound()
	}
	return out, nil
}

func (r *Invitations) GetByTokenHash(_ context.Context, hash string, _ bool) (*entity.Invitation, error) {
	var out *entity.Invitation
	r.db.read(func(s *state) {
		for _, inv := range s.invitations {
			if inv.TokenHash == hash {
				out = inv.Clone()
				return
			}
		}
	})
	if out == nil {
		return nil, errInvitationNotFound()
	}
	return out, nil
}

func (r *Invitations) FindPending(_ context.Context, email string, propertyID, unitID ident.ID) ([]*entity.Invitation, error) {
	var out []*entity.Invitation
	r.db.read(func(s *state) {
		for _, inv := range s.invitations {
			if inv.IsPending() && inv.Email == email && inv.Property() == propertyID && inv.Unit() == unitID {
				out = append(out, inv.Clone())
			}
		}
	})
	sortInvitations(out, false)
	return out, nil
}

func (r *Invitations) Update(_ context.Context, inv *entity.Invitation) error {
	return r.db.write(func(s *state) error {
		row, ok := s.invitations[inv.ID]
		if !ok {
			return errInvitationNotFound()
		}
		next := row.Clone()
		next.TokenHash = inv.TokenHash
		next.Status = inv.Status
		next.ExpiresAt = inv.ExpiresAt
		next.AcceptedBy, next.AcceptedAt = inv.AcceptedBy, inv.AcceptedAt
		next.RevokedBy, next.RevokedAt = inv.RevokedBy, inv.RevokedAt
		next.DeclineReason, next.DeclinedAt = inv.DeclineReason, inv.DeclinedAt
		next.AttemptCount, next.LastAttemptAt = inv.AttemptCount, inv.LastAttemptAt
		next.ResendCount, next.LastResendAt = inv.ResendCount, inv.LastResendAt
		next.UpdatedAt = inv.UpdatedAt
		if err := checkUnique(s, next); err != nil {
			return err
		}
		s.invitations[inv.ID] = next
		return nil
	})
}

func (r *Invitations) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.write(func(s *state) error {
		for _, inv := range s.invitations {
			if inv.IsPending() && inv.ExpiresAt.Before(now) {
				inv.Status = entity.StatusExpired
				inv.UpdatedAt = now
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *Invitations) List(_ context.Context, scope authz.Scope, f entity.Filter) ([]*entity.Invitation, error) {
	var out []*entity.Invitation
	r.db.read(func(s *state) {
		for _, inv := range s.invitations {
			if f.Status != "" && inv.Status != f.Status {
				continue
			}
			if !f.PropertyID.IsZero() && inv.Property() != f.PropertyID {
				continue
			}
			if f.Email != "" && inv.Email != f.Email {
				continue
			}
			ref := authz.ResourceRef{
				Kind:       policy.KindInvitation,
				ID:         inv.ID,
				PropertyID: inv.Property(),
				UnitID:     inv.Unit(),
				Attrs:      inv.Attrs(),
			}
			if scope.Matches(ref) {
				out = append(out, inv.Clone())
			}
		}
	})
	sortInvitations(out, true)
	return page(out, f.Limit, f.Offset), nil
}

// All returns every stored invitation, oldest first.
func (r *Invitations) All() []*entity.Invitation {
	var out []*entity.Invitation
	r.db.read(func(s *state) {
		for _, inv := range s.invitations {
			out = append(out, inv.Clone())
		}
	})
	sortInvitations(out, false)
	return out
}

func sortInvitations(items []*entity.Invitation, newestFirst bool) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if newestFirst {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
