// Package principal hydrates the authenticated subject of a request.
package principal

import (
	"context"
	"sync"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

// Principal is the authenticated subject plus its cached capabilities
// for one request. It is discarded when the request ends.
type Principal struct {
	ID            ident.ID
	Email         string
	GlobalRole    user.GlobalRole
	Status        user.Status
	EmailVerified bool
	IP            string
	RequestID     string

	mu          sync.Mutex
	memberships []*membership.Membership
	memo        map[string]any
}

// New builds a principal for u holding the given active memberships.
func New(u *user.User, memberships []*membership.Membership) *Principal {
	p := &Principal{
		ID:            u.ID,
		Email:         u.Email,
		GlobalRole:    u.GlobalRole,
		Status:        u.Status,
		EmailVerified: u.EmailVerified,
	}
	p.SetMemberships(memberships)
	return p
}

// IsAdmin reports whether the principal holds the global admin role.
func (p *Principal) IsAdmin() bool { return p.GlobalRole == user.RoleAdmin }

// IsActive reports whether the account may act at all.
func (p *Principal) IsActive() bool { return p.Status == user.StatusActive }

// Memberships returns the active memberships snapshot.
func (p *Principal) Memberships() []*membership.Membership {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.memberships
}

// SetMemberships replaces the snapshot, keeping active rows only, and
// drops memoized decisions derived from the previous snapshot.
func (p *Principal) SetMemberships(ms []*membership.Membership) {
	active := make([]*membership.Membership, 0, len(ms))
	for _, m := range ms {
		if m.Active {
			active = append(active, m)
		}
	}
	p.mu.Lock()
	p.memberships = active
	p.memo = nil
	p.mu.Unlock()
}

// MembershipsAt returns the active memberships on a property.
func (p *Principal) MembershipsAt(propertyID ident.ID) []*membership.Membership {
	var out []*membership.Membership
	for _, m := range p.Memberships() {
		if m.PropertyID.Equal(propertyID) {
			out = append(out, m)
		}
	}
	return out
}

// Recall returns a memoized value.
func (p *Principal) Recall(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.memo[key]
	return v, ok
}

// Remember memoizes a value for the rest of the request.
func (p *Principal) Remember(key string, v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.memo == nil {
		p.memo = make(map[string]any)
	}
	p.memo[key] = v
}

type principalKey struct{}

type requestIDKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal attached to ctx, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id attached to ctx.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
