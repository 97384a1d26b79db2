package memstore

import (
	"context"
	"sort"

	auditentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	notifentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/notification/entity"
)

// Events implements the action-event repository.
type Events struct{ db *DB }

func (r *Events) Append(_ context.Context, e *auditentity.Event) error {
	cp := *e
	return r.db.write(func(s *state) error {
		s.events = append(s.events, &cp)
		return nil
	})
}

func (r *Events) List(_ context.Context, f auditentity.Filter) ([]*auditentity.Event, error) {
	f = f.Normalize()
	var out []*auditentity.Event
	r.db.read(func(s *state) {
		for i := len(s.events) - 1; i >= 0; i-- {
			e := s.events[i]
			switch {
			case f.Kind != "" && e.Kind != f.Kind:
			case !f.ActorID.IsZero() && !ident.EqualPtr(e.ActorID, &f.ActorID):
			case f.ResourceKind != "" && e.ResourceKind != f.ResourceKind:
			case f.ResourceID != "" && e.ResourceID != f.ResourceID:
			case f.Since != nil && e.CreatedAt.Before(*f.Since):
			default:
				cp := *e
				out = append(out, &cp)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

// Kinds returns the kinds of all events in write order.
func (r *Events) Kinds() []auditentity.Kind {
	var out []auditentity.Kind
	r.db.read(func(s *state) {
		for _, e := range s.events {
			out = append(out, e.Kind)
		}
	})
	return out
}

// Notifications implements the notification repository.
type Notifications struct{ db *DB }

func (r *Notifications) Create(_ context.Context, n *notifentity.Notification) error {
	cp := *n
	return r.db.write(func(s *state) error {
		s.notifications = append(s.notifications, &cp)
		return nil
	})
}

func (r *Notifications) ListForUser(_ context.Context, userID ident.ID, limit int) ([]*notifentity.Notification, error) {
	var out []*notifentity.Notification
	r.db.read(func(s *state) {
		for i := len(s.notifications) - 1; i >= 0; i-- {
			if n := s.notifications[i]; n.UserID == userID {
				cp := *n
				out = append(out, &cp)
			}
		}
	})
	return page(out, limit, 0), nil
}
