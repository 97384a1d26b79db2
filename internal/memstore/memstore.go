// Package memstore keeps every table in process memory. It backs tests
// and DATABASE_URL=memory:// runs. Transactions are serialized and roll
// back by restoring a snapshot; reads outside a transaction may observe
// uncommitted writes.
package memstore

import (
	"context"
	"sync"
	"time"

	auditentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	inventity "github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation/entity"
	membership "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	notifentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/notification/entity"
	property "github.com/ovaphlow/pitchfork/service-tenancy/internal/property/entity"
	user "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

type state struct {
	users         map[ident.ID]*user.User
	properties    map[ident.ID]*property.Property
	units         map[ident.ID]*property.Unit
	memberships   map[ident.ID]*membership.Membership
	invitations   map[ident.ID]*inventity.Invitation
	events        []*auditentity.Event
	notifications []*notifentity.Notification
}

func newState() *state {
	return &state{
		users:       make(map[ident.ID]*user.User),
		properties:  make(map[ident.ID]*property.Property),
		units:       make(map[ident.ID]*property.Unit),
		memberships: make(map[ident.ID]*membership.Membership),
		invitations: make(map[ident.ID]*inventity.Invitation),
	}
}

func (s *state) clone() *state {
	cp := newState()
	for k, v := range s.users {
		u := *v
		cp.users[k] = &u
	}
	for k, v := range s.properties {
		p := *v
		cp.properties[k] = &p
	}
	for k, v := range s.units {
		u := *v
		cp.units[k] = &u
	}
	for k, v := range s.memberships {
		cp.memberships[k] = v.Clone()
	}
	for k, v := range s.invitations {
		cp.invitations[k] = v.Clone()
	}
	cp.events = append(cp.events, s.events...)
	cp.notifications = append(cp.notifications, s.notifications...)
	return cp
}

// DB is the in-memory database.
type DB struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	// Now stamps created and updated times.
	Now func() time.Time
}

func New() *DB {
	return &DB{st: newState(), Now: time.Now}
}

type txKey struct{}

// RunInTx runs fn as one serialized transaction. An error or panic
// restores the state seen at the start. Nested calls join.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	hooks, err := d.runLocked(ctx, fn)
	if err != nil {
		return err
	}
	hooks.Run()
	return nil
}

func (d *DB) runLocked(ctx context.Context, fn func(ctx context.Context) error) (hooks *database.Hooks, err error) {
	d.txMu.Lock()
	defer d.txMu.Unlock()

	d.mu.RLock()
	saved := d.st.clone()
	d.mu.RUnlock()
	restore := func() {
		d.mu.Lock()
		d.st = saved
		d.mu.Unlock()
	}

	ctx = context.WithValue(ctx, txKey{}, true)
	ctx, hooks = database.WithHooks(ctx)
	defer func() {
		if p := recover(); p != nil {
			restore()
			panic(p)
		}
	}()
	if err := fn(ctx); err != nil {
		restore()
		return nil, err
	}
	return hooks, nil
}

func (d *DB) now() time.Time { return d.Now().UTC() }

func (d *DB) read(fn func(s *state)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.st)
}

func (d *DB) write(fn func(s *state) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.st)
}

// Users returns the user table.
func (d *DB) Users() *Users { return &Users{db: d} }

func (d *DB) Properties() *Properties { return &Properties{db: d} }

func (d *DB) Memberships() *Memberships { return &Memberships{db: d} }

func (d *DB) Invitations() *Invitations { return &Invitations{db: d} }

func (d *DB) Events() *Events { return &Events{db: d} }

func (d *DB) Notifications() *Notifications { return &Notifications{db: d} }
