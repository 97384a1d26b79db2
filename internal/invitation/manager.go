// Package invitation implements the invitation protocol: issue, verify,
// accept, decline, cancel and resend.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit"
	auditentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/invitation/entity"
	mailer "github.com/ovaphlow/pitchfork/service-tenancy/internal/mail"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/membership"
	mentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/membership/entity"
	notifentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/policy"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/principal"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/property"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/session"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
)

type Repository interface {
	Create(ctx context.Context, inv *entity.Invitation) error
	Get(ctx context.Context, id ident.ID, lock bool) (*entity.Invitation, error)
	GetByTokenHash(ctx context.Context, hash string, lock bool) (*entity.Invitation, error)
	FindPending(ctx context.Context, email string, propertyID, unitID ident.ID) ([]*entity.Invitation, error)
	Update(ctx context.Context, inv *entity.Invitation) error
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	List(ctx context.Context, scope authz.Scope, f entity.Filter) ([]*entity.Invitation, error)
}

type Users interface {
	GetByEmail(ctx context.Context, email string) (*userentity.User, error)
	GetByID(ctx context.Context, id ident.ID) (*userentity.User, error)
	Register(ctx context.Context, in user.RegisterInput) (*userentity.User, error)
	ConfirmEmail(ctx context.Context, u *userentity.User) error
	PromoteToAdmin(ctx context.Context, u *userentity.User) error
}

type Memberships interface {
	Upsert(ctx context.Context, in membership.UpsertInput) (*mentity.Membership, bool, error)
	FindForUser(ctx context.Context, userID ident.ID, f mentity.Filter) ([]*mentity.Membership, error)
}

type Targets interface {
	Resolve(ctx context.Context, propertyID ident.ID, unitID *ident.ID) (property.Target, error)
}

type Sessions interface {
	Issue(sub session.Subject) (session.Token, error)
}

type Auditor interface {
	Emit(ctx context.Context, rec audit.Record)
}

type Notifier interface {
	Notify(ctx context.Context, userID ident.ID, kind notifentity.Kind, title, body string, data notifentity.Data)
}

type Mailer interface {
	Enqueue(ctx context.Context, m mailer.Message) error
}

// Config holds the invitation lifetime and resend limits.
type Config struct {
	FrontendBaseURL string
	TTL             time.Duration
	ResendInterval  time.Duration
	ResendMax       int
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Repo        Repository
	Tx          database.TxManager
	Engine      *authz.Engine
	Users       Users
	Memberships Memberships
	Targets     Targets
	Sessions    Sessions
	Auditor     Auditor
	Notifier    Notifier
	Mailer      Mailer
	Logger      *zap.SugaredLogger
}

var (
	errExpired       = apperr.Expired("invite_expired", "invitation has expired")
	errProcessed     = apperr.Conflict("invite_already_processed", "invitation has already been processed")
	errAlreadyMember = apperr.Conflict("already_member", "user already holds the requested roles")
	errNoPrincipal   = apperr.Unauthenticated("missing_principal", "authentication required")
)

type Manager struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewManager(d Deps, cfg Config) *Manager {
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	cfg.FrontendBaseURL = strings.TrimRight(cfg.FrontendBaseURL, "/")
	return &Manager{Deps: d, cfg: cfg, now: time.Now}
}

// IssueInput is a request to invite Email into Roles on a property.
type IssueInput struct {
	Email      string
	Roles      []string
	PropertyID *ident.ID
	UnitID     *ident.ID
}

type issueRequest struct {
	email string
	roles mentity.RoleSet
	prop  *ident.ID
	unit  *ident.ID
}

func (in IssueInput) normalize() (issueRequest, error) {
	req := issueRequest{
		email: userentity.NormalizeEmail(in.Email),
		prop:  ident.Ptr(ident.Deref(in.PropertyID)),
		unit:  ident.Ptr(ident.Deref(in.UnitID)),
	}
	if _, err := mail.ParseAddress(req.email); err != nil || !strings.Contains(req.email, "@") {
		return req, apperr.Validation("invalid_email", "email is invalid")
	}
	roles, err := mentity.ParseRoleSet(in.Roles)
	if err != nil {
		return req, apperr.Validation("unknown_role", err.Error())
	}
	if roles.Empty() {
		return req, apperr.Validation("roles_required", "at least one role is required")
	}
	req.roles = roles
	adminOnly := len(roles) == 1 && roles.Contains(mentity.RoleAdminAccess)
	if req.prop == nil && !adminOnly {
		return req, apperr.Validation("property_required", "property is required")
	}
	tenant := roles.Contains(mentity.RoleTenant)
	if tenant && req.unit == nil {
		return req, apperr.Validation("tenant_requires_unit", "tenant invitations require a unit")
	}
	if !tenant && req.unit != nil {
		return req, apperr.Validation("unit_requires_tenant", "only tenant invitations target a unit")
	}
	return req, nil
}

// issueActions lists every action the issuer must hold for roles.
func issueActions(roles mentity.RoleSet, global bool) []policy.Action {
	var actions []policy.Action
	if !global {
		actions = append(actions, policy.ActionInviteIssue)
	}
	if roles.Contains(mentity.RolePropertyManager) {
		actions = append(actions, policy.ActionInviteIssueManager)
	}
	if roles.Contains(mentity.RoleLandlord) {
		actions = append(actions, policy.ActionInviteIssueLandlord)
	}
	if roles.Contains(mentity.RoleAdminAccess) {
		actions = append(actions, policy.ActionInviteIssueAdmin)
	}
	return actions
}

// Issue creates a pending invitation and queues its email after commit.
func (m *Manager) Issue(ctx context.Context, p *principal.Principal, in IssueInput) (*entity.Invitation, error) {
	if p == nil {
		return nil, errNoPrincipal
	}
	req, err := in.normalize()
	if err != nil {
		return nil, err
	}

	var (
		target   property.Target
		existing *userentity.User
		issuer   *userentity.User
	)
	g, gctx := errgroup.WithContext(ctx)
	if req.prop != nil {
		g.Go(func() error {
			var err error
			target, err = m.Targets.Resolve(gctx, *req.prop, req.unit)
			return err
		})
	}
	g.Go(func() error {
		u, err := m.Users.GetByEmail(gctx, req.email)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		existing = u
		return err
	})
	g.Go(func() error {
		u, err := m.Users.GetByID(gctx, p.ID)
		if err != nil {
			return fmt.Errorf("load issuer: %w", err)
		}
		issuer = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ref := authz.ResourceRef{
		Kind:       policy.KindInvitation,
		PropertyID: ident.Deref(req.prop),
		UnitID:     ident.Deref(req.unit),
		Inactive:   target.Inactive(),
	}
	for _, action := range issueActions(req.roles, req.prop == nil) {
		if err := m.Engine.Authorize(ctx, p, action, ref); err != nil {
			return nil, err
		}
	}
	if existing != nil {
		if err := m.checkNotMember(ctx, existing, req); err != nil {
			return nil, err
		}
	}

	now := m.now().UTC()
	var inv *entity.Invitation
	err = m.Tx.RunInTx(ctx, func(ctx context.Context) error {
		pending, err := m.Repo.FindPending(ctx, req.email, ident.Deref(req.prop), ident.Deref(req.unit))
		if err != nil {
			return err
		}
		for _, other := range pending {
			expired, err := m.expireIfOverdue(ctx, other, now)
			if err != nil {
				return err
			}
			if !expired && other.Roles.Intersects(req.roles) {
				return apperr.Conflict("duplicate_pending_invite", "a pending invitation already exists for this target").
					WithDetail("existing_id", other.ID)
			}
		}

		plain, hash, err := NewToken()
		if err != nil {
			return apperr.Internal(err)
		}
		inv = &entity.Invitation{
			ID:         ident.New(),
			Email:      req.email,
			Roles:      req.roles,
			PropertyID: req.prop,
			UnitID:     req.unit,
			TokenHash:  hash,
			Status:     entity.StatusPending,
			ExpiresAt:  now.Add(m.cfg.TTL),
			CreatedBy:  p.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := m.Repo.Create(ctx, inv); err != nil {
			return err
		}
		m.emit(ctx, p, auditentity.KindInviteIssued, inv, nil, "invitation issued to "+inv.Email)

		d := describe(target, issuer)
		if existing != nil {
			m.Notifier.Notify(ctx, existing.ID, notifentity.KindInvitationReceived, "New invitation",
				d.inviter+" invited you to "+d.place(), notifentity.Data{"invitationId": inv.ID.String()})
		}
		m.mailAfterCommit(ctx, func() (mailer.Message, error) {
			return m.invitationMessage(inv, plain, d)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.Logger.Infow("invitation issued", "invitation_id", inv.ID, "issuer", p.ID,
		"property_id", inv.Property(), "roles", inv.Roles.Key())
	return inv, nil
}

// checkNotMember rejects invitations the invitee would gain nothing from.
func (m *Manager) checkNotMember(ctx context.Context, u *userentity.User, req issueRequest) error {
	if req.prop == nil {
		if u.GlobalRole == userentity.RoleAdmin {
			return errAlreadyMember
		}
		return nil
	}
	rows, err := m.Memberships.FindForUser(ctx, u.ID, mentity.Filter{PropertyID: *req.prop})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Active && row.Unit() == ident.Deref(req.unit) && row.Roles.ContainsAll(req.roles) {
			return errAlreadyMember
		}
	}
	return nil
}

// List returns the invitations the principal may read. Overdue pending
// rows are flipped first so callers never see them as pending.
func (m *Manager) List(ctx context.Context, p *principal.Principal, f entity.Filter) ([]*entity.Invitation, error) {
	if p == nil {
		return nil, errNoPrincipal
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("invalid_status", "unknown invitation status")
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, apperr.Validation("invalid_paging", "limit and offset must be non-negative")
	}
	f.Email = userentity.NormalizeEmail(f.Email)
	scope := m.Engine.ScopeFor(p, policy.KindInvitation)
	if scope.Empty() {
		return []*entity.Invitation{}, nil
	}
	if _, err := m.ExpireOverdue(ctx); err != nil {
		return nil, err
	}
	return m.Repo.List(ctx, scope, f)
}

// ExpireOverdue flips every overdue pending invitation to expired.
func (m *Manager) ExpireOverdue(ctx context.Context) (int64, error) {
	n, err := m.Repo.ExpireOverdue(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.Logger.Infow("expired overdue invitations", "count", n)
	}
	return n, nil
}

// expireIfOverdue flips inv to expired when its deadline has passed.
func (m *Manager) expireIfOverdue(ctx context.Context, inv *entity.Invitation, now time.Time) (bool, error) {
	if !inv.Overdue(now) {
		return false, nil
	}
	old := inv.Clone()
	inv.Status = entity.StatusExpired
	inv.UpdatedAt = now
	if err := m.Repo.Update(ctx, inv); err != nil {
		return false, err
	}
	m.emit(ctx, nil, auditentity.KindInviteExpired, inv, old, "invitation expired")
	return true, nil
}

func (m *Manager) emit(ctx context.Context, p *principal.Principal, kind auditentity.Kind, inv *entity.Invitation, old *entity.Invitation, desc string) {
	rec := audit.Record{
		Kind:         kind,
		ResourceKind: string(policy.KindInvitation),
		ResourceID:   inv.ID.String(),
		New:          inv.Clone(),
		Description:  desc,
	}
	if old != nil {
		rec.Old = old
	}
	if p != nil {
		rec.Actor = p.ID
		rec.IP = p.IP
	}
	m.Auditor.Emit(ctx, rec)
}

// mailAfterCommit renders and queues a message once the surrounding
// transaction commits. Failures are logged only.
func (m *Manager) mailAfterCommit(ctx context.Context, build func() (mailer.Message, error)) {
	out := context.WithoutCancel(ctx)
	database.AfterCommit(ctx, func() { m.mail(out, build) })
}

func (m *Manager) mail(ctx context.Context, build func() (mailer.Message, error)) {
	msg, err := build()
	if err != nil {
		m.Logger.Warnw("render email failed", "err", err)
		return
	}
	if err := m.Mailer.Enqueue(ctx, msg); err != nil {
		m.Logger.Warnw("queue email failed", "tag", msg.Tag, "err", err)
	}
}

// Link is the acceptance URL carrying the plain token.
func (m *Manager) Link(token string) string {
	return m.cfg.FrontendBaseURL + "/accept-invite/" + token
}

func (m *Manager) invitationMessage(inv *entity.Invitation, token string, d details) (mailer.Message, error) {
	return mailer.InvitationMessage(mailer.InvitationEmail{
		To:           inv.Email,
		InviterName:  d.inviter,
		PropertyName: d.propertyName,
		Roles:        inv.Roles.Strings(),
		Link:         m.Link(token),
		ExpiresAt:    inv.ExpiresAt,
	})
}

// details are the display names shown in emails and views.
type details struct {
	inviter      string
	inviterEmail string
	propertyName string
	unitLabel    string
}

func describe(t property.Target, inviter *userentity.User) details {
	var d details
	if t.Property != nil {
		d.propertyName = t.Property.Name
	}
	if t.Unit != nil {
		d.unitLabel = t.Unit.Label
	}
	if inviter != nil {
		d.inviter = inviter.DisplayName()
		d.inviterEmail = inviter.Email
	}
	return d
}

func (d details) place() string {
	switch {
	case d.propertyName != "" && d.unitLabel != "":
		return d.propertyName + " (" + d.unitLabel + ")"
	case d.propertyName != "":
		return d.propertyName
	default:
		return "the platform"
	}
}

// lookupDetails loads display names for an existing invitation. Missing
// rows degrade to empty names. The lookups run concurrently, so ctx must
// not carry a transaction.
func (m *Manager) lookupDetails(ctx context.Context, inv *entity.Invitation) details {
	var (
		target  property.Target
		inviter *userentity.User
	)
	g, gctx := errgroup.WithContext(ctx)
	if inv.PropertyID != nil {
		g.Go(func() error {
			t, err := m.Targets.Resolve(gctx, *inv.PropertyID, inv.UnitID)
			if err != nil {
				m.Logger.Debugw("resolve invitation target failed", "invitation_id", inv.ID, "err", err)
				return nil
			}
			target = t
			return nil
		})
	}
	g.Go(func() error {
		u, err := m.Users.GetByID(gctx, inv.CreatedBy)
		if err != nil {
			m.Logger.Debugw("load inviter failed", "invitation_id", inv.ID, "err", err)
			return nil
		}
		inviter = u
		return nil
	})
	_ = g.Wait()
	return describe(target, inviter)
}
