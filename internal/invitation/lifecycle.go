package invitation

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

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
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/session"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-tenancy/internal/user/entity"
)

const maxDeclineReason = 500

// claim loads the pending invitation behind token and locks it. A
// terminal row fails; an overdue one is flipped to expired and reported
// through the bool so the caller can commit the flip before failing.
func (m *Manager) claim(ctx context.Context, token string, now time.Time) (*entity.Invitation, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false, apperr.NotFound("invite_not_found", "invitation not found")
	}
	inv, err := m.Repo.GetByTokenHash(ctx, HashToken(token), true)
	if err != nil {
		return nil, false, err
	}
	return m.checkPending(ctx, inv, now)
}

func (m *Manager) checkPending(ctx context.Context, inv *entity.Invitation, now time.Time) (*entity.Invitation, bool, error) {
	switch inv.Status {
	case entity.StatusPending:
	case entity.StatusExpired:
		return nil, false, errExpired
	default:
		return nil, false, errProcessed
	}
	expired, err := m.expireIfOverdue(ctx, inv, now)
	if err != nil {
		return nil, false, err
	}
	return inv, expired, nil
}

// Verify checks token and returns the redacted view shown before
// acceptance. Every call counts as an attempt.
func (m *Manager) Verify(ctx context.Context, token string) (*entity.View, error) {
	now := m.now().UTC()
	var (
		inv     *entity.Invitation
		expired bool
	)
	err := m.Tx.RunInTx(ctx, func(ctx context.Context) error {
		found, flipped, err := m.claim(ctx, token, now)
		if err != nil {
			return err
		}
		if flipped {
			expired = true
			return nil
		}
		found.AttemptCount++
		found.LastAttemptAt = &now
		found.UpdatedAt = now
		if err := m.Repo.Update(ctx, found); err != nil {
			return err
		}
		inv = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, errExpired
	}

	d := m.lookupDetails(ctx, inv)
	view := &entity.View{
		ID:           inv.ID,
		Email:        inv.Email,
		Roles:        inv.Roles,
		Property:     inv.Property(),
		PropertyName: d.propertyName,
		Unit:         inv.Unit(),
		UnitLabel:    d.unitLabel,
		ExpiresAt:    inv.ExpiresAt,
		InviterName:  d.inviter,
	}
	if len(inv.Roles) > 0 {
		view.Role = inv.Roles[0]
	}
	if _, err := m.Users.GetByEmail(ctx, inv.Email); err == nil {
		view.UserExists = true
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return view, nil
}

// AcceptInput carries the registration fields used when the invitee has
// no account yet. They are ignored for existing accounts.
type AcceptInput struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Password  string  `json:"password"`
	Phone     *string `json:"phone,omitempty"`
}

// AcceptResult is what the invitee receives after accepting.
type AcceptResult struct {
	Token       string                `json:"token"`
	ExpiresAt   time.Time             `json:"expiresAt"`
	User        *userentity.User      `json:"user"`
	Memberships []*mentity.Membership `json:"memberships"`
}

// Accept materializes the invitation in one transaction: the account,
// its memberships and the status flip commit together or not at all.
func (m *Manager) Accept(ctx context.Context, token string, in AcceptInput, ip string) (*AcceptResult, error) {
	now := m.now().UTC()
	var (
		res     *AcceptResult
		expired bool
	)
	err := m.Tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, flipped, err := m.claim(ctx, token, now)
		if err != nil {
			return err
		}
		if flipped {
			expired = true
			return nil
		}
		old := inv.Clone()

		u, err := m.invitee(ctx, inv, in, ip)
		if err != nil {
			return err
		}
		actor := &principal.Principal{ID: u.ID, IP: ip}

		var granted []*mentity.Membership
		if inv.PropertyID == nil {
			if err := m.Users.PromoteToAdmin(ctx, u); err != nil {
				return err
			}
			m.Auditor.Emit(ctx, audit.Record{
				Kind: auditentity.KindUserPromoted, Actor: u.ID, IP: ip,
				ResourceKind: "user", ResourceID: u.ID.String(), New: u,
				Description: "promoted to admin by invitation " + inv.ID.String(),
			})
		} else {
			granted, err = m.grant(ctx, inv, u, actor)
			if err != nil {
				return err
			}
		}

		inv.Status = entity.StatusAccepted
		inv.AcceptedBy = ident.Ptr(u.ID)
		inv.AcceptedAt = &now
		inv.UpdatedAt = now
		if err := m.Repo.Update(ctx, inv); err != nil {
			return err
		}
		m.emit(ctx, actor, auditentity.KindInviteAccepted, inv, old, "invitation accepted by "+u.Email)
		m.Notifier.Notify(ctx, inv.CreatedBy, notifentity.KindInvitationAccepted, "Invitation accepted",
			u.DisplayName()+" accepted your invitation", notifentity.Data{"invitationId": inv.ID.String(), "userId": u.ID.String()})

		tok, err := m.Sessions.Issue(session.Subject{UserID: u.ID, Role: string(u.GlobalRole), Version: u.Version})
		if err != nil {
			return apperr.Internal(err)
		}
		res = &AcceptResult{Token: tok.Value, ExpiresAt: tok.ExpiresAt, User: u, Memberships: granted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, errExpired
	}
	if res.Memberships == nil {
		res.Memberships = []*mentity.Membership{}
	}
	m.Logger.Infow("invitation accepted", "user_id", res.User.ID, "memberships", len(res.Memberships))
	return res, nil
}

// invitee returns the account for the invitation email, registering it
// when absent. Holding the emailed token proves ownership of the address.
func (m *Manager) invitee(ctx context.Context, inv *entity.Invitation, in AcceptInput, ip string) (*userentity.User, error) {
	u, err := m.Users.GetByEmail(ctx, inv.Email)
	switch {
	case err == nil:
		if err := m.Users.ConfirmEmail(ctx, u); err != nil {
			return nil, err
		}
		return u, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	u, err = m.Users.Register(ctx, user.RegisterInput{
		Email:     inv.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password:  in.Password,
		Phone:     in.Phone,
		Verified:  true,
	})
	if err != nil {
		return nil, err
	}
	m.Auditor.Emit(ctx, audit.Record{
		Kind: auditentity.KindUserRegistered, Actor: u.ID, IP: ip,
		ResourceKind: "user", ResourceID: u.ID.String(), New: u,
		Description: "registered through invitation " + inv.ID.String(),
	})
	return u, nil
}

// grant upserts one membership per invited role. Repeated roles on the
// same triple merge into a single row, so the last copy of each row wins.
func (m *Manager) grant(ctx context.Context, inv *entity.Invitation, u *userentity.User, actor *principal.Principal) ([]*mentity.Membership, error) {
	var (
		rows  []*mentity.Membership
		index = map[ident.ID]int{}
	)
	for _, role := range inv.Roles {
		row, _, err := m.Memberships.Upsert(ctx, membership.UpsertInput{
			UserID:     u.ID,
			PropertyID: inv.Property(),
			UnitID:     inv.UnitID,
			Roles:      mentity.NewRoleSet(role),
			GrantedBy:  inv.CreatedBy,
		})
		if err != nil {
			return nil, err
		}
		m.Auditor.Emit(ctx, audit.Record{
			Kind: auditentity.KindMembershipGranted, Actor: actor.ID, IP: actor.IP,
			ResourceKind: string(policy.KindMembership), ResourceID: row.ID.String(), New: row,
			Description: "role " + string(role) + " granted by invitation " + inv.ID.String(),
		})
		if i, ok := index[row.ID]; ok {
			rows[i] = row
			continue
		}
		index[row.ID] = len(rows)
		rows = append(rows, row)
	}
	return rows, nil
}

// truncateRunes cuts s to at most limit bytes without splitting a rune.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for n < len(s) {
		_, size := utf8.DecodeRuneInString(s[n:])
		if n+size > limit {
			break
		}
		n += size
	}
	return s[:n]
}

// Decline closes the invitation on behalf of the unauthenticated token
// holder and tells the issuer.
func (m *Manager) Decline(ctx context.Context, token, reason, ip string) (*entity.Invitation, error) {
	now := m.now().UTC()
	reason = truncateRunes(strings.TrimSpace(reason), maxDeclineReason)
	var (
		inv     *entity.Invitation
		expired bool
	)
	err := m.Tx.RunInTx(ctx, func(ctx context.Context) error {
		found, flipped, err := m.claim(ctx, token, now)
		if err != nil {
			return err
		}
		if flipped {
			expired = true
			return nil
		}
		old := found.Clone()
		found.Status = entity.StatusDeclined
		found.DeclinedAt = &now
		found.UpdatedAt = now
		if reason != "" {
			found.DeclineReason = &reason
		}
		if err := m.Repo.Update(ctx, found); err != nil {
			return err
		}
		m.emit(ctx, &principal.Principal{IP: ip}, auditentity.KindInviteDeclined, found, old, "invitation declined by "+found.Email)
		m.Notifier.Notify(ctx, found.CreatedBy, notifentity.KindInvitationDeclined, "Invitation declined",
			found.Email+" declined your invitation", notifentity.Data{"invitationId": found.ID.String()})
		inv = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, errExpired
	}
	if d := m.lookupDetails(ctx, inv); d.inviterEmail != "" {
		m.mail(context.WithoutCancel(ctx), func() (mailer.Message, error) {
			return mailer.DeclinedMessage(mailer.DeclinedEmail{
				To:           d.inviterEmail,
				InviteeEmail: inv.Email,
				PropertyName: d.propertyName,
				Reason:       reason,
			})
		})
	}
	return inv, nil
}

// authorizeOn loads invitation id and checks action against it outside
// any transaction, so a recorded denial survives.
func (m *Manager) authorizeOn(ctx context.Context, p *principal.Principal, id ident.ID, action policy.Action) error {
	if p == nil {
		return errNoPrincipal
	}
	inv, err := m.Repo.Get(ctx, id, false)
	if err != nil {
		return err
	}
	return m.Engine.Authorize(ctx, p, action, authz.ResourceRef{
		Kind:       policy.KindInvitation,
		ID:         inv.ID,
		PropertyID: inv.Property(),
		UnitID:     inv.Unit(),
		Attrs:      inv.Attrs(),
	})
}

// Cancel withdraws a pending invitation. Only its issuer or an admin may.
func (m *Manager) Cancel(ctx context.Context, p *principal.Principal, id ident.ID) (*entity.Invitation, error) {
	if err := m.authorizeOn(ctx, p, id, policy.ActionInviteCancel); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	var (
		inv     *entity.Invitation
		expired bool
	)
	err := m.Tx.RunInTx(ctx, func(ctx context.Context) error {
		row, err := m.Repo.Get(ctx, id, true)
		if err != nil {
			return err
		}
		found, flipped, err := m.checkPending(ctx, row, now)
		if err != nil {
			return err
		}
		if flipped {
			expired = true
			return nil
		}
		old := found.Clone()
		found.Status = entity.StatusCancelled
		found.RevokedBy = ident.Ptr(p.ID)
		found.RevokedAt = &now
		found.UpdatedAt = now
		if err := m.Repo.Update(ctx, found); err != nil {
			return err
		}
		m.emit(ctx, p, auditentity.KindInviteCancelled, found, old, "invitation cancelled")
		inv = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, errExpired
	}
	return inv, nil
}

// Resend rotates the token of a pending invitation and mails the new
// link. The previous token stops working.
func (m *Manager) Resend(ctx context.Context, p *principal.Principal, id ident.ID) (*entity.Invitation, error) {
	if err := m.authorizeOn(ctx, p, id, policy.ActionInviteResend); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	var (
		inv     *entity.Invitation
		token   string
		expired bool
	)
	err := m.Tx.RunInTx(ctx, func(ctx context.Context) error {
		row, err := m.Repo.Get(ctx, id, true)
		if err != nil {
			return err
		}
		found, flipped, err := m.checkPending(ctx, row, now)
		if err != nil {
			return err
		}
		if flipped {
			expired = true
			return nil
		}
		if err := m.checkResendAllowed(found, now); err != nil {
			return err
		}
		plain, hash, err := NewToken()
		if err != nil {
			return apperr.Internal(err)
		}
		old := found.Clone()
		found.TokenHash = hash
		if next := now.Add(m.cfg.TTL); next.After(found.ExpiresAt) {
			found.ExpiresAt = next
		}
		found.ResendCount++
		found.LastResendAt = &now
		found.UpdatedAt = now
		if err := m.Repo.Update(ctx, found); err != nil {
			return err
		}
		m.emit(ctx, p, auditentity.KindInviteResent, found, old, "invitation resent")
		inv, token = found, plain
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, errExpired
	}
	d := m.lookupDetails(ctx, inv)
	m.mail(context.WithoutCancel(ctx), func() (mailer.Message, error) {
		return m.invitationMessage(inv, token, d)
	})
	return inv, nil
}

func (m *Manager) checkResendAllowed(inv *entity.Invitation, now time.Time) error {
	if m.cfg.ResendMax > 0 && inv.ResendCount >= m.cfg.ResendMax {
		return apperr.RateLimited("resend_limit", "invitation has been resent too many times")
	}
	if inv.LastResendAt != nil && now.Sub(*inv.LastResendAt) < m.cfg.ResendInterval {
		return apperr.RateLimited("resend_too_soon", "invitation was resent recently")
	}
	return nil
}
