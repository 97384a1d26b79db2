// Package audit writes the append-only action log.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/authz"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/database"
	"github.com/ovaphlow/pitchfork/service-tenancy/pkg/utilities"
)

// Repository is the storage behind the emitter.
type Repository interface {
	Append(ctx context.Context, e *entity.Event) error
	List(ctx context.Context, f entity.Filter) ([]*entity.Event, error)
}

// Record describes one event before it is serialized. Old and New are
// marshaled to JSON snapshots.
type Record struct {
	Kind         entity.Kind
	Actor        ident.ID
	IP           string
	ResourceKind string
	ResourceID   string
	Old          any
	New          any
	Description  string
	Status       entity.Status
}

// Emitter persists action events. Write failures are logged and never
// returned to the caller.
type Emitter struct {
	repo   Repository
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewEmitter(repo Repository, logger *zap.SugaredLogger) *Emitter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Emitter{repo: repo, logger: logger, now: time.Now}
}

// Emit appends rec. Inside a transaction the insert runs under a
// savepoint so its failure leaves the surrounding work intact.
func (e *Emitter) Emit(ctx context.Context, rec Record) {
	ev := &entity.Event{
		ID:           utilities.NewSnowflakeID(),
		Kind:         rec.Kind,
		ActorID:      ident.Ptr(rec.Actor),
		ResourceKind: rec.ResourceKind,
		ResourceID:   rec.ResourceID,
		OldSnapshot:  e.snapshot(rec.Old),
		NewSnapshot:  e.snapshot(rec.New),
		IP:           rec.IP,
		Description:  rec.Description,
		Status:       rec.Status,
		CreatedAt:    e.now().UTC(),
	}
	if ev.Status == "" {
		ev.Status = entity.StatusSuccess
	}
	err := database.Savepoint(ctx, "audit_event", func(ctx context.Context) error {
		return e.repo.Append(ctx, ev)
	})
	if err != nil {
		e.logger.Warnw("audit write failed", "kind", ev.Kind, "resource_kind", ev.ResourceKind,
			"resource_id", ev.ResourceID, "err", err)
	}
}

// RecordDenial logs a security-relevant authorization denial.
func (e *Emitter) RecordDenial(ctx context.Context, d authz.Denial) {
	e.Emit(ctx, Record{
		Kind:         entity.KindAuthzDenied,
		Actor:        d.PrincipalID,
		IP:           d.IP,
		ResourceKind: string(d.Ref.Kind),
		ResourceID:   d.Ref.ID.String(),
		New: map[string]any{
			"action":     d.Action,
			"reason":     d.Reason,
			"propertyId": d.Ref.PropertyID,
			"unitId":     d.Ref.UnitID,
		},
		Description: string(d.Action) + " denied: " + string(d.Reason),
		Status:      entity.StatusDenied,
	})
}

// List returns events newest first.
func (e *Emitter) List(ctx context.Context, f entity.Filter) ([]*entity.Event, error) {
	return e.repo.List(ctx, f.Normalize())
}

func (e *Emitter) snapshot(v any) entity.Snapshot {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		e.logger.Warnw("audit snapshot not serializable", "err", err)
		return nil
	}
	if string(b) == "null" {
		return nil
	}
	return b
}
