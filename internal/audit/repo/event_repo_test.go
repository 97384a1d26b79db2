package repo

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
)

func newMock(t *testing.T) (*EventRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEventRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestAppend(t *testing.T) {
	r, mock := newMock(t)
	actor := ident.ID("u1")
	ev := &entity.Event{
		ID:           "42",
		Kind:         entity.KindInviteIssued,
		ActorID:      &actor,
		ResourceKind: "invitation",
		ResourceID:   "i1",
		NewSnapshot:  entity.Snapshot(`{"email":"t@x"}`),
		Status:       entity.StatusSuccess,
		CreatedAt:    time.Now(),
	}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO action_events")).
		WithArgs("42", entity.KindInviteIssued, &actor, "invitation", "i1", nil, []byte(`{"email":"t@x"}`),
			"", "", entity.StatusSuccess, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.Append(context.Background(), ev))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBuildsFilters(t *testing.T) {
	r, mock := newMock(t)
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "kind", "actor_id", "resource_kind", "resource_id", "old_snapshot", "new_snapshot",
		"ip", "description", "status", "created_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("2", "invite.cancelled", "u1", "invitation", "i1", nil, []byte(`{"status":"cancelled"}`), "", "", "success", since)

	mock.ExpectQuery(regexp.QuoteMeta("FROM action_events WHERE kind = $1 AND actor_id = $2 AND created_at >= $3 ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5")).
		WithArgs(entity.KindInviteCancelled, ident.ID("u1"), since, entity.DefaultLimit, 0).
		WillReturnRows(rows)

	events, err := r.List(context.Background(), entity.Filter{Kind: entity.KindInviteCancelled, ActorID: "u1", Since: &since})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ident.ID("u1"), *events[0].ActorID)
	assert.Nil(t, events[0].OldSnapshot)
	assert.JSONEq(t, `{"status":"cancelled"}`, string(events[0].NewSnapshot))
	require.NoError(t, mock.ExpectationsWereMet())
}
