package property

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-tenancy/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/ident"
	"github.com/ovaphlow/pitchfork/service-tenancy/internal/property/repo"
)

var (
	propertyCols = []string{"id", "name", "address", "active", "created_at", "updated_at"}
	unitCols     = []string{"id", "property_id", "label", "active", "created_at", "updated_at"}

	selectProperty = regexp.QuoteMeta("FROM properties WHERE id=$1")
	selectUnit     = regexp.QuoteMeta("FROM units WHERE id=$1")
)

func newService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewService(repo.NewPropertyRepo(sqlx.NewDb(db, "postgres"))), mock
}

func unitPtr(id ident.ID) *ident.ID { return &id }

func TestResolveUnitOfProperty(t *testing.T) {
	s, mock := newService(t)
	now := time.Now()
	mock.ExpectQuery(selectProperty).WithArgs("P1").
		WillReturnRows(sqlmock.NewRows(propertyCols).AddRow("P1", "Maple Court", "1 Main St", true, now, now))
	mock.ExpectQuery(selectUnit).WithArgs("U1").
		WillReturnRows(sqlmock.NewRows(unitCols).AddRow("U1", "P1", "1A", false, now, now))

	target, err := s.Resolve(context.Background(), "P1", unitPtr("U1"))
	require.NoError(t, err)
	assert.Equal(t, "Maple Court", target.Property.Name)
	assert.Equal(t, "1A", target.Unit.Label)
	assert.True(t, target.Inactive())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveRejectsForeignUnit(t *testing.T) {
	s, mock := newService(t)
	now := time.Now()
	mock.ExpectQuery(selectProperty).WithArgs("P1").
		WillReturnRows(sqlmock.NewRows(propertyCols).AddRow("P1", "Maple Court", "", true, now, now))
	mock.ExpectQuery(selectUnit).WithArgs("X9").
		WillReturnRows(sqlmock.NewRows(unitCols).AddRow("X9", "P2", "9", true, now, now))

	_, err := s.Resolve(context.Background(), "P1", unitPtr("X9"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, "unit_property_mismatch", apperr.As(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveMissing(t *testing.T) {
	s, mock := newService(t)
	mock.ExpectQuery(selectProperty).WithArgs("nope").WillReturnRows(sqlmock.NewRows(propertyCols))

	_, err := s.Resolve(context.Background(), "nope", nil)
	assert.Equal(t, "property_not_found", apperr.As(err).Code)

	mock.ExpectQuery(selectUnit).WithArgs("nope").WillReturnRows(sqlmock.NewRows(unitCols))
	_, err = s.PropertyOfUnit(context.Background(), "nope")
	assert.Equal(t, "unit_not_found", apperr.As(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTargetInactive(t *testing.T) {
	now := time.Now()
	s, mock := newService(t)
	mock.ExpectQuery(selectProperty).WithArgs("P1").
		WillReturnRows(sqlmock.NewRows(propertyCols).AddRow("P1", "Maple Court", "", false, now, now))

	target, err := s.Resolve(context.Background(), "P1", nil)
	require.NoError(t, err)
	assert.Nil(t, target.Unit)
	assert.True(t, target.Inactive())
	assert.False(t, Target{}.Inactive())
	require.NoError(t, mock.ExpectationsWereMet())
}
