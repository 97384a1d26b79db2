package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestRunInTxCommitsAndRunsHooks(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ran := false
	err := NewTxManager(db).RunInTx(context.Background(), func(ctx context.Context) error {
		require.NotNil(t, TxFrom(ctx))
		_, err := Conn(ctx, db).ExecContext(ctx, "UPDATE users SET version = version + 1")
		AfterCommit(ctx, func() { ran = true })
		assert.False(t, ran, "hook waits for commit")
		return err
	})
	require.NoError(t, err)
	assert.True(t, ran)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackAndDropsHooks(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	ran := false
	err := NewTxManager(db).RunInTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = true })
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.False(t, ran)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxJoinsOuterTransaction(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	tm := NewTxManager(db)
	err := tm.RunInTx(context.Background(), func(ctx context.Context) error {
		outer := TxFrom(ctx)
		return tm.RunInTx(ctx, func(inner context.Context) error {
			assert.Same(t, outer, TxFrom(inner))
			return nil
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = NewTxManager(db).RunInTx(context.Background(), func(ctx context.Context) error {
			panic("kaboom")
		})
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepointRollsBackOnlyInnerWrite(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT audit_event").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO action_events").WillReturnError(errors.New("disk full"))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT audit_event").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE invitations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewTxManager(db).RunInTx(context.Background(), func(ctx context.Context) error {
		spErr := Savepoint(ctx, "audit_event", func(ctx context.Context) error {
			_, err := Conn(ctx, db).ExecContext(ctx, "INSERT INTO action_events (id) VALUES ('1')")
			return err
		})
		assert.Error(t, spErr)
		_, err := Conn(ctx, db).ExecContext(ctx, "UPDATE invitations SET status='accepted'")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepointReleasesOnSuccess(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT notify").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT notify").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := NewTxManager(db).RunInTx(context.Background(), func(ctx context.Context) error {
		return Savepoint(ctx, "notify", func(context.Context) error { return nil })
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepointWithoutTxRunsDirectly(t *testing.T) {
	called := false
	err := Savepoint(context.Background(), "x", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestAfterCommitWithoutTxRunsNow(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	assert.True(t, ran)
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'Europe/Paris'", quoteLiteral("Europe/Paris"))
	assert.Equal(t, "'o''brien'", quoteLiteral("o'brien"))
}

func TestConfigIsMemory(t *testing.T) {
	assert.True(t, Config{DSN: "memory://"}.IsMemory())
	assert.False(t, Config{DSN: "postgres://x"}.IsMemory())
}
