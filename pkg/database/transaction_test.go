package database

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestDB(t *testing.T) (DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewDatabaseInstance(sqlx.NewDb(mockDB, "sqlmock"), noopLogger()), mock
}

func TestGetTxRollbackClosesTransaction(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx, tx, err := db.GetTx(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, tx.IsOpen())

	// The frame that opened the transaction rolls back with the context
	// GetTx handed it; the rollback must reach the driver.
	require.NoError(t, tx.Rollback(ctx))
	assert.False(t, tx.IsOpen())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTxCommitClosesTransaction(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	ctx, tx, err := db.GetTx(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.False(t, tx.IsOpen())

	// Close-once: a late rollback after commit is a no-op.
	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTxReusesOpenTransaction(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	ctx, tx, err := db.GetTx(context.Background(), nil)
	require.NoError(t, err)

	ctx2, tx2, err := db.GetTx(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, tx, tx2)
	assert.Equal(t, ctx, ctx2)

	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTxBeginsFreshAfterClose(t *testing.T) {
	db, mock := newTestDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	ctx, tx, err := db.GetTx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	// The carried transaction is closed, so the same context gets a new one.
	ctx2, tx2, err := db.GetTx(ctx, nil)
	require.NoError(t, err)
	assert.NotEqual(t, tx, tx2)

	require.NoError(t, tx2.Commit(ctx2))
	assert.NoError(t, mock.ExpectationsWereMet())
}
