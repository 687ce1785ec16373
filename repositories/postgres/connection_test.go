package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDB_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()

		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		db := NewFromSQL(sqlDB, zap.NewNop())
		assert.NoError(t, db.HealthCheck(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query fails", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()

		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection refused"))

		db := NewFromSQL(sqlDB, zap.NewNop())
		err = db.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database query check failed")
	})

	t.Run("ping fails", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer sqlDB.Close()

		mock.ExpectPing().WillReturnError(errors.New("no route to host"))

		db := NewFromSQL(sqlDB, zap.NewNop())
		err = db.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database health check failed")
	})
}

func TestDB_InitSchema(t *testing.T) {
	t.Run("creates decision table", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()

		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS route_decisions")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		db := NewFromSQL(sqlDB, zap.NewNop())
		require.NoError(t, db.InitSchema(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec error", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer sqlDB.Close()

		mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

		db := NewFromSQL(sqlDB, zap.NewNop())
		err = db.InitSchema(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to initialize schema")
	})
}
