package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupPostgresMock(t *testing.T) (*repo, *gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return &repo{}, conn, mock
}

func TestFindRecordByIDForUpdateLocksRowOnPostgres(t *testing.T) {
	r, conn, mock := setupPostgresMock(t)

	mock.ExpectQuery(`SELECT \* FROM "training_records" WHERE id = .* FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "certificate_number", "version"}).AddRow(int64(7), "DG-7", int64(3)))

	record, err := r.FindRecordByIDForUpdate(context.Background(), conn, snowflake.ID(7))
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, snowflake.ID(7), record.ID)
	assert.Equal(t, int64(3), record.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSupersededReportsLostCompareAndSwap(t *testing.T) {
	r, conn, mock := setupPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE training_records`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := r.MarkSuperseded(context.Background(), conn, snowflake.ID(7), 3, snowflake.ID(8), base)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
