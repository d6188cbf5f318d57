package db

import (
	"fmt"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testSeq atomic.Int64

// NewTest opens an isolated in-memory sqlite database and migrates the given
// models. A single connection keeps every statement on the same database.
func NewTest(models ...any) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:aerocert_test_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", testSeq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if len(models) > 0 {
		if err := conn.AutoMigrate(models...); err != nil {
			return nil, err
		}
	}
	return conn, nil
}
