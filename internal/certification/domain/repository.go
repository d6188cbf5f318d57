package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// RecordFilter narrows training record reads. Zero values mean "no filter".
type RecordFilter struct {
	EmployeeIDs       []snowflake.ID
	TrainingTypeIDs   []snowflake.ID
	Department        string
	CreatedFrom       *time.Time
	CreatedTo         *time.Time
	ValidUntilFrom    *time.Time
	ValidUntilTo      *time.Time
	IncludeSuperseded bool
	OnlySuperseded    bool
	AfterID           snowflake.ID
	Limit             int
}

type EmployeeFilter struct {
	Department string
	OnlyActive bool
}

type TrainingTypeFilter struct {
	OnlyActive    bool
	OnlyMandatory bool
}

type Repository interface {
	InsertRecord(ctx context.Context, db *gorm.DB, record *TrainingRecord) error
	FindRecordByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TrainingRecord, error)
	FindRecordByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TrainingRecord, error)
	FindRecordsByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]TrainingRecord, error)
	CertificateNumberExists(ctx context.Context, db *gorm.DB, number string) (bool, error)
	MarkSuperseded(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, successorID snowflake.ID, at time.Time) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedVersion int64, status CertificateStatus, at time.Time) (bool, error)
	CountSuccessors(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	DeleteRecord(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	ListRecords(ctx context.Context, db *gorm.DB, filter RecordFilter) ([]TrainingRecord, error)
	StreamRecords(ctx context.Context, db *gorm.DB, filter RecordFilter, batchSize int, fn func([]TrainingRecord) error) error

	FindEmployeeByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Employee, error)
	ListEmployees(ctx context.Context, db *gorm.DB, filter EmployeeFilter) ([]Employee, error)
	FindTrainingTypeByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TrainingType, error)
	ListTrainingTypes(ctx context.Context, db *gorm.DB, filter TrainingTypeFilter) ([]TrainingType, error)
	ListBackgroundChecks(ctx context.Context, db *gorm.DB, employeeIDs []snowflake.ID) ([]BackgroundCheck, error)
}
