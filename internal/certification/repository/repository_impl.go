package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultStreamBatchSize = 500

const recordColumns = `id, employee_id, training_type_id, certificate_number, issued_at, valid_from,
	valid_until, status, renewed_from_id, superseded_by_id, superseded_at, version, metadata,
	created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertRecord(ctx context.Context, conn *gorm.DB, record *domain.TrainingRecord) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO training_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.EmployeeID,
		record.TrainingTypeID,
		record.CertificateNumber,
		record.IssuedAt,
		record.ValidFrom,
		record.ValidUntil,
		record.Status,
		record.RenewedFromID,
		record.SupersededByID,
		record.SupersededAt,
		record.Version,
		record.Metadata,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *repo) FindRecordByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.TrainingRecord, error) {
	var record domain.TrainingRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM training_records WHERE id = ?`,
		id,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

// FindRecordByIDForUpdate row-locks the record where the dialect supports it.
// On sqlite the surrounding transaction already serializes writers.
func (r *repo) FindRecordByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.TrainingRecord, error) {
	var records []domain.TrainingRecord
	q := conn.WithContext(ctx).Model(&domain.TrainingRecord{}).Where("id = ?", id).Limit(1)
	if db.SupportsRowLocks(conn) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (r *repo) FindRecordsByIDs(ctx context.Context, conn *gorm.DB, ids []snowflake.ID) ([]domain.TrainingRecord, error) {
	if len(ids) == 0 {
		return []domain.TrainingRecord{}, nil
	}
	var records []domain.TrainingRecord
	err := conn.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM training_records WHERE id IN ? ORDER BY id ASC`,
		ids,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) CertificateNumberExists(ctx context.Context, conn *gorm.DB, number string) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM training_records WHERE certificate_number = ?`,
		number,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkSuperseded links the record to its successor. It only applies when the
// row is still at expectedVersion and has no successor yet.
func (r *repo) MarkSuperseded(ctx context.Context, conn *gorm.DB, id snowflake.ID, expectedVersion int64, successorID snowflake.ID, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE training_records
		 SET status = ?, superseded_by_id = ?, superseded_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND superseded_by_id IS NULL AND status <> ?`,
		domain.CertificateStatusSuperseded,
		successorID,
		at,
		at,
		id,
		expectedVersion,
		domain.CertificateStatusSuperseded,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateStatus rewrites the cached status of a non-superseded record.
func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, expectedVersion int64, status domain.CertificateStatus, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE training_records
		 SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND superseded_by_id IS NULL AND status <> ?`,
		status,
		at,
		id,
		expectedVersion,
		domain.CertificateStatusSuperseded,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) CountSuccessors(ctx context.Context, conn *gorm.DB, id snowflake.ID) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM training_records WHERE renewed_from_id = ?`,
		id,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) DeleteRecord(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	return conn.WithContext(ctx).Exec(
		`DELETE FROM training_records WHERE id = ?`,
		id,
	).Error
}

func (r *repo) ListRecords(ctx context.Context, conn *gorm.DB, filter domain.RecordFilter) ([]domain.TrainingRecord, error) {
	var records []domain.TrainingRecord
	q := applyRecordFilter(conn.WithContext(ctx).Model(&domain.TrainingRecord{}), filter).Order("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// StreamRecords walks matching records in id order, one keyset page at a
// time, so callers never hold the full table in memory.
func (r *repo) StreamRecords(ctx context.Context, conn *gorm.DB, filter domain.RecordFilter, batchSize int, fn func([]domain.TrainingRecord) error) error {
	if batchSize <= 0 {
		batchSize = defaultStreamBatchSize
	}
	remaining := filter.Limit

	page := filter
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page.Limit = batchSize
		if remaining > 0 && remaining < batchSize {
			page.Limit = remaining
		}
		records, err := r.ListRecords(ctx, conn, page)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if err := fn(records); err != nil {
			return err
		}

		if remaining > 0 {
			remaining -= len(records)
			if remaining <= 0 {
				return nil
			}
		}
		if len(records) < page.Limit {
			return nil
		}
		page.AfterID = records[len(records)-1].ID
	}
}

func applyRecordFilter(q *gorm.DB, filter domain.RecordFilter) *gorm.DB {
	if len(filter.EmployeeIDs) > 0 {
		q = q.Where("employee_id IN ?", filter.EmployeeIDs)
	}
	if len(filter.TrainingTypeIDs) > 0 {
		q = q.Where("training_type_id IN ?", filter.TrainingTypeIDs)
	}
	if filter.Department != "" {
		q = q.Where("employee_id IN (SELECT id FROM employees WHERE department = ?)", filter.Department)
	}
	if filter.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		q = q.Where("created_at < ?", *filter.CreatedTo)
	}
	if filter.ValidUntilFrom != nil {
		q = q.Where("valid_until >= ?", *filter.ValidUntilFrom)
	}
	if filter.ValidUntilTo != nil {
		q = q.Where("valid_until < ?", *filter.ValidUntilTo)
	}
	switch {
	case filter.OnlySuperseded:
		q = q.Where("(superseded_by_id IS NOT NULL OR status = ?)", domain.CertificateStatusSuperseded)
	case !filter.IncludeSuperseded:
		q = q.Where("superseded_by_id IS NULL AND status <> ?", domain.CertificateStatusSuperseded)
	}
	if filter.AfterID != 0 {
		q = q.Where("id > ?", filter.AfterID)
	}
	return q
}

func (r *repo) FindEmployeeByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Employee, error) {
	var employee domain.Employee
	err := conn.WithContext(ctx).Raw(
		`SELECT id, employee_number, full_name, department, employment_status, created_at, updated_at
		 FROM employees WHERE id = ?`,
		id,
	).Scan(&employee).Error
	if err != nil {
		return nil, err
	}
	if employee.ID == 0 {
		return nil, nil
	}
	return &employee, nil
}

func (r *repo) ListEmployees(ctx context.Context, conn *gorm.DB, filter domain.EmployeeFilter) ([]domain.Employee, error) {
	var employees []domain.Employee
	q := conn.WithContext(ctx).Model(&domain.Employee{})
	if filter.Department != "" {
		q = q.Where("department = ?", filter.Department)
	}
	if filter.OnlyActive {
		q = q.Where("employment_status = ?", domain.EmploymentStatusActive)
	}
	if err := q.Order("id ASC").Find(&employees).Error; err != nil {
		return nil, err
	}
	return employees, nil
}

func (r *repo) FindTrainingTypeByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.TrainingType, error) {
	var tt domain.TrainingType
	err := conn.WithContext(ctx).Raw(
		`SELECT id, name, code, category, validity_months, mandatory, active, criticality, created_at, updated_at
		 FROM training_types WHERE id = ?`,
		id,
	).Scan(&tt).Error
	if err != nil {
		return nil, err
	}
	if tt.ID == 0 {
		return nil, nil
	}
	return &tt, nil
}

func (r *repo) ListTrainingTypes(ctx context.Context, conn *gorm.DB, filter domain.TrainingTypeFilter) ([]domain.TrainingType, error) {
	var types []domain.TrainingType
	q := conn.WithContext(ctx).Model(&domain.TrainingType{})
	if filter.OnlyActive {
		q = q.Where("active = ?", true)
	}
	if filter.OnlyMandatory {
		q = q.Where("mandatory = ?", true)
	}
	if err := q.Order("id ASC").Find(&types).Error; err != nil {
		return nil, err
	}
	return types, nil
}

func (r *repo) ListBackgroundChecks(ctx context.Context, conn *gorm.DB, employeeIDs []snowflake.ID) ([]domain.BackgroundCheck, error) {
	var checks []domain.BackgroundCheck
	q := conn.WithContext(ctx).Model(&domain.BackgroundCheck{})
	if len(employeeIDs) > 0 {
		q = q.Where("employee_id IN ?", employeeIDs)
	}
	if err := q.Order("employee_id ASC, valid_from DESC").Find(&checks).Error; err != nil {
		return nil, err
	}
	return checks, nil
}
