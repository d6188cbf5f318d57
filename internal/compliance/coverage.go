package compliance

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aerocert/internal/certification/domain"
)

// Coverage is the streaming counterpart of RecordIndex. It keeps only which
// training types each employee holds in the active state, so memory grows
// with employees and types instead of records.
type Coverage struct {
	calc      *Calculator
	now       time.Time
	mandatory []domain.TrainingType
	held      map[snowflake.ID]map[snowflake.ID]struct{}
}

func (c *Calculator) NewCoverage(mandatory []domain.TrainingType, now time.Time) (*Coverage, error) {
	if err := ValidateMandatorySet(mandatory); err != nil {
		return nil, err
	}
	return &Coverage{
		calc:      c,
		now:       now,
		mandatory: mandatory,
		held:      map[snowflake.ID]map[snowflake.ID]struct{}{},
	}, nil
}

// Add folds one record into the coverage.
func (cv *Coverage) Add(record domain.TrainingRecord) error {
	status, err := cv.calc.evaluator.Record(record, cv.now)
	if err != nil {
		return fmt.Errorf("record %s: %w", record.CertificateNumber, err)
	}
	if status != domain.CertificateStatusActive {
		return nil
	}
	types, ok := cv.held[record.EmployeeID]
	if !ok {
		types = map[snowflake.ID]struct{}{}
		cv.held[record.EmployeeID] = types
	}
	types[record.TrainingTypeID] = struct{}{}
	return nil
}

// Holds reports whether the employee has an active record of the type.
func (cv *Coverage) Holds(employeeID, trainingTypeID snowflake.ID) bool {
	_, ok := cv.held[employeeID][trainingTypeID]
	return ok
}

// Compliant reports whether the employee holds every mandatory type.
func (cv *Coverage) Compliant(employeeID snowflake.ID) bool {
	for _, tt := range cv.mandatory {
		if !cv.Holds(employeeID, tt.ID) {
			return false
		}
	}
	return true
}

// Department rates the active employees of a department.
func (cv *Coverage) Department(name string, employees []domain.Employee, opts ...Option) (Snapshot, error) {
	size, compliant := 0, 0
	for _, employee := range employees {
		if !employee.IsActive() || employee.Department != name {
			continue
		}
		size++
		if cv.Compliant(employee.ID) {
			compliant++
		}
	}
	return cv.calc.Population(PopulationDepartment, name, size, compliant, opts...)
}

// Organization rates every active employee.
func (cv *Coverage) Organization(employees []domain.Employee, opts ...Option) (Snapshot, error) {
	size, compliant := 0, 0
	for _, employee := range employees {
		if !employee.IsActive() {
			continue
		}
		size++
		if cv.Compliant(employee.ID) {
			compliant++
		}
	}
	return cv.calc.Population(PopulationOrganization, OrganizationPopulationID, size, compliant, opts...)
}

// TrainingType rates active employees by whether they hold the type.
func (cv *Coverage) TrainingType(tt domain.TrainingType, employees []domain.Employee, opts ...Option) (Snapshot, error) {
	size, compliant := 0, 0
	for _, employee := range employees {
		if !employee.IsActive() {
			continue
		}
		size++
		if cv.Holds(employee.ID, tt.ID) {
			compliant++
		}
	}
	return cv.calc.Population(PopulationTrainingType, tt.ID.String(), size, compliant, opts...)
}
