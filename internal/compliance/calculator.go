// Package compliance computes compliance snapshots for employees and
// populations of employees. All functions are read-only over their inputs.
package compliance

import (
	"fmt"
	"iter"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/config"
	"github.com/smallbiznis/aerocert/internal/lifecycle"
)

type PopulationKind string

const (
	PopulationEmployee     PopulationKind = "employee"
	PopulationDepartment   PopulationKind = "department"
	PopulationTrainingType PopulationKind = "training_type"
	PopulationOrganization PopulationKind = "organization"
)

const OrganizationPopulationID = "organization"

// Snapshot is the computed compliance view of one population.
type Snapshot struct {
	Kind           PopulationKind `json:"kind"`
	PopulationID   string         `json:"population_id"`
	Required       int            `json:"required"`
	Satisfied      int            `json:"satisfied"`
	Rate           float64        `json:"rate"`
	Classification Classification `json:"classification"`
}

// EmployeeResult breaks an employee snapshot down per mandatory type.
type EmployeeResult struct {
	Snapshot
	Compliant bool           `json:"compliant"`
	Satisfied []snowflake.ID `json:"satisfied_training_type_ids"`
	Missing   []snowflake.ID `json:"missing_training_type_ids"`
	Expiring  []snowflake.ID `json:"expiring_training_type_ids"`
}

type options struct {
	requireNonEmpty bool
}

type Option func(*options)

// RequireNonEmpty makes an empty population an error instead of a 0 rate.
func RequireNonEmpty() Option {
	return func(o *options) { o.requireNonEmpty = true }
}

type Calculator struct {
	evaluator  lifecycle.Evaluator
	thresholds Thresholds
}

func NewCalculator(evaluator lifecycle.Evaluator, thresholds Thresholds) *Calculator {
	return &Calculator{evaluator: evaluator, thresholds: thresholds}
}

func NewCalculatorFromPolicy(policy config.CompliancePolicy) *Calculator {
	return NewCalculator(
		lifecycle.NewEvaluator(policy.ExpiringSoonDays),
		ThresholdsFromPolicy(policy.Classification),
	)
}

func (c *Calculator) Thresholds() Thresholds {
	return c.thresholds
}

func (c *Calculator) Evaluator() lifecycle.Evaluator {
	return c.evaluator
}

// MandatoryTypes selects active mandatory types, preserving input order.
func MandatoryTypes(types []domain.TrainingType) []domain.TrainingType {
	out := make([]domain.TrainingType, 0, len(types))
	for _, tt := range types {
		if tt.Active && tt.Mandatory {
			out = append(out, tt)
		}
	}
	return out
}

// ValidateMandatorySet rejects zero or duplicate training type ids.
func ValidateMandatorySet(mandatory []domain.TrainingType) error {
	seen := make(map[snowflake.ID]struct{}, len(mandatory))
	for _, tt := range mandatory {
		if tt.ID == 0 {
			return fmt.Errorf("%w: training type without id", domain.ErrInvalidMandatorySet)
		}
		if _, dup := seen[tt.ID]; dup {
			return fmt.Errorf("%w: duplicate training type %s", domain.ErrInvalidMandatorySet, tt.ID)
		}
		seen[tt.ID] = struct{}{}
	}
	return nil
}

// RecordIndex groups training records by employee.
type RecordIndex map[snowflake.ID][]domain.TrainingRecord

func IndexByEmployee(records iter.Seq[domain.TrainingRecord]) RecordIndex {
	index := RecordIndex{}
	for record := range records {
		index[record.EmployeeID] = append(index[record.EmployeeID], record)
	}
	return index
}

// Employee computes the mandatory-type coverage of a single employee. Only
// records in the active state satisfy a type; expiring-soon records are
// reported separately and do not count.
func (c *Calculator) Employee(employee domain.Employee, mandatory []domain.TrainingType, records []domain.TrainingRecord, now time.Time) (EmployeeResult, error) {
	if err := ValidateMandatorySet(mandatory); err != nil {
		return EmployeeResult{}, err
	}

	held := make(map[snowflake.ID]domain.CertificateStatus, len(records))
	for _, record := range records {
		if record.EmployeeID != employee.ID {
			continue
		}
		status, err := c.evaluator.Record(record, now)
		if err != nil {
			return EmployeeResult{}, fmt.Errorf("record %s: %w", record.CertificateNumber, err)
		}
		if rank(status) > rank(held[record.TrainingTypeID]) {
			held[record.TrainingTypeID] = status
		}
	}

	result := EmployeeResult{
		Satisfied: []snowflake.ID{},
		Missing:   []snowflake.ID{},
		Expiring:  []snowflake.ID{},
	}
	for _, tt := range mandatory {
		switch held[tt.ID] {
		case domain.CertificateStatusActive:
			result.Satisfied = append(result.Satisfied, tt.ID)
		case domain.CertificateStatusExpiringSoon:
			result.Expiring = append(result.Expiring, tt.ID)
			result.Missing = append(result.Missing, tt.ID)
		default:
			result.Missing = append(result.Missing, tt.ID)
		}
	}

	required := len(mandatory)
	satisfied := len(result.Satisfied)
	rate := float64(100)
	if required > 0 {
		rate = Rate(satisfied, required)
	}

	result.Snapshot = Snapshot{
		Kind:           PopulationEmployee,
		PopulationID:   employee.ID.String(),
		Required:       required,
		Satisfied:      satisfied,
		Rate:           rate,
		Classification: Classify(rate, c.thresholds),
	}
	result.Compliant = satisfied == required
	return result, nil
}

// Population builds a snapshot from an already counted population.
func (c *Calculator) Population(kind PopulationKind, id string, size, compliant int, opts ...Option) (Snapshot, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if size <= 0 && o.requireNonEmpty {
		return Snapshot{}, fmt.Errorf("%w: %s %s", domain.ErrEmptyPopulation, kind, id)
	}
	if size < 0 {
		size = 0
	}
	if compliant > size {
		compliant = size
	}
	if compliant < 0 {
		compliant = 0
	}
	rate := Rate(compliant, size)
	return Snapshot{
		Kind:           kind,
		PopulationID:   id,
		Required:       size,
		Satisfied:      compliant,
		Rate:           rate,
		Classification: Classify(rate, c.thresholds),
	}, nil
}

// Department rates the active employees of a department by full compliance.
func (c *Calculator) Department(name string, employees []domain.Employee, mandatory []domain.TrainingType, index RecordIndex, now time.Time, opts ...Option) (Snapshot, error) {
	size, compliant, err := c.countCompliant(employees, mandatory, index, now, func(e domain.Employee) bool {
		return e.Department == name
	})
	if err != nil {
		return Snapshot{}, err
	}
	return c.Population(PopulationDepartment, name, size, compliant, opts...)
}

// Organization rates every active employee by full compliance.
func (c *Calculator) Organization(employees []domain.Employee, mandatory []domain.TrainingType, index RecordIndex, now time.Time, opts ...Option) (Snapshot, error) {
	size, compliant, err := c.countCompliant(employees, mandatory, index, now, nil)
	if err != nil {
		return Snapshot{}, err
	}
	return c.Population(PopulationOrganization, OrganizationPopulationID, size, compliant, opts...)
}

// TrainingType rates active employees by whether they hold an active record
// of the given type.
func (c *Calculator) TrainingType(tt domain.TrainingType, employees []domain.Employee, index RecordIndex, now time.Time, opts ...Option) (Snapshot, error) {
	size := 0
	compliant := 0
	for _, employee := range employees {
		if !employee.IsActive() {
			continue
		}
		size++
		ok, err := c.holdsActive(index[employee.ID], tt.ID, now)
		if err != nil {
			return Snapshot{}, err
		}
		if ok {
			compliant++
		}
	}
	return c.Population(PopulationTrainingType, tt.ID.String(), size, compliant, opts...)
}

func (c *Calculator) countCompliant(employees []domain.Employee, mandatory []domain.TrainingType, index RecordIndex, now time.Time, include func(domain.Employee) bool) (int, int, error) {
	if err := ValidateMandatorySet(mandatory); err != nil {
		return 0, 0, err
	}
	size := 0
	compliant := 0
	for _, employee := range employees {
		if !employee.IsActive() {
			continue
		}
		if include != nil && !include(employee) {
			continue
		}
		size++
		result, err := c.Employee(employee, mandatory, index[employee.ID], now)
		if err != nil {
			return 0, 0, err
		}
		if result.Compliant {
			compliant++
		}
	}
	return size, compliant, nil
}

func (c *Calculator) holdsActive(records []domain.TrainingRecord, trainingTypeID snowflake.ID, now time.Time) (bool, error) {
	for _, record := range records {
		if record.TrainingTypeID != trainingTypeID {
			continue
		}
		status, err := c.evaluator.Record(record, now)
		if err != nil {
			return false, fmt.Errorf("record %s: %w", record.CertificateNumber, err)
		}
		if status == domain.CertificateStatusActive {
			return true, nil
		}
	}
	return false, nil
}

// rank orders states by how well they cover a requirement.
func rank(status domain.CertificateStatus) int {
	switch status {
	case domain.CertificateStatusActive:
		return 3
	case domain.CertificateStatusExpiringSoon:
		return 2
	case domain.CertificateStatusExpired:
		return 1
	default:
		return 0
	}
}
