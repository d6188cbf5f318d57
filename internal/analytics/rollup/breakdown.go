package rollup

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/aerocert/internal/analytics/domain"
	certdomain "github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/compliance"
)

type breakdownCounts struct {
	total        int
	active       int
	expiringSoon int
	expired      int
}

// Breakdown groups current certificates by department or training type and
// rates each group with the compliance calculator.
type Breakdown struct {
	kind      domain.BreakdownKind
	calc      *compliance.Calculator
	coverage  *compliance.Coverage
	now       time.Time
	employees []certdomain.Employee
	byID      map[snowflake.ID]certdomain.Employee
	types     map[snowflake.ID]certdomain.TrainingType
	rows      map[string]*breakdownCounts
}

// NewBreakdown scopes the report to the given employees. Records of other
// employees are ignored.
func NewBreakdown(kind domain.BreakdownKind, calc *compliance.Calculator, employees []certdomain.Employee, types []certdomain.TrainingType, now time.Time) (*Breakdown, error) {
	if kind != domain.BreakdownDepartment && kind != domain.BreakdownTrainingType {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidBreakdownKind, kind)
	}
	coverage, err := calc.NewCoverage(compliance.MandatoryTypes(types), now)
	if err != nil {
		return nil, err
	}

	b := &Breakdown{
		kind:      kind,
		calc:      calc,
		coverage:  coverage,
		now:       now,
		employees: employees,
		byID:      make(map[snowflake.ID]certdomain.Employee, len(employees)),
		types:     make(map[snowflake.ID]certdomain.TrainingType, len(types)),
		rows:      map[string]*breakdownCounts{},
	}
	for _, e := range employees {
		b.byID[e.ID] = e
		if kind == domain.BreakdownDepartment && e.IsActive() {
			b.row(e.Department)
		}
	}
	for _, tt := range types {
		b.types[tt.ID] = tt
		if kind == domain.BreakdownTrainingType && tt.Active {
			b.row(tt.ID.String())
		}
	}
	return b, nil
}

func (b *Breakdown) row(key string) *breakdownCounts {
	counts, ok := b.rows[key]
	if !ok {
		counts = &breakdownCounts{}
		b.rows[key] = counts
	}
	return counts
}

func (b *Breakdown) Add(record certdomain.TrainingRecord) error {
	employee, ok := b.byID[record.EmployeeID]
	if !ok {
		return nil
	}
	if err := b.coverage.Add(record); err != nil {
		return err
	}
	if !employee.IsActive() {
		return nil
	}
	status, err := b.calc.Evaluator().Record(record, b.now)
	if err != nil {
		return fmt.Errorf("record %s: %w", record.CertificateNumber, err)
	}
	if status == certdomain.CertificateStatusSuperseded {
		return nil
	}

	var key string
	switch b.kind {
	case domain.BreakdownDepartment:
		key = employee.Department
	default:
		if _, known := b.types[record.TrainingTypeID]; !known {
			return nil
		}
		key = record.TrainingTypeID.String()
	}

	counts := b.row(key)
	counts.total++
	switch status {
	case certdomain.CertificateStatusActive:
		counts.active++
	case certdomain.CertificateStatusExpiringSoon:
		counts.expiringSoon++
	case certdomain.CertificateStatusExpired:
		counts.expired++
	}
	return nil
}

type keyedRow struct {
	group string
	row   domain.BreakdownRow
}

// Rows returns one row per group ordered by compliance rate desc, population
// desc, name asc, then row key and group key asc.
func (b *Breakdown) Rows() ([]domain.BreakdownRow, error) {
	keyed := make([]keyedRow, 0, len(b.rows))
	for key, counts := range b.rows {
		var (
			name       string
			slugSource string
			snap       compliance.Snapshot
			err        error
		)
		switch b.kind {
		case domain.BreakdownDepartment:
			name, slugSource = key, key
			snap, err = b.coverage.Department(key, b.employees)
		default:
			tt := b.types[typeIDFromKey(key)]
			name, slugSource = tt.Name, tt.Code
			if slugSource == "" {
				slugSource = tt.Name
			}
			snap, err = b.coverage.TrainingType(tt, b.employees)
		}
		if err != nil {
			return nil, err
		}

		keyed = append(keyed, keyedRow{group: key, row: domain.BreakdownRow{
			Key:            slug.Make(slugSource),
			Name:           name,
			Population:     snap.Required,
			Total:          counts.total,
			Active:         counts.active,
			ExpiringSoon:   counts.expiringSoon,
			Expired:        counts.expired,
			ComplianceRate: snap.Rate,
			Classification: snap.Classification,
		}})
	}

	slices.SortFunc(keyed, func(x, y keyedRow) int {
		a, b := x.row, y.row
		if c := cmp.Compare(b.ComplianceRate, a.ComplianceRate); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Population, a.Population); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return cmp.Compare(x.group, y.group)
	})

	out := make([]domain.BreakdownRow, len(keyed))
	for i, k := range keyed {
		out[i] = k.row
	}
	return out, nil
}

func typeIDFromKey(key string) snowflake.ID {
	id, _ := snowflake.ParseString(key)
	return id
}
