package rollup

import (
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aerocert/internal/analytics/domain"
	certdomain "github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/compliance"
	"github.com/smallbiznis/aerocert/internal/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func rec(id, employeeID, typeID int64, createdAt, validUntil time.Time) certdomain.TrainingRecord {
	return certdomain.TrainingRecord{
		ID:                snowflake.ID(id),
		EmployeeID:        snowflake.ID(employeeID),
		TrainingTypeID:    snowflake.ID(typeID),
		CertificateNumber: fmt.Sprintf("C-%d", id),
		ValidFrom:         createdAt,
		ValidUntil:        ptr(validUntil),
		CreatedAt:         createdAt,
	}
}

func TestNewBuckets(t *testing.T) {
	cases := []struct {
		window      domain.Window
		granularity domain.Granularity
		size        int
		first, last string
	}{
		{domain.Window3Months, domain.GranularityDaily, 91, "2024-12-15", "2025-03-15"},
		{domain.Window6Months, domain.GranularityMonthly, 6, "2024-10", "2025-03"},
		{domain.Window1Year, domain.GranularityMonthly, 12, "2024-04", "2025-03"},
		{domain.Window2Years, domain.GranularityMonthly, 24, "2023-04", "2025-03"},
	}
	for _, tc := range cases {
		t.Run(string(tc.window), func(t *testing.T) {
			b, err := NewBuckets(tc.window, now)
			require.NoError(t, err)
			assert.Equal(t, tc.granularity, b.Granularity)
			assert.Equal(t, tc.size, b.Len())
			assert.Equal(t, tc.first, b.Label(0))
			assert.Equal(t, tc.last, b.Label(b.Len()-1))
		})
	}

	_, err := NewBuckets("5w", now)
	assert.ErrorIs(t, err, domain.ErrInvalidWindow)
}

func TestBucketsIndexBoundaries(t *testing.T) {
	b, err := NewBuckets(domain.Window6Months, now)
	require.NoError(t, err)

	_, ok := b.Index(b.Start.Add(-time.Nanosecond))
	assert.False(t, ok)
	i, ok := b.Index(b.Start)
	assert.True(t, ok)
	assert.Equal(t, 0, i)
	i, ok = b.Index(now)
	assert.True(t, ok)
	assert.Equal(t, 5, i)
	_, ok = b.Index(b.End)
	assert.False(t, ok)
}

func TestTrendIsContiguousAndZeroFilled(t *testing.T) {
	b, err := NewBuckets(domain.Window6Months, now)
	require.NoError(t, err)
	trend := NewTrend(b)

	trend.Add(rec(1, 1, 1, time.Date(2024, 10, 3, 0, 0, 0, 0, time.UTC), now))
	trend.Add(rec(2, 1, 1, time.Date(2024, 10, 31, 23, 0, 0, 0, time.UTC), now))
	trend.Add(rec(3, 1, 1, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), now))
	trend.Add(rec(4, 1, 1, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), now))

	report := trend.Report()
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, []domain.SeriesPoint{
		{Period: "2024-10", Count: 2},
		{Period: "2024-11", Count: 0},
		{Period: "2024-12", Count: 0},
		{Period: "2025-01", Count: 1},
		{Period: "2025-02", Count: 0},
		{Period: "2025-03", Count: 0},
	}, report.Series)
}

func TestTrendDailyEmpty(t *testing.T) {
	b, err := NewBuckets(domain.Window3Months, now)
	require.NoError(t, err)
	report := NewTrend(b).Report()
	require.Len(t, report.Series, b.Len())
	for i, p := range report.Series {
		assert.Zero(t, p.Count)
		assert.Equal(t, b.Start.AddDate(0, 0, i).Format("2006-01-02"), p.Period)
	}
}

func TestStatusTrendHasEveryState(t *testing.T) {
	b, err := NewBuckets(domain.Window6Months, now)
	require.NoError(t, err)
	st := NewStatusTrend(b, lifecycle.NewEvaluator(30), now)

	jan := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.Add(rec(1, 1, 1, jan, now.AddDate(1, 0, 0))))
	require.NoError(t, st.Add(rec(2, 1, 1, jan, now.AddDate(0, 0, 10))))
	require.NoError(t, st.Add(rec(3, 1, 1, jan, now.AddDate(0, 0, -1))))
	superseded := rec(4, 1, 1, jan, now.AddDate(0, 0, -1))
	superseded.SupersededByID = ptr(snowflake.ID(1))
	require.NoError(t, st.Add(superseded))

	bad := rec(5, 1, 1, jan, now)
	bad.ValidUntil = nil
	assert.ErrorIs(t, st.Add(bad), certdomain.ErrInvalidCertificateWindow)

	report := st.Report()
	require.Len(t, report.Series, 6)
	for _, p := range report.Series {
		assert.Len(t, p.Counts, 4)
	}
	janPoint := report.Series[3]
	assert.Equal(t, "2025-01", janPoint.Period)
	assert.Equal(t, 4, janPoint.Total)
	assert.Equal(t, map[certdomain.CertificateStatus]int{
		certdomain.CertificateStatusActive:       1,
		certdomain.CertificateStatusExpiringSoon: 1,
		certdomain.CertificateStatusExpired:      1,
		certdomain.CertificateStatusSuperseded:   1,
	}, janPoint.Counts)
	assert.Zero(t, report.Series[0].Total)
}

func TestExpiryDistribution(t *testing.T) {
	e := NewExpiry(now)
	require.NoError(t, e.Add(rec(1, 1, 1, now, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, e.Add(rec(2, 1, 1, now, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, e.Add(rec(3, 1, 1, now, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, e.Add(rec(4, 1, 1, now, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))))
	superseded := rec(5, 1, 1, now, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	superseded.Status = certdomain.CertificateStatusSuperseded
	require.NoError(t, e.Add(superseded))

	buckets := e.Buckets()
	require.Len(t, buckets, 12)
	assert.Equal(t, "Mar 2025", buckets[0].Label)
	assert.Equal(t, "Feb 2026", buckets[11].Label)
	assert.Equal(t, 1, buckets[0].Count)
	assert.Equal(t, 1, buckets[1].Count)
	assert.Equal(t, 1, buckets[11].Count)
	for i := 1; i < len(buckets); i++ {
		assert.True(t, buckets[i].Month.After(buckets[i-1].Month))
	}

	from, to := ExpiryRange(now)
	assert.Equal(t, buckets[0].Month, from)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), to)

	empty := NewExpiry(now).Buckets()
	require.Len(t, empty, 12)
	assert.Zero(t, empty[5].Count)
}

func breakdownFixture() ([]certdomain.Employee, []certdomain.TrainingType, []certdomain.TrainingRecord) {
	employees := []certdomain.Employee{
		{ID: 1, Department: "Ramp Services", EmploymentStatus: certdomain.EmploymentStatusActive},
		{ID: 2, Department: "Ramp Services", EmploymentStatus: certdomain.EmploymentStatusActive},
		{ID: 3, Department: "Cabin Crew", EmploymentStatus: certdomain.EmploymentStatusActive},
		{ID: 4, Department: "Cabin Crew", EmploymentStatus: certdomain.EmploymentStatusActive},
		{ID: 5, Department: "Avionics", EmploymentStatus: certdomain.EmploymentStatusActive},
		{ID: 6, Department: "Archive", EmploymentStatus: certdomain.EmploymentStatusTerminated},
	}
	types := []certdomain.TrainingType{
		{ID: 10, Name: "Dangerous Goods", Code: "DG", Mandatory: true, Active: true},
		{ID: 11, Name: "Human Factors", Code: "HF", Mandatory: false, Active: true},
	}
	records := []certdomain.TrainingRecord{
		rec(100, 1, 10, now, now.AddDate(1, 0, 0)),
		rec(101, 2, 10, now, now.AddDate(0, 0, 5)),
		rec(102, 3, 10, now, now.AddDate(1, 0, 0)),
		rec(103, 4, 10, now, now.AddDate(1, 0, 0)),
		rec(104, 4, 11, now, now.AddDate(0, 0, -3)),
		rec(105, 6, 10, now, now.AddDate(1, 0, 0)),
	}
	return employees, types, records
}

func TestDepartmentBreakdownOrdering(t *testing.T) {
	employees, types, records := breakdownFixture()
	calc := compliance.NewCalculator(lifecycle.NewEvaluator(30), compliance.DefaultThresholds())

	b, err := NewBreakdown(domain.BreakdownDepartment, calc, employees, types, now)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, b.Add(r))
	}
	rows, err := b.Rows()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, "Cabin Crew", rows[0].Name)
	assert.Equal(t, "cabin-crew", rows[0].Key)
	assert.Equal(t, 100.0, rows[0].ComplianceRate)
	assert.Equal(t, 3, rows[0].Total)
	assert.Equal(t, 1, rows[0].Expired)

	assert.Equal(t, "Ramp Services", rows[1].Name)
	assert.Equal(t, 50.0, rows[1].ComplianceRate)
	assert.Equal(t, 1, rows[1].ExpiringSoon)
	assert.Equal(t, compliance.ClassificationWarning, rows[1].Classification)

	assert.Equal(t, "Avionics", rows[2].Name)
	assert.Equal(t, 1, rows[2].Population)
	assert.Zero(t, rows[2].Total)
}

func TestBreakdownIgnoresInactiveEmployees(t *testing.T) {
	calc := compliance.NewCalculator(lifecycle.NewEvaluator(30), compliance.DefaultThresholds())
	employees := []certdomain.Employee{
		{ID: 1, Department: "Line Maintenance", EmploymentStatus: certdomain.EmploymentStatusActive},
		{ID: 2, Department: "Retired", EmploymentStatus: certdomain.EmploymentStatusTerminated},
		{ID: 3, Department: "Line Maintenance", EmploymentStatus: certdomain.EmploymentStatusSuspended},
	}
	types := []certdomain.TrainingType{{ID: 10, Name: "Dangerous Goods", Code: "DG", Mandatory: true, Active: true}}

	for _, kind := range []domain.BreakdownKind{domain.BreakdownDepartment, domain.BreakdownTrainingType} {
		b, err := NewBreakdown(kind, calc, employees, types, now)
		require.NoError(t, err)
		require.NoError(t, b.Add(rec(100, 1, 10, now, now.AddDate(1, 0, 0))))
		require.NoError(t, b.Add(rec(101, 2, 10, now, now.AddDate(1, 0, 0))))
		require.NoError(t, b.Add(rec(102, 3, 10, now, now.AddDate(0, 0, -1))))

		rows, err := b.Rows()
		require.NoError(t, err)
		require.Len(t, rows, 1, kind)
		assert.Equal(t, 1, rows[0].Population, kind)
		assert.Equal(t, 1, rows[0].Total, kind)
		assert.Zero(t, rows[0].Expired, kind)
		assert.Equal(t, 100.0, rows[0].ComplianceRate, kind)
	}
}

func TestTrainingTypeBreakdown(t *testing.T) {
	employees, types, records := breakdownFixture()
	calc := compliance.NewCalculator(lifecycle.NewEvaluator(30), compliance.DefaultThresholds())

	b, err := NewBreakdown(domain.BreakdownTrainingType, calc, employees, types, now)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, b.Add(r))
	}
	rows, err := b.Rows()
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "dg", rows[0].Key)
	assert.Equal(t, 5, rows[0].Population)
	assert.Equal(t, 60.0, rows[0].ComplianceRate)
	assert.Equal(t, 4, rows[0].Total)
	assert.Equal(t, "hf", rows[1].Key)
	assert.Equal(t, 0.0, rows[1].ComplianceRate)
	assert.Equal(t, 1, rows[1].Expired)
}

func TestBreakdownEmptyAndInvalid(t *testing.T) {
	calc := compliance.NewCalculator(lifecycle.NewEvaluator(30), compliance.DefaultThresholds())

	b, err := NewBreakdown(domain.BreakdownDepartment, calc, nil, nil, now)
	require.NoError(t, err)
	rows, err := b.Rows()
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)

	_, err = NewBreakdown("category", calc, nil, nil, now)
	assert.ErrorIs(t, err, domain.ErrInvalidBreakdownKind)
}

func TestBreakdownTiesBreakByName(t *testing.T) {
	calc := compliance.NewCalculator(lifecycle.NewEvaluator(30), compliance.DefaultThresholds())
	employees := []certdomain.Employee{
		{ID: 1, Department: "Line Maintenance", EmploymentStatus: certdomain.EmploymentStatusActive},
		{ID: 2, Department: "Base Maintenance", EmploymentStatus: certdomain.EmploymentStatusActive},
	}
	b, err := NewBreakdown(domain.BreakdownDepartment, calc, employees, nil, now)
	require.NoError(t, err)
	rows, err := b.Rows()
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "Base Maintenance", rows[0].Name)
	assert.Equal(t, "Line Maintenance", rows[1].Name)
	assert.Equal(t, 100.0, rows[0].ComplianceRate)
}

func TestBreakdownOrderStableForDuplicateNames(t *testing.T) {
	calc := compliance.NewCalculator(lifecycle.NewEvaluator(30), compliance.DefaultThresholds())
	employees := []certdomain.Employee{{ID: 1, Department: "Cargo", EmploymentStatus: certdomain.EmploymentStatusActive}}
	var types []certdomain.TrainingType
	for i := 6; i >= 1; i-- {
		types = append(types, certdomain.TrainingType{
			ID:     snowflake.ID(10 + i),
			Name:   "Dangerous Goods",
			Code:   fmt.Sprintf("DG%d", i),
			Active: true,
		})
	}

	want := []string{"dg1", "dg2", "dg3", "dg4", "dg5", "dg6"}
	for run := 0; run < 50; run++ {
		b, err := NewBreakdown(domain.BreakdownTrainingType, calc, employees, types, now)
		require.NoError(t, err)
		rows, err := b.Rows()
		require.NoError(t, err)

		keys := make([]string, 0, len(rows))
		for _, row := range rows {
			keys = append(keys, row.Key)
		}
		require.Equal(t, want, keys, "run %d", run)
	}
}
