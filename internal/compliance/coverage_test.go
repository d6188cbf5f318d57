package compliance

import (
	"slices"
	"testing"

	"github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoverageMatchesBatchCalculation(t *testing.T) {
	c := newCalculator()
	mandatory := []domain.TrainingType{mandatoryType(1), mandatoryType(2)}

	var employees []domain.Employee
	var records []domain.TrainingRecord
	for i := int64(1); i <= 10; i++ {
		dept := "Maintenance"
		if i%3 == 0 {
			dept = "Cabin"
		}
		employees = append(employees, employee(i, dept))
		records = append(records, record(i*10+1, i, 1, now.AddDate(1, 0, 0)))
		switch {
		case i <= 6:
			records = append(records, record(i*10+2, i, 2, now.AddDate(1, 0, 0)))
		case i == 7:
			records = append(records, record(i*10+2, i, 2, now.AddDate(0, 0, 5)))
		}
	}

	cov, err := c.NewCoverage(mandatory, now)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, cov.Add(r))
	}
	index := IndexByEmployee(slices.Values(records))

	for _, dept := range []string{"Maintenance", "Cabin", "Nobody"} {
		want, err := c.Department(dept, employees, mandatory, index, now)
		require.NoError(t, err)
		got, err := cov.Department(dept, employees)
		require.NoError(t, err)
		assert.Equal(t, want, got, dept)
	}

	wantOrg, err := c.Organization(employees, mandatory, index, now)
	require.NoError(t, err)
	gotOrg, err := cov.Organization(employees)
	require.NoError(t, err)
	assert.Equal(t, wantOrg, gotOrg)
	assert.Equal(t, 60.0, gotOrg.Rate)

	wantType, err := c.TrainingType(mandatory[1], employees, index, now)
	require.NoError(t, err)
	gotType, err := cov.TrainingType(mandatory[1], employees)
	require.NoError(t, err)
	assert.Equal(t, wantType, gotType)

	assert.True(t, cov.Holds(1, 2))
	assert.False(t, cov.Holds(7, 2))
	assert.False(t, cov.Compliant(8))
}

func TestCoverageRejectsBadInput(t *testing.T) {
	c := newCalculator()
	_, err := c.NewCoverage([]domain.TrainingType{mandatoryType(1), mandatoryType(1)}, now)
	assert.ErrorIs(t, err, domain.ErrInvalidMandatorySet)

	cov, err := c.NewCoverage([]domain.TrainingType{mandatoryType(1)}, now)
	require.NoError(t, err)
	bad := record(1, 1, 1, now)
	bad.ValidUntil = nil
	assert.ErrorIs(t, cov.Add(bad), domain.ErrInvalidCertificateWindow)
}
