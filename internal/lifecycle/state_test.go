package lifecycle

import (
	"slices"
	"testing"
	"time"

	"github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestEvaluateBoundaries(t *testing.T) {
	now := date(2024, 6, 1)

	cases := []struct {
		name       string
		validUntil time.Time
		want       domain.CertificateStatus
	}{
		{"far future", now.AddDate(0, 0, 31), domain.CertificateStatusActive},
		{"threshold day inclusive", now.AddDate(0, 0, 30), domain.CertificateStatusExpiringSoon},
		{"tomorrow", now.AddDate(0, 0, 1), domain.CertificateStatusExpiringSoon},
		{"expiry day", now, domain.CertificateStatusExpired},
		{"expiry day later hour", now.Add(15 * time.Hour), domain.CertificateStatusExpired},
		{"past", now.AddDate(-1, 0, 0), domain.CertificateStatusExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(ptr(tc.validUntil), now, DefaultSoonThresholdDays, false)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateTwoYearCertificateScenario(t *testing.T) {
	issued := date(2023, 1, 1)
	validUntil := issued.AddDate(0, 24, 0)
	require.Equal(t, date(2025, 1, 1), validUntil)

	state, err := Evaluate(&validUntil, date(2024, 11, 15), DefaultSoonThresholdDays, false)
	require.NoError(t, err)
	assert.Equal(t, domain.CertificateStatusActive, state)

	assert.Equal(t, 22, DaysUntil(validUntil, date(2024, 12, 10)))
	state, err = Evaluate(&validUntil, date(2024, 12, 10), DefaultSoonThresholdDays, false)
	require.NoError(t, err)
	assert.Equal(t, domain.CertificateStatusExpiringSoon, state)

	state, err = Evaluate(&validUntil, date(2025, 1, 2), DefaultSoonThresholdDays, false)
	require.NoError(t, err)
	assert.Equal(t, domain.CertificateStatusExpired, state)
}

func TestEvaluateSupersededIgnoresClock(t *testing.T) {
	validUntil := date(2030, 1, 1)
	for _, now := range []time.Time{date(2000, 1, 1), date(2029, 12, 20), date(2040, 1, 1)} {
		state, err := Evaluate(&validUntil, now, DefaultSoonThresholdDays, true)
		require.NoError(t, err)
		assert.Equal(t, domain.CertificateStatusSuperseded, state)
	}

	state, err := Evaluate(nil, date(2024, 1, 1), DefaultSoonThresholdDays, true)
	require.NoError(t, err)
	assert.Equal(t, domain.CertificateStatusSuperseded, state)
}

func TestEvaluateMissingValidUntil(t *testing.T) {
	_, err := Evaluate(nil, date(2024, 1, 1), DefaultSoonThresholdDays, false)
	assert.ErrorIs(t, err, domain.ErrInvalidCertificateWindow)

	zero := time.Time{}
	_, err = Evaluate(&zero, date(2024, 1, 1), DefaultSoonThresholdDays, false)
	assert.ErrorIs(t, err, domain.ErrInvalidCertificateWindow)
}

func TestEvaluateZeroThresholdSkipsExpiringSoon(t *testing.T) {
	now := date(2024, 6, 1)
	state, err := Evaluate(ptr(now.AddDate(0, 0, 1)), now, 0, false)
	require.NoError(t, err)
	assert.Equal(t, domain.CertificateStatusActive, state)

	state, err = Evaluate(ptr(now.AddDate(0, 0, 1)), now, -5, false)
	require.NoError(t, err)
	assert.Equal(t, domain.CertificateStatusActive, state)
}

func TestEvaluateProperties(t *testing.T) {
	now := date(2024, 3, 10)
	for offset := -400; offset <= 400; offset++ {
		validUntil := now.AddDate(0, 0, offset)
		state, err := Evaluate(&validUntil, now, DefaultSoonThresholdDays, false)
		require.NoError(t, err)
		switch {
		case offset <= 0:
			assert.Equal(t, domain.CertificateStatusExpired, state, "offset %d", offset)
		case offset <= 30:
			assert.Equal(t, domain.CertificateStatusExpiringSoon, state, "offset %d", offset)
		default:
			assert.Equal(t, domain.CertificateStatusActive, state, "offset %d", offset)
		}
	}
}

func TestValidateWindow(t *testing.T) {
	from := date(2024, 1, 1)
	assert.NoError(t, ValidateWindow(from, ptr(from.AddDate(1, 0, 0))))
	assert.ErrorIs(t, ValidateWindow(from, ptr(from)), domain.ErrInvalidCertificateWindow)
	assert.ErrorIs(t, ValidateWindow(from, ptr(from.AddDate(0, 0, -1))), domain.ErrInvalidCertificateWindow)
	assert.ErrorIs(t, ValidateWindow(from, nil), domain.ErrInvalidCertificateWindow)
	assert.ErrorIs(t, ValidateWindow(time.Time{}, ptr(from)), domain.ErrInvalidCertificateWindow)
}

func TestEvaluatorAllIsLazyAndOrdered(t *testing.T) {
	now := date(2024, 6, 1)
	records := []domain.TrainingRecord{
		{CertificateNumber: "A", ValidUntil: ptr(now.AddDate(1, 0, 0))},
		{CertificateNumber: "B", ValidUntil: ptr(now.AddDate(0, 0, 10))},
		{CertificateNumber: "C"},
		{CertificateNumber: "D", ValidUntil: ptr(now.AddDate(0, 0, -1)), Status: domain.CertificateStatusSuperseded},
	}

	var got []domain.CertificateStatus
	var errs int
	for eval := range NewEvaluator(DefaultSoonThresholdDays).All(slices.Values(records), now) {
		if eval.Err != nil {
			errs++
			continue
		}
		got = append(got, eval.Status)
	}

	assert.Equal(t, 1, errs)
	assert.Equal(t, []domain.CertificateStatus{
		domain.CertificateStatusActive,
		domain.CertificateStatusExpiringSoon,
		domain.CertificateStatusSuperseded,
	}, got)

	seen := 0
	for range NewEvaluator(DefaultSoonThresholdDays).All(slices.Values(records), now) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestEvaluatorTreatsSuccessorLinkAsSuperseded(t *testing.T) {
	successor := domainID(42)
	record := domain.TrainingRecord{
		ValidUntil:     ptr(date(2099, 1, 1)),
		Status:         domain.CertificateStatusActive,
		SupersededByID: &successor,
	}
	state, err := NewEvaluator(30).Record(record, date(2024, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, domain.CertificateStatusSuperseded, state)
}
