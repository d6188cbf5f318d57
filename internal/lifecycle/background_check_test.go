package lifecycle

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func domainID(v int64) snowflake.ID { return snowflake.ID(v) }

func TestEvaluateBackgroundCheck(t *testing.T) {
	now := date(2024, 6, 1)

	passed := domain.BackgroundCheck{Result: domain.BackgroundCheckPassed, ValidFrom: date(2023, 6, 1), ValidUntil: ptr(date(2025, 6, 1))}
	status, err := EvaluateBackgroundCheck(passed, now)
	require.NoError(t, err)
	assert.Equal(t, BackgroundCheckValid, status)

	// stored result still says passed but the window has closed
	stale := passed
	stale.ValidUntil = ptr(now)
	status, err = EvaluateBackgroundCheck(stale, now)
	require.NoError(t, err)
	assert.Equal(t, BackgroundCheckExpired, status)

	pending := passed
	pending.Result = domain.BackgroundCheckPending
	status, err = EvaluateBackgroundCheck(pending, now)
	require.NoError(t, err)
	assert.Equal(t, BackgroundCheckNotCleared, status)

	missing := passed
	missing.ValidUntil = nil
	_, err = EvaluateBackgroundCheck(missing, now)
	assert.ErrorIs(t, err, domain.ErrInvalidCertificateWindow)
}
