package lifecycle

import (
	"time"

	"github.com/smallbiznis/aerocert/internal/certification/domain"
)

type BackgroundCheckStatus string

const (
	BackgroundCheckValid      BackgroundCheckStatus = "valid"
	BackgroundCheckExpired    BackgroundCheckStatus = "expired"
	BackgroundCheckNotCleared BackgroundCheckStatus = "not_cleared"
)

// EvaluateBackgroundCheck derives validity from the check window. A passed
// check past its end date is expired even if the stored result still says
// passed.
func EvaluateBackgroundCheck(check domain.BackgroundCheck, now time.Time) (BackgroundCheckStatus, error) {
	if check.ValidUntil == nil || check.ValidUntil.IsZero() {
		return "", domain.ErrInvalidCertificateWindow
	}
	if DaysUntil(*check.ValidUntil, now) <= 0 {
		return BackgroundCheckExpired, nil
	}
	if check.Result != domain.BackgroundCheckPassed {
		return BackgroundCheckNotCleared, nil
	}
	return BackgroundCheckValid, nil
}
