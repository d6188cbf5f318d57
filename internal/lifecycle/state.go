// Package lifecycle derives certificate state from validity windows.
//
// Stored statuses are caches. Anything that makes a decision calls Evaluate
// with an explicit reference time instead of trusting the stored column.
package lifecycle

import (
	"iter"
	"time"

	"github.com/smallbiznis/aerocert/internal/certification/domain"
)

const DefaultSoonThresholdDays = 30

// Evaluate maps a validity end date to a lifecycle state at now. A superseded
// record is terminal and ignores its dates.
func Evaluate(validUntil *time.Time, now time.Time, soonThresholdDays int, superseded bool) (domain.CertificateStatus, error) {
	if superseded {
		return domain.CertificateStatusSuperseded, nil
	}
	if validUntil == nil || validUntil.IsZero() {
		return "", domain.ErrInvalidCertificateWindow
	}
	if soonThresholdDays < 0 {
		soonThresholdDays = 0
	}

	days := DaysUntil(*validUntil, now)
	switch {
	case days <= 0:
		return domain.CertificateStatusExpired, nil
	case days <= soonThresholdDays:
		return domain.CertificateStatusExpiringSoon, nil
	default:
		return domain.CertificateStatusActive, nil
	}
}

// DaysUntil counts calendar days (UTC) from now to target. Zero means same day.
func DaysUntil(target, now time.Time) int {
	t := truncateToDay(target)
	n := truncateToDay(now)
	return int(t.Sub(n).Hours() / 24)
}

// ValidateWindow checks that a validity window is present and not inverted.
func ValidateWindow(validFrom time.Time, validUntil *time.Time) error {
	if validFrom.IsZero() || validUntil == nil || validUntil.IsZero() {
		return domain.ErrInvalidCertificateWindow
	}
	if !validUntil.After(validFrom) {
		return domain.ErrInvalidCertificateWindow
	}
	return nil
}

// Evaluator binds the expiring-soon threshold for repeated evaluation.
type Evaluator struct {
	soonThresholdDays int
}

func NewEvaluator(soonThresholdDays int) Evaluator {
	if soonThresholdDays < 0 {
		soonThresholdDays = 0
	}
	return Evaluator{soonThresholdDays: soonThresholdDays}
}

func (e Evaluator) ThresholdDays() int {
	return e.soonThresholdDays
}

// Record evaluates a single training record.
func (e Evaluator) Record(record domain.TrainingRecord, now time.Time) (domain.CertificateStatus, error) {
	return Evaluate(record.ValidUntil, now, e.soonThresholdDays, record.IsSuperseded())
}

type Evaluation struct {
	Record domain.TrainingRecord
	Status domain.CertificateStatus
	Err    error
}

// All lazily evaluates every record of the sequence against the same now.
func (e Evaluator) All(records iter.Seq[domain.TrainingRecord], now time.Time) iter.Seq[Evaluation] {
	return func(yield func(Evaluation) bool) {
		for record := range records {
			status, err := e.Record(record, now)
			if !yield(Evaluation{Record: record, Status: status, Err: err}) {
				return
			}
		}
	}
}

func truncateToDay(value time.Time) time.Time {
	value = value.UTC()
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}
