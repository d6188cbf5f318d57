package compliance

import (
	"math"

	"github.com/smallbiznis/aerocert/internal/config"
)

type Classification string

const (
	ClassificationExcellent Classification = "excellent"
	ClassificationGood      Classification = "good"
	ClassificationWarning   Classification = "warning"
	ClassificationCritical  Classification = "critical"
)

// Thresholds are inclusive lower bounds for each named bucket.
type Thresholds struct {
	Excellent float64
	Good      float64
	Warning   float64
}

func DefaultThresholds() Thresholds {
	return ThresholdsFromPolicy(config.DefaultCompliancePolicy().Classification)
}

func ThresholdsFromPolicy(policy config.ClassificationPolicy) Thresholds {
	return Thresholds{
		Excellent: policy.Excellent,
		Good:      policy.Good,
		Warning:   policy.Warning,
	}
}

func Classify(rate float64, th Thresholds) Classification {
	switch {
	case rate >= th.Excellent:
		return ClassificationExcellent
	case rate >= th.Good:
		return ClassificationGood
	case rate >= th.Warning:
		return ClassificationWarning
	default:
		return ClassificationCritical
	}
}

// Rate returns satisfied/total as a percentage rounded to one decimal.
// An empty population yields 0.
func Rate(satisfied, total int) float64 {
	if total <= 0 || satisfied <= 0 {
		return 0
	}
	if satisfied >= total {
		return 100
	}
	return RoundRate(float64(satisfied) * 100 / float64(total))
}

func RoundRate(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return math.Round(value*10) / 10
}
