package domain

import (
	"context"
	"errors"
	"time"

	certdomain "github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/compliance"
	"github.com/smallbiznis/aerocert/internal/lifecycle"
)

type Window string

const (
	Window3Months Window = "3m"
	Window6Months Window = "6m"
	Window1Year   Window = "1y"
	Window2Years  Window = "2y"
)

type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

type BreakdownKind string

const (
	BreakdownDepartment   BreakdownKind = "department"
	BreakdownTrainingType BreakdownKind = "training_type"
)

type SeriesPoint struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

type TrendReport struct {
	Window      Window        `json:"window"`
	Granularity Granularity   `json:"granularity"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Series      []SeriesPoint `json:"series"`
	Total       int           `json:"total"`
}

// StatusPoint cross-tabulates one bucket by lifecycle state. Counts always
// carries every state.
type StatusPoint struct {
	Period string                               `json:"period"`
	Counts map[certdomain.CertificateStatus]int `json:"counts"`
	Total  int                                  `json:"total"`
}

type StatusTrendReport struct {
	Window      Window        `json:"window"`
	Granularity Granularity   `json:"granularity"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Series      []StatusPoint `json:"series"`
}

type ExpiryBucket struct {
	Label string    `json:"label"`
	Month time.Time `json:"month"`
	Count int       `json:"count"`
}

type BreakdownRow struct {
	Key            string                    `json:"key"`
	Name           string                    `json:"name"`
	Population     int                       `json:"population"`
	Total          int                       `json:"total"`
	Active         int                       `json:"active"`
	ExpiringSoon   int                       `json:"expiring_soon"`
	Expired        int                       `json:"expired"`
	ComplianceRate float64                   `json:"compliance_rate"`
	Classification compliance.Classification `json:"classification"`
}

type TrendRequest struct {
	Window Window
}

type BreakdownRequest struct {
	Kind       BreakdownKind
	Department string
}

type BackgroundCheckView struct {
	ID         string                           `json:"id"`
	CheckType  string                           `json:"check_type"`
	Result     certdomain.BackgroundCheckResult `json:"result"`
	Status     lifecycle.BackgroundCheckStatus  `json:"status"`
	ValidUntil *time.Time                       `json:"valid_until,omitempty"`
}

type EmployeeComplianceReport struct {
	EmployeeID       string                    `json:"employee_id"`
	EmployeeNumber   string                    `json:"employee_number"`
	Department       string                    `json:"department"`
	Compliance       compliance.EmployeeResult `json:"compliance"`
	BackgroundChecks []BackgroundCheckView     `json:"background_checks"`
	BackgroundClear  bool                      `json:"background_clear"`
}

type Dashboard struct {
	GeneratedAt        time.Time           `json:"generated_at"`
	Organization       compliance.Snapshot `json:"organization"`
	ExpiryDistribution []ExpiryBucket      `json:"expiry_distribution"`
	Departments        []BreakdownRow      `json:"departments"`
	TrainingTypes      []BreakdownRow      `json:"training_types"`
	RecordsScanned     int                 `json:"records_scanned"`
}

type Service interface {
	Trend(ctx context.Context, req TrendRequest) (TrendReport, error)
	StatusTrend(ctx context.Context, req TrendRequest) (StatusTrendReport, error)
	ExpiryDistribution(ctx context.Context) ([]ExpiryBucket, error)
	Breakdown(ctx context.Context, req BreakdownRequest) ([]BreakdownRow, error)
	EmployeeCompliance(ctx context.Context, employeeID string) (EmployeeComplianceReport, error)
	Dashboard(ctx context.Context) (Dashboard, error)
}

var (
	ErrInvalidWindow        = errors.New("invalid_window")
	ErrInvalidBreakdownKind = errors.New("invalid_breakdown_kind")
)
