package service

import (
	"context"
	"database/sql"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/aerocert/internal/analytics/domain"
	"github.com/smallbiznis/aerocert/internal/analytics/rollup"
	certdomain "github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/clock"
	"github.com/smallbiznis/aerocert/internal/compliance"
	"github.com/smallbiznis/aerocert/internal/config"
	"github.com/smallbiznis/aerocert/internal/lifecycle"
	obslogger "github.com/smallbiznis/aerocert/internal/observability/logger"
	"github.com/smallbiznis/aerocert/internal/observability/metrics"
	"github.com/smallbiznis/aerocert/internal/observability/tracing"
	"github.com/smallbiznis/aerocert/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultBatchSize = 500

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   certdomain.Repository
	Policy *config.CompliancePolicyHolder

	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   certdomain.Repository
	policy *config.CompliancePolicyHolder

	metrics   *metrics.Metrics
	batchSize int
}

func NewService(p Params) domain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("analytics.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		policy: p.Policy,

		metrics:   p.Metrics,
		batchSize: defaultBatchSize,
	}
}

func (s *Service) calculator() *compliance.Calculator {
	return compliance.NewCalculatorFromPolicy(s.policy.Get())
}

func (s *Service) Trend(ctx context.Context, req domain.TrendRequest) (domain.TrendReport, error) {
	now := s.clock.Now()
	buckets, err := rollup.NewBuckets(req.Window, now)
	if err != nil {
		return domain.TrendReport{}, err
	}
	trend := rollup.NewTrend(buckets)

	filter := certdomain.RecordFilter{
		CreatedFrom:       &buckets.Start,
		CreatedTo:         &buckets.End,
		IncludeSuperseded: true,
	}
	scanned, err := s.fanOut(ctx, s.db, filter, func(r certdomain.TrainingRecord) error {
		trend.Add(r)
		return nil
	})
	if err != nil {
		return domain.TrendReport{}, err
	}
	s.metrics.RecordAnalyticsScan(ctx, "trend", scanned)
	return trend.Report(), nil
}

func (s *Service) StatusTrend(ctx context.Context, req domain.TrendRequest) (domain.StatusTrendReport, error) {
	now := s.clock.Now()
	buckets, err := rollup.NewBuckets(req.Window, now)
	if err != nil {
		return domain.StatusTrendReport{}, err
	}
	trend := rollup.NewStatusTrend(buckets, s.calculator().Evaluator(), now)

	filter := certdomain.RecordFilter{
		CreatedFrom:       &buckets.Start,
		CreatedTo:         &buckets.End,
		IncludeSuperseded: true,
	}
	scanned, err := s.fanOutDated(ctx, s.db, "status_trend", filter, trend.Add)
	if err != nil {
		return domain.StatusTrendReport{}, err
	}
	s.metrics.RecordAnalyticsScan(ctx, "status_trend", scanned)
	return trend.Report(), nil
}

func (s *Service) ExpiryDistribution(ctx context.Context) ([]domain.ExpiryBucket, error) {
	now := s.clock.Now()
	expiry := rollup.NewExpiry(now)
	from, to := rollup.ExpiryRange(now)

	scanned, err := s.fanOut(ctx, s.db, certdomain.RecordFilter{
		ValidUntilFrom: &from,
		ValidUntilTo:   &to,
	}, expiry.Add)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAnalyticsScan(ctx, "expiry_distribution", scanned)
	return expiry.Buckets(), nil
}

func (s *Service) Breakdown(ctx context.Context, req domain.BreakdownRequest) ([]domain.BreakdownRow, error) {
	now := s.clock.Now()
	department := strings.TrimSpace(req.Department)
	var rows []domain.BreakdownRow

	err := s.readSnapshot(ctx, func(tx *gorm.DB) error {
		employees, err := s.repo.ListEmployees(ctx, tx, certdomain.EmployeeFilter{Department: department})
		if err != nil {
			return err
		}
		types, err := s.repo.ListTrainingTypes(ctx, tx, certdomain.TrainingTypeFilter{})
		if err != nil {
			return err
		}
		breakdown, err := rollup.NewBreakdown(req.Kind, s.calculator(), employees, types, now)
		if err != nil {
			return err
		}

		scanned, err := s.fanOutDated(ctx, tx, "breakdown", certdomain.RecordFilter{Department: department}, breakdown.Add)
		if err != nil {
			return err
		}
		s.metrics.RecordAnalyticsScan(ctx, "breakdown", scanned)

		rows, err = breakdown.Rows()
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) EmployeeCompliance(ctx context.Context, employeeID string) (domain.EmployeeComplianceReport, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(employeeID))
	if err != nil || id == 0 {
		return domain.EmployeeComplianceReport{}, certdomain.ErrEmployeeNotFound
	}
	now := s.clock.Now()
	calc := s.calculator()
	var report domain.EmployeeComplianceReport

	err = s.readSnapshot(ctx, func(tx *gorm.DB) error {
		employee, err := s.repo.FindEmployeeByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if employee == nil {
			return certdomain.ErrEmployeeNotFound
		}
		types, err := s.repo.ListTrainingTypes(ctx, tx, certdomain.TrainingTypeFilter{OnlyActive: true, OnlyMandatory: true})
		if err != nil {
			return err
		}
		records, err := s.repo.ListRecords(ctx, tx, certdomain.RecordFilter{EmployeeIDs: []snowflake.ID{id}})
		if err != nil {
			return err
		}
		checks, err := s.repo.ListBackgroundChecks(ctx, tx, []snowflake.ID{id})
		if err != nil {
			return err
		}

		result, err := calc.Employee(*employee, compliance.MandatoryTypes(types), records, now)
		if err != nil {
			return err
		}
		views, cleared, err := backgroundViews(checks, now)
		if err != nil {
			return err
		}

		report = domain.EmployeeComplianceReport{
			EmployeeID:       employee.ID.String(),
			EmployeeNumber:   employee.EmployeeNumber,
			Department:       employee.Department,
			Compliance:       result,
			BackgroundChecks: views,
			BackgroundClear:  cleared,
		}
		return nil
	})
	if err != nil {
		return domain.EmployeeComplianceReport{}, err
	}

	s.metrics.RecordComplianceComputation(ctx, string(compliance.PopulationEmployee), string(report.Compliance.Classification), report.Compliance.Rate)
	return report, nil
}

// Dashboard computes the organization snapshot, the expiry distribution and
// both breakdowns from a single pass over the current records.
func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	ctx, span := tracing.Start(ctx, "analytics.dashboard")
	defer span.End()

	now := s.clock.Now()
	calc := s.calculator()
	dashboard := domain.Dashboard{GeneratedAt: now}

	err := s.readSnapshot(ctx, func(tx *gorm.DB) error {
		employees, err := s.repo.ListEmployees(ctx, tx, certdomain.EmployeeFilter{})
		if err != nil {
			return err
		}
		types, err := s.repo.ListTrainingTypes(ctx, tx, certdomain.TrainingTypeFilter{})
		if err != nil {
			return err
		}

		coverage, err := calc.NewCoverage(compliance.MandatoryTypes(types), now)
		if err != nil {
			return err
		}
		departments, err := rollup.NewBreakdown(domain.BreakdownDepartment, calc, employees, types, now)
		if err != nil {
			return err
		}
		trainingTypes, err := rollup.NewBreakdown(domain.BreakdownTrainingType, calc, employees, types, now)
		if err != nil {
			return err
		}
		expiry := rollup.NewExpiry(now)
		expiryFrom, expiryTo := rollup.ExpiryRange(now)
		expiryAdd := func(r certdomain.TrainingRecord) error {
			if r.ValidUntil == nil || r.ValidUntil.Before(expiryFrom) || !r.ValidUntil.Before(expiryTo) {
				return nil
			}
			return expiry.Add(r)
		}

		scanned, err := s.fanOutDated(ctx, tx, "dashboard", certdomain.RecordFilter{},
			coverage.Add,
			departments.Add,
			trainingTypes.Add,
			expiryAdd,
		)
		if err != nil {
			return err
		}
		dashboard.RecordsScanned = scanned

		if dashboard.Organization, err = coverage.Organization(employees); err != nil {
			return err
		}
		if dashboard.Departments, err = departments.Rows(); err != nil {
			return err
		}
		if dashboard.TrainingTypes, err = trainingTypes.Rows(); err != nil {
			return err
		}
		dashboard.ExpiryDistribution = expiry.Buckets()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return domain.Dashboard{}, err
	}

	org := dashboard.Organization
	s.metrics.RecordAnalyticsScan(ctx, "dashboard", dashboard.RecordsScanned)
	s.metrics.RecordComplianceComputation(ctx, string(org.Kind), string(org.Classification), org.Rate)
	for _, row := range dashboard.Departments {
		s.metrics.RecordComplianceComputation(ctx, string(compliance.PopulationDepartment), string(row.Classification), row.ComplianceRate)
	}
	span.SetAttributes(
		attribute.Int("records_scanned", dashboard.RecordsScanned),
		attribute.Float64("organization_rate", org.Rate),
	)
	s.log.Debug("dashboard computed",
		zap.Int("records_scanned", dashboard.RecordsScanned),
		zap.Float64("organization_rate", org.Rate),
		zap.String("classification", string(org.Classification)),
	)
	return dashboard, nil
}

// readSnapshot runs fn in one read transaction so every query of a report
// sees the same data. SQLite has no isolation levels to ask for.
func (s *Service) readSnapshot(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if !db.SupportsRowLocks(s.db) {
		return s.db.WithContext(ctx).Transaction(fn)
	}
	return s.db.WithContext(ctx).Transaction(fn, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
}

// fanOut streams matching records once and feeds every sink from its own
// goroutine. Batches are shared read-only between sinks.
func (s *Service) fanOut(ctx context.Context, conn *gorm.DB, filter certdomain.RecordFilter, sinks ...func(certdomain.TrainingRecord) error) (int, error) {
	return s.fanOutWhere(ctx, conn, filter, nil, sinks...)
}

// fanOutDated is fanOut for reports that derive certificate state. Records
// without a validity end are logged and left out, as the status recompute
// job does.
func (s *Service) fanOutDated(ctx context.Context, conn *gorm.DB, report string, filter certdomain.RecordFilter, sinks ...func(certdomain.TrainingRecord) error) (int, error) {
	log := obslogger.WithContext(ctx, s.log).With(zap.String("report", report))
	now := s.clock.Now()
	dated := func(r certdomain.TrainingRecord) bool {
		if _, err := lifecycle.Evaluate(r.ValidUntil, now, 0, r.IsSuperseded()); err != nil {
			obslogger.WithRecord(log, r.ID.String()).Warn("cannot derive status", zap.Error(err))
			return false
		}
		return true
	}
	return s.fanOutWhere(ctx, conn, filter, dated, sinks...)
}

func (s *Service) fanOutWhere(ctx context.Context, conn *gorm.DB, filter certdomain.RecordFilter, keep func(certdomain.TrainingRecord) bool, sinks ...func(certdomain.TrainingRecord) error) (int, error) {
	g, gctx := errgroup.WithContext(ctx)

	feeds := make([]chan []certdomain.TrainingRecord, len(sinks))
	for i, sink := range sinks {
		feed := make(chan []certdomain.TrainingRecord, 1)
		feeds[i] = feed
		g.Go(func() error {
			for batch := range feed {
				for _, record := range batch {
					if err := sink(record); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	scanned := 0
	g.Go(func() error {
		defer func() {
			for _, feed := range feeds {
				close(feed)
			}
		}()
		return s.repo.StreamRecords(gctx, conn, filter, s.batchSize, func(batch []certdomain.TrainingRecord) error {
			scanned += len(batch)
			if keep != nil {
				batch = slices.DeleteFunc(slices.Clone(batch), func(r certdomain.TrainingRecord) bool { return !keep(r) })
			}
			for _, feed := range feeds {
				select {
				case feed <- batch:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		return scanned, err
	}
	return scanned, nil
}

func backgroundViews(checks []certdomain.BackgroundCheck, now time.Time) ([]domain.BackgroundCheckView, bool, error) {
	views := make([]domain.BackgroundCheckView, 0, len(checks))
	cleared := len(checks) > 0
	for _, check := range checks {
		status, err := lifecycle.EvaluateBackgroundCheck(check, now)
		if err != nil {
			return nil, false, err
		}
		if status != lifecycle.BackgroundCheckValid {
			cleared = false
		}
		views = append(views, domain.BackgroundCheckView{
			ID:         check.ID.String(),
			CheckType:  check.CheckType,
			Result:     check.Result,
			Status:     status,
			ValidUntil: check.ValidUntil,
		})
	}
	return views, cleared, nil
}
