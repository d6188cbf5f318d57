package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	analyticsdomain "github.com/smallbiznis/aerocert/internal/analytics/domain"
	auditdomain "github.com/smallbiznis/aerocert/internal/audit/domain"
	certdomain "github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/clock"
	"github.com/smallbiznis/aerocert/internal/lock"
	obsmetrics "github.com/smallbiznis/aerocert/internal/observability/metrics"
	"github.com/smallbiznis/aerocert/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log           *zap.Logger
	Certification certdomain.Service
	Analytics     analyticsdomain.Service
	GenID         *snowflake.Node
	Clock         clock.Clock
	Config        Config      `optional:"true"`
	Locker        lock.Locker `optional:"true"`

	SchedulerMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

// Scheduler runs the periodic maintenance jobs: the stored status recompute
// and the compliance metrics snapshot.
type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	genID         *snowflake.Node
	clock         clock.Clock
	certification certdomain.Service
	analytics     analyticsdomain.Service
	locker        lock.Locker
	metrics       *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Certification == nil || p.Analytics == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewLocalLocker(p.Clock)
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:           p.Config.withDefaults(),
		genID:         p.GenID,
		clock:         p.Clock,
		certification: p.Certification,
		analytics:     p.Analytics,
		locker:        locker,
		metrics:       p.SchedulerMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = correlation.ContextWithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	ctx, run, finish := s.beginRun(ctx, name, batchSize)
	log := s.logger(ctx)
	s.metrics.IncJobRun(name)

	err := s.withJobLock(ctx, run, fn)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil && run.failures == 0 {
		run.fail()
	}
	finish()
	if err == nil {
		return nil
	}

	// a deadline is a soft timeout, the next tick picks the work up again
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobRecomputeStatuses, func(ctx context.Context) error {
			return s.runJob(ctx, JobRecomputeStatuses, s.cfg.BatchSize, s.cfg.RecomputeTimeout, s.RecomputeStatusesJob)
		}},
		{JobComplianceMetrics, func(ctx context.Context) error {
			return s.runJob(ctx, JobComplianceMetrics, 1, s.cfg.MetricsTimeout, s.ComplianceMetricsJob)
		}},
	}

	for _, job := range jobs {
		if parent.Err() != nil {
			return errors.Join(err, parent.Err())
		}
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// RecomputeStatusesJob refreshes the stored status of every current record
// against the clock.
func (s *Scheduler) RecomputeStatusesJob(ctx context.Context) error {
	ctx, run, finish := s.beginRun(ctx, JobRecomputeStatuses, s.cfg.BatchSize)
	defer finish()

	result, err := s.certification.RecomputeStatuses(ctx, s.cfg.BatchSize)
	run.addProcessed(result.Scanned)
	if err != nil {
		s.logJobError(ctx, "scheduler.recompute.failed", err)
		return err
	}
	s.logger(ctx).Info("scheduler.recompute.summary",
		zap.Int("scanned", result.Scanned),
		zap.Int("corrected", result.Corrected),
		zap.Int("invalid", result.Invalid),
		zap.Int("conflicts", result.Conflicts),
		zap.Any("by_status", result.ByStatus),
	)
	return nil
}

// ComplianceMetricsJob computes the dashboard snapshot so the compliance
// gauges and logs reflect the current organization state.
func (s *Scheduler) ComplianceMetricsJob(ctx context.Context) error {
	ctx, run, finish := s.beginRun(ctx, JobComplianceMetrics, 1)
	defer finish()

	dashboard, err := s.analytics.Dashboard(ctx)
	if err != nil {
		s.logJobError(ctx, "scheduler.compliance_metrics.failed", err)
		return err
	}
	run.addProcessed(dashboard.RecordsScanned)

	fields := []zap.Field{
		zap.Int("records_scanned", dashboard.RecordsScanned),
		zap.Float64("organization_rate", dashboard.Organization.Rate),
		zap.String("classification", string(dashboard.Organization.Classification)),
		zap.Int("departments", len(dashboard.Departments)),
	}
	if len(dashboard.ExpiryDistribution) > 0 {
		fields = append(fields, zap.Int("expiring_this_month", dashboard.ExpiryDistribution[0].Count))
	}
	s.logger(ctx).Info("scheduler.compliance_metrics.summary", fields...)
	return nil
}
