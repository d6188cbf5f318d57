package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonDeadlock             = "deadlock"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonDB                   = "db"
	SchedulerJobReasonUnknown              = "unknown"

	SchedulerBatchDeferredReasonLockHeld        = "lock_held"
	SchedulerBatchDeferredReasonInvalidWindow   = "invalid_window"
	SchedulerBatchDeferredReasonVersionConflict = "version_conflict"
)

const namespace = "aerocert"

// LockResourceRenewalKey labels waits on the per-record renewal lock.
const LockResourceRenewalKey = "renewal_key"

// SchedulerMetrics captures background job health signals.
type SchedulerMetrics struct {
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobTimeouts       *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	batchProcessed    *prometheus.CounterVec
	batchDeferred     *prometheus.CounterVec
	runLoopLag        prometheus.Histogram
	statusTransitions *prometheus.CounterVec
	dbLockWait        *prometheus.HistogramVec
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// NewSchedulerMetricsForTest builds an unshared registry-backed instance.
func NewSchedulerMetricsForTest(registerer prometheus.Registerer) *SchedulerMetrics {
	return newSchedulerMetrics(registerer, Config{ServiceName: "aerocert", Environment: "test"})
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	labels := prometheus.Labels{"service": cfg.serviceName(), "env": environment}
	factory := promauto.With(registerer)

	counter := func(subsystem, name, help string, vars ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, vars)
	}
	histogramOpts := func(subsystem, name, help string, buckets []float64) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			Buckets:     buckets,
			ConstLabels: labels,
		}
	}

	jobDuration := factory.NewHistogramVec(histogramOpts("scheduler", "job_duration_seconds",
		"Scheduler job latency.",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600}), []string{"job"})
	runLoopLag := factory.NewHistogram(histogramOpts("scheduler", "runloop_lag_seconds",
		"Scheduler run loop lag beyond the configured interval.",
		[]float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300}))
	dbLockWait := factory.NewHistogramVec(histogramOpts("db", "lock_wait_seconds",
		"Time spent acquiring row or key locks.",
		[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}), []string{"resource"})

	return &SchedulerMetrics{
		jobRuns:           counter("scheduler", "job_runs_total", "Scheduler job runs by name.", "job"),
		jobDuration:       jobDuration,
		jobTimeouts:       counter("scheduler", "job_timeouts_total", "Scheduler job runs that hit their deadline.", "job"),
		jobErrors:         counter("scheduler", "job_errors_total", "Scheduler job errors by low-cardinality reason.", "job", "reason"),
		batchProcessed:    counter("scheduler", "batch_processed_total", "Items processed by scheduler batches.", "job", "resource"),
		batchDeferred:     counter("scheduler", "batch_deferred_total", "Scheduler batch items skipped for a later run.", "job", "reason"),
		runLoopLag:        runLoopLag,
		statusTransitions: counter("certificate", "status_transitions_total", "Stored certificate status corrections applied by the recompute pass.", "from", "to"),
		dbLockWait:        dbLockWait,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

// AddBatchProcessed increments the batch processed counter for a resource by count.
func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

// AddBatchDeferred counts items left for the next run.
func (m *SchedulerMetrics) AddBatchDeferred(job, reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// AddStatusTransitions counts stored status corrections from one state to another.
func (m *SchedulerMetrics) AddStatusTransitions(from, to string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Add(float64(count))
}

// ObserveDBLockWait records lock acquisition time.
func (m *SchedulerMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// IsSchedulerErrorRetryable reports whether the scheduler error should be retried.
func IsSchedulerErrorRetryable(err error) bool {
	switch ClassifySchedulerJobReason(err) {
	case SchedulerJobReasonDeadlineExceeded,
		SchedulerJobReasonDBLockTimeout,
		SchedulerJobReasonSerializationFailure,
		SchedulerJobReasonDeadlock:
		return true
	default:
		return false
	}
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	if err == nil {
		return SchedulerJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SchedulerJobReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return SchedulerJobReasonUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return SchedulerJobReasonDBLockTimeout
		case "40001":
			return SchedulerJobReasonSerializationFailure
		case "40P01":
			return SchedulerJobReasonDeadlock
		case "23505":
			return SchedulerJobReasonUniqueViolation
		default:
			return SchedulerJobReasonDB
		}
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) {
		return SchedulerJobReasonDB
	}
	return SchedulerJobReasonUnknown
}
