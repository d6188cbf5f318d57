package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	analyticsdomain "github.com/smallbiznis/aerocert/internal/analytics/domain"
	certdomain "github.com/smallbiznis/aerocert/internal/certification/domain"
	"github.com/smallbiznis/aerocert/internal/clock"
	"github.com/smallbiznis/aerocert/internal/lock"
	obsmetrics "github.com/smallbiznis/aerocert/internal/observability/metrics"
	"go.uber.org/zap"
)

type fakeCertification struct {
	certdomain.Service

	mu     sync.Mutex
	calls  int
	result certdomain.RecomputeResult
	err    error
}

func (f *fakeCertification) RecomputeStatuses(ctx context.Context, batchSize int) (certdomain.RecomputeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeAnalytics struct {
	analyticsdomain.Service

	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAnalytics) Dashboard(ctx context.Context) (analyticsdomain.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return analyticsdomain.Dashboard{RecordsScanned: 3}, f.err
}

type harness struct {
	sched    *Scheduler
	cert     *fakeCertification
	analytic *fakeAnalytics
	locker   *lock.LocalLocker
	registry *prometheus.Registry
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))
	registry := prometheus.NewRegistry()
	h := &harness{
		cert:     &fakeCertification{},
		analytic: &fakeAnalytics{},
		locker:   lock.NewLocalLocker(clk),
		registry: registry,
	}
	h.sched, err = New(Params{
		Log:              zap.NewNop(),
		Certification:    h.cert,
		Analytics:        h.analytic,
		GenID:            node,
		Clock:            clk,
		Config:           cfg,
		Locker:           h.locker,
		SchedulerMetrics: obsmetrics.NewSchedulerMetricsForTest(registry),
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return h
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	h := newHarness(t, Config{})

	err := h.sched.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "aerocert",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, h.registry, "aerocert_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "aerocert",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, h.registry, "aerocert_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunOnceRunsEveryJobByDefault(t *testing.T) {
	h := newHarness(t, Config{})

	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if h.cert.calls != 1 || h.analytic.calls != 1 {
		t.Fatalf("expected one call per job, got recompute=%d metrics=%d", h.cert.calls, h.analytic.calls)
	}

	for _, job := range []string{JobRecomputeStatuses, JobComplianceMetrics} {
		labels := map[string]string{"service": "aerocert", "env": "test", "job": job}
		if got := getCounterValue(t, h.registry, "aerocert_scheduler_job_runs_total", labels); got != 1 {
			t.Fatalf("expected %s run count 1, got %v", job, got)
		}
	}
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	h := newHarness(t, Config{EnabledJobs: []string{" Compliance_Metrics "}})

	if err := h.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if h.cert.calls != 0 {
		t.Fatalf("recompute should be disabled, got %d calls", h.cert.calls)
	}
	if h.analytic.calls != 1 {
		t.Fatalf("expected compliance metrics to run once, got %d", h.analytic.calls)
	}
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	h := newHarness(t, Config{})
	boom := errors.New("db down")
	h.cert.err = boom

	err := h.sched.RunOnce(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined job error, got %v", err)
	}
	if h.analytic.calls != 1 {
		t.Fatalf("a failed job must not stop the next one, got %d metrics calls", h.analytic.calls)
	}
}

func TestRunOnceSkipsJobWhenKeyHeld(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	token, ok, err := h.locker.TryLock(ctx, jobLockKey(JobRecomputeStatuses), time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}
	defer func() { _ = h.locker.Release(ctx, jobLockKey(JobRecomputeStatuses), token) }()

	if err := h.sched.RunOnce(ctx); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if h.cert.calls != 0 {
		t.Fatalf("recompute ran while another instance held the key")
	}
	if h.analytic.calls != 1 {
		t.Fatalf("expected compliance metrics to run, got %d", h.analytic.calls)
	}

	labels := map[string]string{
		"service": "aerocert",
		"env":     "test",
		"job":     JobRecomputeStatuses,
		"reason":  obsmetrics.SchedulerBatchDeferredReasonLockHeld,
	}
	if got := getCounterValue(t, h.registry, "aerocert_scheduler_batch_deferred_total", labels); got != 1 {
		t.Fatalf("expected deferred count 1, got %v", got)
	}
}

func TestRunOnceStopsOnCanceledContext(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.sched.RunOnce(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if h.cert.calls != 0 || h.analytic.calls != 0 {
		t.Fatalf("no job should run after cancel")
	}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	if _, err := New(Params{Log: zap.NewNop()}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{RunInterval: time.Minute}.withDefaults()
	if cfg.RunInterval != time.Minute {
		t.Fatalf("explicit interval overwritten: %v", cfg.RunInterval)
	}
	if cfg.BatchSize != 500 || cfg.RecomputeTimeout != 10*time.Minute || cfg.JobLockTTL != 15*time.Minute {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
