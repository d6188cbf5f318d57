package scheduler

import (
	"context"
	"errors"

	"github.com/smallbiznis/aerocert/internal/lock"
	obsmetrics "github.com/smallbiznis/aerocert/internal/observability/metrics"
	"go.uber.org/zap"
)

const lockResourceSchedulerJob = "scheduler_job"

func jobLockKey(job string) string {
	return "scheduler:job:" + job
}

// withJobLock runs fn only when this instance holds the job key, so two
// replicas never scan the same table at once. A held key skips the run.
func (s *Scheduler) withJobLock(ctx context.Context, run *jobRun, fn func(context.Context) error) error {
	start := s.clock.Now()
	release, err := lock.Acquire(ctx, s.locker, s.clock, jobLockKey(run.job), lock.AcquireOptions{
		TTL: s.cfg.JobLockTTL,
	})
	s.metrics.ObserveDBLockWait(lockResourceSchedulerJob, s.clock.Now().Sub(start))
	if errors.Is(err, lock.ErrNotAcquired) {
		s.metrics.AddBatchDeferred(run.job, obsmetrics.SchedulerBatchDeferredReasonLockHeld, 1)
		s.logger(ctx).Info("scheduler.job.skipped",
			zap.String("reason", obsmetrics.SchedulerBatchDeferredReasonLockHeld),
		)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger(ctx).Warn("scheduler.job.unlock_failed", zap.Error(err))
		}
	}()

	return fn(ctx)
}
