package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/aerocert/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/aerocert/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun is the bookkeeping of one job execution, shared through the context
// between runJob and the job body.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	processed int
	failures  int
}

type jobRunKey struct{}

func (r *jobRun) addProcessed(n int) {
	if r != nil && n > 0 {
		r.processed += n
	}
}

func (r *jobRun) fail() {
	if r != nil {
		r.failures++
	}
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	run, _ := ctx.Value(jobRunKey{}).(*jobRun)
	return run
}

// beginRun attaches a run to ctx and logs its start. When ctx already carries
// a run the job body joins it, and the returned finish is a no-op, so each
// execution logs exactly one start/finish pair.
func (s *Scheduler) beginRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if run := jobRunFromContext(ctx); run != nil {
		return ctx, run, func() {}
	}

	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	s.logger(ctx).Info("scheduler.job.start", zap.Int("batch_size", batchSize))

	return ctx, run, func() {
		fields := []zap.Field{
			zap.Int64("duration_ms", s.clock.Now().Sub(run.startedAt).Milliseconds()),
			zap.Int("processed_count", run.processed),
			zap.Int("error_count", run.failures),
		}
		if run.failures > 0 {
			s.logger(ctx).Warn("scheduler.job.finish", fields...)
			return
		}
		s.logger(ctx).Info("scheduler.job.finish", fields...)
	}
}

// logger carries the correlation fields and, inside a run, the job and run id.
func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	log := obslogger.WithContext(ctx, s.log)
	if run := jobRunFromContext(ctx); run != nil {
		log = obslogger.WithJob(log, run.job, run.runID)
	}
	return log
}

func (s *Scheduler) logJobError(ctx context.Context, msg string, err error) {
	if err == nil {
		return
	}
	jobRunFromContext(ctx).fail()
	s.logger(ctx).Error(msg,
		zap.String("error_type", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}
