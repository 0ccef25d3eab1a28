package scheduler

import (
	"context"
	"time"

	obscontext "github.com/rubenoroz/closeframe-sub002/internal/observability/context"
	obslogger "github.com/rubenoroz/closeframe-sub002/internal/observability/logger"
	obsmetrics "github.com/rubenoroz/closeframe-sub002/internal/observability/metrics"
	"github.com/rubenoroz/closeframe-sub002/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// jobRun is one execution of a job. Every log line of the run carries its
// run_id and correlation_id.
type jobRun struct {
	job       string
	id        string
	resource  string
	startedAt time.Time
	processed int
	failures  int
	log       *zap.Logger
}

func (s *Scheduler) startRun(ctx context.Context, j job) (context.Context, *jobRun) {
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	ctx, _ = correlation.EnsureCorrelationID(ctx)

	run := &jobRun{
		job:       j.name,
		id:        s.genID.Generate().String(),
		resource:  j.resource,
		startedAt: s.clock.Now(),
	}
	run.log = obslogger.WithContext(ctx, s.log).With(
		zap.String("job", run.job),
		zap.String("run_id", run.id),
	)
	run.log.Info("scheduler.job.start", zap.Int("batch_size", s.cfg.BatchSize))
	return ctx, run
}

func (r *jobRun) add(count int) {
	if count > 0 {
		r.processed += count
	}
}

func (r *jobRun) fail(msg string, err error) {
	r.failures++
	r.log.Error(msg,
		zap.String("error_type", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
}

func (r *jobRun) finish(now time.Time) {
	fields := []zap.Field{
		zap.Int64("duration_ms", now.Sub(r.startedAt).Milliseconds()),
		zap.Int("processed_count", r.processed),
		zap.Int("error_count", r.failures),
	}
	if r.failures > 0 {
		r.log.Warn("scheduler.job.finish", fields...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}
