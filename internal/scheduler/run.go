package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/campaigncredit/internal/observability/context"
	obslogger "github.com/smallbiznis/campaigncredit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/campaigncredit/internal/observability/metrics"
	"go.uber.org/zap"
)

// run is the bookkeeping for a single job execution. Jobs report progress on
// it and the scheduler turns it into the summary log line and batch metrics.
type run struct {
	job       string
	id        string
	startedAt time.Time
	processed int
	failures  int
	log       *zap.Logger
}

func (s *Scheduler) startRun(ctx context.Context, job string) (context.Context, *run) {
	r := &run{
		job:       job,
		id:        s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	ctx = obscontext.WithRequestID(ctx, r.id)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	r.log = obslogger.WithContext(ctx, s.log).With(
		zap.String("job", job),
		zap.String("run_id", r.id),
	)
	r.log.Info("scheduler job started", zap.Int("batch_size", s.cfg.BatchSize))
	return ctx, r
}

func (r *run) add(n int) {
	if n > 0 {
		r.processed += n
	}
}

// fail records a job-level failure. The error is still returned by the job.
func (r *run) fail(msg string, err error, fields ...zap.Field) {
	r.failures++
	fields = append(fields,
		zap.String("error_type", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	)
	r.log.Error(msg, fields...)
}

func (s *Scheduler) finishRun(r *run, err error) {
	if err != nil && r.failures == 0 {
		r.failures = 1
	}
	elapsed := s.clock.Now().Sub(r.startedAt)
	level := zap.InfoLevel
	if r.failures > 0 {
		level = zap.WarnLevel
	}
	if ce := r.log.Check(level, "scheduler job finished"); ce != nil {
		ce.Write(
			zap.Duration("elapsed", elapsed),
			zap.Int("processed", r.processed),
			zap.Int("failures", r.failures),
		)
	}
}
