package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	obsmetrics "github.com/smallbiznis/campaigncredit/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	"github.com/smallbiznis/campaigncredit/internal/ratelimit"
	reconciliationdomain "github.com/smallbiznis/campaigncredit/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const lockKeyPrefix = "campaigncredit:scheduler:"

// Locker grants a short exclusive lease so only one replica runs a job.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Log               *zap.Logger
	OrderSvc          orderdomain.Service
	ReconciliationSvc reconciliationdomain.Service
	GenID             *snowflake.Node
	Locker            *ratelimit.Locker `optional:"true"`
	Clock             clock.Clock       `optional:"true"`
	Config            Config            `optional:"true"`
}

type Scheduler struct {
	log               *zap.Logger
	cfg               Config
	genID             *snowflake.Node
	clock             clock.Clock
	locker            Locker
	orderSvc          orderdomain.Service
	reconciliationSvc reconciliationdomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.OrderSvc == nil || p.ReconciliationSvc == nil || p.GenID == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:               p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:               p.Config.withDefaults(),
		genID:             p.GenID,
		clock:             p.Clock,
		orderSvc:          p.OrderSvc,
		reconciliationSvc: p.ReconciliationSvc,
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s, nil
}

// WithLocker swaps the lease provider; nil disables locking.
func (s *Scheduler) WithLocker(locker Locker) *Scheduler {
	s.locker = locker
	return s
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, r *run) error,
) error {
	schedMetrics := obsmetrics.Scheduler()

	release, ok := s.acquire(parent, name)
	if !ok {
		schedMetrics.IncLockSkipped(name)
		s.log.Debug("scheduler job skipped", zap.String("job", name), zap.String("reason", "lock_held"))
		return nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	ctx, r := s.startRun(ctx, name)
	schedMetrics.IncJobRun(name)

	err := fn(ctx, r)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(r.startedAt))
	schedMetrics.AddBatchProcessed(name, r.processed)
	s.finishRun(r, err)
	if err == nil {
		return nil
	}

	schedMetrics.IncJobError(name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		// the next tick picks up whatever is left
		r.log.Warn("scheduler job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the job lease. Without a locker, or when redis is unreachable,
// the job runs anyway since both jobs are guarded by conditional updates.
func (s *Scheduler) acquire(ctx context.Context, name string) (func(), bool) {
	noop := func() {}
	if s.locker == nil {
		return noop, true
	}
	key := lockKeyPrefix + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("scheduler lock unavailable, running unlocked", zap.String("job", name), zap.Error(err))
		return noop, true
	}
	if !ok {
		return noop, false
	}
	return func() {
		err := s.locker.Release(context.WithoutCancel(ctx), key, token)
		switch {
		case errors.Is(err, ratelimit.ErrLeaseLost):
			s.log.Warn("scheduler lease expired before the job finished", zap.String("job", name), zap.Duration("lock_ttl", s.cfg.LockTTL))
		case err != nil:
			s.log.Warn("scheduler lock release failed", zap.String("job", name), zap.Error(err))
		}
	}, true
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(ctx context.Context, r *run) error
	}{
		{JobExpireOrders, s.expireOrders},
		{JobReplayNotifications, s.replayNotifications},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		if parent.Err() != nil {
			return errors.Join(err, parent.Err())
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
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
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// expireOrders moves pending orders past their TTL and grace window out of
// pending, one batch at a time until a batch comes back short.
func (s *Scheduler) expireOrders(ctx context.Context, r *run) error {
	for ctx.Err() == nil {
		expired, err := s.orderSvc.ExpireStale(ctx, s.cfg.BatchSize)
		if err != nil {
			r.fail("expire stale orders failed", err)
			return err
		}
		r.add(expired)
		if expired < s.cfg.BatchSize {
			return nil
		}
	}
	return ctx.Err()
}

// replayNotifications re-runs deferred payment notifications whose backoff
// has elapsed.
func (s *Scheduler) replayNotifications(ctx context.Context, r *run) error {
	summary, err := s.reconciliationSvc.ReplayDue(ctx, s.cfg.BatchSize)
	if err != nil {
		r.fail("replay payment notifications failed", err)
		return err
	}
	if summary == nil {
		return nil
	}
	r.add(summary.Processed)
	if summary.Dead > 0 {
		r.log.Warn("payment notifications dead-lettered",
			zap.Int("dead", summary.Dead),
			zap.Int("retried", summary.Retried),
		)
	}
	return nil
}
