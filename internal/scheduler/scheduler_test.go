package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	reconciliationdomain "github.com/smallbiznis/campaigncredit/internal/reconciliation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeOrders struct {
	orderdomain.Service
	results []int
	calls   int
	err     error
}

func (f *fakeOrders) ExpireStale(ctx context.Context, limit int) (int, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.results) == 0 {
		return 0, nil
	}
	n := f.results[0]
	f.results = f.results[1:]
	return n, nil
}

type fakeReconciliation struct {
	reconciliationdomain.Service
	mu      sync.Mutex
	summary *reconciliationdomain.ReplaySummary
	calls   int
	limit   int
	err     error
}

func (f *fakeReconciliation) ReplayDue(ctx context.Context, limit int) (*reconciliationdomain.ReplaySummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limit = limit
	return f.summary, f.err
}

func (f *fakeReconciliation) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	released []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token-" + key
	return l.held[key], true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.released = append(l.released, key)
	}
	return nil
}

type fixture struct {
	sched  *Scheduler
	orders *fakeOrders
	recon  *fakeReconciliation
	clock  *clock.FakeClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		orders: &fakeOrders{},
		recon:  &fakeReconciliation{summary: &reconciliationdomain.ReplaySummary{}},
		clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	sched, err := New(Params{
		Log:               zap.NewNop(),
		OrderSvc:          f.orders,
		ReconciliationSvc: f.recon,
		GenID:             node,
		Clock:             f.clock,
		Config:            cfg,
	})
	require.NoError(t, err)
	f.sched = sched
	return f
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{JobTimeout: 10 * time.Second}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 15*time.Second, cfg.LockTTL)
}

func TestRunOnceDrainsExpiredOrdersInBatches(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 2})
	f.orders.results = []int{2, 2, 1}
	f.recon.summary = &reconciliationdomain.ReplaySummary{Processed: 3, Retried: 1}

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 3, f.orders.calls)
	assert.Equal(t, 1, f.recon.calls)
	assert.Equal(t, 2, f.recon.limit)
}

func TestRunOnceHonoursEnabledJobs(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{"REPLAY_NOTIFICATIONS"}})

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 0, f.orders.calls)
	assert.Equal(t, 1, f.recon.calls)
}

func TestRunOnceJoinsJobErrors(t *testing.T) {
	f := newFixture(t, Config{})
	boom := errors.New("db down")
	f.orders.err = boom

	err := f.sched.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobExpireOrders)
	assert.Equal(t, 1, f.recon.calls, "a failing job does not stop the next one")
}

func TestRunJobTreatsDeadlineAsSoft(t *testing.T) {
	f := newFixture(t, Config{})

	err := f.sched.runJob(context.Background(), "slow", time.Second, func(ctx context.Context, r *run) error {
		return context.DeadlineExceeded
	})
	require.NoError(t, err)
}

func TestRunOnceSkipsJobsWhenLockHeld(t *testing.T) {
	f := newFixture(t, Config{})
	locker := newFakeLocker()
	locker.held[lockKeyPrefix+JobExpireOrders] = "other-replica"
	f.sched.WithLocker(locker)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 0, f.orders.calls)
	assert.Equal(t, 1, f.recon.calls)
	assert.Equal(t, []string{lockKeyPrefix + JobReplayNotifications}, locker.released)
	assert.Equal(t, "other-replica", locker.held[lockKeyPrefix+JobExpireOrders])
}

func TestRunOnceRunsUnlockedWhenLockerFails(t *testing.T) {
	f := newFixture(t, Config{})
	locker := newFakeLocker()
	locker.err = errors.New("redis: connection refused")
	f.sched.WithLocker(locker)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Equal(t, 1, f.orders.calls)
	assert.Equal(t, 1, f.recon.calls)
}

func TestRunOnceStopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.sched.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.orders.calls)
	assert.Equal(t, 0, f.recon.calls)
}

func TestRunForeverReturnsOnCancel(t *testing.T) {
	f := newFixture(t, Config{RunInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.sched.RunForever(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return f.recon.callCount() > 0
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunJobLogsSummary(t *testing.T) {
	f := newFixture(t, Config{BatchSize: 10})
	core, logs := observer.New(zapcore.InfoLevel)
	f.sched.log = zap.New(core)
	f.orders.results = []int{10, 4}

	require.NoError(t, f.sched.RunOnce(context.Background()))

	finished := logs.FilterMessage("scheduler job finished").FilterField(zap.String("job", JobExpireOrders)).All()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	assert.EqualValues(t, 14, fields["processed"])
	assert.EqualValues(t, 0, fields["failures"])
	assert.NotEmpty(t, fields["run_id"])
	assert.Equal(t, zapcore.InfoLevel, finished[0].Level)
}

func TestRunJobLogsFailureAtWarn(t *testing.T) {
	f := newFixture(t, Config{})
	core, logs := observer.New(zapcore.InfoLevel)
	f.sched.log = zap.New(core)
	f.orders.err = errors.New("db down")

	require.Error(t, f.sched.RunOnce(context.Background()))

	require.Equal(t, 1, logs.FilterMessage("expire stale orders failed").Len())
	finished := logs.FilterMessage("scheduler job finished").FilterField(zap.String("job", JobExpireOrders)).All()
	require.Len(t, finished, 1)
	assert.Equal(t, zapcore.WarnLevel, finished[0].Level)
	assert.EqualValues(t, 1, finished[0].ContextMap()["failures"])
}
