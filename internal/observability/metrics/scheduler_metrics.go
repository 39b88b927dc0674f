package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonUnknown              = "unknown"
)

// SchedulerMetrics captures background job health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	lockSkipped    *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	constLabels := prometheus.Labels{
		"service": serviceLabel(cfg.ServiceName),
		"env":     envLabel(cfg.Environment),
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		vec, _ := registerOrReuse(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "campaigncredit",
			Subsystem:   "scheduler",
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels))
		return vec
	}

	jobDuration, _ := registerOrReuse(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   "campaigncredit",
		Subsystem:   "scheduler",
		Name:        "job_duration_seconds",
		Help:        "Scheduler job duration.",
		ConstLabels: constLabels,
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"job"}))
	runLoopLag, _ := registerOrReuse(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   "campaigncredit",
		Subsystem:   "scheduler",
		Name:        "run_loop_lag_seconds",
		Help:        "Delay between the planned and actual scheduler tick.",
		ConstLabels: constLabels,
		Buckets:     []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
	}))

	return &SchedulerMetrics{
		jobRuns:        counter("job_runs_total", "Scheduler job executions.", "job"),
		jobDuration:    jobDuration,
		jobTimeouts:    counter("job_timeouts_total", "Scheduler jobs that hit their deadline.", "job"),
		jobErrors:      counter("job_errors_total", "Scheduler job failures by reason.", "job", "reason"),
		batchProcessed: counter("batch_processed_total", "Orders expired and notifications replayed by scheduler jobs.", "job"),
		lockSkipped:    counter("lock_skipped_total", "Job runs skipped because another replica held the lock.", "job"),
		runLoopLag:     runLoopLag,
	}
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(n))
}

func (m *SchedulerMetrics) IncLockSkipped(job string) {
	if m == nil {
		return
	}
	m.lockSkipped.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	m.runLoopLag.Observe(d.Seconds())
}

// ClassifySchedulerJobReason buckets job errors into low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	switch {
	case err == nil:
		return SchedulerJobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return SchedulerJobReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return SchedulerJobReasonUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgReasons.get(pgErr.Code)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlReasons.get(myErr.Number)
	}
	return SchedulerJobReasonUnknown
}

var pgReasons = reasonTable[string]{
	"55P03": SchedulerJobReasonDBLockTimeout,
	"40001": SchedulerJobReasonSerializationFailure,
	"40P01": SchedulerJobReasonSerializationFailure,
	"23505": SchedulerJobReasonUniqueViolation,
}

var mysqlReasons = reasonTable[uint16]{
	1205: SchedulerJobReasonDBLockTimeout,
	1213: SchedulerJobReasonSerializationFailure,
	1062: SchedulerJobReasonUniqueViolation,
}

// reasonTable falls back to unknown for codes it does not list.
type reasonTable[K comparable] map[K]string

func (t reasonTable[K]) get(code K) string {
	if reason, ok := t[code]; ok {
		return reason
	}
	return SchedulerJobReasonUnknown
}
