package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSpec runs a job once a day, counted from scheduler start.
const DefaultSpec = "@every 24h"

// Scheduler triggers jobs on cron specs. Every run of a job holds the job's
// lock, so two runs of the same job never overlap, whether they come from the
// timer or from RunNow.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	metrics *Metrics
	log     *zap.Logger
	lockTTL time.Duration
}

func NewScheduler(log *zap.Logger, locker Locker, metrics *Metrics, loc *time.Location, lockTTL time.Duration) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	log = log.Named("scheduler")
	cl := cronLogger{log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		locker:  locker,
		metrics: metrics,
		log:     log,
		lockTTL: lockTTL,
	}
}

// Schedule registers job under spec, e.g. "@every 24h" or "0 3 * * *".
func (s *Scheduler) Schedule(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		// Scheduled runs are not cancelled; a run that starts finishes.
		if _, err := s.RunNow(context.Background(), job); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Error("scheduled run failed", zap.String("job", job.Name()), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s with %q: %w", job.Name(), spec, err)
	}
	s.log.Info("job scheduled", zap.String("job", job.Name()), zap.String("spec", spec))
	return nil
}

// RunNow runs job once under its lock and returns the report.
func (s *Scheduler) RunNow(ctx context.Context, job Job) (*Report, error) {
	name := job.Name()
	release, err := s.locker.Acquire(ctx, name, s.lockTTL)
	if err != nil {
		if errors.Is(err, ErrJobRunning) {
			s.log.Warn("run skipped, previous run still active", zap.String("job", name))
			s.metrics.observe(name, "skipped", nil, 0)
		}
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.log.Warn("failed to release job lock", zap.String("job", name), zap.Error(err))
		}
	}()

	start := time.Now()
	report, err := job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.observe(name, "error", report, elapsed.Seconds())
		return report, err
	}

	s.metrics.observe(name, "ok", report, elapsed.Seconds())
	s.log.Info("run complete",
		zap.String("job", name),
		zap.Duration("elapsed", elapsed),
		zap.Int("results", len(report.Results)),
		zap.Any("outcomes", report.Counts()),
	)
	return report, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the timer and waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
