package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeJob struct {
	name    string
	report  *Report
	err     error
	started chan struct{}
	block   chan struct{}
	runs    int
}

func (j *fakeJob) Name() string { return j.name }

func (j *fakeJob) Run(ctx context.Context) (*Report, error) {
	j.runs++
	if j.started != nil {
		close(j.started)
	}
	if j.block != nil {
		<-j.block
	}
	return j.report, j.err
}

func newTestScheduler(t *testing.T) (*Scheduler, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewScheduler(zap.NewNop(), NewMemoryLocker(), metrics, time.UTC, time.Minute), metrics
}

func TestRunNowRecordsMetrics(t *testing.T) {
	s, m := newTestScheduler(t)
	job := &fakeJob{name: "check-missed", report: &Report{Results: []Result{
		{Outcome: OutcomeMissed},
		{Outcome: OutcomeMissed},
		{Outcome: OutcomeOnTime},
	}}}

	report, err := s.RunNow(context.Background(), job)
	require.NoError(t, err)
	assert.Len(t, report.Results, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("check-missed", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResultsTotal.WithLabelValues("check-missed", "missed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultsTotal.WithLabelValues("check-missed", "on_time")))
}

func TestRunNowError(t *testing.T) {
	s, m := newTestScheduler(t)
	boom := errors.New("boom")
	_, err := s.RunNow(context.Background(), &fakeJob{name: "adjust-schedules", err: boom})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("adjust-schedules", "error")))

	// The lock is released after a failed run.
	_, err = s.RunNow(context.Background(), &fakeJob{name: "adjust-schedules", report: &Report{}})
	assert.NoError(t, err)
}

func TestRunNowRejectsOverlap(t *testing.T) {
	s, m := newTestScheduler(t)
	first := &fakeJob{name: "adjust-schedules", report: &Report{}, started: make(chan struct{}), block: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := s.RunNow(context.Background(), first)
		done <- err
	}()
	<-first.started

	second := &fakeJob{name: "adjust-schedules", report: &Report{}}
	_, err := s.RunNow(context.Background(), second)
	assert.ErrorIs(t, err, ErrJobRunning)
	assert.Equal(t, 0, second.runs)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("adjust-schedules", "skipped")))

	close(first.block)
	require.NoError(t, <-done)
}

func TestScheduleInvalidSpec(t *testing.T) {
	s, _ := newTestScheduler(t)
	err := s.Schedule("not a spec", &fakeJob{name: "x"})
	assert.Error(t, err)
	assert.NoError(t, s.Schedule(DefaultSpec, &fakeJob{name: "x"}))
}

func TestSchedulerStartStop(t *testing.T) {
	s, _ := newTestScheduler(t)
	require.NoError(t, s.Schedule("@every 1h", &fakeJob{name: "x", report: &Report{}}))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err())
}

func TestNilMetrics(t *testing.T) {
	s := NewScheduler(zap.NewNop(), NewMemoryLocker(), nil, nil, time.Minute)
	_, err := s.RunNow(context.Background(), &fakeJob{name: "x", report: &Report{}})
	assert.NoError(t, err)
}

func TestReportCounts(t *testing.T) {
	var failed Result
	failed.Fail(errors.New("disk full"))
	r := &Report{Results: []Result{{Outcome: OutcomeUpdated}, failed, {Outcome: OutcomeUpdated}}}

	assert.Equal(t, 2, r.Count(OutcomeUpdated))
	assert.Equal(t, map[Outcome]int{OutcomeUpdated: 2, OutcomeFailed: 1}, r.Counts())
	require.Len(t, r.Failed(), 1)
	assert.Equal(t, "disk full", r.Failed()[0].Error)
}

func TestRunNowErrorRecordsDuration(t *testing.T) {
	s, m := newTestScheduler(t)
	_, err := s.RunNow(context.Background(), &fakeJob{name: "check-missed", err: errors.New("store down")})
	require.Error(t, err)

	assert.Equal(t, 1, testutil.CollectAndCount(m.Duration, "reminder_job_duration_seconds"))
}
