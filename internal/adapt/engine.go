// Package adapt learns the hour a patient actually acts on each reminder and
// moves the reminder's schedule to that hour.
package adapt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"care-reminders/internal/jobs"
	"care-reminders/internal/reminder"
	"care-reminders/internal/storage"
)

const JobName = "adjust-schedules"

// Store is the part of the record store the engine needs.
type Store interface {
	ListOccurrences(ctx context.Context) ([]*reminder.Occurrence, error)
	UpdateReminderSchedule(ctx context.Context, key reminder.Key, scheduled time.Time) error
}

type Engine struct {
	store       Store
	log         *zap.Logger
	loc         *time.Location
	now         func() time.Time
	concurrency int
}

type Option func(*Engine)

// WithLocation sets the zone hours are read and written in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithConcurrency bounds how many reminders are updated at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func NewEngine(store Store, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		log:         log.Named("adapt"),
		loc:         time.Local,
		now:         time.Now,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return JobName }

func (e *Engine) Run(ctx context.Context) (*jobs.Report, error) {
	return e.AdjustSchedules(ctx)
}

// AdjustSchedules reads every occurrence, finds the most frequent hour per
// reminder and reschedules the reminder to that hour today. A failed update
// is recorded in the report and does not stop the other reminders.
func (e *Engine) AdjustSchedules(ctx context.Context) (*jobs.Report, error) {
	now := e.now()
	report := &jobs.Report{Job: JobName, StartedAt: now}
	e.log.Info("starting schedule adjustment")

	occurrences, err := e.store.ListOccurrences(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list occurrences: %w", err)
	}
	if len(occurrences) == 0 {
		e.log.Warn("no tracking data found")
		report.FinishedAt = e.now()
		return report, nil
	}

	groups := groupOccurrences(occurrences, e.loc)
	report.Results = make([]jobs.Result, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, grp := range groups {
		g.Go(func() error {
			report.Results[i] = e.adjust(gctx, grp, now)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = e.now()
	e.log.Info("finished adjusting reminder times",
		zap.Int("groups", len(groups)),
		zap.Int("updated", report.Count(jobs.OutcomeUpdated)),
		zap.Int("failed", report.Count(jobs.OutcomeFailed)),
	)
	return report, nil
}

// adjust reschedules one group to the mode hour on the date of now.
func (e *Engine) adjust(ctx context.Context, grp *group, now time.Time) jobs.Result {
	res := jobs.Result{PatientID: grp.key.PatientID, ReminderID: grp.key.ReminderID}
	log := e.log.With(zap.String("patient_id", grp.key.PatientID), zap.String("reminder_id", grp.key.ReminderID))
	if grp.malformed > 0 {
		log.Warn("ignoring occurrences without actual time", zap.Int("count", grp.malformed))
	}

	hour, ok := ModeHour(grp.hours)
	if !ok {
		res.Outcome = jobs.OutcomeSkipped
		res.Detail = "no occurrences with an actual time"
		return res
	}

	next := NextScheduledTime(now, hour, e.loc)
	if err := e.store.UpdateReminderSchedule(ctx, grp.key, next); err != nil {
		res.Fail(err)
		log.Error("failed to update reminder",
			zap.Bool("not_found", errors.Is(err, storage.ErrNotFound)),
			zap.Bool("unavailable", errors.Is(err, storage.ErrUnavailable)),
			zap.Error(err),
		)
		return res
	}

	res.Outcome = jobs.OutcomeUpdated
	res.Detail = next.Format(time.RFC3339)
	log.Info("updated reminder", zap.Int("hour", hour), zap.Time("scheduled_time", next))
	return res
}
