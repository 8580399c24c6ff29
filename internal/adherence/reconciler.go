// Package adherence flags reminders that were due before the trailing window
// and have no completion since they were scheduled.
package adherence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"care-reminders/internal/jobs"
	"care-reminders/internal/reminder"
)

const (
	JobName = "check-missed"

	// DefaultWindow is how long a reminder may stay unacknowledged.
	DefaultWindow = 24 * time.Hour
)

// Store is the part of the record store the reconciler needs.
type Store interface {
	ListReminders(ctx context.Context) ([]*reminder.Reminder, error)
	ListCompletionEvents(ctx context.Context) ([]*reminder.CompletionEvent, error)
	CreateCompletionEvent(ctx context.Context, e *reminder.CompletionEvent) error
}

type Reconciler struct {
	store       Store
	log         *zap.Logger
	window      time.Duration
	now         func() time.Time
	concurrency int
}

type Option func(*Reconciler)

func WithWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.window = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithConcurrency bounds how many missed events are written at once.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func NewReconciler(store Store, log *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		log:         log.Named("adherence"),
		window:      DefaultWindow,
		now:         time.Now,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Name() string { return JobName }

func (r *Reconciler) Run(ctx context.Context) (*jobs.Report, error) {
	return r.CheckMissed(ctx)
}

// LatestCompletions maps each completion key to its newest completedAt.
// Events without a completion time are ignored.
func LatestCompletions(events []*reminder.CompletionEvent) map[reminder.CompletionKey]time.Time {
	latest := make(map[reminder.CompletionKey]time.Time, len(events))
	for _, e := range events {
		if e.CompletedAt.IsZero() {
			continue
		}
		key := e.Key()
		if cur, ok := latest[key]; !ok || e.CompletedAt.After(cur) {
			latest[key] = e.CompletedAt
		}
	}
	return latest
}

// IsMissed reports whether a reminder scheduled at scheduled is missed given
// its latest completion. Anything scheduled at or after cutoff is not yet due.
func IsMissed(scheduled, cutoff, lastDone time.Time, done bool) bool {
	if !scheduled.Before(cutoff) {
		return false
	}
	return !done || lastDone.Before(scheduled)
}

// CheckMissed appends a missed event for every reminder scheduled before
// now-window that has no completion at or after its scheduled time.
func (r *Reconciler) CheckMissed(ctx context.Context) (*jobs.Report, error) {
	now := r.now()
	cutoff := now.Add(-r.window)
	report := &jobs.Report{Job: JobName, StartedAt: now}
	r.log.Info("checking for missed reminders", zap.Time("cutoff", cutoff))

	reminders, err := r.store.ListReminders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	events, err := r.store.ListCompletionEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list completion events: %w", err)
	}
	latest := LatestCompletions(events)

	report.Results = make([]jobs.Result, len(reminders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, rem := range reminders {
		res := jobs.Result{PatientID: rem.PatientID, ReminderID: rem.ID, Reminder: rem.Name}
		if rem.ScheduledTime.IsZero() {
			res.Outcome = jobs.OutcomeMalformed
			res.Detail = "reminder has no scheduled time"
			r.log.Warn("skipping reminder without scheduled time",
				zap.String("patient_id", rem.PatientID), zap.String("reminder_id", rem.ID))
			report.Results[i] = res
			continue
		}

		lastDone, done := latest[rem.CompletionKey()]
		switch {
		case !rem.ScheduledTime.Before(cutoff):
			res.Outcome = jobs.OutcomePending
			report.Results[i] = res
		case !IsMissed(rem.ScheduledTime, cutoff, lastDone, done):
			res.Outcome = jobs.OutcomeOnTime
			report.Results[i] = res
		default:
			g.Go(func() error {
				report.Results[i] = r.recordMissed(gctx, rem, res, now)
				return nil
			})
		}
	}
	_ = g.Wait()

	report.FinishedAt = r.now()
	r.log.Info("finished checking missed reminders",
		zap.Int("reminders", len(reminders)),
		zap.Int("missed", report.Count(jobs.OutcomeMissed)),
		zap.Int("failed", report.Count(jobs.OutcomeFailed)),
	)
	return report, nil
}

func (r *Reconciler) recordMissed(ctx context.Context, rem *reminder.Reminder, res jobs.Result, now time.Time) jobs.Result {
	event := reminder.NewMissedEvent(rem, now)
	if err := r.store.CreateCompletionEvent(ctx, event); err != nil {
		res.Fail(err)
		r.log.Error("failed to log missed reminder",
			zap.String("patient_id", rem.PatientID),
			zap.String("reminder_id", rem.ID),
			zap.Error(err),
		)
		return res
	}
	res.Outcome = jobs.OutcomeMissed
	res.Detail = event.ID
	r.log.Info("reminder missed",
		zap.String("patient_id", rem.PatientID),
		zap.String("reminder", rem.Name),
		zap.String("type", rem.Type),
		zap.String("event_id", event.ID),
	)
	return res
}
