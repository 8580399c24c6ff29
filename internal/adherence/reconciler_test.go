package adherence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"care-reminders/internal/jobs"
	"care-reminders/internal/reminder"
	"care-reminders/internal/storage"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func hoursAgo(h int) time.Time { return now.Add(-time.Duration(h) * time.Hour) }

func newTestReconciler(store Store, opts ...Option) *Reconciler {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return NewReconciler(store, zap.NewNop(), opts...)
}

func completion(r *reminder.Reminder, at time.Time) *reminder.CompletionEvent {
	return &reminder.CompletionEvent{
		PatientID:    r.PatientID,
		ReminderName: r.Name,
		ReminderType: r.Type,
		Status:       reminder.StatusCompleted,
		CompletedAt:  at,
	}
}

func setup(t *testing.T, reminders []*reminder.Reminder, events []*reminder.CompletionEvent) *storage.MemoryStorage {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	for _, r := range reminders {
		require.NoError(t, store.CreateReminder(ctx, r))
	}
	for _, e := range events {
		require.NoError(t, store.CreateCompletionEvent(ctx, e))
	}
	return store
}

func missedEvents(t *testing.T, store *storage.MemoryStorage) []*reminder.CompletionEvent {
	t.Helper()
	events, err := store.ListCompletionEvents(context.Background())
	require.NoError(t, err)
	var missed []*reminder.CompletionEvent
	for _, e := range events {
		if e.Status == reminder.StatusMissed {
			missed = append(missed, e)
		}
	}
	return missed
}

func TestIsMissed(t *testing.T) {
	cutoff := hoursAgo(24)
	tests := []struct {
		name      string
		scheduled time.Time
		lastDone  time.Time
		done      bool
		want      bool
	}{
		{"inside window, never done", hoursAgo(2), time.Time{}, false, false},
		{"exactly at cutoff", cutoff, time.Time{}, false, false},
		{"before cutoff, never done", hoursAgo(26), time.Time{}, false, true},
		{"done after scheduled", hoursAgo(26), hoursAgo(25), true, false},
		{"done exactly at scheduled", hoursAgo(26), hoursAgo(26), true, false},
		{"done before scheduled", hoursAgo(26), hoursAgo(30), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMissed(tt.scheduled, cutoff, tt.lastDone, tt.done))
		})
	}
}

func TestLatestCompletionsPicksNewest(t *testing.T) {
	r := reminder.NewReminder("R1", "p1", "Pills", "medication", hoursAgo(26))
	// Newest first: a last-seen rule would keep the older timestamp.
	latest := LatestCompletions([]*reminder.CompletionEvent{
		completion(r, hoursAgo(1)),
		completion(r, hoursAgo(40)),
		completion(r, time.Time{}),
	})
	assert.True(t, latest[r.CompletionKey()].Equal(hoursAgo(1)))
}

func TestCheckMissedNoCompletion(t *testing.T) {
	r2 := reminder.NewReminder("R2", "p1", "Evening walk", "exercise", hoursAgo(26))
	store := setup(t, []*reminder.Reminder{r2}, nil)

	report, err := newTestReconciler(store).CheckMissed(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, jobs.OutcomeMissed, report.Results[0].Outcome)

	missed := missedEvents(t, store)
	require.Len(t, missed, 1)
	assert.Equal(t, "p1", missed[0].PatientID)
	assert.Equal(t, "Evening walk", missed[0].ReminderName)
	assert.Equal(t, "exercise", missed[0].ReminderType)
	assert.True(t, missed[0].CompletedAt.Equal(now))
	assert.Equal(t, missed[0].ID, report.Results[0].Detail)
}

func TestCheckMissedStaleCompletion(t *testing.T) {
	r3 := reminder.NewReminder("R3", "p1", "Pills", "medication", hoursAgo(26))
	store := setup(t, []*reminder.Reminder{r3}, []*reminder.CompletionEvent{completion(r3, hoursAgo(30))})

	report, err := newTestReconciler(store).CheckMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeMissed, report.Results[0].Outcome)
	assert.Len(t, missedEvents(t, store), 1)
}

func TestCheckMissedCompletedOnTime(t *testing.T) {
	r := reminder.NewReminder("R4", "p1", "Pills", "medication", hoursAgo(26))
	store := setup(t, []*reminder.Reminder{r}, []*reminder.CompletionEvent{
		completion(r, hoursAgo(25)),
		completion(r, hoursAgo(50)),
	})

	report, err := newTestReconciler(store).CheckMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeOnTime, report.Results[0].Outcome)
	assert.Empty(t, missedEvents(t, store))
}

func TestCheckMissedInsideWindow(t *testing.T) {
	r := reminder.NewReminder("R5", "p1", "Pills", "medication", hoursAgo(3))
	future := reminder.NewReminder("R6", "p1", "Doctor", "appointment", now.Add(48*time.Hour))
	store := setup(t, []*reminder.Reminder{r, future}, nil)

	report, err := newTestReconciler(store).CheckMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(jobs.OutcomePending))
	assert.Empty(t, missedEvents(t, store))
}

func TestCheckMissedMatchesFullKey(t *testing.T) {
	r := reminder.NewReminder("R1", "p1", "Pills", "medication", hoursAgo(26))
	// Same name, different type and a different patient: neither satisfies r.
	otherType := completion(r, hoursAgo(25))
	otherType.ReminderType = "supplement"
	otherPatient := completion(r, hoursAgo(25))
	otherPatient.PatientID = "p2"
	store := setup(t, []*reminder.Reminder{r}, []*reminder.CompletionEvent{otherType, otherPatient})

	report, err := newTestReconciler(store).CheckMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeMissed, report.Results[0].Outcome)
}

func TestCheckMissedSecondRunSeesEarlierEvent(t *testing.T) {
	r := reminder.NewReminder("R1", "p1", "Pills", "medication", hoursAgo(26))
	store := setup(t, []*reminder.Reminder{r}, nil)
	rec := newTestReconciler(store)

	_, err := rec.CheckMissed(context.Background())
	require.NoError(t, err)
	report, err := rec.CheckMissed(context.Background())
	require.NoError(t, err)

	assert.Equal(t, jobs.OutcomeOnTime, report.Results[0].Outcome)
	assert.Len(t, missedEvents(t, store), 1)
}

func TestCheckMissedCustomWindow(t *testing.T) {
	r := reminder.NewReminder("R1", "p1", "Pills", "medication", hoursAgo(3))
	store := setup(t, []*reminder.Reminder{r}, nil)

	report, err := newTestReconciler(store, WithWindow(2*time.Hour)).CheckMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeMissed, report.Results[0].Outcome)
}

func TestCheckMissedMalformedReminder(t *testing.T) {
	r := reminder.NewReminder("R1", "p1", "Pills", "medication", time.Time{})
	store := setup(t, []*reminder.Reminder{r}, nil)

	report, err := newTestReconciler(store).CheckMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, jobs.OutcomeMalformed, report.Results[0].Outcome)
	assert.Empty(t, missedEvents(t, store))
}

// appendFailStore rejects missed events for one reminder name.
type appendFailStore struct {
	*storage.MemoryStorage
	failName string
}

func (s *appendFailStore) CreateCompletionEvent(ctx context.Context, e *reminder.CompletionEvent) error {
	if e.ReminderName == s.failName {
		return storage.ErrUnavailable
	}
	return s.MemoryStorage.CreateCompletionEvent(ctx, e)
}

func TestCheckMissedPartialFailure(t *testing.T) {
	reminders := []*reminder.Reminder{
		reminder.NewReminder("R1", "p1", "A", "task", hoursAgo(30)),
		reminder.NewReminder("R2", "p1", "B", "task", hoursAgo(30)),
		reminder.NewReminder("R3", "p1", "C", "task", hoursAgo(30)),
	}
	mem := setup(t, reminders, nil)
	core, logs := observer.New(zapcore.InfoLevel)
	store := &appendFailStore{MemoryStorage: mem, failName: "B"}

	rec := NewReconciler(store, zap.New(core), WithClock(func() time.Time { return now }), WithConcurrency(2))
	report, err := rec.CheckMissed(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, jobs.OutcomeMissed, report.Results[0].Outcome)
	assert.Equal(t, jobs.OutcomeFailed, report.Results[1].Outcome)
	assert.True(t, errors.Is(report.Results[1].Err, storage.ErrUnavailable))
	assert.Equal(t, jobs.OutcomeMissed, report.Results[2].Outcome)
	assert.Len(t, missedEvents(t, mem), 2)

	failures := logs.FilterMessage("failed to log missed reminder").All()
	require.Len(t, failures, 1)
	assert.Equal(t, "R2", failures[0].ContextMap()["reminder_id"])
}
