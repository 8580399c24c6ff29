package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"care-reminders/internal/patient"
	"care-reminders/internal/reminder"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps transient backend failures. The next run retries them.
	ErrUnavailable = errors.New("store unavailable")
	// ErrMalformedRecord is returned when a stored record lacks a required field.
	ErrMalformedRecord = errors.New("malformed record")
)

// Storage defines the interface for data persistence
// for patients, reminders, occurrences and completion events.
type Storage interface {
	// Patient operations
	CreatePatient(ctx context.Context, p *patient.Patient) error
	GetPatient(ctx context.Context, id string) (*patient.Patient, error)
	ListPatients(ctx context.Context) ([]*patient.Patient, error)

	// Reminder operations
	CreateReminder(ctx context.Context, r *reminder.Reminder) error
	GetReminder(ctx context.Context, key reminder.Key) (*reminder.Reminder, error)
	ListReminders(ctx context.Context) ([]*reminder.Reminder, error)
	ListPatientReminders(ctx context.Context, patientID string) ([]*reminder.Reminder, error)
	UpdateReminderSchedule(ctx context.Context, key reminder.Key, scheduled time.Time) error

	// Occurrence operations, returned in insertion order
	CreateOccurrence(ctx context.Context, o *reminder.Occurrence) error
	ListOccurrences(ctx context.Context) ([]*reminder.Occurrence, error)

	// CompletionEvent operations
	CreateCompletionEvent(ctx context.Context, e *reminder.CompletionEvent) error
	ListCompletionEvents(ctx context.Context) ([]*reminder.CompletionEvent, error)
	ListPatientCompletionEvents(ctx context.Context, patientID string) ([]*reminder.CompletionEvent, error)

	Close(ctx context.Context) error
}

// NewID returns a fresh identifier such as "cev-3f0c...".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func ensureOccurrenceID(o *reminder.Occurrence) {
	if o.ID == "" {
		o.ID = NewID("occ")
	}
}

func ensureCompletionEventID(e *reminder.CompletionEvent) {
	if e.ID == "" {
		e.ID = NewID("cev")
	}
}

func copyPatient(p *patient.Patient) *patient.Patient {
	c := *p
	c.Caregivers = append([]string(nil), p.Caregivers...)
	return &c
}

func copyOccurrence(o *reminder.Occurrence) *reminder.Occurrence {
	c := *o
	if o.ActualTime != nil {
		t := *o.ActualTime
		c.ActualTime = &t
	}
	return &c
}
