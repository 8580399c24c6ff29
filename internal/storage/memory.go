package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"care-reminders/internal/patient"
	"care-reminders/internal/reminder"
)

type MemoryStorage struct {
	patients         map[string]*patient.Patient
	patientOrder     []string
	reminders        map[reminder.Key]*reminder.Reminder
	reminderOrder    []reminder.Key
	occurrences      []*reminder.Occurrence
	completionEvents []*reminder.CompletionEvent
	mu               sync.Mutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		patients:  make(map[string]*patient.Patient),
		reminders: make(map[reminder.Key]*reminder.Reminder),
	}
}

// Patient operations
func (m *MemoryStorage) CreatePatient(_ context.Context, p *patient.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; !ok {
		m.patientOrder = append(m.patientOrder, p.ID)
	}
	m.patients[p.ID] = copyPatient(p)
	return nil
}

func (m *MemoryStorage) GetPatient(_ context.Context, id string) (*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	return copyPatient(p), nil
}

func (m *MemoryStorage) ListPatients(_ context.Context) ([]*patient.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*patient.Patient
	for _, id := range m.patientOrder {
		list = append(list, copyPatient(m.patients[id]))
	}
	return list, nil
}

// Reminder operations
func (m *MemoryStorage) CreateReminder(_ context.Context, r *reminder.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := r.Key()
	if _, ok := m.reminders[key]; !ok {
		m.reminderOrder = append(m.reminderOrder, key)
	}
	c := *r
	m.reminders[key] = &c
	return nil
}

func (m *MemoryStorage) GetReminder(_ context.Context, key reminder.Key) (*reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[key]
	if !ok {
		return nil, fmt.Errorf("reminder %s/%s: %w", key.PatientID, key.ReminderID, ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (m *MemoryStorage) ListReminders(_ context.Context) ([]*reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterReminders(func(*reminder.Reminder) bool { return true }), nil
}

func (m *MemoryStorage) ListPatientReminders(_ context.Context, patientID string) ([]*reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterReminders(func(r *reminder.Reminder) bool { return r.PatientID == patientID }), nil
}

func (m *MemoryStorage) filterReminders(keep func(*reminder.Reminder) bool) []*reminder.Reminder {
	var list []*reminder.Reminder
	for _, key := range m.reminderOrder {
		if r := m.reminders[key]; keep(r) {
			c := *r
			list = append(list, &c)
		}
	}
	return list
}

func (m *MemoryStorage) UpdateReminderSchedule(_ context.Context, key reminder.Key, scheduled time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[key]
	if !ok {
		return fmt.Errorf("reminder %s/%s: %w", key.PatientID, key.ReminderID, ErrNotFound)
	}
	r.Reschedule(scheduled)
	return nil
}

// Occurrence operations
func (m *MemoryStorage) CreateOccurrence(_ context.Context, o *reminder.Occurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureOccurrenceID(o)
	m.occurrences = append(m.occurrences, copyOccurrence(o))
	return nil
}

func (m *MemoryStorage) ListOccurrences(_ context.Context) ([]*reminder.Occurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*reminder.Occurrence, 0, len(m.occurrences))
	for _, o := range m.occurrences {
		list = append(list, copyOccurrence(o))
	}
	return list, nil
}

// CompletionEvent operations
func (m *MemoryStorage) CreateCompletionEvent(_ context.Context, e *reminder.CompletionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureCompletionEventID(e)
	c := *e
	m.completionEvents = append(m.completionEvents, &c)
	return nil
}

func (m *MemoryStorage) ListCompletionEvents(_ context.Context) ([]*reminder.CompletionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterCompletionEvents(""), nil
}

func (m *MemoryStorage) ListPatientCompletionEvents(_ context.Context, patientID string) ([]*reminder.CompletionEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filterCompletionEvents(patientID), nil
}

func (m *MemoryStorage) filterCompletionEvents(patientID string) []*reminder.CompletionEvent {
	var list []*reminder.CompletionEvent
	for _, e := range m.completionEvents {
		if patientID != "" && e.PatientID != patientID {
			continue
		}
		c := *e
		list = append(list, &c)
	}
	return list
}

func (m *MemoryStorage) Close(context.Context) error {
	return nil
}
