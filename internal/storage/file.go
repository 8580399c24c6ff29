package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"care-reminders/internal/patient"
	"care-reminders/internal/reminder"
)

// FileStorage keeps each collection in its own JSON file under dir.
// Every call reads and rewrites the whole file, so it suits small deployments only.
type FileStorage struct {
	patientFile         string
	reminderFile        string
	occurrenceFile      string
	completionEventFile string
	mu                  sync.Mutex
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStorage{
		patientFile:         filepath.Join(dir, "patients.json"),
		reminderFile:        filepath.Join(dir, "reminders.json"),
		occurrenceFile:      filepath.Join(dir, "occurrences.json"),
		completionEventFile: filepath.Join(dir, "completion_events.json"),
	}, nil
}

// Helper functions for file IO
func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrUnavailable, path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrMalformedRecord, path, err)
	}
	return items, nil
}

func saveJSON[T any](path string, items []T) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", ErrUnavailable, path, err)
	}
	return nil
}

// Patient operations
func (fs *FileStorage) CreatePatient(_ context.Context, p *patient.Patient) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	patients, err := loadJSON[*patient.Patient](fs.patientFile)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range patients {
		if existing.ID == p.ID {
			patients[i] = p
			replaced = true
		}
	}
	if !replaced {
		patients = append(patients, p)
	}
	return saveJSON(fs.patientFile, patients)
}

func (fs *FileStorage) GetPatient(_ context.Context, id string) (*patient.Patient, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	patients, err := loadJSON[*patient.Patient](fs.patientFile)
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
}

func (fs *FileStorage) ListPatients(_ context.Context) ([]*patient.Patient, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return loadJSON[*patient.Patient](fs.patientFile)
}

// Reminder operations
func (fs *FileStorage) CreateReminder(_ context.Context, r *reminder.Reminder) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := loadJSON[*reminder.Reminder](fs.reminderFile)
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range reminders {
		if existing.Key() == r.Key() {
			reminders[i] = r
			replaced = true
		}
	}
	if !replaced {
		reminders = append(reminders, r)
	}
	return saveJSON(fs.reminderFile, reminders)
}

func (fs *FileStorage) GetReminder(_ context.Context, key reminder.Key) (*reminder.Reminder, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := loadJSON[*reminder.Reminder](fs.reminderFile)
	if err != nil {
		return nil, err
	}
	for _, r := range reminders {
		if r.Key() == key {
			return r, nil
		}
	}
	return nil, fmt.Errorf("reminder %s/%s: %w", key.PatientID, key.ReminderID, ErrNotFound)
}

func (fs *FileStorage) ListReminders(_ context.Context) ([]*reminder.Reminder, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return loadJSON[*reminder.Reminder](fs.reminderFile)
}

func (fs *FileStorage) ListPatientReminders(_ context.Context, patientID string) ([]*reminder.Reminder, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := loadJSON[*reminder.Reminder](fs.reminderFile)
	if err != nil {
		return nil, err
	}
	var list []*reminder.Reminder
	for _, r := range reminders {
		if r.PatientID == patientID {
			list = append(list, r)
		}
	}
	return list, nil
}

func (fs *FileStorage) UpdateReminderSchedule(_ context.Context, key reminder.Key, scheduled time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	reminders, err := loadJSON[*reminder.Reminder](fs.reminderFile)
	if err != nil {
		return err
	}
	for _, r := range reminders {
		if r.Key() == key {
			r.Reschedule(scheduled)
			return saveJSON(fs.reminderFile, reminders)
		}
	}
	return fmt.Errorf("reminder %s/%s: %w", key.PatientID, key.ReminderID, ErrNotFound)
}

// Occurrence operations
func (fs *FileStorage) CreateOccurrence(_ context.Context, o *reminder.Occurrence) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	occurrences, err := loadJSON[*reminder.Occurrence](fs.occurrenceFile)
	if err != nil {
		return err
	}
	ensureOccurrenceID(o)
	return saveJSON(fs.occurrenceFile, append(occurrences, o))
}

func (fs *FileStorage) ListOccurrences(_ context.Context) ([]*reminder.Occurrence, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return loadJSON[*reminder.Occurrence](fs.occurrenceFile)
}

// CompletionEvent operations
func (fs *FileStorage) CreateCompletionEvent(_ context.Context, e *reminder.CompletionEvent) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	events, err := loadJSON[*reminder.CompletionEvent](fs.completionEventFile)
	if err != nil {
		return err
	}
	ensureCompletionEventID(e)
	return saveJSON(fs.completionEventFile, append(events, e))
}

func (fs *FileStorage) ListCompletionEvents(_ context.Context) ([]*reminder.CompletionEvent, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return loadJSON[*reminder.CompletionEvent](fs.completionEventFile)
}

func (fs *FileStorage) ListPatientCompletionEvents(_ context.Context, patientID string) ([]*reminder.CompletionEvent, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	events, err := loadJSON[*reminder.CompletionEvent](fs.completionEventFile)
	if err != nil {
		return nil, err
	}
	var list []*reminder.CompletionEvent
	for _, e := range events {
		if e.PatientID == patientID {
			list = append(list, e)
		}
	}
	return list, nil
}

func (fs *FileStorage) Close(context.Context) error {
	return nil
}
