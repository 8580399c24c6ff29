package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"care-reminders/internal/patient"
	"care-reminders/internal/reminder"
)

const sqliteTimeFormat = time.RFC3339Nano

type SQLiteStorage struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}

	// Create tables if they don't exist
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close(context.Context) error {
	return s.db.Close()
}

// createTables creates the necessary tables
func (s *SQLiteStorage) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS patients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			caregivers TEXT NOT NULL -- JSON array of caregiver names
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			patient_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			scheduled_time TEXT, -- RFC 3339, nullable
			seq INTEGER NOT NULL,
			PRIMARY KEY (patient_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS occurrences (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			patient_id TEXT NOT NULL,
			reminder_id TEXT NOT NULL,
			actual_time TEXT -- RFC 3339, nullable
		)`,
		`CREATE TABLE IF NOT EXISTS completion_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			patient_id TEXT NOT NULL,
			reminder_name TEXT NOT NULL,
			reminder_type TEXT NOT NULL,
			status TEXT NOT NULL,
			completed_at TEXT, -- RFC 3339, nullable
			completed_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS completion_events_patient ON completion_events (patient_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %q: %w", query, err)
		}
	}

	return nil
}

// Patient operations
func (s *SQLiteStorage) CreatePatient(ctx context.Context, p *patient.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caregiversJSON, err := json.Marshal(p.Caregivers)
	if err != nil {
		return fmt.Errorf("failed to marshal caregivers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, "INSERT OR REPLACE INTO patients (id, name, caregivers) VALUES (?, ?, ?)",
		p.ID, p.Name, string(caregiversJSON))
	if err != nil {
		return fmt.Errorf("failed to create patient: %w", classifySQLiteErr(err))
	}

	return nil
}

func (s *SQLiteStorage) GetPatient(ctx context.Context, id string) (*patient.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p patient.Patient
	var caregiversJSON string

	err := s.db.QueryRowContext(ctx, "SELECT id, name, caregivers FROM patients WHERE id = ?", id).
		Scan(&p.ID, &p.Name, &caregiversJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("patient %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get patient: %w", classifySQLiteErr(err))
	}

	if err := json.Unmarshal([]byte(caregiversJSON), &p.Caregivers); err != nil {
		return nil, fmt.Errorf("%w: patient %s caregivers: %w", ErrMalformedRecord, id, err)
	}

	return &p, nil
}

func (s *SQLiteStorage) ListPatients(ctx context.Context) ([]*patient.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, caregivers FROM patients ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", classifySQLiteErr(err))
	}
	defer rows.Close()

	var patients []*patient.Patient
	for rows.Next() {
		var p patient.Patient
		var caregiversJSON string

		if err := rows.Scan(&p.ID, &p.Name, &caregiversJSON); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}

		if err := json.Unmarshal([]byte(caregiversJSON), &p.Caregivers); err != nil {
			return nil, fmt.Errorf("%w: patient %s caregivers: %w", ErrMalformedRecord, p.ID, err)
		}

		patients = append(patients, &p)
	}

	return patients, rows.Err()
}

// Reminder operations
func (s *SQLiteStorage) CreateReminder(ctx context.Context, r *reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO reminders (patient_id, id, name, type, scheduled_time, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM reminders))
		ON CONFLICT (patient_id, id) DO UPDATE SET
			name = excluded.name, type = excluded.type, scheduled_time = excluded.scheduled_time`,
		r.PatientID, r.ID, r.Name, r.Type, formatTime(r.ScheduledTime))
	if err != nil {
		return fmt.Errorf("failed to create/update reminder: %w", classifySQLiteErr(err))
	}

	return nil
}

const reminderColumns = "patient_id, id, name, type, scheduled_time"

func (s *SQLiteStorage) GetReminder(ctx context.Context, key reminder.Key) (*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+reminderColumns+" FROM reminders WHERE patient_id = ? AND id = ?",
		key.PatientID, key.ReminderID)
	r, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reminder %s/%s: %w", key.PatientID, key.ReminderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get reminder: %w", classifySQLiteErr(err))
	}
	return r, nil
}

func (s *SQLiteStorage) ListReminders(ctx context.Context) ([]*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryReminders(ctx, "SELECT "+reminderColumns+" FROM reminders ORDER BY seq")
}

func (s *SQLiteStorage) ListPatientReminders(ctx context.Context, patientID string) ([]*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryReminders(ctx, "SELECT "+reminderColumns+" FROM reminders WHERE patient_id = ? ORDER BY seq", patientID)
}

func (s *SQLiteStorage) queryReminders(ctx context.Context, query string, args ...any) ([]*reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", classifySQLiteErr(err))
	}
	defer rows.Close()

	var reminders []*reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (s *SQLiteStorage) UpdateReminderSchedule(ctx context.Context, key reminder.Key, scheduled time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "UPDATE reminders SET scheduled_time = ? WHERE patient_id = ? AND id = ?",
		formatTime(scheduled), key.PatientID, key.ReminderID)
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", classifySQLiteErr(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update reminder: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reminder %s/%s: %w", key.PatientID, key.ReminderID, ErrNotFound)
	}
	return nil
}

// Occurrence operations
func (s *SQLiteStorage) CreateOccurrence(ctx context.Context, o *reminder.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ensureOccurrenceID(o)
	var actual *string
	if o.ActualTime != nil {
		actual = formatTime(*o.ActualTime)
	}
	_, err := s.db.ExecContext(ctx, "INSERT INTO occurrences (id, patient_id, reminder_id, actual_time) VALUES (?, ?, ?, ?)",
		o.ID, o.PatientID, o.ReminderID, actual)
	if err != nil {
		return fmt.Errorf("failed to create occurrence: %w", classifySQLiteErr(err))
	}
	return nil
}

func (s *SQLiteStorage) ListOccurrences(ctx context.Context) ([]*reminder.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, patient_id, reminder_id, actual_time FROM occurrences ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to list occurrences: %w", classifySQLiteErr(err))
	}
	defer rows.Close()

	var occurrences []*reminder.Occurrence
	for rows.Next() {
		var o reminder.Occurrence
		var actual *string
		if err := rows.Scan(&o.ID, &o.PatientID, &o.ReminderID, &actual); err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		if actual != nil {
			t, err := parseTimeString(*actual)
			if err != nil {
				return nil, fmt.Errorf("%w: occurrence %s: %w", ErrMalformedRecord, o.ID, err)
			}
			o.ActualTime = &t
		}
		occurrences = append(occurrences, &o)
	}
	return occurrences, rows.Err()
}

// CompletionEvent operations
func (s *SQLiteStorage) CreateCompletionEvent(ctx context.Context, e *reminder.CompletionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ensureCompletionEventID(e)
	_, err := s.db.ExecContext(ctx, `INSERT INTO completion_events
		(id, patient_id, reminder_name, reminder_type, status, completed_at, completed_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PatientID, e.ReminderName, e.ReminderType, string(e.Status), formatTime(e.CompletedAt), e.CompletedBy)
	if err != nil {
		return fmt.Errorf("failed to create completion event: %w", classifySQLiteErr(err))
	}
	return nil
}

const completionEventColumns = "id, patient_id, reminder_name, reminder_type, status, completed_at, completed_by"

func (s *SQLiteStorage) ListCompletionEvents(ctx context.Context) ([]*reminder.CompletionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCompletionEvents(ctx, "SELECT "+completionEventColumns+" FROM completion_events ORDER BY seq")
}

func (s *SQLiteStorage) ListPatientCompletionEvents(ctx context.Context, patientID string) ([]*reminder.CompletionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCompletionEvents(ctx,
		"SELECT "+completionEventColumns+" FROM completion_events WHERE patient_id = ? ORDER BY seq", patientID)
}

func (s *SQLiteStorage) queryCompletionEvents(ctx context.Context, query string, args ...any) ([]*reminder.CompletionEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list completion events: %w", classifySQLiteErr(err))
	}
	defer rows.Close()

	var events []*reminder.CompletionEvent
	for rows.Next() {
		var e reminder.CompletionEvent
		var status string
		var completedAt *string
		if err := rows.Scan(&e.ID, &e.PatientID, &e.ReminderName, &e.ReminderType, &status, &completedAt, &e.CompletedBy); err != nil {
			return nil, fmt.Errorf("failed to scan completion event: %w", err)
		}
		e.Status = reminder.Status(status)
		if completedAt != nil {
			if e.CompletedAt, err = parseTimeString(*completedAt); err != nil {
				return nil, fmt.Errorf("%w: completion event %s: %w", ErrMalformedRecord, e.ID, err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*reminder.Reminder, error) {
	var r reminder.Reminder
	var scheduled *string
	if err := row.Scan(&r.PatientID, &r.ID, &r.Name, &r.Type, &scheduled); err != nil {
		return nil, err
	}
	if scheduled != nil {
		t, err := parseTimeString(*scheduled)
		if err != nil {
			return nil, fmt.Errorf("%w: reminder %s/%s: %w", ErrMalformedRecord, r.PatientID, r.ID, err)
		}
		r.ScheduledTime = t
	}
	return &r, nil
}

// classifySQLiteErr marks lock contention as a transient failure.
func classifySQLiteErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// formatTime stores the zero time as NULL.
func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(sqliteTimeFormat)
	return &s
}

// parseTimeString parses a time string in ISO 8601 format
func parseTimeString(timeStr string) (time.Time, error) {
	// Try multiple time formats
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, timeStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time string: %s", timeStr)
}
