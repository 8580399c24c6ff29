package reminder

import "time"

type Status string

const (
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

// CompletionKey matches completion events to reminders by patient, name and type.
type CompletionKey struct {
	PatientID    string
	ReminderName string
	ReminderType string
}

type CompletionEvent struct {
	ID           string    `json:"id" bson:"id"`
	PatientID    string    `json:"patient_id" bson:"patient_id"`
	ReminderName string    `json:"reminder_name" bson:"reminder_name"`
	ReminderType string    `json:"reminder_type" bson:"reminder_type"`
	Status       Status    `json:"status" bson:"status"`
	CompletedAt  time.Time `json:"completed_at" bson:"completed_at"`
	CompletedBy  string    `json:"completed_by,omitempty" bson:"completed_by,omitempty"`
}

func (e *CompletionEvent) Key() CompletionKey {
	return CompletionKey{PatientID: e.PatientID, ReminderName: e.ReminderName, ReminderType: e.ReminderType}
}

// NewMissedEvent builds the event recorded when r was not completed in time.
func NewMissedEvent(r *Reminder, detectedAt time.Time) *CompletionEvent {
	return &CompletionEvent{
		PatientID:    r.PatientID,
		ReminderName: r.Name,
		ReminderType: r.Type,
		Status:       StatusMissed,
		CompletedAt:  detectedAt,
	}
}
