package reminder

import "time"

// Key identifies a reminder. Reminder ids are only unique within a patient.
type Key struct {
	PatientID  string
	ReminderID string
}

type Reminder struct {
	ID            string    `json:"id" bson:"id"`
	PatientID     string    `json:"patient_id" bson:"patient_id"`
	Name          string    `json:"name" bson:"name"`
	Type          string    `json:"type" bson:"type"`
	ScheduledTime time.Time `json:"scheduled_time" bson:"scheduled_time"`
}

func NewReminder(id, patientID, name, reminderType string, scheduled time.Time) *Reminder {
	return &Reminder{
		ID:            id,
		PatientID:     patientID,
		Name:          name,
		Type:          reminderType,
		ScheduledTime: scheduled,
	}
}

func (r *Reminder) Key() Key {
	return Key{PatientID: r.PatientID, ReminderID: r.ID}
}

// CompletionKey is the key completion events are matched against.
func (r *Reminder) CompletionKey() CompletionKey {
	return CompletionKey{PatientID: r.PatientID, ReminderName: r.Name, ReminderType: r.Type}
}

func (r *Reminder) Reschedule(t time.Time) {
	r.ScheduledTime = t
}
