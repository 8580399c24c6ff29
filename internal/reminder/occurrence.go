package reminder

import "time"

// Occurrence is one logged interaction of a patient with a reminder.
// ActualTime is nil when the interaction was logged without a time.
type Occurrence struct {
	ID         string     `json:"id" bson:"id"`
	PatientID  string     `json:"patient_id" bson:"patient_id"`
	ReminderID string     `json:"reminder_id" bson:"reminder_id"`
	ActualTime *time.Time `json:"actual_time,omitempty" bson:"actual_time"`
}

func (o *Occurrence) Key() Key {
	return Key{PatientID: o.PatientID, ReminderID: o.ReminderID}
}
