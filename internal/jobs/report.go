// Package jobs runs the periodic reminder jobs and records what each run did
// to every reminder it touched.
package jobs

import (
	"context"
	"time"
)

// Outcome is what a run did with one reminder or occurrence group.
type Outcome string

const (
	OutcomeUpdated   Outcome = "updated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeOnTime    Outcome = "on_time"
	OutcomePending   Outcome = "pending"
	OutcomeMissed    Outcome = "missed"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
)

// Result is the outcome for a single entity. Err is set only for OutcomeFailed.
type Result struct {
	PatientID  string  `json:"patient_id"`
	ReminderID string  `json:"reminder_id,omitempty"`
	Reminder   string  `json:"reminder,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Detail     string  `json:"detail,omitempty"`
	Error      string  `json:"error,omitempty"`
	Err        error   `json:"-"`
}

// Fail records err on the result.
func (r *Result) Fail(err error) {
	r.Outcome = OutcomeFailed
	r.Err = err
	r.Error = err.Error()
}

type Report struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
}

func (r *Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Counts tallies results by outcome.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Job is one periodic pass. Run returns an error only when the pass could not
// start, for example because a collection could not be read. Per-entity
// failures are reported in the Report.
type Job interface {
	Name() string
	Run(ctx context.Context) (*Report, error)
}
