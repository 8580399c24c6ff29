// Package handlers exposes the record store and the reminder jobs over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"care-reminders/internal/jobs"
	"care-reminders/internal/patient"
	"care-reminders/internal/reminder"
	"care-reminders/internal/storage"
)

// Runner runs a job once, refusing with jobs.ErrJobRunning if it is already running.
type Runner interface {
	RunNow(ctx context.Context, job jobs.Job) (*jobs.Report, error)
}

type API struct {
	store  storage.Storage
	runner Runner
	jobs   map[string]jobs.Job
	log    *zap.Logger
	now    func() time.Time
}

func New(store storage.Storage, runner Runner, log *zap.Logger) *API {
	return &API{
		store:  store,
		runner: runner,
		jobs:   make(map[string]jobs.Job),
		log:    log.Named("http"),
		now:    time.Now,
	}
}

// AddJob makes job triggerable at POST /jobs/{job.Name()}.
func (a *API) AddJob(job jobs.Job) {
	a.jobs[job.Name()] = job
}

// Router builds the routes. gatherer may be nil to leave /metrics out.
func (a *API) Router(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(a.logRequests)

	// Patient routes
	r.HandleFunc("/patients", a.CreatePatientHandler).Methods("POST")
	r.HandleFunc("/patients", a.ListPatientsHandler).Methods("GET")
	r.HandleFunc("/patients/{id}", a.GetPatientHandler).Methods("GET")
	r.HandleFunc("/patients/{id}/caregivers", a.AddCaregiverHandler).Methods("POST")
	r.HandleFunc("/patients/{id}/reminders", a.ListPatientRemindersHandler).Methods("GET")
	r.HandleFunc("/patients/{id}/reminders/{reminderId}", a.GetReminderHandler).Methods("GET")
	r.HandleFunc("/patients/{id}/completion-events", a.ListPatientCompletionEventsHandler).Methods("GET")

	// Reminder routes
	r.HandleFunc("/reminders", a.CreateReminderHandler).Methods("POST")
	r.HandleFunc("/reminders", a.ListRemindersHandler).Methods("GET")

	// Tracking routes
	r.HandleFunc("/occurrences", a.CreateOccurrenceHandler).Methods("POST")
	r.HandleFunc("/completion-events", a.CreateCompletionEventHandler).Methods("POST")

	// Job routes
	r.HandleFunc("/jobs/{name}", a.RunJobHandler).Methods("POST")

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return r
}

// Patient handlers
func (a *API) CreatePatientHandler(w http.ResponseWriter, r *http.Request) {
	var p patient.Patient
	if !a.decode(w, r, &p) {
		return
	}
	if p.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if p.ID == "" {
		p.ID = storage.NewID("pat")
	}
	if p.Caregivers == nil {
		p.Caregivers = []string{}
	}
	if err := a.store.CreatePatient(r.Context(), &p); err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) GetPatientHandler(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.GetPatient(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) ListPatientsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListPatients(r.Context())
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) AddCaregiverHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	p, err := a.store.GetPatient(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	p.AddCaregiver(req.Name)
	if err := a.store.CreatePatient(r.Context(), p); err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Reminder handlers
func (a *API) CreateReminderHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID            string    `json:"id"`
		PatientID     string    `json:"patient_id"`
		Name          string    `json:"name"`
		Type          string    `json:"type"`
		ScheduledTime time.Time `json:"scheduled_time"`
	}
	if !a.decode(w, r, &req) {
		return
	}
	if req.PatientID == "" || req.Name == "" || req.Type == "" {
		http.Error(w, "patient_id, name and type are required", http.StatusBadRequest)
		return
	}
	if req.ScheduledTime.IsZero() {
		http.Error(w, "scheduled_time is required", http.StatusBadRequest)
		return
	}
	if _, err := a.store.GetPatient(r.Context(), req.PatientID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "patient not found", http.StatusBadRequest)
			return
		}
		a.storeError(w, r, err)
		return
	}
	if req.ID == "" {
		req.ID = storage.NewID("rem")
	}

	re := reminder.NewReminder(req.ID, req.PatientID, req.Name, req.Type, req.ScheduledTime)
	if err := a.store.CreateReminder(r.Context(), re); err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, re)
}

func (a *API) GetReminderHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	re, err := a.store.GetReminder(r.Context(), reminder.Key{PatientID: vars["id"], ReminderID: vars["reminderId"]})
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, re)
}

func (a *API) ListRemindersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListReminders(r.Context())
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) ListPatientRemindersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListPatientReminders(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Tracking handlers
func (a *API) CreateOccurrenceHandler(w http.ResponseWriter, r *http.Request) {
	var o reminder.Occurrence
	if !a.decode(w, r, &o) {
		return
	}
	if o.PatientID == "" || o.ReminderID == "" {
		http.Error(w, "patient_id and reminder_id are required", http.StatusBadRequest)
		return
	}
	if _, err := a.store.GetReminder(r.Context(), o.Key()); err != nil {
		a.storeError(w, r, err)
		return
	}
	if o.ActualTime == nil {
		now := a.now()
		o.ActualTime = &now
	}
	if err := a.store.CreateOccurrence(r.Context(), &o); err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) CreateCompletionEventHandler(w http.ResponseWriter, r *http.Request) {
	var e reminder.CompletionEvent
	if !a.decode(w, r, &e) {
		return
	}
	if e.PatientID == "" || e.ReminderName == "" || e.ReminderType == "" {
		http.Error(w, "patient_id, reminder_name and reminder_type are required", http.StatusBadRequest)
		return
	}
	switch e.Status {
	case "":
		e.Status = reminder.StatusCompleted
	case reminder.StatusCompleted, reminder.StatusMissed:
	default:
		http.Error(w, "status must be completed or missed", http.StatusBadRequest)
		return
	}

	p, err := a.store.GetPatient(r.Context(), e.PatientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "patient not found", http.StatusBadRequest)
			return
		}
		a.storeError(w, r, err)
		return
	}
	if e.CompletedBy != "" && !p.CanComplete(e.CompletedBy) {
		http.Error(w, "completed_by is neither the patient nor a caregiver", http.StatusBadRequest)
		return
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = a.now()
	}

	if err := a.store.CreateCompletionEvent(r.Context(), &e); err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) ListPatientCompletionEventsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := a.store.ListPatientCompletionEvents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// RunJobHandler runs a job synchronously and returns its report.
func (a *API) RunJobHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	job, ok := a.jobs[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	// A run that starts finishes, even if the client goes away.
	report, err := a.runner.RunNow(context.WithoutCancel(r.Context()), job)
	if err != nil {
		if errors.Is(err, jobs.ErrJobRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		a.log.Debug("bad request body", zap.String("path", r.URL.Path), zap.ByteString("body", body), zap.Error(err))
		return false
	}
	return true
}

func (a *API) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storage.ErrUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		a.log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
