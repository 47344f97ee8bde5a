package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/druiz27/vetlot/internal/lot"
	"github.com/druiz27/vetlot/internal/models"
	"github.com/druiz27/vetlot/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server provides the HTTP API for the vetlot daemon.
type Server struct {
	service *Service
	log     *zap.Logger
	addr    string
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, log *zap.Logger, addr string) *Server {
	return &Server{service: service, log: log, addr: addr}
}

// Router builds the chi router with all endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)

	r.Route("/doses", func(r chi.Router) {
		r.Post("/", s.handleSaveDose)
		r.Get("/", s.handleListDoses)
		r.Get("/{id}", s.handleGetDose)
		r.Delete("/{id}", s.handleDeleteDose)
		r.Post("/{id}/apply", s.handleMarkApplied)
	})

	r.Route("/lots", func(r chi.Router) {
		r.Post("/applied", s.handleCreateAppliedLot)
		r.Post("/scheduled", s.handleCreateScheduledLot)
	})

	r.Get("/tasks", s.handleListTasks)
	r.Get("/reminders/due", s.handleDueReminders)

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info("starting vetlot daemon", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. It is a no-op when the
// server was never started.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Health(r.Context()))
}

type saveDoseRequest struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	DosageML        float64 `json:"dosage_ml"`
	AnimalID        string  `json:"animal_id"`
	Kind            string  `json:"kind"`
	Scheduled       bool    `json:"scheduled"`
	Applied         bool    `json:"applied"`
	AppliedAt       string  `json:"applied_at"`
	ScheduledAt     string  `json:"scheduled_at"`
	ReminderEnabled bool    `json:"reminder_enabled"`
	Notes           string  `json:"notes"`
}

func (s *Server) handleSaveDose(w http.ResponseWriter, r *http.Request) {
	var req saveDoseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	appliedAt, ok := parseOptionalTime(w, req.AppliedAt)
	if !ok {
		return
	}
	scheduledAt, ok := parseOptionalTime(w, req.ScheduledAt)
	if !ok {
		return
	}

	id, err := s.service.SaveDose(r.Context(), lot.SaveDoseInput{
		Name:            req.Name,
		Description:     req.Description,
		DosageML:        req.DosageML,
		AnimalID:        req.AnimalID,
		Kind:            models.DoseKind(req.Kind),
		Scheduled:       req.Scheduled,
		Applied:         req.Applied,
		AppliedAt:       appliedAt,
		ScheduledAt:     scheduledAt,
		ReminderEnabled: req.ReminderEnabled,
		Notes:           req.Notes,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetDose(w http.ResponseWriter, r *http.Request) {
	d, err := s.service.GetDose(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDeleteDose(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDose(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDoses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := DoseFilter{
		AnimalID: q.Get("animal"),
		Kind:     models.DoseKind(q.Get("kind")),
		LotID:    q.Get("lot"),
		Applied:  q.Get("applied") == "true",
	}
	if from, to := q.Get("from"), q.Get("to"); from != "" && to != "" {
		fromT, err := time.Parse(time.RFC3339, from)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from time")
			return
		}
		toT, err := time.Parse(time.RFC3339, to)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to time")
			return
		}
		f.From, f.To = &fromT, &toT
	}

	doses, err := s.service.ListDoses(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if doses == nil {
		doses = []models.Dose{}
	}
	writeJSON(w, http.StatusOK, doses)
}

type markAppliedRequest struct {
	AppliedAt string `json:"applied_at"`
}

func (s *Server) handleMarkApplied(w http.ResponseWriter, r *http.Request) {
	var req markAppliedRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	appliedAt, ok := parseOptionalTime(w, req.AppliedAt)
	if !ok {
		return
	}

	applied, err := s.service.MarkApplied(r.Context(), chi.URLParam(r, "id"), appliedAt)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !applied {
		writeError(w, http.StatusNotFound, "dose not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": true})
}

type lotRequest struct {
	AnimalIDs       []string `json:"animal_ids"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	DosageML        float64  `json:"dosage_ml"`
	Kind            string   `json:"kind"`
	Notes           string   `json:"notes"`
	AppliedAt       string   `json:"applied_at,omitempty"`
	DueAt           string   `json:"due_at,omitempty"`
	ReminderEnabled *bool    `json:"reminder_enabled,omitempty"`
}

func (req *lotRequest) input() lot.LotInput {
	return lot.LotInput{
		AnimalIDs:   req.AnimalIDs,
		Name:        req.Name,
		Description: req.Description,
		DosageML:    req.DosageML,
		Kind:        models.DoseKind(req.Kind),
		Notes:       req.Notes,
	}
}

func (s *Server) handleCreateAppliedLot(w http.ResponseWriter, r *http.Request) {
	var req lotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	appliedAt, ok := parseOptionalTime(w, req.AppliedAt)
	if !ok {
		return
	}

	ids, err := s.service.CreateAppliedLot(r.Context(), req.input(), appliedAt)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ids": ids})
}

func (s *Server) handleCreateScheduledLot(w http.ResponseWriter, r *http.Request) {
	var req lotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	dueAt, err := time.Parse(time.RFC3339, req.DueAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid due_at time")
		return
	}
	reminders := true
	if req.ReminderEnabled != nil {
		reminders = *req.ReminderEnabled
	}

	ids, err := s.service.CreateScheduledLot(r.Context(), req.input(), dueAt, reminders)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ids": ids})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.service.ListTasks(r.Context(), models.TaskStatus(r.URL.Query().Get("status")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.PendingTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleDueReminders(w http.ResponseWriter, r *http.Request) {
	due, err := s.service.DueReminders(r.Context(), time.Now())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if due == nil {
		due = []models.DueReminder{}
	}
	writeJSON(w, http.StatusOK, due)
}

// writeServiceError maps domain errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lot.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseOptionalTime(w http.ResponseWriter, value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timestamp")
		return time.Time{}, false
	}
	return t, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
