// Package api provides the local HTTP control surface for vetlot.
package api

import (
	"context"
	"time"

	"github.com/druiz27/vetlot/internal/lot"
	"github.com/druiz27/vetlot/internal/models"
	"github.com/druiz27/vetlot/internal/reminder"
	"github.com/druiz27/vetlot/internal/store"
)

// Service bundles the store, lot scheduler and matcher behind the HTTP
// handlers and the CLI.
type Service struct {
	store     *store.Store
	scheduler *lot.Scheduler
	matcher   *reminder.Matcher
}

// NewService creates the control service.
func NewService(s *store.Store, sch *lot.Scheduler, m *reminder.Matcher) *Service {
	return &Service{store: s, scheduler: sch, matcher: m}
}

// SaveDose validates and persists one dose.
func (s *Service) SaveDose(ctx context.Context, in lot.SaveDoseInput) (string, error) {
	return s.scheduler.SaveDose(ctx, in)
}

// GetDose retrieves a dose by id.
func (s *Service) GetDose(ctx context.Context, id string) (*models.Dose, error) {
	return s.store.GetDose(ctx, id)
}

// DeleteDose removes a dose; its pending tasks cascade away with it.
func (s *Service) DeleteDose(ctx context.Context, id string) error {
	return s.store.DeleteDose(ctx, id)
}

// DoseFilter selects which doses ListDoses returns. Zero value lists the
// scheduled-pending set.
type DoseFilter struct {
	AnimalID string
	Kind     models.DoseKind
	LotID    string
	Applied  bool
	From     *time.Time
	To       *time.Time
}

// ListDoses returns doses matching the first populated filter field.
func (s *Service) ListDoses(ctx context.Context, f DoseFilter) ([]models.Dose, error) {
	switch {
	case f.AnimalID != "":
		return s.store.ListDosesByAnimal(ctx, f.AnimalID)
	case f.LotID != "":
		return s.store.ListDosesByLot(ctx, f.LotID)
	case f.Kind != "":
		return s.store.ListDosesByKind(ctx, f.Kind)
	case f.From != nil && f.To != nil:
		return s.store.ListDosesByRange(ctx, *f.From, *f.To)
	case f.Applied:
		return s.store.ListApplied(ctx)
	default:
		return s.store.ListScheduledPending(ctx)
	}
}

// CreateAppliedLot creates an already-applied batch across the given animals.
func (s *Service) CreateAppliedLot(ctx context.Context, in lot.LotInput, appliedAt time.Time) ([]string, error) {
	return s.scheduler.CreateAppliedLot(ctx, in, appliedAt)
}

// CreateScheduledLot creates a future batch due at dueAt.
func (s *Service) CreateScheduledLot(ctx context.Context, in lot.LotInput, dueAt time.Time, reminderEnabled bool) ([]string, error) {
	return s.scheduler.CreateScheduledLot(ctx, in, dueAt, reminderEnabled)
}

// MarkApplied transitions a dose to applied; ok is false for unknown ids.
func (s *Service) MarkApplied(ctx context.Context, doseID string, appliedAt time.Time) (bool, error) {
	return s.scheduler.MarkApplied(ctx, doseID, appliedAt)
}

// ListTasks returns pending tasks, optionally filtered by status.
func (s *Service) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.PendingTask, error) {
	if status != "" {
		return s.store.ListTasksByStatus(ctx, status)
	}
	return s.store.ListTasks(ctx)
}

// DueReminders runs a one-shot matcher evaluation against now without
// dispatching or completing anything.
func (s *Service) DueReminders(ctx context.Context, now time.Time) ([]models.DueReminder, error) {
	return s.matcher.Evaluate(ctx, now)
}

// Health describes the daemon's current state.
type Health struct {
	Status       string    `json:"status"`
	PendingTasks int       `json:"pending_tasks"`
	Time         time.Time `json:"time"`
}

// Health pings the store and reports the pending backlog size. Status is
// "degraded" when the store is unreachable.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{Status: "ok", Time: time.Now()}
	if err := s.store.Ping(ctx); err != nil {
		h.Status = "degraded"
		return h
	}
	tasks, err := s.store.ListTasksByStatus(ctx, models.TaskStatusPending)
	if err != nil {
		h.Status = "degraded"
		return h
	}
	h.PendingTasks = len(tasks)
	return h
}
