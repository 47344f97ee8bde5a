// Package lot validates and creates treatment doses, singly or as atomic
// batches across many animals.
package lot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/druiz27/vetlot/internal/models"
	"github.com/druiz27/vetlot/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrValidation indicates invalid input. It is raised before any write.
var ErrValidation = errors.New("invalid dose input")

// Lot id prefixes: LOT- marks an immediately applied batch, PROG- a batch
// scheduled for the future. Uniqueness of the random suffix is probabilistic
// and not collision-checked; acceptable at the batch volumes this runs at.
const (
	appliedLotPrefix   = "LOT-"
	scheduledLotPrefix = "PROG-"
)

// Scheduler creates doses and lots and transitions scheduled doses to applied.
type Scheduler struct {
	store *store.Store
	log   *zap.Logger
	now   func() time.Time
}

// New creates a Scheduler on top of the store.
func New(s *store.Store, log *zap.Logger) *Scheduler {
	return &Scheduler{store: s, log: log, now: time.Now}
}

// SaveDoseInput carries the fields of a single dose to persist.
type SaveDoseInput struct {
	Name            string
	Description     string
	DosageML        float64
	AnimalID        string
	Kind            models.DoseKind
	Scheduled       bool
	Applied         bool
	AppliedAt       time.Time
	ScheduledAt     time.Time
	ReminderEnabled bool
	Notes           string
}

// SaveDose validates and persists one dose, returning its generated id.
// A scheduled dose with reminders enabled gets its pending task in the same
// transaction.
func (sch *Scheduler) SaveDose(ctx context.Context, in SaveDoseInput) (string, error) {
	if err := validate(in.Name, in.DosageML); err != nil {
		return "", err
	}

	now := sch.now()
	d := &models.Dose{
		ID:              uuid.New().String(),
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		DosageML:        in.DosageML,
		AnimalID:        normalizeAnimal(in.AnimalID),
		Kind:            kindOrOther(in.Kind),
		Scheduled:       in.Scheduled,
		Applied:         in.Applied,
		AppliedAt:       now,
		ReminderEnabled: in.ReminderEnabled,
		Notes:           in.Notes,
		RegisteredAt:    now,
	}
	// The supplied application time only counts when the dose arrives
	// already applied; otherwise AppliedAt stays a placeholder until
	// MarkApplied runs.
	if in.Applied && !in.AppliedAt.IsZero() {
		d.AppliedAt = in.AppliedAt
	}
	if in.Scheduled && !in.ScheduledAt.IsZero() {
		t := in.ScheduledAt
		d.ScheduledAt = &t
	}

	var tasks []*models.PendingTask
	if d.Scheduled && d.ReminderEnabled && d.ScheduledAt != nil {
		tasks = append(tasks, pendingTaskFor(d.ID, *d.ScheduledAt))
	}

	if err := sch.store.InsertLot(ctx, []*models.Dose{d}, tasks); err != nil {
		return "", err
	}
	sch.log.Info("dose saved",
		zap.String("dose_id", d.ID),
		zap.String("kind", string(d.Kind)),
		zap.Bool("scheduled", d.Scheduled))
	return d.ID, nil
}

// LotInput carries the shared fields of a batch of doses.
type LotInput struct {
	AnimalIDs   []string
	Name        string
	Description string
	DosageML    float64
	Kind        models.DoseKind
	Notes       string
}

// CreateAppliedLot creates one already-applied dose per animal, all sharing a
// freshly generated LOT- id. The whole batch commits atomically; the returned
// ids are in input order.
func (sch *Scheduler) CreateAppliedLot(ctx context.Context, in LotInput, appliedAt time.Time) ([]string, error) {
	if err := validateLot(in); err != nil {
		return nil, err
	}
	now := sch.now()
	if appliedAt.IsZero() {
		appliedAt = now
	}

	lotID := newLotID(appliedLotPrefix)
	doses := make([]*models.Dose, 0, len(in.AnimalIDs))
	ids := make([]string, 0, len(in.AnimalIDs))
	for _, animalID := range in.AnimalIDs {
		d := &models.Dose{
			ID:           uuid.New().String(),
			Name:         strings.TrimSpace(in.Name),
			Description:  in.Description,
			DosageML:     in.DosageML,
			AnimalID:     normalizeAnimal(animalID),
			Kind:         kindOrOther(in.Kind),
			LotID:        lotID,
			Applied:      true,
			AppliedAt:    appliedAt,
			Notes:        in.Notes,
			RegisteredAt: now,
		}
		doses = append(doses, d)
		ids = append(ids, d.ID)
	}

	if err := sch.store.InsertLot(ctx, doses, nil); err != nil {
		return nil, err
	}
	sch.log.Info("applied lot created",
		zap.String("lot_id", lotID),
		zap.Int("doses", len(doses)))
	return ids, nil
}

// CreateScheduledLot creates one scheduled dose per animal under a PROG- lot
// id, due at dueAt. When reminders are enabled, each dose gets a pending task
// in the same transaction as the doses themselves.
func (sch *Scheduler) CreateScheduledLot(ctx context.Context, in LotInput, dueAt time.Time, reminderEnabled bool) ([]string, error) {
	if err := validateLot(in); err != nil {
		return nil, err
	}
	if dueAt.IsZero() {
		return nil, fmt.Errorf("%w: due time required", ErrValidation)
	}
	now := sch.now()

	lotID := newLotID(scheduledLotPrefix)
	doses := make([]*models.Dose, 0, len(in.AnimalIDs))
	tasks := make([]*models.PendingTask, 0, len(in.AnimalIDs))
	ids := make([]string, 0, len(in.AnimalIDs))
	for _, animalID := range in.AnimalIDs {
		due := dueAt
		d := &models.Dose{
			ID:              uuid.New().String(),
			Name:            strings.TrimSpace(in.Name),
			Description:     in.Description,
			DosageML:        in.DosageML,
			AnimalID:        normalizeAnimal(animalID),
			Kind:            kindOrOther(in.Kind),
			LotID:           lotID,
			Scheduled:       true,
			AppliedAt:       now, // placeholder until MarkApplied
			ScheduledAt:     &due,
			ReminderEnabled: reminderEnabled,
			Notes:           in.Notes,
			RegisteredAt:    now,
		}
		doses = append(doses, d)
		ids = append(ids, d.ID)
		if reminderEnabled {
			tasks = append(tasks, pendingTaskFor(d.ID, dueAt))
		}
	}

	if err := sch.store.InsertLot(ctx, doses, tasks); err != nil {
		return nil, err
	}
	sch.log.Info("scheduled lot created",
		zap.String("lot_id", lotID),
		zap.Int("doses", len(doses)),
		zap.Time("due_at", dueAt))
	return ids, nil
}

// MarkApplied transitions a dose to applied. An unknown id yields (false, nil)
// so callers can retry or ignore; store failures are returned as errors.
// Repeated calls overwrite AppliedAt with the supplied time.
func (sch *Scheduler) MarkApplied(ctx context.Context, doseID string, appliedAt time.Time) (bool, error) {
	d, err := sch.store.GetDose(ctx, doseID)
	if errors.Is(err, store.ErrNotFound) {
		sch.log.Warn("mark applied: dose not found", zap.String("dose_id", doseID))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if appliedAt.IsZero() {
		appliedAt = sch.now()
	}
	d.Applied = true
	d.AppliedAt = appliedAt
	if err := sch.store.UpdateDose(ctx, d); err != nil {
		return false, err
	}

	// An applied dose no longer needs its reminders.
	tasks, err := sch.store.ListTasksByDose(ctx, doseID)
	if err != nil {
		return false, err
	}
	for i := range tasks {
		if tasks[i].Status == models.TaskStatusCompleted {
			continue
		}
		tasks[i].Status = models.TaskStatusCompleted
		if err := sch.store.UpdateTask(ctx, &tasks[i]); err != nil {
			return false, err
		}
	}

	sch.log.Info("dose applied",
		zap.String("dose_id", doseID),
		zap.Time("applied_at", appliedAt))
	return true, nil
}

func validate(name string, dosageML float64) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name must not be blank", ErrValidation)
	}
	if dosageML <= 0 {
		return fmt.Errorf("%w: dosage must be positive", ErrValidation)
	}
	return nil
}

func validateLot(in LotInput) error {
	if len(in.AnimalIDs) == 0 {
		return fmt.Errorf("%w: at least one animal required", ErrValidation)
	}
	return validate(in.Name, in.DosageML)
}

// normalizeAnimal maps absent or zero animal references to the empty string,
// meaning a generic dose not assigned to any animal.
func normalizeAnimal(id string) string {
	id = strings.TrimSpace(id)
	if id == "0" {
		return ""
	}
	return id
}

func kindOrOther(k models.DoseKind) models.DoseKind {
	if k.Valid() {
		return k
	}
	return models.DoseKindOther
}

func pendingTaskFor(doseID string, dueAt time.Time) *models.PendingTask {
	return &models.PendingTask{
		ID:            uuid.New().String(),
		DoseID:        doseID,
		ScheduledDate: dueAt.Format("2006-01-02"),
		TimeOfDay:     dueAt.Format(time.RFC3339),
		Status:        models.TaskStatusPending,
	}
}

// newLotID generates a lot identifier with the given namespace prefix and a
// short random token.
func newLotID(prefix string) string {
	token := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return prefix + token
}
