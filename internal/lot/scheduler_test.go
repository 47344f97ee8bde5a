package lot

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/druiz27/vetlot/internal/models"
	"github.com/druiz27/vetlot/internal/store"
	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, zap.NewNop()), s
}

func TestSaveDoseValidation(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input SaveDoseInput
	}{
		{"blank name", SaveDoseInput{Name: "   ", DosageML: 2}},
		{"zero dosage", SaveDoseInput{Name: "Ivermectin", DosageML: 0}},
		{"negative dosage", SaveDoseInput{Name: "Ivermectin", DosageML: -1.5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := sch.SaveDose(ctx, tc.input)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}

	// Validation failures must not write anything.
	doses, err := s.ListDosesByKind(ctx, models.DoseKindOther)
	if err != nil {
		t.Fatalf("ListDosesByKind failed: %v", err)
	}
	if len(doses) != 0 {
		t.Errorf("Expected no doses after failed validation, got %d", len(doses))
	}
}

func TestSaveDoseGeneric(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	// Animal reference "0" means no animal.
	id, err := sch.SaveDose(ctx, SaveDoseInput{
		Name:     "Vitamin B",
		DosageML: 5,
		AnimalID: "0",
		Kind:     models.DoseKindVitamin,
	})
	if err != nil {
		t.Fatalf("SaveDose failed: %v", err)
	}

	d, err := s.GetDose(ctx, id)
	if err != nil {
		t.Fatalf("GetDose failed: %v", err)
	}
	if d.AnimalID != "" {
		t.Errorf("Expected generic dose without animal, got %q", d.AnimalID)
	}
	if d.Applied {
		t.Error("Dose should not be applied yet")
	}
	if d.AppliedAt.IsZero() {
		t.Error("AppliedAt placeholder should be stamped with creation time")
	}
}

func TestSaveDoseScheduledCreatesTask(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	due := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	id, err := sch.SaveDose(ctx, SaveDoseInput{
		Name:            "Rabies booster",
		DosageML:        1,
		Kind:            models.DoseKindVaccine,
		Scheduled:       true,
		ScheduledAt:     due,
		ReminderEnabled: true,
	})
	if err != nil {
		t.Fatalf("SaveDose failed: %v", err)
	}

	tasks, err := s.ListTasksByDose(ctx, id)
	if err != nil {
		t.Fatalf("ListTasksByDose failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("Expected 1 pending task, got %d", len(tasks))
	}
	if tasks[0].ScheduledDate != "2024-03-01" {
		t.Errorf("Expected scheduled date 2024-03-01, got %s", tasks[0].ScheduledDate)
	}
	if tasks[0].TimeOfDay != due.Format(time.RFC3339) {
		t.Errorf("Expected time of day %s, got %s", due.Format(time.RFC3339), tasks[0].TimeOfDay)
	}
}

func TestCreateAppliedLot(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	animals := []string{"a1", "a2", "a3", "a4"}
	ids, err := sch.CreateAppliedLot(ctx, LotInput{
		AnimalIDs: animals,
		Name:      "Spring deworming",
		DosageML:  3.5,
		Kind:      models.DoseKindDewormer,
	}, time.Time{})
	if err != nil {
		t.Fatalf("CreateAppliedLot failed: %v", err)
	}
	if len(ids) != len(animals) {
		t.Fatalf("Expected %d ids, got %d", len(animals), len(ids))
	}

	first, err := s.GetDose(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetDose failed: %v", err)
	}
	if !strings.HasPrefix(first.LotID, "LOT-") {
		t.Errorf("Expected LOT- prefix, got %s", first.LotID)
	}
	if !first.Applied {
		t.Error("Lot doses should be applied")
	}

	// Ids come back in input order and all doses share the lot id.
	for i, id := range ids {
		d, err := s.GetDose(ctx, id)
		if err != nil {
			t.Fatalf("GetDose failed: %v", err)
		}
		if d.AnimalID != animals[i] {
			t.Errorf("Expected animal %s at position %d, got %s", animals[i], i, d.AnimalID)
		}
		if d.LotID != first.LotID {
			t.Errorf("Expected shared lot id %s, got %s", first.LotID, d.LotID)
		}
	}

	inLot, _ := s.ListDosesByLot(ctx, first.LotID)
	if len(inLot) != len(animals) {
		t.Errorf("Expected %d doses in lot, got %d", len(animals), len(inLot))
	}
}

func TestCreateScheduledLot(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	due := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	ids, err := sch.CreateScheduledLot(ctx, LotInput{
		AnimalIDs: []string{"a1", "a2"},
		Name:      "Clostridial vaccine",
		DosageML:  2,
		Kind:      models.DoseKindVaccine,
	}, due, true)
	if err != nil {
		t.Fatalf("CreateScheduledLot failed: %v", err)
	}

	for _, id := range ids {
		d, err := s.GetDose(ctx, id)
		if err != nil {
			t.Fatalf("GetDose failed: %v", err)
		}
		if !strings.HasPrefix(d.LotID, "PROG-") {
			t.Errorf("Expected PROG- prefix, got %s", d.LotID)
		}
		if !d.Scheduled || d.Applied {
			t.Errorf("Expected scheduled unapplied dose, got scheduled=%v applied=%v", d.Scheduled, d.Applied)
		}
		if d.ScheduledAt == nil || !d.ScheduledAt.Equal(due) {
			t.Errorf("ScheduledAt mismatch: %v", d.ScheduledAt)
		}

		tasks, _ := s.ListTasksByDose(ctx, id)
		if len(tasks) != 1 {
			t.Errorf("Expected 1 pending task for dose %s, got %d", id, len(tasks))
		}
	}
}

func TestCreateScheduledLotNoReminders(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	due := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	ids, err := sch.CreateScheduledLot(ctx, LotInput{
		AnimalIDs: []string{"a1"},
		Name:      "Quiet treatment",
		DosageML:  1,
	}, due, false)
	if err != nil {
		t.Fatalf("CreateScheduledLot failed: %v", err)
	}

	tasks, _ := s.ListTasksByDose(ctx, ids[0])
	if len(tasks) != 0 {
		t.Errorf("Expected no tasks with reminders disabled, got %d", len(tasks))
	}
}

func TestCreateLotValidation(t *testing.T) {
	sch, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := sch.CreateAppliedLot(ctx, LotInput{Name: "X", DosageML: 1}, time.Time{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for empty animal list, got %v", err)
	}

	_, err = sch.CreateScheduledLot(ctx, LotInput{
		AnimalIDs: []string{"a1"},
		Name:      "X",
		DosageML:  1,
	}, time.Time{}, true)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for zero due time, got %v", err)
	}
}

func TestMarkApplied(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	due := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	ids, err := sch.CreateScheduledLot(ctx, LotInput{
		AnimalIDs: []string{"a1"},
		Name:      "Booster",
		DosageML:  2,
		Kind:      models.DoseKindVaccine,
	}, due, true)
	if err != nil {
		t.Fatalf("CreateScheduledLot failed: %v", err)
	}

	appliedAt := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	ok, err := sch.MarkApplied(ctx, ids[0], appliedAt)
	if err != nil {
		t.Fatalf("MarkApplied failed: %v", err)
	}
	if !ok {
		t.Fatal("Expected MarkApplied to succeed")
	}

	d, _ := s.GetDose(ctx, ids[0])
	if !d.Applied {
		t.Error("Dose should be applied")
	}
	if !d.AppliedAt.Equal(appliedAt) {
		t.Errorf("Expected applied_at %v, got %v", appliedAt, d.AppliedAt)
	}

	// Its reminder bookkeeping is closed out.
	tasks, _ := s.ListTasksByDose(ctx, ids[0])
	if len(tasks) != 1 || tasks[0].Status != models.TaskStatusCompleted {
		t.Errorf("Expected completed task, got %+v", tasks)
	}

	// Repeated calls overwrite the application time.
	later := appliedAt.Add(2 * time.Hour)
	ok, err = sch.MarkApplied(ctx, ids[0], later)
	if err != nil || !ok {
		t.Fatalf("Second MarkApplied failed: ok=%v err=%v", ok, err)
	}
	d, _ = s.GetDose(ctx, ids[0])
	if !d.AppliedAt.Equal(later) {
		t.Errorf("Expected applied_at overwritten to %v, got %v", later, d.AppliedAt)
	}
}

func TestMarkAppliedUnknownID(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	ok, err := sch.MarkApplied(ctx, "no-such-dose", time.Now())
	if err != nil {
		t.Fatalf("MarkApplied returned error for unknown id: %v", err)
	}
	if ok {
		t.Error("Expected failure result for unknown id")
	}

	applied, _ := s.ListApplied(ctx)
	if len(applied) != 0 {
		t.Errorf("Store should be unchanged, got %d applied doses", len(applied))
	}
}
