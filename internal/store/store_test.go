package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/druiz27/vetlot/internal/models"
	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func testDose(name string) *models.Dose {
	now := time.Now().UTC()
	return &models.Dose{
		Name:         name,
		DosageML:     2.0,
		Kind:         models.DoseKindVaccine,
		AppliedAt:    now,
		RegisteredAt: now,
	}
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestDoseCRUD(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	d := testDose("Ivermectin")
	d.DosageML = 12.5
	d.AnimalID = "animal-1"
	if err := s.InsertDose(ctx, d); err != nil {
		t.Fatalf("InsertDose failed: %v", err)
	}
	if d.ID == "" {
		t.Error("Dose ID should not be empty")
	}

	got, err := s.GetDose(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDose failed: %v", err)
	}
	if got.Name != "Ivermectin" {
		t.Errorf("Expected name 'Ivermectin', got %s", got.Name)
	}
	if got.DosageML != 12.5 {
		t.Errorf("Expected dosage 12.5, got %v", got.DosageML)
	}
	if got.Kind != models.DoseKindVaccine {
		t.Errorf("Expected kind vaccine, got %s", got.Kind)
	}

	got.Notes = "left flank"
	got.Applied = true
	if err := s.UpdateDose(ctx, got); err != nil {
		t.Fatalf("UpdateDose failed: %v", err)
	}
	got, _ = s.GetDose(ctx, d.ID)
	if got.Notes != "left flank" || !got.Applied {
		t.Errorf("Update not persisted: %+v", got)
	}

	if err := s.DeleteDose(ctx, d.ID); err != nil {
		t.Fatalf("DeleteDose failed: %v", err)
	}
	if _, err := s.GetDose(ctx, d.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetDoseNotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	_, err := s.GetDose(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestInsertLotAtomic(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	// A duplicate primary key in the middle of the batch must abort the
	// whole insert.
	dup := uuid.New().String()
	doses := []*models.Dose{testDose("A"), testDose("B"), testDose("C")}
	doses[0].ID = dup
	doses[2].ID = dup

	if err := s.InsertLot(ctx, doses, nil); err == nil {
		t.Fatal("Expected batch insert to fail")
	}

	all, err := s.ListDosesByKind(ctx, models.DoseKindVaccine)
	if err != nil {
		t.Fatalf("ListDosesByKind failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected 0 doses after failed batch, got %d", len(all))
	}
}

func TestInsertLotWithTasks(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	d := testDose("Scheduled")
	d.ID = uuid.New().String()
	task := &models.PendingTask{
		DoseID:        d.ID,
		ScheduledDate: "2024-01-01",
		TimeOfDay:     "2024-01-01T15:00:00Z",
		Status:        models.TaskStatusPending,
	}

	if err := s.InsertLot(ctx, []*models.Dose{d}, []*models.PendingTask{task}); err != nil {
		t.Fatalf("InsertLot failed: %v", err)
	}

	tasks, err := s.ListTasksByDose(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListTasksByDose failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Status != models.TaskStatusPending {
		t.Errorf("Expected pending status, got %s", tasks[0].Status)
	}
}

func TestInsertTaskUnknownDose(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	// Foreign key on dose_id must reject orphan tasks.
	task := &models.PendingTask{
		DoseID:        "no-such-dose",
		ScheduledDate: "2024-01-01",
		TimeOfDay:     "2024-01-01T15:00:00Z",
		Status:        models.TaskStatusPending,
	}
	if err := s.InsertTask(context.Background(), task); err == nil {
		t.Error("Expected insert of orphan task to fail")
	}
}

func TestCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	d := testDose("Cascade")
	d.ID = uuid.New().String()
	task := &models.PendingTask{
		DoseID:        d.ID,
		ScheduledDate: "2024-01-01",
		TimeOfDay:     "2024-01-01T15:00:00Z",
		Status:        models.TaskStatusPending,
	}
	if err := s.InsertLot(ctx, []*models.Dose{d}, []*models.PendingTask{task}); err != nil {
		t.Fatalf("InsertLot failed: %v", err)
	}

	if err := s.DeleteDose(ctx, d.ID); err != nil {
		t.Fatalf("DeleteDose failed: %v", err)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("Expected cascade delete to remove tasks, got %d", len(tasks))
	}
}

func TestDoseQueries(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	applied := testDose("Applied")
	applied.Applied = true
	applied.AnimalID = "animal-1"
	applied.LotID = "LOT-AAAA1111"

	scheduledAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	scheduled := testDose("Scheduled")
	scheduled.Kind = models.DoseKindDewormer
	scheduled.Scheduled = true
	scheduled.ScheduledAt = &scheduledAt

	for _, d := range []*models.Dose{applied, scheduled} {
		if err := s.InsertDose(ctx, d); err != nil {
			t.Fatalf("InsertDose failed: %v", err)
		}
	}

	byAnimal, _ := s.ListDosesByAnimal(ctx, "animal-1")
	if len(byAnimal) != 1 || byAnimal[0].Name != "Applied" {
		t.Errorf("ListDosesByAnimal mismatch: %+v", byAnimal)
	}

	pending, _ := s.ListScheduledPending(ctx)
	if len(pending) != 1 || pending[0].Name != "Scheduled" {
		t.Errorf("ListScheduledPending mismatch: %+v", pending)
	}
	if pending[0].ScheduledAt == nil || !pending[0].ScheduledAt.Equal(scheduledAt) {
		t.Errorf("ScheduledAt not round-tripped: %+v", pending[0].ScheduledAt)
	}

	appliedList, _ := s.ListApplied(ctx)
	if len(appliedList) != 1 {
		t.Errorf("Expected 1 applied dose, got %d", len(appliedList))
	}

	byKind, _ := s.ListDosesByKind(ctx, models.DoseKindDewormer)
	if len(byKind) != 1 {
		t.Errorf("Expected 1 dewormer, got %d", len(byKind))
	}

	byLot, _ := s.ListDosesByLot(ctx, "LOT-AAAA1111")
	if len(byLot) != 1 {
		t.Errorf("Expected 1 dose in lot, got %d", len(byLot))
	}

	start := time.Now().UTC().Add(-time.Hour)
	end := time.Now().UTC().Add(time.Hour)
	byRange, _ := s.ListDosesByRange(ctx, start, end)
	if len(byRange) != 2 {
		t.Errorf("Expected 2 doses in range, got %d", len(byRange))
	}
}

func TestTaskOrderingAndFilters(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	d := testDose("Owner")
	if err := s.InsertDose(ctx, d); err != nil {
		t.Fatalf("InsertDose failed: %v", err)
	}

	later := &models.PendingTask{
		DoseID:        d.ID,
		ScheduledDate: "2024-01-02",
		TimeOfDay:     "2024-01-02T09:00:00Z",
		Status:        models.TaskStatusPending,
	}
	earlier := &models.PendingTask{
		DoseID:        d.ID,
		ScheduledDate: "2024-01-01",
		TimeOfDay:     "2024-01-01T18:00:00Z",
		Status:        models.TaskStatusCompleted,
	}
	for _, task := range []*models.PendingTask{later, earlier} {
		if err := s.InsertTask(ctx, task); err != nil {
			t.Fatalf("InsertTask failed: %v", err)
		}
	}

	all, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(all) != 2 || all[0].ScheduledDate != "2024-01-01" {
		t.Errorf("Expected date ordering, got %+v", all)
	}

	completed, _ := s.ListTasksByStatus(ctx, models.TaskStatusCompleted)
	if len(completed) != 1 {
		t.Errorf("Expected 1 completed task, got %d", len(completed))
	}

	dayStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)
	inRange, _ := s.ListTasksByRange(ctx, dayStart, dayEnd)
	if len(inRange) != 1 {
		t.Errorf("Expected 1 task on 2024-01-01, got %d", len(inRange))
	}

	// DueToday only reports still-pending tasks.
	due, _ := s.DueToday(ctx, dayStart, dayEnd)
	if len(due) != 0 {
		t.Errorf("Expected no pending tasks on 2024-01-01, got %d", len(due))
	}
	due, _ = s.DueToday(ctx, dayEnd, dayEnd.Add(24*time.Hour))
	if len(due) != 1 {
		t.Errorf("Expected 1 pending task on 2024-01-02, got %d", len(due))
	}
}

func TestWatchEmitsOnCommit(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	sub := Watch(ctx, s, func(ctx context.Context) ([]models.Dose, error) {
		return s.ListScheduledPending(ctx)
	})
	defer sub.Cancel()

	// Initial snapshot is empty.
	select {
	case snapshot := <-sub.Updates():
		if len(snapshot) != 0 {
			t.Errorf("Expected empty initial snapshot, got %d", len(snapshot))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for initial snapshot")
	}

	d := testDose("Watched")
	d.Scheduled = true
	if err := s.InsertDose(ctx, d); err != nil {
		t.Fatalf("InsertDose failed: %v", err)
	}

	select {
	case snapshot := <-sub.Updates():
		if len(snapshot) != 1 || snapshot[0].Name != "Watched" {
			t.Errorf("Expected committed dose in snapshot, got %+v", snapshot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for update after commit")
	}
}

func TestWatchCancelStopsEmissions(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	sub := Watch(ctx, s, func(ctx context.Context) ([]models.Dose, error) {
		return s.ListApplied(ctx)
	})

	<-sub.Updates()
	sub.Cancel()

	// The updates channel must be closed after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Updates channel not closed after Cancel")
		}
	}
}
