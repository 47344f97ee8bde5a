// Package store provides SQLite-backed persistence for vetlot.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/druiz27/vetlot/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides access to the vetlot SQLite database.
type Store struct {
	db *sql.DB

	// Subscription bookkeeping: every committed write signals each
	// registered watcher so live queries can re-run their snapshot.
	mu       sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL journal plus enforced foreign keys, so pending tasks cascade away
	// with their dose.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection also
	// keeps session pragmas (foreign_keys) in effect for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, watchers: make(map[int]chan struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS doses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		dosage_ml REAL NOT NULL,
		animal_id TEXT,
		kind TEXT NOT NULL,
		lot_id TEXT,
		scheduled INTEGER NOT NULL DEFAULT 0,
		applied INTEGER NOT NULL DEFAULT 0,
		applied_at DATETIME NOT NULL,
		scheduled_at DATETIME,
		reminder_enabled INTEGER NOT NULL DEFAULT 0,
		notes TEXT,
		registered_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_tasks (
		id TEXT PRIMARY KEY,
		dose_id TEXT NOT NULL,
		scheduled_date TEXT NOT NULL,
		time_of_day TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		FOREIGN KEY (dose_id) REFERENCES doses(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_doses_animal_id ON doses(animal_id);
	CREATE INDEX IF NOT EXISTS idx_doses_lot_id ON doses(lot_id);
	CREATE INDEX IF NOT EXISTS idx_doses_kind ON doses(kind);
	CREATE INDEX IF NOT EXISTS idx_doses_registered_at ON doses(registered_at);
	CREATE INDEX IF NOT EXISTS idx_pending_tasks_dose_id ON pending_tasks(dose_id);
	CREATE INDEX IF NOT EXISTS idx_pending_tasks_date ON pending_tasks(scheduled_date, time_of_day);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Dose Operations ---

const doseColumns = `id, name, description, dosage_ml, animal_id, kind, lot_id,
	scheduled, applied, applied_at, scheduled_at, reminder_enabled, notes, registered_at`

// InsertDose inserts a single dose. A missing ID is generated.
func (s *Store) InsertDose(ctx context.Context, d *models.Dose) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO doses (`+doseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doseArgs(d)...,
	)
	if err != nil {
		return fmt.Errorf("insert dose: %w", err)
	}
	s.notifyChanged()
	return nil
}

// InsertDoses inserts all doses in one transaction. On any error no row is
// persisted.
func (s *Store) InsertDoses(ctx context.Context, doses []*models.Dose) error {
	return s.InsertLot(ctx, doses, nil)
}

// InsertLot atomically inserts a batch of doses together with their pending
// tasks. Either every row commits or none do.
func (s *Store) InsertLot(ctx context.Context, doses []*models.Dose, tasks []*models.PendingTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, d := range doses {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO doses (`+doseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doseArgs(d)...,
		); err != nil {
			return fmt.Errorf("insert dose: %w", err)
		}
	}

	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_tasks (id, dose_id, scheduled_date, time_of_day, status) VALUES (?, ?, ?, ?, ?)`,
			t.ID, t.DoseID, t.ScheduledDate, t.TimeOfDay, string(t.Status),
		); err != nil {
			return fmt.Errorf("insert pending task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.notifyChanged()
	return nil
}

// GetDose retrieves a dose by ID. Returns ErrNotFound if it does not exist.
func (s *Store) GetDose(ctx context.Context, id string) (*models.Dose, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+doseColumns+` FROM doses WHERE id = ?`, id)

	d, err := scanDose(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query dose: %w", err)
	}
	return d, nil
}

// UpdateDose overwrites all mutable fields of an existing dose.
func (s *Store) UpdateDose(ctx context.Context, d *models.Dose) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE doses SET name = ?, description = ?, dosage_ml = ?, animal_id = ?, kind = ?,
			lot_id = ?, scheduled = ?, applied = ?, applied_at = ?, scheduled_at = ?,
			reminder_enabled = ?, notes = ? WHERE id = ?`,
		d.Name, nullString(d.Description), d.DosageML, nullString(d.AnimalID), string(d.Kind),
		nullString(d.LotID), d.Scheduled, d.Applied, d.AppliedAt.UTC(), nullTimePtr(d.ScheduledAt),
		d.ReminderEnabled, nullString(d.Notes), d.ID,
	)
	if err != nil {
		return fmt.Errorf("update dose: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notifyChanged()
	return nil
}

// DeleteDose removes a dose. Its pending tasks are cascade-deleted.
func (s *Store) DeleteDose(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM doses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete dose: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notifyChanged()
	return nil
}

// ListDosesByAnimal returns all doses assigned to an animal, newest first.
func (s *Store) ListDosesByAnimal(ctx context.Context, animalID string) ([]models.Dose, error) {
	return s.listDoses(ctx,
		`SELECT `+doseColumns+` FROM doses WHERE animal_id = ? ORDER BY registered_at DESC`, animalID)
}

// ListScheduledPending returns scheduled doses that have not been applied yet.
func (s *Store) ListScheduledPending(ctx context.Context) ([]models.Dose, error) {
	return s.listDoses(ctx,
		`SELECT `+doseColumns+` FROM doses WHERE scheduled = 1 AND applied = 0 ORDER BY scheduled_at`)
}

// ListApplied returns all applied doses, most recent application first.
func (s *Store) ListApplied(ctx context.Context) ([]models.Dose, error) {
	return s.listDoses(ctx,
		`SELECT `+doseColumns+` FROM doses WHERE applied = 1 ORDER BY applied_at DESC`)
}

// ListDosesByKind returns all doses of one kind, newest first.
func (s *Store) ListDosesByKind(ctx context.Context, kind models.DoseKind) ([]models.Dose, error) {
	return s.listDoses(ctx,
		`SELECT `+doseColumns+` FROM doses WHERE kind = ? ORDER BY registered_at DESC`, string(kind))
}

// ListDosesByLot returns the doses created together under one lot id.
func (s *Store) ListDosesByLot(ctx context.Context, lotID string) ([]models.Dose, error) {
	return s.listDoses(ctx,
		`SELECT `+doseColumns+` FROM doses WHERE lot_id = ? ORDER BY registered_at`, lotID)
}

// ListDosesByRange returns doses registered within [start, end).
func (s *Store) ListDosesByRange(ctx context.Context, start, end time.Time) ([]models.Dose, error) {
	return s.listDoses(ctx,
		`SELECT `+doseColumns+` FROM doses WHERE registered_at >= ? AND registered_at < ? ORDER BY registered_at`,
		start.UTC(), end.UTC())
}

func (s *Store) listDoses(ctx context.Context, query string, args ...interface{}) ([]models.Dose, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query doses: %w", err)
	}
	defer rows.Close()

	var doses []models.Dose
	for rows.Next() {
		d, err := scanDose(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dose: %w", err)
		}
		doses = append(doses, *d)
	}
	return doses, rows.Err()
}

// --- Pending Task Operations ---

// InsertTask inserts a single pending task. A missing ID is generated.
func (s *Store) InsertTask(ctx context.Context, t *models.PendingTask) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_tasks (id, dose_id, scheduled_date, time_of_day, status) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.DoseID, t.ScheduledDate, t.TimeOfDay, string(t.Status),
	)
	if err != nil {
		return fmt.Errorf("insert pending task: %w", err)
	}
	s.notifyChanged()
	return nil
}

// InsertTasks inserts all tasks in one transaction, all-or-nothing.
func (s *Store) InsertTasks(ctx context.Context, tasks []*models.PendingTask) error {
	return s.InsertLot(ctx, nil, tasks)
}

// GetTask retrieves a pending task by ID. Returns ErrNotFound if absent.
func (s *Store) GetTask(ctx context.Context, id string) (*models.PendingTask, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dose_id, scheduled_date, time_of_day, status FROM pending_tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query pending task: %w", err)
	}
	return t, nil
}

// UpdateTask overwrites the mutable fields of an existing pending task.
func (s *Store) UpdateTask(ctx context.Context, t *models.PendingTask) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_tasks SET dose_id = ?, scheduled_date = ?, time_of_day = ?, status = ? WHERE id = ?`,
		t.DoseID, t.ScheduledDate, t.TimeOfDay, string(t.Status), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update pending task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notifyChanged()
	return nil
}

// DeleteTask removes a pending task.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete pending task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notifyChanged()
	return nil
}

// ListTasks returns all pending tasks ordered by scheduled date, then time of day.
func (s *Store) ListTasks(ctx context.Context) ([]models.PendingTask, error) {
	return s.listTasks(ctx,
		`SELECT id, dose_id, scheduled_date, time_of_day, status FROM pending_tasks
		 ORDER BY scheduled_date, time_of_day`)
}

// ListTasksByDose returns the pending tasks owned by a dose.
func (s *Store) ListTasksByDose(ctx context.Context, doseID string) ([]models.PendingTask, error) {
	return s.listTasks(ctx,
		`SELECT id, dose_id, scheduled_date, time_of_day, status FROM pending_tasks
		 WHERE dose_id = ? ORDER BY scheduled_date, time_of_day`, doseID)
}

// ListTasksByStatus returns pending tasks filtered by status.
func (s *Store) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.PendingTask, error) {
	return s.listTasks(ctx,
		`SELECT id, dose_id, scheduled_date, time_of_day, status FROM pending_tasks
		 WHERE status = ? ORDER BY scheduled_date, time_of_day`, string(status))
}

// ListTasksByRange returns pending tasks whose scheduled date falls in [start, end).
func (s *Store) ListTasksByRange(ctx context.Context, start, end time.Time) ([]models.PendingTask, error) {
	return s.listTasks(ctx,
		`SELECT id, dose_id, scheduled_date, time_of_day, status FROM pending_tasks
		 WHERE scheduled_date >= ? AND scheduled_date < ? ORDER BY scheduled_date, time_of_day`,
		start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// DueToday returns the still-pending tasks scheduled within [start, end) as a
// one-shot snapshot. The reminder matcher evaluates against this stable list,
// never against a live subscription.
func (s *Store) DueToday(ctx context.Context, start, end time.Time) ([]models.PendingTask, error) {
	return s.listTasks(ctx,
		`SELECT id, dose_id, scheduled_date, time_of_day, status FROM pending_tasks
		 WHERE scheduled_date >= ? AND scheduled_date < ? AND status = ?
		 ORDER BY time_of_day`,
		start.Format("2006-01-02"), end.Format("2006-01-02"), string(models.TaskStatusPending))
}

func (s *Store) listTasks(ctx context.Context, query string, args ...interface{}) ([]models.PendingTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.PendingTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// --- Row helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func doseArgs(d *models.Dose) []interface{} {
	return []interface{}{
		d.ID, d.Name, nullString(d.Description), d.DosageML, nullString(d.AnimalID),
		string(d.Kind), nullString(d.LotID), d.Scheduled, d.Applied, d.AppliedAt.UTC(),
		nullTimePtr(d.ScheduledAt), d.ReminderEnabled, nullString(d.Notes), d.RegisteredAt.UTC(),
	}
}

func scanDose(r rowScanner) (*models.Dose, error) {
	d := &models.Dose{}
	var description, animalID, lotID, notes sql.NullString
	var kind string
	var scheduledAt sql.NullTime

	err := r.Scan(&d.ID, &d.Name, &description, &d.DosageML, &animalID, &kind, &lotID,
		&d.Scheduled, &d.Applied, &d.AppliedAt, &scheduledAt, &d.ReminderEnabled,
		&notes, &d.RegisteredAt)
	if err != nil {
		return nil, err
	}

	d.Description = description.String
	d.AnimalID = animalID.String
	d.Kind = models.DoseKind(kind)
	d.LotID = lotID.String
	d.Notes = notes.String
	if scheduledAt.Valid {
		t := scheduledAt.Time
		d.ScheduledAt = &t
	}
	return d, nil
}

func scanTask(r rowScanner) (*models.PendingTask, error) {
	t := &models.PendingTask{}
	var status string
	if err := r.Scan(&t.ID, &t.DoseID, &t.ScheduledDate, &t.TimeOfDay, &status); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
