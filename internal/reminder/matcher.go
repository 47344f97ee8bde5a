// Package reminder decides which scheduled treatments need a user-facing
// reminder right now and drives the periodic evaluation loop.
package reminder

import (
	"context"
	"math"
	"time"

	"github.com/druiz27/vetlot/internal/models"
	"github.com/druiz27/vetlot/internal/store"
	"go.uber.org/zap"
)

// offsetHours are the relative offsets at which a reminder fires, in hours
// before (+) or after (-) the due instant. Windows are 2*tolerance wide and
// spaced at least two hours apart, so they can never overlap.
var offsetHours = []int{5, 3, 1, 0, -1, -3, -5}

// toleranceMinutes is the half-width of each offset window.
const toleranceMinutes = 1

// Matcher computes the set of pending tasks due for a reminder at a given
// instant.
type Matcher struct {
	store *store.Store
	log   *zap.Logger
}

// NewMatcher creates a Matcher over the store.
func NewMatcher(s *store.Store, log *zap.Logger) *Matcher {
	return &Matcher{store: s, log: log}
}

// Evaluate scans today's pending tasks against now and returns those whose
// due instant falls inside one of the offset windows. The scan reads a
// one-shot snapshot; it never fails as a whole because of a single malformed
// task, and a task matches at most one offset per invocation.
func (m *Matcher) Evaluate(ctx context.Context, now time.Time) ([]models.DueReminder, error) {
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	tasks, err := m.store.DueToday(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	var due []models.DueReminder
	for _, task := range tasks {
		dueAt, err := time.Parse(time.RFC3339, task.TimeOfDay)
		if err != nil {
			// Malformed rows are skipped, never fatal for the scan.
			m.log.Warn("unparseable task due time",
				zap.String("task_id", task.ID),
				zap.String("time_of_day", task.TimeOfDay),
				zap.Error(err))
			continue
		}

		delta := int(math.Round(dueAt.Sub(now).Minutes()))
		offset, ok := matchOffset(delta)
		if !ok {
			continue
		}

		dose, err := m.store.GetDose(ctx, task.DoseID)
		if err != nil {
			m.log.Warn("task without resolvable dose",
				zap.String("task_id", task.ID),
				zap.String("dose_id", task.DoseID),
				zap.Error(err))
			continue
		}

		due = append(due, models.DueReminder{
			PendingTask:  task,
			Dose:         *dose,
			OffsetHours:  offset,
			DeltaMinutes: delta,
		})
	}
	return due, nil
}

// matchOffset returns the first offset whose window contains deltaMinutes.
// A task beyond the outermost windows in either direction matches nothing;
// scheduling a closer evaluation pass is the caller's concern.
func matchOffset(deltaMinutes int) (int, bool) {
	for _, h := range offsetHours {
		offsetMinutes := h * 60
		if deltaMinutes >= offsetMinutes-toleranceMinutes && deltaMinutes <= offsetMinutes+toleranceMinutes {
			return h, true
		}
	}
	return 0, false
}
