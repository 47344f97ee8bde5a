// Package notify defines the boundary to OS-level notification delivery.
package notify

import (
	"context"

	"github.com/druiz27/vetlot/internal/models"
	"go.uber.org/zap"
)

// Dispatcher receives the reminders matched by one evaluation pass. Delivery
// mechanics (OS notifications, exact alarms) live behind this boundary.
type Dispatcher interface {
	Dispatch(ctx context.Context, reminders []models.DueReminder) error
}

// AnimalResolver resolves animal ids against the external registry so
// reminders can carry a display name. Implementations may return false for
// unknown or generic (empty) ids.
type AnimalResolver interface {
	AnimalName(ctx context.Context, animalID string) (string, bool)
}

// LogDispatcher writes each due reminder to the log. It stands in for real
// OS delivery and is the default dispatcher of the daemon.
type LogDispatcher struct {
	log      *zap.Logger
	resolver AnimalResolver
}

// NewLogDispatcher creates a LogDispatcher. resolver may be nil.
func NewLogDispatcher(log *zap.Logger, resolver AnimalResolver) *LogDispatcher {
	return &LogDispatcher{log: log, resolver: resolver}
}

// Dispatch logs every reminder, enriched with the animal name when a
// resolver is configured.
func (d *LogDispatcher) Dispatch(ctx context.Context, reminders []models.DueReminder) error {
	for i := range reminders {
		r := &reminders[i]
		if d.resolver != nil && r.Dose.AnimalID != "" {
			if name, ok := d.resolver.AnimalName(ctx, r.Dose.AnimalID); ok {
				r.AnimalName = name
			}
		}
		d.log.Info("treatment reminder due",
			zap.String("task_id", r.PendingTask.ID),
			zap.String("dose_id", r.Dose.ID),
			zap.String("dose_name", r.Dose.Name),
			zap.String("animal_id", r.Dose.AnimalID),
			zap.String("animal_name", r.AnimalName),
			zap.Int("offset_hours", r.OffsetHours),
			zap.Int("delta_minutes", r.DeltaMinutes))
	}
	return nil
}
