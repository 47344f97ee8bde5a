// Package models defines the core domain types for vetlot.
package models

import "time"

// DoseKind classifies a medication administration.
type DoseKind string

const (
	DoseKindVaccine    DoseKind = "vaccine"
	DoseKindDewormer   DoseKind = "dewormer"
	DoseKindVitamin    DoseKind = "vitamin"
	DoseKindAntibiotic DoseKind = "antibiotic"
	DoseKindOther      DoseKind = "other"
)

// Valid reports whether k is one of the known dose kinds.
func (k DoseKind) Valid() bool {
	switch k {
	case DoseKindVaccine, DoseKindDewormer, DoseKindVitamin, DoseKindAntibiotic, DoseKindOther:
		return true
	}
	return false
}

// TaskStatus represents the reminder state of a pending task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

// Dose is a single medication administration record, applied or scheduled.
type Dose struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	DosageML    float64 `json:"dosage_ml"`
	// AnimalID is empty for generic doses not assigned to an animal.
	AnimalID string   `json:"animal_id,omitempty"`
	Kind     DoseKind `json:"kind"`
	// LotID groups doses created together in one atomic batch.
	LotID     string `json:"lot_id,omitempty"`
	Scheduled bool   `json:"scheduled"`
	Applied   bool   `json:"applied"`
	// AppliedAt is meaningful only once Applied is true; until then it
	// carries the creation time as a placeholder.
	AppliedAt       time.Time  `json:"applied_at"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	ReminderEnabled bool       `json:"reminder_enabled"`
	Notes           string     `json:"notes,omitempty"`
	RegisteredAt    time.Time  `json:"registered_at"`
}

// PendingTask tracks reminder bookkeeping for a scheduled dose.
type PendingTask struct {
	ID     string `json:"id"`
	DoseID string `json:"dose_id"`
	// ScheduledDate is the calendar date of the due instant (2006-01-02).
	ScheduledDate string `json:"scheduled_date"`
	// TimeOfDay is the full due instant in RFC 3339 text.
	TimeOfDay string     `json:"time_of_day"`
	Status    TaskStatus `json:"status"`
}

// DueReminder is a pending task that matched a reminder offset window,
// handed to the notification dispatcher together with its dose.
type DueReminder struct {
	PendingTask  PendingTask `json:"pending_task"`
	Dose         Dose        `json:"dose"`
	OffsetHours  int         `json:"offset_hours"`
	DeltaMinutes int         `json:"delta_minutes"`
	// AnimalName is filled by the dispatcher when a registry resolver
	// is configured.
	AnimalName string `json:"animal_name,omitempty"`
}
