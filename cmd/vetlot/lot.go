package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var lotCmd = &cobra.Command{
	Use:   "lot",
	Short: "Create treatment lots across many animals",
}

var lotApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Record an applied lot for a group of animals",
	RunE:  runLotApply,
}

var lotScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule a future lot for a group of animals",
	RunE:  runLotSchedule,
}

var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "Show reminders due right now",
	RunE:  runDue,
}

var (
	lotAnimals   string
	lotName      string
	lotDesc      string
	lotDosageML  float64
	lotKind      string
	lotNotes     string
	lotDueAt     string
	lotReminders bool
)

func init() {
	lotCmd.AddCommand(lotApplyCmd, lotScheduleCmd)

	for _, c := range []*cobra.Command{lotApplyCmd, lotScheduleCmd} {
		c.Flags().StringVar(&lotAnimals, "animals", "", "Comma-separated animal ids (required)")
		c.Flags().StringVar(&lotName, "name", "", "Medication name (required)")
		c.Flags().StringVar(&lotDesc, "desc", "", "Description")
		c.Flags().Float64Var(&lotDosageML, "ml", 0, "Dosage in ml per animal (required)")
		c.Flags().StringVar(&lotKind, "kind", "other", "Kind (vaccine, dewormer, vitamin, antibiotic, other)")
		c.Flags().StringVar(&lotNotes, "notes", "", "Free-form notes")
		c.MarkFlagRequired("animals")
		c.MarkFlagRequired("name")
		c.MarkFlagRequired("ml")
	}

	lotScheduleCmd.Flags().StringVar(&lotDueAt, "at", "", "Due instant (RFC3339, required)")
	lotScheduleCmd.Flags().BoolVar(&lotReminders, "remind", true, "Enable reminders")
	lotScheduleCmd.MarkFlagRequired("at")
}

func lotBody() map[string]interface{} {
	return map[string]interface{}{
		"animal_ids":  strings.Split(lotAnimals, ","),
		"name":        lotName,
		"description": lotDesc,
		"dosage_ml":   lotDosageML,
		"kind":        lotKind,
		"notes":       lotNotes,
	}
}

func runLotApply(cmd *cobra.Command, args []string) error {
	body := lotBody()
	body["applied_at"] = time.Now().Format(time.RFC3339)

	resp, err := apiPost("/lots/applied", body)
	if err != nil {
		return err
	}
	return printLotResult(resp)
}

func runLotSchedule(cmd *cobra.Command, args []string) error {
	if _, err := time.Parse(time.RFC3339, lotDueAt); err != nil {
		return fmt.Errorf("invalid --at value: %w", err)
	}
	body := lotBody()
	body["due_at"] = lotDueAt
	body["reminder_enabled"] = lotReminders

	resp, err := apiPost("/lots/scheduled", body)
	if err != nil {
		return err
	}
	return printLotResult(resp)
}

func printLotResult(resp []byte) error {
	var result struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	fmt.Printf("Created %d doses\n", len(result.IDs))
	for _, id := range result.IDs {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

func runDue(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/reminders/due")
	if err != nil {
		return err
	}

	var due []struct {
		PendingTask struct {
			ID        string `json:"id"`
			TimeOfDay string `json:"time_of_day"`
		} `json:"pending_task"`
		Dose struct {
			Name     string `json:"name"`
			AnimalID string `json:"animal_id"`
		} `json:"dose"`
		OffsetHours  int `json:"offset_hours"`
		DeltaMinutes int `json:"delta_minutes"`
	}
	if err := json.Unmarshal(resp, &due); err != nil {
		return err
	}
	if len(due) == 0 {
		fmt.Println("Nothing due right now")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tDOSE\tANIMAL\tDUE\tOFFSET\tDELTA")
	for _, r := range due {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%+dh\t%d\n",
			shortID(r.PendingTask.ID), r.Dose.Name, r.Dose.AnimalID,
			r.PendingTask.TimeOfDay, r.OffsetHours, r.DeltaMinutes)
	}
	return w.Flush()
}
