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

var doseCmd = &cobra.Command{
	Use:   "dose",
	Short: "Manage doses",
}

var doseAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record or schedule a dose",
	RunE:  runDoseAdd,
}

var doseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List doses",
	RunE:  runDoseList,
}

var doseApplyCmd = &cobra.Command{
	Use:   "apply [dose-id]",
	Short: "Mark a scheduled dose applied",
	Args:  cobra.ExactArgs(1),
	RunE:  runDoseApply,
}

var (
	doseName        string
	doseDesc        string
	doseDosageML    float64
	doseAnimal      string
	doseKind        string
	doseNotes       string
	doseScheduledAt string
	doseReminders   bool

	listAnimal  string
	listKind    string
	listLot     string
	listApplied bool

	applyAt string
)

func init() {
	doseCmd.AddCommand(doseAddCmd, doseListCmd, doseApplyCmd)

	doseAddCmd.Flags().StringVar(&doseName, "name", "", "Medication name (required)")
	doseAddCmd.Flags().StringVar(&doseDesc, "desc", "", "Description")
	doseAddCmd.Flags().Float64Var(&doseDosageML, "ml", 0, "Dosage in ml (required)")
	doseAddCmd.Flags().StringVar(&doseAnimal, "animal", "", "Animal id (omit for a generic dose)")
	doseAddCmd.Flags().StringVar(&doseKind, "kind", "other", "Kind (vaccine, dewormer, vitamin, antibiotic, other)")
	doseAddCmd.Flags().StringVar(&doseNotes, "notes", "", "Free-form notes")
	doseAddCmd.Flags().StringVar(&doseScheduledAt, "at", "", "Schedule for this RFC3339 instant instead of recording an applied dose")
	doseAddCmd.Flags().BoolVar(&doseReminders, "remind", true, "Enable reminders for a scheduled dose")
	doseAddCmd.MarkFlagRequired("name")
	doseAddCmd.MarkFlagRequired("ml")

	doseListCmd.Flags().StringVar(&listAnimal, "animal", "", "Filter by animal id")
	doseListCmd.Flags().StringVar(&listKind, "kind", "", "Filter by kind")
	doseListCmd.Flags().StringVar(&listLot, "lot", "", "Filter by lot id")
	doseListCmd.Flags().BoolVar(&listApplied, "applied", false, "List applied doses instead of scheduled ones")

	doseApplyCmd.Flags().StringVar(&applyAt, "at", "", "Application time (RFC3339, default now)")
}

func runDoseAdd(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"name":        doseName,
		"description": doseDesc,
		"dosage_ml":   doseDosageML,
		"animal_id":   doseAnimal,
		"kind":        doseKind,
		"notes":       doseNotes,
	}
	if doseScheduledAt != "" {
		if _, err := time.Parse(time.RFC3339, doseScheduledAt); err != nil {
			return fmt.Errorf("invalid --at value: %w", err)
		}
		body["scheduled"] = true
		body["scheduled_at"] = doseScheduledAt
		body["reminder_enabled"] = doseReminders
	} else {
		body["applied"] = true
		body["applied_at"] = time.Now().Format(time.RFC3339)
	}

	resp, err := apiPost("/doses", body)
	if err != nil {
		return err
	}

	var result map[string]string
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	fmt.Printf("Created dose: %s\n", result["id"])
	return nil
}

func runDoseList(cmd *cobra.Command, args []string) error {
	params := []string{}
	if listAnimal != "" {
		params = append(params, "animal="+listAnimal)
	}
	if listKind != "" {
		params = append(params, "kind="+listKind)
	}
	if listLot != "" {
		params = append(params, "lot="+listLot)
	}
	if listApplied {
		params = append(params, "applied=true")
	}
	url := "/doses"
	if len(params) > 0 {
		url += "?" + strings.Join(params, "&")
	}

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var doses []struct {
		ID        string  `json:"id"`
		Name      string  `json:"name"`
		DosageML  float64 `json:"dosage_ml"`
		AnimalID  string  `json:"animal_id"`
		Kind      string  `json:"kind"`
		LotID     string  `json:"lot_id"`
		Scheduled bool    `json:"scheduled"`
		Applied   bool    `json:"applied"`
	}
	if err := json.Unmarshal(resp, &doses); err != nil {
		return err
	}
	if len(doses) == 0 {
		fmt.Println("No doses found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tML\tANIMAL\tKIND\tLOT\tSTATE")
	for _, d := range doses {
		state := "scheduled"
		if d.Applied {
			state = "applied"
		}
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%s\t%s\t%s\t%s\n",
			shortID(d.ID), d.Name, d.DosageML, d.AnimalID, d.Kind, d.LotID, state)
	}
	return w.Flush()
}

func runDoseApply(cmd *cobra.Command, args []string) error {
	body := map[string]string{}
	if applyAt != "" {
		if _, err := time.Parse(time.RFC3339, applyAt); err != nil {
			return fmt.Errorf("invalid --at value: %w", err)
		}
		body["applied_at"] = applyAt
	}

	if _, err := apiPost("/doses/"+args[0]+"/apply", body); err != nil {
		return err
	}
	fmt.Printf("Dose %s marked applied\n", args[0])
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
