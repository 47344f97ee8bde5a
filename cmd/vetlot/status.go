package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	h, err := checkHealth()
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", apiAddr, err)
	}
	fmt.Printf("Status:        %s\n", h.Status)
	fmt.Printf("Pending tasks: %d\n", h.PendingTasks)
	fmt.Printf("Daemon time:   %s\n", h.Time.Format(time.RFC3339))
	return nil
}
