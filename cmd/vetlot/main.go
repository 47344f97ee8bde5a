package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vetlot",
	Short: "vetlot - veterinary treatment lots and reminders",
	Long:  `vetlot tracks veterinary treatments for groups of animals, creates treatment lots atomically and reminds you when scheduled doses come due.`,
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7521", "API server address")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(doseCmd)
	rootCmd.AddCommand(lotCmd)
	rootCmd.AddCommand(dueCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
