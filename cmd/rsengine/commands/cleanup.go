package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// cleanupCmd represents the cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old finished task rows",
	Long: `Deletes completed and failed task rows older than the retention
window.

Example:
  go run ./cmd/rsengine cleanup
  go run ./cmd/rsengine cleanup --days 30`,
	RunE: runCleanup,
}

var cleanupDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 7, "delete terminal tasks older than this many days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	deleted, err := a.tasks.DeleteOldTerminal(ctx, cleanupDays)
	if err != nil {
		return fmt.Errorf("delete old tasks: %w", err)
	}

	fmt.Printf("Deleted %d old tasks\n", deleted)
	return nil
}
