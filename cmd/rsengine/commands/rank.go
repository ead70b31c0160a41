package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rankforge/rsengine/internal/contracts"
)

// rankCmd represents the rank command
var rankCmd = &cobra.Command{
	Use:   "rank [stock|sector|industry]",
	Short: "Print the latest RS ranking",
	Long: `Prints the most recent RS scores for an entity class, strongest
first.

Example:
  go run ./cmd/rsengine rank stock
  go run ./cmd/rsengine rank sector --top 10`,
	Args: cobra.ExactArgs(1),
	RunE: runRank,
}

var rankTop int

func init() {
	rootCmd.AddCommand(rankCmd)

	rankCmd.Flags().IntVar(&rankTop, "top", 20, "number of entries to print")
}

func runRank(cmd *cobra.Command, args []string) error {
	entityType := contracts.EntityType(args[0])
	switch entityType {
	case contracts.EntityStock, contracts.EntitySector, contracts.EntityIndustry:
	default:
		return fmt.Errorf("entity type must be stock, sector or industry")
	}

	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	scores, err := a.scores.Latest(ctx, entityType)
	if err != nil {
		return fmt.Errorf("load scores: %w", err)
	}
	if len(scores) == 0 {
		fmt.Println("No scores available")
		return nil
	}

	fmt.Printf("Latest %s RS ranking (%s)\n\n", entityType, scores[0].Date)
	fmt.Printf("%-4s %-24s %8s %6s\n", "#", "NAME", "RS", "PCTL")
	for i, s := range scores {
		if i == rankTop {
			break
		}
		fmt.Printf("%-4d %-24s %8.2f %5d%%\n", i+1, s.EntityName, s.Score, s.Percentile)
	}
	return nil
}
