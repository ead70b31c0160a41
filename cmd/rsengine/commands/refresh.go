package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rankforge/rsengine/internal/contracts"
)

// refreshCmd represents the refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Run the full pipeline and wait for it to finish",
	Long: `Runs the three pipeline stages in order: fetch prices for every
tracked symbol, aggregate sector and industry returns, then calculate
RS scores over the backfill window. Blocks until the batch finishes.

Example:
  go run ./cmd/rsengine refresh
  go run ./cmd/rsengine refresh --recalculate`,
	RunE: runRefresh,
}

var recalculateOnly bool

func init() {
	rootCmd.AddCommand(refreshCmd)

	refreshCmd.Flags().BoolVar(&recalculateOnly, "recalculate", false,
		"skip price fetch and rebuild returns and RS from cached prices")
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.Recover(ctx); err != nil {
		return fmt.Errorf("recover pipeline state: %w", err)
	}

	var batchID string
	if recalculateOnly {
		batchID, err = a.orch.StartRecalculate(ctx)
	} else {
		batchID, err = a.orch.StartRefreshAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	fmt.Printf("Batch %s started\n", batchID)

	lastStage := contracts.BatchStage(0)
	for {
		time.Sleep(2 * time.Second)

		if err := a.orch.Advance(ctx); err != nil {
			return fmt.Errorf("advance pipeline: %w", err)
		}

		batch, err := a.batches.Get(ctx, batchID)
		if err != nil {
			return fmt.Errorf("load batch: %w", err)
		}

		if batch.Stage != lastStage {
			lastStage = batch.Stage
			fmt.Printf("Stage %d running\n", batch.Stage)
		}

		switch batch.Status {
		case contracts.BatchCompleted:
			fmt.Println("Pipeline completed")
			return nil
		case contracts.BatchError:
			return fmt.Errorf("pipeline failed: %s", batch.Error)
		}
	}
}
