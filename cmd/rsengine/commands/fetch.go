package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch [symbols...]",
	Short: "Fetch price history for symbols",
	Long: `Fetches daily price history for the given symbols and stores it.
New symbols are registered with metadata from the provider. Without
arguments, every tracked symbol is fetched.

Example:
  go run ./cmd/rsengine fetch AAPL MSFT
  go run ./cmd/rsengine fetch`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	symbols := args
	if len(symbols) == 0 {
		tickers, err := a.tickers.GetAll(ctx)
		if err != nil {
			return fmt.Errorf("load tickers: %w", err)
		}
		for _, t := range tickers {
			symbols = append(symbols, t.Symbol)
		}
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to fetch")
	}

	failed := 0
	for _, symbol := range symbols {
		n, err := a.fetcher.FetchSymbol(ctx, symbol, func(msg string) {
			fmt.Printf("  %s: %s\n", symbol, msg)
		})
		if err != nil {
			a.log.WithError(err).WithField("symbol", symbol).Error("Fetch failed")
			failed++
			continue
		}
		fmt.Printf("%s: %d bars\n", symbol, n)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d symbols failed", failed, len(symbols))
	}
	return nil
}
