package commands

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rsengine",
	Short: "Relative strength ranking engine",
	Long: `rsengine fetches daily prices, aggregates sector and industry
returns, and ranks stocks, sectors and industries by relative strength
against a benchmark.

Usage:
  go run ./cmd/rsengine [command]

Examples:
  go run ./cmd/rsengine serve
  go run ./cmd/rsengine fetch AAPL MSFT
  go run ./cmd/rsengine refresh
  go run ./cmd/rsengine cleanup`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}
