// Package main provides the xtern command line: pipeline runs, the HTTP
// API server and the review commands.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "xtern",
	Short: "Purchase-order decision pipeline",
	Long: `xtern turns inventory and forecast data into a draft purchase order.

Each run goes demand -> supplier selection -> container planning -> PO
compilation, calling the ERP, supplier, logistics and PO tool servers and
recording every decision. Draft POs wait for a planner to approve or reject
them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
