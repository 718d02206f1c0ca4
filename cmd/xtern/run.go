package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sahmey2004/xtern/internal/observability"
	"github.com/Sahmey2004/xtern/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and print the result",
	Long: `Runs demand -> supplier selection -> container planning -> PO compilation
for the given SKUs. Without --sku every SKU below its reorder point is planned.

The run stops early when there is nothing to replenish or a stage fails; the
summary reports which.`,
	RunE: runPipelineCmd,
}

var (
	runSKUs        []string
	runHorizon     int
	runTriggeredBy string
	runJSON        bool
	runVerbose     bool
)

func init() {
	runCommand.Flags().StringArrayVar(&runSKUs, "sku", nil, "SKU to plan (repeatable)")
	runCommand.Flags().IntVar(&runHorizon, "horizon", 0, "Planning horizon in months (default 3)")
	runCommand.Flags().StringVar(&runTriggeredBy, "triggered-by", "", "Who started the run (default planner)")
	runCommand.Flags().BoolVar(&runJSON, "json", false, "Print the full record as JSON")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print stage progress and debug logs")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := withSignals(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runVerbose {
		cfg.Logging.Level = "debug"
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	opts := pipeline.RunOptions{
		SKUs:          runSKUs,
		TriggeredBy:   runTriggeredBy,
		HorizonMonths: runHorizon,
	}
	if runVerbose && !runJSON {
		opts.OnProgress = func(e pipeline.ProgressEvent) {
			fmt.Fprintf(out, "[%s] %s %s %s\n", e.Time.Format("15:04:05"), e.Phase, e.Step, e.Status) //nolint:errcheck
		}
	}

	rec, err := a.runner.Run(ctx, opts)
	if err != nil {
		return err
	}

	if runJSON {
		if err := printJSON(out, rec); err != nil {
			return err
		}
	} else {
		observability.NewPrinter(out).PrintRecord(rec)
		if err := printJSON(out, pipeline.Summarize(rec)); err != nil {
			return err
		}
	}

	if rec.HasError() {
		return fmt.Errorf("run %s failed: %s", rec.RunID, rec.ErrorMessage())
	}
	return nil
}

// withSignals returns a context cancelled on SIGINT or SIGTERM.
func withSignals(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
