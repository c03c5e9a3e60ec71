package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"invoice-import-service/cmd/importer/config"
	"invoice-import-service/internal/reconciler"
	"invoice-import-service/internal/reporter"
	"invoice-import-service/pkg/logger"
)

type reconcileOptions struct {
	Aggregate      bool
	FailOnMismatch bool
}

var reconcileOpts reconcileOptions

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Compare stored header totals with stored line totals",
	Long: `Reconcile sums the totals of all stored invoice headers and all stored
invoice lines (quantity times unit price) and reports the difference.
Invoices whose own header total disagrees with their lines are listed.

A mismatch is reported but is not an error unless --fail-on-mismatch is set.

Examples:
  invoice-import reconcile
  invoice-import reconcile --aggregate
  invoice-import reconcile --fail-on-mismatch --output-format json`,
	Args:    cobra.NoArgs,
	PreRunE: validateOutputArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd.Context(), appConfig, reconcileOpts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().BoolVar(&reconcileOpts.Aggregate, "aggregate", false, "compute both sums in the database instead of loading every invoice")
	reconcileCmd.Flags().BoolVar(&reconcileOpts.FailOnMismatch, "fail-on-mismatch", false, "exit with an error when the totals do not match")
}

func validateOutputArgs(cmd *cobra.Command, args []string) error {
	return validateOutputFile(appConfig.OutputFile)
}

func runReconcile(ctx context.Context, cfg *config.Config, opts reconcileOptions, out io.Writer) error {
	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeStore(st)

	rec := reconciler.New(st, logger.GetGlobalLogger())

	var report *reconciler.Report
	err = logger.TimedOperation("reconcile", logger.GetGlobalLogger().WithComponent("cli"), func() error {
		var err error
		if opts.Aggregate {
			report, err = rec.ReconcileAggregates(ctx)
		} else {
			report, err = rec.Reconcile(ctx)
		}
		return err
	})
	if err != nil {
		return err
	}

	err = writeReport(cfg, out, func(rg *reporter.ReportGenerator, w io.Writer) error {
		return rg.GenerateReconciliationReport(report, w)
	})
	if err != nil {
		return err
	}

	if opts.FailOnMismatch {
		return report.Err()
	}
	return nil
}
