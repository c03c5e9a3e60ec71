package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"invoice-import-service/cmd/importer/config"
	"invoice-import-service/internal/importer"
	"invoice-import-service/internal/reporter"
	"invoice-import-service/internal/store"
	"invoice-import-service/internal/store/memory"
	"invoice-import-service/pkg/logger"
)

// importOptions are the flags of the import command that are not configuration
type importOptions struct {
	Progress bool
	DryRun   bool
	Migrate  bool
}

var importOpts importOptions

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import invoices from a CSV file",
	Long: `Import reads an invoice CSV export, groups its rows by invoice number and
writes every invoice as one header with its lines in a single transaction.
After the import the stored header totals are compared with the stored line
totals.

The file must contain the columns Invoice Number, Invoice Date, Address,
Invoice Total Ex VAT, Line description, Invoice Quantity, Unit selling
price ex VAT. When any invoice already exists nothing is written.

Examples:
  # Import into the default local SQLite database
  invoice-import import invoices.csv

  # Skip invoices that another process wrote while the import was running
  invoice-import import invoices.csv --duplicate-policy skip

  # Treat a totals mismatch as a failure
  invoice-import import invoices.csv --mismatch-policy fail

  # Validate a file without touching the database
  invoice-import import invoices.csv --dry-run --output-format json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateImportArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), appConfig, args[0], importOpts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("duplicate-policy", "reject", "handling of invoices that appear during the write: reject, skip")
	importCmd.Flags().String("mismatch-policy", "warn", "handling of a totals mismatch after the import: warn, fail")
	importCmd.Flags().Bool("strict-headers", false, "fail when rows of one invoice disagree on header fields")
	importCmd.Flags().BoolVar(&importOpts.Progress, "progress", false, "show progress indicators")
	importCmd.Flags().BoolVar(&importOpts.DryRun, "dry-run", false, "import into memory instead of the database")
	importCmd.Flags().BoolVar(&importOpts.Migrate, "migrate", true, "create missing tables before importing")

	viper.BindPFlag(config.KeyDuplicatePolicy, importCmd.Flags().Lookup("duplicate-policy"))
	viper.BindPFlag(config.KeyMismatchPolicy, importCmd.Flags().Lookup("mismatch-policy"))
	viper.BindPFlag(config.KeyStrictHeaders, importCmd.Flags().Lookup("strict-headers"))
}

func validateImportArgs(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(args[0], "invoice file"); err != nil {
		return err
	}
	return validateOutputFile(appConfig.OutputFile)
}

func runImport(ctx context.Context, cfg *config.Config, path string, opts importOptions, out io.Writer) error {
	log := logger.GetGlobalLogger().WithComponent("cli")

	importConfig, err := cfg.ImporterConfig()
	if err != nil {
		return err
	}

	var st store.Store
	if opts.DryRun {
		st = memory.New()
		log.Info("Dry run: invoices are imported into memory only")
	} else {
		st, err = openStore(ctx, cfg, opts.Migrate)
		if err != nil {
			return err
		}
	}
	defer closeStore(st)

	im, err := importer.New(st, importConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	if opts.Progress {
		im.AddProgressCallback(func(p importer.Progress) {
			fmt.Fprintf(os.Stderr, "\r[%d/%d] imported %s (%d items)", p.Committed, p.Total, p.InvoiceNumber, p.TotalQuantity)
		})
	}

	log.WithFields(logger.Fields{
		"file":             path,
		"duplicate_policy": importConfig.DuplicatePolicy,
		"mismatch_policy":  importConfig.MismatchPolicy,
	}).Info("Starting import")

	result, runErr := im.Run(ctx, path)
	if opts.Progress && result.Committed > 0 {
		fmt.Fprintln(os.Stderr)
	}

	recordRun(ctx, st, result, runErr, log)

	err = writeReport(cfg, out, func(rg *reporter.ReportGenerator, w io.Writer) error {
		return rg.GenerateImportReport(result, w)
	})
	if err != nil {
		if runErr == nil {
			return err
		}
		log.WithError(err).Warn("Failed to write import report")
	}

	return runErr
}

// recordRun writes the audit record of a run. Failures are logged and never
// change the outcome of the import.
func recordRun(ctx context.Context, recorder store.RunRecorder, result *importer.ImportResult, runErr error, log logger.Logger) {
	run, err := result.AuditRecord(runErr)
	if err == nil {
		err = recorder.RecordRun(ctx, run)
	}
	if err != nil {
		log.WithError(err).Warn("Failed to record import run")
		return
	}

	log.WithFields(logger.Fields{
		"run_id": run.ID,
		"status": run.Status,
	}).Debug("Recorded import run")
}
