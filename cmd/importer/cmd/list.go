package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"invoice-import-service/cmd/importer/config"
	"invoice-import-service/internal/reporter"
	"invoice-import-service/pkg/errors"
)

var runsLimit int

// listCmd lists stored invoices
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored invoices with their total quantities",
	Long: `List prints every stored invoice with its number of lines, its total
quantity and its header total.

Examples:
  invoice-import list
  invoice-import list --output-format csv --output-file invoices.csv
  invoice-import list runs --limit 10`,
	Args:    cobra.NoArgs,
	PreRunE: validateOutputArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListInvoices(cmd.Context(), appConfig, cmd.OutOrStdout())
	},
}

// listRunsCmd lists the import audit trail
var listRunsCmd = &cobra.Command{
	Use:     "runs",
	Short:   "List recorded import runs, most recent first",
	Args:    cobra.NoArgs,
	PreRunE: validateOutputArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListRuns(cmd.Context(), appConfig, runsLimit, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.AddCommand(listRunsCmd)

	listRunsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs to show (0 for all)")
}

func runListInvoices(ctx context.Context, cfg *config.Config, out io.Writer) error {
	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeStore(st)

	headers, err := st.ListAllHeadersWithLines(ctx)
	if err != nil {
		return err
	}

	return writeReport(cfg, out, func(rg *reporter.ReportGenerator, w io.Writer) error {
		return rg.GenerateInvoiceList(headers, w)
	})
}

func runListRuns(ctx context.Context, cfg *config.Config, limit int, out io.Writer) error {
	if limit < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "limit", limit, nil).
			WithSuggestion("use a positive limit, or 0 for all runs")
	}

	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeStore(st)

	runs, err := st.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	return writeReport(cfg, out, func(rg *reporter.ReportGenerator, w io.Writer) error {
		return rg.GenerateRunList(runs, w)
	})
}
