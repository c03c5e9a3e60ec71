package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"invoice-import-service/cmd/importer/config"
	"invoice-import-service/pkg/errors"
)

// deleteCmd removes one invoice
var deleteCmd = &cobra.Command{
	Use:   "delete <invoice-number>",
	Short: "Delete a stored invoice and all of its lines",
	Long: `Delete removes one invoice header and every line it owns in a single
transaction. Use it to re-import a corrected invoice.

Examples:
  invoice-import delete INV001`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelete(cmd.Context(), appConfig, args[0], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(ctx context.Context, cfg *config.Config, invoiceNumber string, out io.Writer) error {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return errors.ValidationError(errors.CodeMissingField, "invoice number", nil, nil)
	}

	st, err := openStore(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if err := st.DeleteHeader(ctx, invoiceNumber); err != nil {
		return err
	}

	fmt.Fprintf(out, "Deleted invoice %s\n", invoiceNumber)
	return nil
}
