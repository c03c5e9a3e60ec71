package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"invoice-import-service/cmd/importer/config"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

// CLIErrorHandler turns command errors into messages and exit codes
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler writing to stderr
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool(config.KeyVerbose),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if importErr, ok := errors.AsImportError(err); ok {
		return h.handleImportError(importErr)
	}

	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleImportError(err *errors.ImportError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	// flag and argument errors from cobra end up here
	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "Run with --verbose for more details, or --help for usage\n")
	}

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Verify the file path is correct (use absolute paths if needed)
• Ensure you have proper permissions to access the file`

	case errors.CategorySchema:
		return `Schema error help:
• The first row must name the columns: Invoice Number, Invoice Date, Address,
  Invoice Total Ex VAT, Line description, Invoice Quantity, Unit selling price ex VAT
• Column names are matched exactly, check spelling and case
• Nothing was imported`

	case errors.CategoryParse:
		return `Parse error help:
• Verify every row has a value for every required column
• Dates must be day/month/year with time, e.g. 31/01/2024 09:30
• Quantities must be whole numbers and prices plain decimals without currency symbols
• Nothing was imported`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Rows of the same invoice must agree on date, address and invoice total
  (run without --strict-headers to keep the first row's values)`

	case errors.CategoryDuplicate:
		return `Duplicate invoice help:
• The invoice number already exists in the database
• Use 'invoice-import list' to see stored invoices
• Use 'invoice-import delete <invoice-number>' before re-importing a corrected invoice`

	case errors.CategoryReconciliation:
		return `Reconciliation help:
• The sum of the invoice totals differs from the sum of quantity × unit price of the lines
• Use 'invoice-import reconcile' to list the invoices that disagree
• Use --mismatch-policy warn to report mismatches without failing`

	case errors.CategoryStore:
		return `Database error help:
• Check the database driver and DSN (--db-driver, --db-dsn or INVOICE_IMPORT_DATABASE_DSN)
• Run 'invoice-import migrate' to create the tables
• Invoices committed before the failure remain stored, see the report for details`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and arguments
• Verify configuration file syntax if using --config
• Check INVOICE_IMPORT_* environment variables and the .env file`

	default:
		return `For more help:
• Use 'invoice-import --help' for general help
• Use 'invoice-import <command> --help' for command-specific help`
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
