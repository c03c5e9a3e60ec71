// Package reporter renders import results, totals checks and stored invoices.
//
// Supported output formats:
//   - Console: human-readable output for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one row per invoice (or discrepancy, or run) for spreadsheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(reporter.DefaultReportConfig())
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateImportReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invoice-import-service/internal/importer"
	"invoice-import-service/internal/models"
	"invoice-import-service/internal/reconciler"
	"invoice-import-service/internal/store"
	"invoice-import-service/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ParseOutputFormat parses a format name, case-insensitively
func ParseOutputFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("invalid output format: %s (want console, json or csv)", s)
	}
	return f, nil
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeInvoices      bool `json:"include_invoices"`
	IncludeDiscrepancies bool `json:"include_discrepancies"`
	IncludeWarnings      bool `json:"include_warnings"`

	// MaxListed caps console lists. Zero lists everything.
	MaxListed int `json:"max_listed"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:               FormatConsole,
		IncludeInvoices:      true,
		IncludeDiscrepancies: true,
		IncludeWarnings:      true,
		MaxListed:            50,
		CSVDelimiter:         ',',
		CSVHeaders:           true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListed < 0 {
		return fmt.Errorf("max listed cannot be negative, got %d", c.MaxListed)
	}
	if c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' || c.CSVDelimiter == '\r' {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// table is the CSV rendition of a report
type table struct {
	headers []string
	rows    [][]string
}

// render dispatches on the configured format
func (rg *ReportGenerator) render(writer io.Writer, console func(io.Writer), csvTable func() table, jsonValue func() interface{}) error {
	switch rg.config.Format {
	case FormatConsole:
		console(writer)
		return nil
	case FormatJSON:
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(jsonValue())
	case FormatCSV:
		return rg.writeCSV(writer, csvTable())
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) writeCSV(writer io.Writer, t table) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(t.headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, row := range t.rows {
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// GenerateImportReport writes the outcome of an import run
func (rg *ReportGenerator) GenerateImportReport(result *importer.ImportResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("import result cannot be nil")
	}

	return rg.render(writer,
		func(w io.Writer) { rg.printImportReport(result, w) },
		func() table { return invoiceOutcomeTable(result.Invoices) },
		func() interface{} { return rg.filterImportResult(result) },
	)
}

// GenerateReconciliationReport writes the outcome of a standalone totals check
func (rg *ReportGenerator) GenerateReconciliationReport(report *reconciler.Report, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("reconciliation report cannot be nil")
	}

	return rg.render(writer,
		func(w io.Writer) {
			fmt.Fprintf(w, "TOTALS VALIDATION\n")
			fmt.Fprintf(w, "Checked: %s (%s)\n\n", report.CheckedAt.Format(time.RFC3339), report.Method)
			rg.printTotals(report, w)
		},
		func() table { return discrepancyTable(report) },
		func() interface{} { return rg.filterReport(report) },
	)
}

// InvoiceSummary is one stored invoice as listed by the list command
type InvoiceSummary struct {
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	Address       string          `json:"address"`
	Lines         int             `json:"lines"`
	TotalQuantity int             `json:"total_quantity"`
	InvoiceTotal  decimal.Decimal `json:"invoice_total"`
	LinesTotal    decimal.Decimal `json:"lines_total"`
}

// SummarizeInvoices builds list entries from stored invoices
func SummarizeInvoices(headers []*models.InvoiceHeader) []InvoiceSummary {
	summaries := make([]InvoiceSummary, 0, len(headers))
	for _, h := range headers {
		summaries = append(summaries, InvoiceSummary{
			InvoiceNumber: h.InvoiceNumber,
			InvoiceDate:   h.InvoiceDate,
			Address:       h.Address,
			Lines:         len(h.Lines),
			TotalQuantity: h.TotalQuantity(),
			InvoiceTotal:  h.InvoiceTotalExVAT,
			LinesTotal:    h.LinesTotal(),
		})
	}
	return summaries
}

// GenerateInvoiceList writes stored invoices with their total quantities
func (rg *ReportGenerator) GenerateInvoiceList(headers []*models.InvoiceHeader, writer io.Writer) error {
	summaries := SummarizeInvoices(headers)

	return rg.render(writer,
		func(w io.Writer) {
			fmt.Fprintf(w, "STORED INVOICES (%d)\n", len(summaries))
			rg.printList(w, len(summaries), func(i int) {
				s := summaries[i]
				fmt.Fprintf(w, "  %d. Invoice: %s, Date: %s, Total Quantity: %d, Total: %s\n",
					i+1, s.InvoiceNumber, s.InvoiceDate.Format(models.InvoiceDateLayout), s.TotalQuantity, s.InvoiceTotal.StringFixed(2))
			})
		},
		func() table {
			t := table{headers: []string{"Invoice_Number", "Invoice_Date", "Address", "Lines", "Total_Quantity", "Invoice_Total", "Lines_Total"}}
			for _, s := range summaries {
				t.rows = append(t.rows, []string{
					s.InvoiceNumber,
					s.InvoiceDate.Format(models.InvoiceDateLayout),
					s.Address,
					strconv.Itoa(s.Lines),
					strconv.Itoa(s.TotalQuantity),
					s.InvoiceTotal.StringFixed(2),
					s.LinesTotal.StringFixed(2),
				})
			}
			return t
		},
		func() interface{} { return map[string]interface{}{"invoices": summaries} },
	)
}

// GenerateRunList writes the audit trail of import runs
func (rg *ReportGenerator) GenerateRunList(runs []*store.ImportRun, writer io.Writer) error {
	return rg.render(writer,
		func(w io.Writer) {
			fmt.Fprintf(w, "IMPORT RUNS (%d)\n", len(runs))
			rg.printList(w, len(runs), func(i int) {
				r := runs[i]
				fmt.Fprintf(w, "  %d. %s %s %s: committed %d, skipped %d, matched %t\n",
					i+1, r.StartedAt.Format(time.RFC3339), r.Status, r.SourceFile, r.Committed, r.Skipped, r.Matched)
				if r.Error != "" {
					fmt.Fprintf(w, "     Error: %s\n", r.Error)
				}
			})
		},
		func() table {
			t := table{headers: []string{"Run_ID", "Started_At", "Finished_At", "Source_File", "Status", "Committed", "Skipped", "Header_Total", "Line_Total", "Matched", "Error"}}
			for _, r := range runs {
				t.rows = append(t.rows, []string{
					r.ID.String(),
					r.StartedAt.Format(time.RFC3339),
					r.FinishedAt.Format(time.RFC3339),
					r.SourceFile,
					r.Status,
					strconv.Itoa(r.Committed),
					strconv.Itoa(r.Skipped),
					r.HeaderTotal.StringFixed(2),
					r.LineTotal.StringFixed(2),
					strconv.FormatBool(r.Matched),
					r.Error,
				})
			}
			return t
		},
		func() interface{} { return map[string]interface{}{"runs": runs} },
	)
}

// Console helpers

func (rg *ReportGenerator) printImportReport(result *importer.ImportResult, writer io.Writer) {
	fmt.Fprintf(writer, "INVOICE IMPORT REPORT\n")
	fmt.Fprintf(writer, "Run:      %s\n", result.RunID)
	fmt.Fprintf(writer, "Source:   %s\n", result.SourceFile)
	fmt.Fprintf(writer, "Started:  %s\n", result.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Duration: %v\n\n", result.Duration().Round(time.Millisecond))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummary(result, writer)
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludeInvoices && len(result.Invoices) > 0 {
		fmt.Fprintf(writer, "=== INVOICES ===\n")
		rg.printList(writer, len(result.Invoices), func(i int) {
			o := result.Invoices[i]
			fmt.Fprintf(writer, "  %d. Invoice: %s, Lines: %d, Total Quantity: %d, Total: %s, %s\n",
				i+1, o.InvoiceNumber, o.Lines, o.TotalQuantity, o.InvoiceTotal.StringFixed(2), o.Outcome)
		})
		fmt.Fprintf(writer, "\n")
	}

	if result.Reconciliation != nil {
		fmt.Fprintf(writer, "=== TOTALS VALIDATION ===\n")
		rg.printTotals(result.Reconciliation, writer)
		fmt.Fprintf(writer, "\n")
	}

	if summary := result.ErrorSummary(); summary.Total > 0 {
		fmt.Fprintf(writer, "=== ERRORS ===\n")
		rg.printErrorSummary(summary, writer)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeWarnings && len(result.Warnings) > 0 {
		fmt.Fprintf(writer, "=== WARNINGS ===\n")
		for _, warning := range result.Warnings {
			fmt.Fprintf(writer, "  - %s\n", warning)
		}
	}
}

func (rg *ReportGenerator) printSummary(result *importer.ImportResult, writer io.Writer) {
	if result.Stats != nil {
		fmt.Fprintf(writer, "Rows Parsed:  %d\n", result.Stats.RecordsParsed)
	}
	fmt.Fprintf(writer, "Invoices:     %d\n", len(result.Invoices))
	fmt.Fprintf(writer, "  Committed:  %d (%.1f%%)\n", result.Committed,
		rg.calculatePercentage(result.Committed, len(result.Invoices)))
	fmt.Fprintf(writer, "  Skipped:    %d\n", result.Skipped)
	fmt.Fprintf(writer, "  Duplicates: %d\n", result.Duplicates)
	fmt.Fprintf(writer, "Quantity:     %d\n", result.CommittedQuantity())
}

func (rg *ReportGenerator) printTotals(report *reconciler.Report, writer io.Writer) {
	fmt.Fprintf(writer, "Total Invoice Amount:    %s\n", report.HeaderTotal.StringFixed(2))
	fmt.Fprintf(writer, "Total Line Items Amount: %s\n", report.LineTotal.StringFixed(2))
	fmt.Fprintf(writer, "Difference:              %s\n", report.Difference.StringFixed(2))

	if report.Matched {
		fmt.Fprintf(writer, "All totals match successfully!\n")
		return
	}
	fmt.Fprintf(writer, "WARNING: totals do not match (tolerance %s)\n", report.Tolerance.String())

	if rg.config.IncludeDiscrepancies && len(report.Discrepancies) > 0 {
		fmt.Fprintf(writer, "\nInvoices whose lines do not add up:\n")
		rg.printList(writer, len(report.Discrepancies), func(i int) {
			d := report.Discrepancies[i]
			fmt.Fprintf(writer, "  %d. Invoice: %s, Header: %s, Lines: %s, Difference: %s\n",
				i+1, d.InvoiceNumber, d.HeaderTotal.StringFixed(2), d.LineTotal.StringFixed(2), d.Difference.StringFixed(2))
		})
	}
}

func (rg *ReportGenerator) printErrorSummary(summary *errors.ErrorSummary, writer io.Writer) {
	codes := make([]string, 0, len(summary.ByCode))
	for code := range summary.ByCode {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)

	for _, code := range codes {
		fmt.Fprintf(writer, "  %s: %d\n", code, summary.ByCode[errors.ErrorCode(code)])
	}
	for _, err := range summary.SampleErrors {
		fmt.Fprintf(writer, "  - %s\n", err.Message)
	}
	if summary.Total > len(summary.SampleErrors) {
		fmt.Fprintf(writer, "  ... and %d more\n", summary.Total-len(summary.SampleErrors))
	}
}

// printList prints up to MaxListed items
func (rg *ReportGenerator) printList(writer io.Writer, n int, item func(i int)) {
	limit := n
	if rg.config.MaxListed > 0 && n > rg.config.MaxListed {
		limit = rg.config.MaxListed
	}
	for i := 0; i < limit; i++ {
		item(i)
	}
	if limit < n {
		fmt.Fprintf(writer, "  ... and %d more\n", n-limit)
	}
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterImportResult(result *importer.ImportResult) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":      result.RunID,
		"source_file": result.SourceFile,
		"started_at":  result.StartedAt,
		"finished_at": result.FinishedAt,
		"committed":   result.Committed,
		"skipped":     result.Skipped,
		"duplicates":  result.Duplicates,
	}

	if result.Stats != nil {
		output["stats"] = result.Stats
	}
	if rg.config.IncludeInvoices {
		output["invoices"] = result.Invoices
	}
	if result.Reconciliation != nil {
		output["reconciliation"] = rg.filterReport(result.Reconciliation)
	}
	if summary := result.ErrorSummary(); summary.Total > 0 {
		output["errors"] = summary
	}
	if rg.config.IncludeWarnings && len(result.Warnings) > 0 {
		output["warnings"] = result.Warnings
	}

	return output
}

func (rg *ReportGenerator) filterReport(report *reconciler.Report) map[string]interface{} {
	output := map[string]interface{}{
		"method":       report.Method,
		"header_total": report.HeaderTotal.StringFixed(2),
		"line_total":   report.LineTotal.StringFixed(2),
		"difference":   report.Difference.StringFixed(2),
		"tolerance":    report.Tolerance.String(),
		"matched":      report.Matched,
		"checked_at":   report.CheckedAt,
	}
	if report.Method == reconciler.MethodLines {
		output["invoices"] = report.Invoices
		output["lines"] = report.Lines
	}
	if rg.config.IncludeDiscrepancies && len(report.Discrepancies) > 0 {
		output["discrepancies"] = report.Discrepancies
	}
	return output
}

func invoiceOutcomeTable(outcomes []*importer.InvoiceOutcome) table {
	t := table{headers: []string{"Invoice_Number", "First_Line", "Lines", "Total_Quantity", "Invoice_Total", "Outcome", "Header_ID", "Error"}}
	for _, o := range outcomes {
		headerID := ""
		if o.HeaderID != 0 {
			headerID = strconv.FormatUint(uint64(o.HeaderID), 10)
		}
		t.rows = append(t.rows, []string{
			o.InvoiceNumber,
			strconv.Itoa(o.FirstLine),
			strconv.Itoa(o.Lines),
			strconv.Itoa(o.TotalQuantity),
			o.InvoiceTotal.StringFixed(2),
			string(o.Outcome),
			headerID,
			o.Error,
		})
	}
	return t
}

func discrepancyTable(report *reconciler.Report) table {
	t := table{headers: []string{"Invoice_Number", "Header_Total", "Line_Total", "Difference"}}
	for _, d := range report.Discrepancies {
		t.rows = append(t.rows, []string{
			d.InvoiceNumber,
			d.HeaderTotal.StringFixed(2),
			d.LineTotal.StringFixed(2),
			d.Difference.StringFixed(2),
		})
	}
	t.rows = append(t.rows, []string{
		"TOTAL",
		report.HeaderTotal.StringFixed(2),
		report.LineTotal.StringFixed(2),
		report.Difference.StringFixed(2),
	})
	return t
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
