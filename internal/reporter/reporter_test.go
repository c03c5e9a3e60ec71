package reporter

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invoice-import-service/internal/importer"
	"invoice-import-service/internal/models"
	"invoice-import-service/internal/parsers"
	"invoice-import-service/internal/reconciler"
	"invoice-import-service/internal/store"
	"invoice-import-service/internal/store/memory"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

func createSampleImportResult() *importer.ImportResult {
	started := time.Date(2024, time.February, 16, 10, 0, 0, 0, time.UTC)

	report := reconciler.Compare(decimal.RequireFromString("112.00"), decimal.RequireFromString("111.00"), models.DefaultTolerance)
	report.Method = reconciler.MethodLines
	report.Invoices = 2
	report.Lines = 3
	report.Discrepancies = []*reconciler.InvoiceDiscrepancy{{
		InvoiceNumber: "INV002",
		HeaderTotal:   decimal.RequireFromString("12.00"),
		LineTotal:     decimal.RequireFromString("11.00"),
		Difference:    decimal.RequireFromString("1.00"),
	}}

	return &importer.ImportResult{
		RunID:      uuid.MustParse("7b0e4a8e-6a57-4a2e-9a55-0d4b8c8c2f10"),
		SourceFile: "invoices.csv",
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Stats:      &parsers.ParseStats{Source: "invoices.csv", TotalLines: 4, RecordsParsed: 3, Invoices: 2},
		Invoices: []*importer.InvoiceOutcome{
			{InvoiceNumber: "INV001", FirstLine: 2, Lines: 1, TotalQuantity: 2, InvoiceTotal: decimal.RequireFromString("100.00"), HeaderID: 1, Outcome: importer.OutcomeCommitted},
			{InvoiceNumber: "INV002", FirstLine: 3, Lines: 2, TotalQuantity: 5, InvoiceTotal: decimal.RequireFromString("12.00"), HeaderID: 2, Outcome: importer.OutcomeCommitted},
		},
		Committed:      2,
		Reconciliation: report,
		Warnings:       []string{report.String()},
	}
}

func sampleHeaders() []*models.InvoiceHeader {
	date := time.Date(2024, time.February, 16, 10, 0, 0, 0, time.UTC)
	return []*models.InvoiceHeader{
		{
			InvoiceNumber:     "INV001",
			InvoiceDate:       date,
			Address:           "123 Test St",
			InvoiceTotalExVAT: decimal.RequireFromString("100.00"),
			Lines: []models.InvoiceLine{
				{LineDescription: "Test Item", InvoiceQuantity: 2, UnitSellingPriceExVAT: decimal.RequireFromString("50.00")},
			},
		},
		{
			InvoiceNumber:     "INV002",
			InvoiceDate:       date.Add(24 * time.Hour),
			Address:           "1 Main St, Leeds",
			InvoiceTotalExVAT: decimal.RequireFromString("12.00"),
			Lines: []models.InvoiceLine{
				{LineDescription: "A", InvoiceQuantity: 3, UnitSellingPriceExVAT: decimal.RequireFromString("2.00")},
				{LineDescription: "B", InvoiceQuantity: 2, UnitSellingPriceExVAT: decimal.RequireFromString("2.50")},
			},
		},
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{name: "default config", config: nil},
		{name: "valid config", config: DefaultReportConfig()},
		{name: "invalid format", config: &ReportConfig{Format: "xml", CSVDelimiter: ','}, expectError: true},
		{name: "negative max listed", config: &ReportConfig{Format: FormatConsole, MaxListed: -1, CSVDelimiter: ','}, expectError: true},
		{name: "quote delimiter", config: &ReportConfig{Format: FormatCSV, CSVDelimiter: '"'}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if generator == nil {
				t.Errorf("expected generator but got nil")
			}
		})
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat(" JSON "); err != nil || f != FormatJSON {
		t.Errorf("ParseOutputFormat(JSON) = %q, %v", f, err)
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestGenerateImportReport_Console(t *testing.T) {
	result := createSampleImportResult()

	tests := []struct {
		name             string
		modify           func(*ReportConfig)
		shouldContain    []string
		shouldNotContain []string
	}{
		{
			name: "all sections enabled",
			shouldContain: []string{
				"INVOICE IMPORT REPORT",
				"=== SUMMARY ===",
				"Committed:  2 (100.0%)",
				"Quantity:     7",
				"=== INVOICES ===",
				"Invoice: INV001, Lines: 1, Total Quantity: 2, Total: 100.00, committed",
				"=== TOTALS VALIDATION ===",
				"Total Invoice Amount:    112.00",
				"Total Line Items Amount: 111.00",
				"Difference:              1.00",
				"WARNING: totals do not match",
				"Invoice: INV002, Header: 12.00, Lines: 11.00, Difference: 1.00",
				"=== WARNINGS ===",
			},
		},
		{
			name: "minimal sections",
			modify: func(c *ReportConfig) {
				c.IncludeInvoices = false
				c.IncludeDiscrepancies = false
				c.IncludeWarnings = false
			},
			shouldContain: []string{"=== SUMMARY ===", "=== TOTALS VALIDATION ==="},
			shouldNotContain: []string{
				"=== INVOICES ===",
				"Invoices whose lines do not add up",
				"=== WARNINGS ===",
			},
		},
		{
			name:             "limited list",
			modify:           func(c *ReportConfig) { c.MaxListed = 1 },
			shouldContain:    []string{"INV001, Lines: 1", "... and 1 more"},
			shouldNotContain: []string{"Invoice: INV002, Lines: 2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultReportConfig()
			if tt.modify != nil {
				tt.modify(config)
			}
			generator, err := NewReportGenerator(config)
			if err != nil {
				t.Fatalf("failed to create report generator: %v", err)
			}

			var buffer bytes.Buffer
			if err := generator.GenerateImportReport(result, &buffer); err != nil {
				t.Fatalf("failed to generate report: %v", err)
			}
			output := buffer.String()

			for _, s := range tt.shouldContain {
				if !strings.Contains(output, s) {
					t.Errorf("output should contain %q\n%s", s, output)
				}
			}
			for _, s := range tt.shouldNotContain {
				if strings.Contains(output, s) {
					t.Errorf("output should not contain %q", s)
				}
			}
		})
	}
}

func TestGenerateImportReport_MatchedTotals(t *testing.T) {
	result := createSampleImportResult()
	result.Reconciliation = reconciler.Compare(decimal.NewFromInt(100), decimal.NewFromInt(100), models.DefaultTolerance)

	generator, _ := NewReportGenerator(nil)
	var buffer bytes.Buffer
	if err := generator.GenerateImportReport(result, &buffer); err != nil {
		t.Fatalf("failed to generate report: %v", err)
	}
	if !strings.Contains(buffer.String(), "All totals match successfully!") {
		t.Errorf("expected match message, got\n%s", buffer.String())
	}
}

func TestGenerateImportReport_Errors(t *testing.T) {
	date, _ := models.ParseInvoiceDate("16/02/2024 10:00")
	records := []*models.InvoiceRecord{{
		InvoiceNumber:         "INV001",
		InvoiceDate:           date,
		Address:               "123 Test St",
		InvoiceTotalExVAT:     decimal.RequireFromString("100.00"),
		LineDescription:       "Test Item",
		InvoiceQuantity:       2,
		UnitSellingPriceExVAT: decimal.RequireFromString("50.00"),
		Line:                  2,
	}}

	imp, err := importer.New(memory.New(), nil, logger.NewNop())
	if err != nil {
		t.Fatalf("importer.New() unexpected error: %v", err)
	}
	if _, err := imp.ImportRecords(context.Background(), "invoices.csv", records); err != nil {
		t.Fatalf("first import: %v", err)
	}
	result, err := imp.ImportRecords(context.Background(), "invoices.csv", records)
	if err == nil {
		t.Fatal("expected the second import to be rejected")
	}

	generator, _ := NewReportGenerator(nil)
	var buffer bytes.Buffer
	if err := generator.GenerateImportReport(result, &buffer); err != nil {
		t.Fatalf("failed to generate report: %v", err)
	}

	output := buffer.String()
	for _, want := range []string{"=== ERRORS ===", "duplicate_invoice: 1", "INV001"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in report:\n%s", want, output)
		}
	}
}

func TestGenerateImportReport_JSON(t *testing.T) {
	generator, err := NewReportGenerator(&ReportConfig{Format: FormatJSON, IncludeInvoices: true, IncludeDiscrepancies: true, CSVDelimiter: ','})
	if err != nil {
		t.Fatalf("failed to create report generator: %v", err)
	}

	var buffer bytes.Buffer
	if err := generator.GenerateImportReport(createSampleImportResult(), &buffer); err != nil {
		t.Fatalf("failed to generate report: %v", err)
	}

	var decoded struct {
		RunID          string `json:"run_id"`
		Committed      int    `json:"committed"`
		Invoices       []map[string]interface{}
		Warnings       []string `json:"warnings"`
		Reconciliation struct {
			Difference    string                   `json:"difference"`
			Matched       bool                     `json:"matched"`
			Discrepancies []map[string]interface{} `json:"discrepancies"`
		} `json:"reconciliation"`
	}
	if err := json.Unmarshal(buffer.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}

	if decoded.RunID != "7b0e4a8e-6a57-4a2e-9a55-0d4b8c8c2f10" || decoded.Committed != 2 {
		t.Errorf("unexpected run fields %+v", decoded)
	}
	if len(decoded.Invoices) != 2 {
		t.Errorf("expected 2 invoices, got %d", len(decoded.Invoices))
	}
	if decoded.Reconciliation.Difference != "1.00" || decoded.Reconciliation.Matched {
		t.Errorf("unexpected reconciliation %+v", decoded.Reconciliation)
	}
	if len(decoded.Reconciliation.Discrepancies) != 1 {
		t.Errorf("expected 1 discrepancy, got %d", len(decoded.Reconciliation.Discrepancies))
	}
	if len(decoded.Warnings) != 0 {
		t.Errorf("warnings were not requested, got %v", decoded.Warnings)
	}
}

func TestGenerateImportReport_CSV(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = FormatCSV
	generator, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("failed to create report generator: %v", err)
	}

	var buffer bytes.Buffer
	if err := generator.GenerateImportReport(createSampleImportResult(), &buffer); err != nil {
		t.Fatalf("failed to generate report: %v", err)
	}

	records, err := csv.NewReader(&buffer).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV output: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[0][0] != "Invoice_Number" || records[0][5] != "Outcome" {
		t.Errorf("unexpected headers %v", records[0])
	}
	want := []string{"INV002", "3", "2", "5", "12.00", "committed", "2", ""}
	for i := range want {
		if records[2][i] != want[i] {
			t.Errorf("column %d = %q, want %q", i, records[2][i], want[i])
		}
	}
}

func TestGenerateReconciliationReport(t *testing.T) {
	report := createSampleImportResult().Reconciliation

	t.Run("console", func(t *testing.T) {
		generator, _ := NewReportGenerator(nil)
		var buffer bytes.Buffer
		if err := generator.GenerateReconciliationReport(report, &buffer); err != nil {
			t.Fatalf("failed to generate report: %v", err)
		}
		if !strings.Contains(buffer.String(), "TOTALS VALIDATION") || !strings.Contains(buffer.String(), "(lines)") {
			t.Errorf("unexpected output\n%s", buffer.String())
		}
	})

	t.Run("csv", func(t *testing.T) {
		generator, _ := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: ';', CSVHeaders: false})
		var buffer bytes.Buffer
		if err := generator.GenerateReconciliationReport(report, &buffer); err != nil {
			t.Fatalf("failed to generate report: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(buffer.String()), "\n")
		if len(lines) != 2 || lines[0] != "INV002;12.00;11.00;1.00" || lines[1] != "TOTAL;112.00;111.00;1.00" {
			t.Errorf("unexpected CSV output %q", lines)
		}
	})

	generator, _ := NewReportGenerator(nil)
	if err := generator.GenerateReconciliationReport(nil, io.Discard); err == nil {
		t.Error("expected error for nil report")
	}
}

func TestGenerateInvoiceList(t *testing.T) {
	headers := sampleHeaders()

	t.Run("console", func(t *testing.T) {
		generator, _ := NewReportGenerator(nil)
		var buffer bytes.Buffer
		if err := generator.GenerateInvoiceList(headers, &buffer); err != nil {
			t.Fatalf("failed to generate list: %v", err)
		}
		output := buffer.String()
		for _, s := range []string{
			"STORED INVOICES (2)",
			"1. Invoice: INV001, Date: 16/02/2024 10:00, Total Quantity: 2, Total: 100.00",
			"2. Invoice: INV002, Date: 17/02/2024 10:00, Total Quantity: 5, Total: 12.00",
		} {
			if !strings.Contains(output, s) {
				t.Errorf("output should contain %q\n%s", s, output)
			}
		}
	})

	t.Run("csv quotes addresses", func(t *testing.T) {
		generator, _ := NewReportGenerator(&ReportConfig{Format: FormatCSV, CSVDelimiter: ',', CSVHeaders: true})
		var buffer bytes.Buffer
		if err := generator.GenerateInvoiceList(headers, &buffer); err != nil {
			t.Fatalf("failed to generate list: %v", err)
		}
		records, err := csv.NewReader(&buffer).ReadAll()
		if err != nil {
			t.Fatalf("invalid CSV output: %v", err)
		}
		if len(records) != 3 || records[2][2] != "1 Main St, Leeds" || records[2][6] != "11.00" {
			t.Errorf("unexpected records %v", records)
		}
	})

	t.Run("empty", func(t *testing.T) {
		generator, _ := NewReportGenerator(&ReportConfig{Format: FormatJSON, CSVDelimiter: ','})
		var buffer bytes.Buffer
		if err := generator.GenerateInvoiceList(nil, &buffer); err != nil {
			t.Fatalf("failed to generate list: %v", err)
		}
		if !strings.Contains(buffer.String(), `"invoices": []`) {
			t.Errorf("expected an empty JSON array, got %s", buffer.String())
		}
	})
}

func TestGenerateRunList(t *testing.T) {
	started := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	runs := []*store.ImportRun{
		{ID: uuid.New(), SourceFile: "a.csv", Status: store.RunSucceeded, Committed: 3, Matched: true, StartedAt: started, FinishedAt: started},
		{ID: uuid.New(), SourceFile: "b.csv", Status: store.RunFailed, Error: "invoice INV001 already exists", StartedAt: started, FinishedAt: started},
	}

	generator, _ := NewReportGenerator(nil)
	var buffer bytes.Buffer
	if err := generator.GenerateRunList(runs, &buffer); err != nil {
		t.Fatalf("failed to generate list: %v", err)
	}
	output := buffer.String()
	if !strings.Contains(output, "succeeded a.csv: committed 3, skipped 0, matched true") {
		t.Errorf("missing first run\n%s", output)
	}
	if !strings.Contains(output, "Error: invoice INV001 already exists") {
		t.Errorf("missing run error\n%s", output)
	}
}

func TestSummarizeInvoices(t *testing.T) {
	summaries := SummarizeInvoices(sampleHeaders())
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[1].TotalQuantity != 5 || summaries[1].Lines != 2 || !summaries[1].LinesTotal.Equal(decimal.NewFromInt(11)) {
		t.Errorf("unexpected summary %+v", summaries[1])
	}
}

func TestCalculatePercentage(t *testing.T) {
	generator, _ := NewReportGenerator(nil)

	tests := []struct {
		part, total int
		expected    float64
	}{
		{part: 0, total: 0, expected: 0},
		{part: 1, total: 4, expected: 25},
		{part: 2, total: 2, expected: 100},
	}
	for _, tt := range tests {
		if got := generator.calculatePercentage(tt.part, tt.total); got != tt.expected {
			t.Errorf("calculatePercentage(%d, %d) = %v, want %v", tt.part, tt.total, got, tt.expected)
		}
	}
}

func TestUpdateConfiguration(t *testing.T) {
	generator, _ := NewReportGenerator(nil)

	if err := generator.UpdateConfiguration(&ReportConfig{Format: "xml", CSVDelimiter: ','}); err == nil {
		t.Error("expected error for invalid configuration")
	}
	if generator.GetConfiguration().Format != FormatConsole {
		t.Error("invalid configuration must not be applied")
	}

	if err := generator.UpdateConfiguration(&ReportConfig{Format: FormatCSV, CSVDelimiter: ','}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generator.GetConfiguration().Format != FormatCSV {
		t.Error("expected configuration to be updated")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, stderrors.New("broken pipe")
}

func TestSafeReportGenerator(t *testing.T) {
	t.Run("writes report", func(t *testing.T) {
		srg, err := NewSafeReportGenerator(nil, logger.NewNop())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var buffer bytes.Buffer
		if err := srg.WriteImportReport(createSampleImportResult(), &buffer); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buffer.String(), "INVOICE IMPORT REPORT") {
			t.Errorf("unexpected output\n%s", buffer.String())
		}
	})

	t.Run("format fallback", func(t *testing.T) {
		srg, _ := NewSafeReportGenerator(&ReportConfig{Format: FormatJSON, CSVDelimiter: ','}, logger.NewNop())
		var buffer bytes.Buffer
		calls := 0
		err := srg.Write(&buffer, func(rg *ReportGenerator, w io.Writer) error {
			calls++
			if rg.GetConfiguration().Format == FormatJSON {
				io.WriteString(w, "{partial")
				return stderrors.New("encode failed")
			}
			io.WriteString(w, "console body")
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		output := buffer.String()
		if calls != 2 || strings.Contains(output, "{partial") {
			t.Errorf("expected partial output to be discarded, got %q", output)
		}
		if !strings.Contains(output, "fallback format") || !strings.Contains(output, "console body") {
			t.Errorf("expected fallback output, got %q", output)
		}
	})

	t.Run("console failure is not retried", func(t *testing.T) {
		srg, _ := NewSafeReportGenerator(nil, logger.NewNop())
		err := srg.Write(io.Discard, func(rg *ReportGenerator, w io.Writer) error {
			return stderrors.New("render failed")
		})
		if !errors.IsCategory(err, errors.CategoryInternal) {
			t.Errorf("expected internal error, got %v", err)
		}
	})

	t.Run("writer failure", func(t *testing.T) {
		srg, _ := NewSafeReportGenerator(nil, logger.NewNop())
		err := srg.WriteInvoiceList(sampleHeaders(), failingWriter{})
		if !errors.IsCategory(err, errors.CategoryInternal) {
			t.Errorf("expected internal error, got %v", err)
		}
	})

	t.Run("nil writer", func(t *testing.T) {
		srg, _ := NewSafeReportGenerator(nil, logger.NewNop())
		err := srg.WriteRunList(nil, nil)
		if !errors.HasCode(err, errors.CodeMissingField) {
			t.Errorf("expected missing field error, got %v", err)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewSafeReportGenerator(&ReportConfig{Format: "xml"}, logger.NewNop())
		if !errors.IsCategory(err, errors.CategoryConfiguration) {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}

func TestGenerateBackupPath(t *testing.T) {
	if got := generateBackupPath("/tmp/out/report.csv"); got != "/tmp/out/report_backup.csv" {
		t.Errorf("generateBackupPath() = %s", got)
	}
}
