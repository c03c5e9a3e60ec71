// Package importer turns a CSV file of invoice lines into stored invoices.
//
// A run parses the file, groups rows into invoices, checks every invoice
// number against the store, writes each invoice with its lines atomically and
// finally reconciles header totals against line totals.
//
// Example usage:
//
//	imp, err := importer.New(gateway, importer.DefaultConfig(), log)
//	if err != nil {
//		return err
//	}
//	imp.AddProgressCallback(func(p importer.Progress) {
//		fmt.Printf("%s: %d items\n", p.InvoiceNumber, p.TotalQuantity)
//	})
//	result, err := imp.Run(ctx, "invoices.csv")
package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invoice-import-service/internal/models"
	"invoice-import-service/internal/parsers"
	"invoice-import-service/internal/reconciler"
	"invoice-import-service/internal/store"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

// DuplicatePolicy decides what happens when the store rejects an invoice
// number as a duplicate while writing. Duplicates found before writing always
// abort the run.
type DuplicatePolicy string

const (
	DuplicateReject DuplicatePolicy = "reject"
	DuplicateSkip   DuplicatePolicy = "skip"
)

// ParseDuplicatePolicy parses a policy name, case-insensitively
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DuplicateReject, DuplicateSkip:
		return p, nil
	default:
		return "", fmt.Errorf("unknown duplicate policy %q (want reject or skip)", s)
	}
}

// MismatchPolicy decides whether a totals mismatch fails the run
type MismatchPolicy string

const (
	MismatchWarn MismatchPolicy = "warn"
	MismatchFail MismatchPolicy = "fail"
)

// ParseMismatchPolicy parses a policy name, case-insensitively
func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch p := MismatchPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case MismatchWarn, MismatchFail:
		return p, nil
	default:
		return "", fmt.Errorf("unknown mismatch policy %q (want warn or fail)", s)
	}
}

// Config holds configuration for an import run
type Config struct {
	DuplicatePolicy DuplicatePolicy `json:"duplicate_policy" mapstructure:"duplicate-policy"`
	MismatchPolicy  MismatchPolicy  `json:"mismatch_policy" mapstructure:"mismatch-policy"`

	// StrictHeaders fails the run when rows of one invoice disagree on
	// date, address or total. Otherwise the first row wins and a warning is kept.
	StrictHeaders bool `json:"strict_headers" mapstructure:"strict-headers"`

	Tolerance decimal.Decimal              `json:"tolerance" mapstructure:"-"`
	Parser    *parsers.InvoiceParserConfig `json:"parser" mapstructure:"parser"`
}

// DefaultConfig returns the default import configuration
func DefaultConfig() *Config {
	return &Config{
		DuplicatePolicy: DuplicateReject,
		MismatchPolicy:  MismatchWarn,
		Tolerance:       models.DefaultTolerance,
		Parser:          parsers.DefaultInvoiceParserConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := ParseDuplicatePolicy(string(c.DuplicatePolicy)); err != nil {
		return err
	}
	if _, err := ParseMismatchPolicy(string(c.MismatchPolicy)); err != nil {
		return err
	}
	if c.Tolerance.IsNegative() {
		return fmt.Errorf("tolerance cannot be negative, got %s", c.Tolerance)
	}
	if c.Parser != nil {
		if err := c.Parser.Validate(); err != nil {
			return fmt.Errorf("parser: %w", err)
		}
	}
	return nil
}

// Outcome is the final state of one invoice in a run
type Outcome string

const (
	OutcomePending   Outcome = "not_started"
	OutcomeCommitted Outcome = "committed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// InvoiceOutcome records what happened to one invoice
type InvoiceOutcome struct {
	InvoiceNumber string          `json:"invoice_number"`
	FirstLine     int             `json:"first_line"`
	Lines         int             `json:"lines"`
	TotalQuantity int             `json:"total_quantity"`
	InvoiceTotal  decimal.Decimal `json:"invoice_total"`
	HeaderID      uint            `json:"header_id,omitempty"`
	Outcome       Outcome         `json:"outcome"`
	Error         string          `json:"error,omitempty"`
}

// Progress is reported after every committed invoice
type Progress struct {
	InvoiceNumber string
	TotalQuantity int
	Committed     int
	Total         int
}

// ProgressCallback is called with progress updates. It must not block.
type ProgressCallback func(Progress)

// ImportResult summarizes a run. It is returned alongside errors and then
// describes how far the run got.
type ImportResult struct {
	RunID          uuid.UUID           `json:"run_id"`
	SourceFile     string              `json:"source_file"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
	Stats          *parsers.ParseStats `json:"stats,omitempty"`
	Invoices       []*InvoiceOutcome   `json:"invoices"`
	Committed      int                 `json:"committed"`
	Skipped        int                 `json:"skipped"`
	Duplicates     int                 `json:"duplicates"`
	Reconciliation *reconciler.Report  `json:"reconciliation,omitempty"`
	Warnings       []string            `json:"warnings,omitempty"`

	failures []*errors.ImportError
}

// Duration returns how long the run took
func (r *ImportResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// CommittedQuantity sums the quantities of all committed invoices
func (r *ImportResult) CommittedQuantity() int {
	total := 0
	for _, o := range r.Invoices {
		if o.Outcome == OutcomeCommitted {
			total += o.TotalQuantity
		}
	}
	return total
}

// Importer runs imports against a persistence gateway
type Importer struct {
	gateway           store.Gateway
	parser            *parsers.InvoiceParser
	reconciler        *reconciler.Reconciler
	config            *Config
	logger            logger.Logger
	progressCallbacks []ProgressCallback
}

// New creates an importer. A nil config uses DefaultConfig.
func New(gateway store.Gateway, config *Config, log logger.Logger) (*Importer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "import", config, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	parser, err := parsers.NewInvoiceParser(config.Parser)
	if err != nil {
		return nil, err
	}

	tolerance := config.Tolerance
	if tolerance.IsZero() {
		tolerance = models.DefaultTolerance
	}

	return &Importer{
		gateway:    gateway,
		parser:     parser,
		reconciler: reconciler.New(gateway, log).WithTolerance(tolerance),
		config:     config,
		logger:     log.WithComponent("importer"),
	}, nil
}

// AddProgressCallback adds a progress callback
func (im *Importer) AddProgressCallback(callback ProgressCallback) {
	im.progressCallbacks = append(im.progressCallbacks, callback)
}

// Run imports the CSV file at path. The result is never nil.
func (im *Importer) Run(ctx context.Context, path string) (*ImportResult, error) {
	result := newResult(path)
	defer result.finish()

	records, stats, err := im.parser.ParseFile(ctx, path)
	result.Stats = stats
	if err != nil {
		im.logger.WithError(err).WithField("file_path", path).Error("Import aborted while parsing")
		return result, err
	}

	return result, im.importRecords(ctx, result, records)
}

// ImportRecords imports already parsed records. source names them in the result.
func (im *Importer) ImportRecords(ctx context.Context, source string, records []*models.InvoiceRecord) (*ImportResult, error) {
	result := newResult(source)
	defer result.finish()

	return result, im.importRecords(ctx, result, records)
}

func newResult(source string) *ImportResult {
	return &ImportResult{
		RunID:      uuid.New(),
		SourceFile: source,
		StartedAt:  time.Now().UTC(),
	}
}

func (r *ImportResult) finish() {
	r.FinishedAt = time.Now().UTC()
}

func (im *Importer) importRecords(ctx context.Context, result *ImportResult, records []*models.InvoiceRecord) error {
	log := im.logger.WithFields(logger.Fields{
		"run_id": result.RunID.String(),
		"source": result.SourceFile,
	})

	aggregates := Aggregate(records)
	result.Invoices = make([]*InvoiceOutcome, len(aggregates))
	for i, agg := range aggregates {
		result.Invoices[i] = &InvoiceOutcome{
			InvoiceNumber: agg.InvoiceNumber(),
			FirstLine:     agg.FirstLine,
			Lines:         len(agg.Lines),
			TotalQuantity: agg.TotalQuantity(),
			InvoiceTotal:  agg.Header.InvoiceTotalExVAT,
			Outcome:       OutcomePending,
		}
	}

	log.WithFields(logger.Fields{
		"records":  len(records),
		"invoices": len(aggregates),
	}).Info("Starting invoice import")

	if err := im.precheck(ctx, aggregates, result, log); err != nil {
		return err
	}
	if err := im.write(ctx, aggregates, result, log); err != nil {
		return err
	}

	report, err := im.reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}
	result.Reconciliation = report

	if !report.Matched {
		if im.config.MismatchPolicy == MismatchFail {
			return report.Err()
		}
		result.Warnings = append(result.Warnings, report.String())
	}

	log.WithFields(logger.Fields{
		"committed": result.Committed,
		"skipped":   result.Skipped,
		"matched":   report.Matched,
	}).Info("Invoice import completed")

	return nil
}

// precheck validates every invoice and looks every number up before anything
// is written, so a rejected run commits nothing.
func (im *Importer) precheck(ctx context.Context, aggregates []*InvoiceAggregate, result *ImportResult, log logger.Logger) error {
	var firstDuplicate string

	for i, agg := range aggregates {
		outcome := result.Invoices[i]

		if err := agg.Validate(); err != nil {
			result.fail(outcome, OutcomeFailed, err)
			return err
		}

		for _, c := range agg.Conflicts {
			if im.config.StrictHeaders {
				err := agg.ConflictError()
				result.fail(outcome, OutcomeFailed, err)
				return err
			}
			warning := fmt.Sprintf("invoice %s %s", agg.InvoiceNumber(), c)
			result.Warnings = append(result.Warnings, warning)
			log.WithFields(logger.Fields{
				"invoice_number": agg.InvoiceNumber(),
				"line":           c.Line,
				"field":          c.Field,
			}).Warn("Rows disagree on a header field, keeping the first row")
		}

		existing, err := im.gateway.FindHeaderByNumber(ctx, agg.InvoiceNumber())
		if err != nil {
			err = errors.WrapIfNeeded(err, errors.CategoryStore, errors.CodeStoreFailure, "could not look up invoice "+agg.InvoiceNumber())
			result.fail(outcome, OutcomeFailed, err)
			return err
		}
		if existing != nil {
			result.fail(outcome, OutcomeDuplicate, errors.DuplicateInvoiceError(agg.InvoiceNumber(), false, nil))
			result.Duplicates++
			if firstDuplicate == "" {
				firstDuplicate = agg.InvoiceNumber()
			}
		}
	}

	if result.Duplicates > 0 {
		log.WithFields(logger.Fields{
			"duplicates":     result.Duplicates,
			"invoice_number": firstDuplicate,
		}).Error("Invoices already exist, nothing was imported")
		return errors.DuplicateInvoiceError(firstDuplicate, false, nil).
			WithContext("duplicates", result.Duplicates)
	}
	return nil
}

func (im *Importer) write(ctx context.Context, aggregates []*InvoiceAggregate, result *ImportResult, log logger.Logger) error {
	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "import_invoices",
		Total:     int64(len(aggregates)),
		Logger:    im.logger,
	})

	for i, agg := range aggregates {
		outcome := result.Invoices[i]

		if err := ctx.Err(); err != nil {
			err = errors.InternalError(errors.CodeUnexpectedError, "import_invoices", err)
			tracker.CompleteWithError(err)
			return err
		}

		header := *agg.Header
		lines := make([]models.InvoiceLine, len(agg.Lines))
		copy(lines, agg.Lines)

		written := im.gateway.AddHeaderWithLines(ctx, &header, lines)
		switch written.Status {
		case store.StatusInserted:
			outcome.Outcome = OutcomeCommitted
			outcome.HeaderID = written.HeaderID
			result.Committed++
			log.WithFields(logger.Fields{
				"invoice_number": agg.InvoiceNumber(),
				"lines":          len(lines),
				"total_quantity": outcome.TotalQuantity,
			}).Info("Imported invoice")
			im.updateProgress(Progress{
				InvoiceNumber: agg.InvoiceNumber(),
				TotalQuantity: outcome.TotalQuantity,
				Committed:     result.Committed,
				Total:         len(aggregates),
			})

		case store.StatusDuplicate:
			if im.config.DuplicatePolicy == DuplicateSkip {
				result.fail(outcome, OutcomeSkipped, written.Err)
				result.Skipped++
				log.WithError(written.Err).WithField("invoice_number", agg.InvoiceNumber()).
					Warn("Invoice was written concurrently, skipping")
				break
			}
			result.fail(outcome, OutcomeDuplicate, written.Err)
			result.Duplicates++
			tracker.CompleteWithError(written.Err)
			return written.Err

		default:
			err := written.Err
			if err == nil {
				err = errors.StoreError(errors.CodeStoreFailure, "add_header_with_lines", nil)
			}
			result.fail(outcome, OutcomeFailed, err)
			tracker.CompleteWithError(err)
			return err
		}

		tracker.Increment()
	}

	tracker.Complete()
	return nil
}

func (r *ImportResult) fail(o *InvoiceOutcome, outcome Outcome, err error) {
	o.Outcome = outcome
	if err == nil {
		return
	}
	o.Error = err.Error()
	if importErr, ok := errors.AsImportError(err); ok {
		r.failures = append(r.failures, importErr)
	}
}

// ErrorSummary groups the errors of all invoices that were not committed by
// category and code
func (r *ImportResult) ErrorSummary() *errors.ErrorSummary {
	return errors.NewErrorSummary(r.failures)
}

// updateProgress notifies all registered callbacks
func (im *Importer) updateProgress(progress Progress) {
	for _, callback := range im.progressCallbacks {
		callback(progress)
	}
}
