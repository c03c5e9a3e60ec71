// Package reconciler checks that stored invoice totals agree with the sum of
// their line totals.
//
// Two independent totals are compared: the sum of every header's
// InvoiceTotalExVAT and the sum of quantity times unit price over every line.
// They match when they differ by strictly less than the tolerance (0.01 by
// default). A mismatch is reported, never returned as an error; callers that
// want to fail on it use Report.Err.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"invoice-import-service/internal/models"
	"invoice-import-service/internal/store"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

// Method names how the totals were obtained
type Method string

const (
	// MethodLines loads every header with its lines and sums in process
	MethodLines Method = "lines"
	// MethodAggregate asks the store for both sums
	MethodAggregate Method = "aggregate"
)

// Report is the outcome of one totals check
type Report struct {
	Method      Method          `json:"method"`
	HeaderTotal decimal.Decimal `json:"header_total"`
	LineTotal   decimal.Decimal `json:"line_total"`
	Difference  decimal.Decimal `json:"difference"`
	Tolerance   decimal.Decimal `json:"tolerance"`
	Matched     bool            `json:"matched"`

	// Populated by MethodLines only
	Invoices      int                   `json:"invoices"`
	Lines         int                   `json:"lines"`
	Discrepancies []*InvoiceDiscrepancy `json:"discrepancies,omitempty"`

	CheckedAt time.Time `json:"checked_at"`
}

// InvoiceDiscrepancy is one invoice whose own total disagrees with its lines
type InvoiceDiscrepancy struct {
	InvoiceNumber string          `json:"invoice_number"`
	HeaderTotal   decimal.Decimal `json:"header_total"`
	LineTotal     decimal.Decimal `json:"line_total"`
	Difference    decimal.Decimal `json:"difference"`
}

// Compare builds a report for two totals. Difference is absolute.
func Compare(headerTotal, lineTotal, tolerance decimal.Decimal) *Report {
	return &Report{
		HeaderTotal: headerTotal,
		LineTotal:   lineTotal,
		Difference:  headerTotal.Sub(lineTotal).Abs(),
		Tolerance:   tolerance,
		Matched:     models.CompareAmountsWithTolerance(headerTotal, lineTotal, tolerance),
		CheckedAt:   time.Now().UTC(),
	}
}

// Err returns a ReconciliationMismatch error when the totals do not match
func (r *Report) Err() error {
	if r == nil || r.Matched {
		return nil
	}
	return errors.ReconciliationMismatch(r.HeaderTotal, r.LineTotal, r.Difference).
		WithContext("discrepant_invoices", len(r.Discrepancies))
}

// String returns a one-line summary
func (r *Report) String() string {
	status := "match"
	if !r.Matched {
		status = "MISMATCH"
	}
	return fmt.Sprintf("%s: headers %s, lines %s, difference %s",
		status, r.HeaderTotal.StringFixed(2), r.LineTotal.StringFixed(2), r.Difference.StringFixed(2))
}

// Reconciler runs totals checks against a gateway
type Reconciler struct {
	gateway   store.Gateway
	tolerance decimal.Decimal
	logger    logger.Logger
}

// New creates a reconciler with the default tolerance
func New(gateway store.Gateway, log logger.Logger) *Reconciler {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Reconciler{
		gateway:   gateway,
		tolerance: models.DefaultTolerance,
		logger:    log.WithComponent("reconciler"),
	}
}

// WithTolerance overrides the match tolerance
func (r *Reconciler) WithTolerance(tolerance decimal.Decimal) *Reconciler {
	r.tolerance = tolerance.Abs()
	return r
}

// Reconcile loads every invoice with its lines and compares the totals
func (r *Reconciler) Reconcile(ctx context.Context) (*Report, error) {
	headers, err := r.gateway.ListAllHeadersWithLines(ctx)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStore, errors.CodeStoreFailure, "could not load invoices for reconciliation")
	}

	headerTotal := decimal.Zero
	lineTotal := decimal.Zero
	lines := 0
	var discrepancies []*InvoiceDiscrepancy

	for _, h := range headers {
		invoiceLines := h.LinesTotal()
		headerTotal = headerTotal.Add(h.InvoiceTotalExVAT)
		lineTotal = lineTotal.Add(invoiceLines)
		lines += len(h.Lines)

		if !models.CompareAmountsWithTolerance(h.InvoiceTotalExVAT, invoiceLines, r.tolerance) {
			discrepancies = append(discrepancies, &InvoiceDiscrepancy{
				InvoiceNumber: h.InvoiceNumber,
				HeaderTotal:   h.InvoiceTotalExVAT,
				LineTotal:     invoiceLines,
				Difference:    h.InvoiceTotalExVAT.Sub(invoiceLines).Abs(),
			})
		}
	}

	report := Compare(headerTotal, lineTotal, r.tolerance)
	report.Method = MethodLines
	report.Invoices = len(headers)
	report.Lines = lines
	report.Discrepancies = discrepancies

	r.log(report)
	return report, nil
}

// ReconcileAggregates compares the totals computed by the store
func (r *Reconciler) ReconcileAggregates(ctx context.Context) (*Report, error) {
	headerTotal, err := r.gateway.SumHeaderTotals(ctx)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStore, errors.CodeStoreFailure, "could not sum header totals")
	}
	lineTotal, err := r.gateway.SumLineTotals(ctx)
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryStore, errors.CodeStoreFailure, "could not sum line totals")
	}

	report := Compare(headerTotal, lineTotal, r.tolerance)
	report.Method = MethodAggregate

	r.log(report)
	return report, nil
}

func (r *Reconciler) log(report *Report) {
	fields := logger.Fields{
		"method":       report.Method,
		"header_total": report.HeaderTotal.StringFixed(2),
		"line_total":   report.LineTotal.StringFixed(2),
		"difference":   report.Difference.StringFixed(2),
	}
	if report.Matched {
		r.logger.WithFields(fields).Info("Totals match")
		return
	}
	fields["discrepant_invoices"] = len(report.Discrepancies)
	r.logger.WithFields(fields).Warn("Totals do not match")
}
