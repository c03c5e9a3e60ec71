package importer

import (
	"fmt"

	"invoice-import-service/internal/models"
	"invoice-import-service/pkg/errors"
)

// InvoiceAggregate is one invoice built from all rows sharing its number.
// Header fields come from the first row; each row contributes one line.
type InvoiceAggregate struct {
	Header    *models.InvoiceHeader
	Lines     []models.InvoiceLine
	FirstLine int
	Conflicts []HeaderConflict
}

// HeaderConflict is a later row whose header field disagrees with the first row
type HeaderConflict struct {
	Line    int    `json:"line"`
	Field   string `json:"field"`
	Kept    string `json:"kept"`
	Ignored string `json:"ignored"`
}

// String returns a human-readable description of the conflict
func (c HeaderConflict) String() string {
	return fmt.Sprintf("line %d: %s %q ignored, keeping %q", c.Line, c.Field, c.Ignored, c.Kept)
}

// InvoiceNumber returns the number shared by every row of the aggregate
func (a *InvoiceAggregate) InvoiceNumber() string {
	return a.Header.InvoiceNumber
}

// TotalQuantity sums the quantities of the aggregate's lines
func (a *InvoiceAggregate) TotalQuantity() int {
	total := 0
	for i := range a.Lines {
		total += a.Lines[i].InvoiceQuantity
	}
	return total
}

// Validate checks the header and lines before anything is written
func (a *InvoiceAggregate) Validate() error {
	header := *a.Header
	header.Lines = a.Lines
	if err := header.Validate(); err != nil {
		if importErr, ok := errors.AsImportError(err); ok {
			importErr.WithContext("line", a.FirstLine)
		}
		return err
	}
	return nil
}

// ConflictError reports the first header conflict as a validation error
func (a *InvoiceAggregate) ConflictError() error {
	if len(a.Conflicts) == 0 {
		return nil
	}
	c := a.Conflicts[0]
	return errors.ValidationError(errors.CodeHeaderConflict, c.Field, a.InvoiceNumber(), nil).
		WithContext("line", c.Line).
		WithContext("kept", c.Kept).
		WithContext("ignored", c.Ignored).
		WithContext("conflicts", len(a.Conflicts))
}

// Aggregate groups records by invoice number in first-seen order
func Aggregate(records []*models.InvoiceRecord) []*InvoiceAggregate {
	var aggregates []*InvoiceAggregate
	byNumber := make(map[string]*InvoiceAggregate)

	for _, r := range records {
		agg, ok := byNumber[r.InvoiceNumber]
		if !ok {
			agg = &InvoiceAggregate{
				Header:    models.NewInvoiceHeader(r),
				FirstLine: r.Line,
			}
			byNumber[r.InvoiceNumber] = agg
			aggregates = append(aggregates, agg)
		} else {
			agg.Conflicts = append(agg.Conflicts, headerConflicts(agg.Header, r)...)
		}
		agg.Lines = append(agg.Lines, models.NewInvoiceLine(r))
	}

	return aggregates
}

func headerConflicts(h *models.InvoiceHeader, r *models.InvoiceRecord) []HeaderConflict {
	var conflicts []HeaderConflict

	if !h.InvoiceDate.Equal(r.InvoiceDate) {
		conflicts = append(conflicts, HeaderConflict{
			Line:    r.Line,
			Field:   models.ColumnInvoiceDate,
			Kept:    h.InvoiceDate.Format(models.InvoiceDateLayout),
			Ignored: r.InvoiceDate.Format(models.InvoiceDateLayout),
		})
	}
	if h.Address != r.Address {
		conflicts = append(conflicts, HeaderConflict{
			Line:    r.Line,
			Field:   models.ColumnAddress,
			Kept:    h.Address,
			Ignored: r.Address,
		})
	}
	if !h.InvoiceTotalExVAT.Equal(r.InvoiceTotalExVAT) {
		conflicts = append(conflicts, HeaderConflict{
			Line:    r.Line,
			Field:   models.ColumnInvoiceTotal,
			Kept:    h.InvoiceTotalExVAT.String(),
			Ignored: r.InvoiceTotalExVAT.String(),
		})
	}

	return conflicts
}
