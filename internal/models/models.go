package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"invoice-import-service/pkg/errors"
)

const (
	// InvoiceDateLayout is the only accepted format for the Invoice Date column (dd/MM/yyyy HH:mm)
	InvoiceDateLayout = "02/01/2006 15:04"

	// MaxInvoiceNumberLength is the storage limit for invoice numbers
	MaxInvoiceNumberLength = 50
	// MaxTextLength is the storage limit for addresses and line descriptions
	MaxTextLength = 500
)

// DefaultTolerance is the largest header/line total difference still reported as a match
var DefaultTolerance = decimal.New(1, -2)

// InvoiceRecord is one parsed CSV row. Every row carries the header fields of
// its invoice plus exactly one line item.
type InvoiceRecord struct {
	InvoiceNumber         string          `json:"invoiceNumber"`
	InvoiceDate           time.Time       `json:"invoiceDate"`
	Address               string          `json:"address"`
	InvoiceTotalExVAT     decimal.Decimal `json:"invoiceTotalExVAT"`
	LineDescription       string          `json:"lineDescription"`
	InvoiceQuantity       int             `json:"invoiceQuantity"`
	UnitSellingPriceExVAT decimal.Decimal `json:"unitSellingPriceExVAT"`

	// Line is the 1-based physical line in the source file
	Line int `json:"line"`
}

// String returns a string representation of the InvoiceRecord
func (r *InvoiceRecord) String() string {
	return fmt.Sprintf("InvoiceRecord{Invoice: %s, Line: %d, Description: %s, Qty: %d, Price: %s}",
		r.InvoiceNumber, r.Line, r.LineDescription, r.InvoiceQuantity, r.UnitSellingPriceExVAT.String())
}

// InvoiceHeader is the persisted invoice. It owns its lines.
type InvoiceHeader struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	InvoiceNumber     string          `gorm:"size:50;not null;uniqueIndex" json:"invoiceNumber"`
	InvoiceDate       time.Time       `gorm:"not null" json:"invoiceDate"`
	Address           string          `gorm:"size:500;not null" json:"address"`
	InvoiceTotalExVAT decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"invoiceTotalExVAT"`
	Lines             []InvoiceLine   `gorm:"foreignKey:InvoiceHeaderID;constraint:OnDelete:CASCADE" json:"lines"`
}

// TableName pins the table name independent of gorm's naming strategy
func (InvoiceHeader) TableName() string {
	return "invoice_headers"
}

// InvoiceLine is one persisted line item. It references its header by id only.
type InvoiceLine struct {
	ID                    uint            `gorm:"primaryKey" json:"id"`
	InvoiceHeaderID       uint            `gorm:"not null;index" json:"invoiceHeaderId"`
	LineDescription       string          `gorm:"size:500;not null" json:"lineDescription"`
	InvoiceQuantity       int             `gorm:"not null" json:"invoiceQuantity"`
	UnitSellingPriceExVAT decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unitSellingPriceExVAT"`
}

// TableName pins the table name independent of gorm's naming strategy
func (InvoiceLine) TableName() string {
	return "invoice_lines"
}

// NewInvoiceHeader builds a header from the header fields of a record
func NewInvoiceHeader(r *InvoiceRecord) *InvoiceHeader {
	return &InvoiceHeader{
		InvoiceNumber:     r.InvoiceNumber,
		InvoiceDate:       r.InvoiceDate,
		Address:           r.Address,
		InvoiceTotalExVAT: r.InvoiceTotalExVAT,
	}
}

// NewInvoiceLine builds a line from the line fields of a record
func NewInvoiceLine(r *InvoiceRecord) InvoiceLine {
	return InvoiceLine{
		LineDescription:       r.LineDescription,
		InvoiceQuantity:       r.InvoiceQuantity,
		UnitSellingPriceExVAT: r.UnitSellingPriceExVAT,
	}
}

// LineTotal is quantity times unit price. It is never stored.
func (l *InvoiceLine) LineTotal() decimal.Decimal {
	return decimal.NewFromInt(int64(l.InvoiceQuantity)).Mul(l.UnitSellingPriceExVAT)
}

// Validate performs basic validation on the InvoiceLine
func (l *InvoiceLine) Validate() error {
	if strings.TrimSpace(l.LineDescription) == "" {
		return errors.ValidationError(errors.CodeMissingField, "LineDescription", l.LineDescription, nil)
	}
	if utf8.RuneCountInString(l.LineDescription) > MaxTextLength {
		return errors.ValidationError(errors.CodeOutOfRange, "LineDescription", l.LineDescription, nil).
			WithSuggestion(fmt.Sprintf("line descriptions are limited to %d characters", MaxTextLength))
	}
	return nil
}

// Validate checks the header and all of its lines
func (h *InvoiceHeader) Validate() error {
	if strings.TrimSpace(h.InvoiceNumber) == "" {
		return errors.ValidationError(errors.CodeMissingField, "InvoiceNumber", h.InvoiceNumber, nil)
	}
	if utf8.RuneCountInString(h.InvoiceNumber) > MaxInvoiceNumberLength {
		return errors.ValidationError(errors.CodeOutOfRange, "InvoiceNumber", h.InvoiceNumber, nil).
			WithSuggestion(fmt.Sprintf("invoice numbers are limited to %d characters", MaxInvoiceNumberLength))
	}
	if strings.TrimSpace(h.Address) == "" {
		return errors.ValidationError(errors.CodeMissingField, "Address", h.Address, nil).
			WithContext("invoice_number", h.InvoiceNumber)
	}
	if utf8.RuneCountInString(h.Address) > MaxTextLength {
		return errors.ValidationError(errors.CodeOutOfRange, "Address", h.Address, nil).
			WithContext("invoice_number", h.InvoiceNumber).
			WithSuggestion(fmt.Sprintf("addresses are limited to %d characters", MaxTextLength))
	}
	if h.InvoiceDate.IsZero() {
		return errors.ValidationError(errors.CodeMissingField, "InvoiceDate", h.InvoiceDate, nil).
			WithContext("invoice_number", h.InvoiceNumber)
	}

	for i := range h.Lines {
		if err := h.Lines[i].Validate(); err != nil {
			if importErr, ok := errors.AsImportError(err); ok {
				importErr.WithContext("invoice_number", h.InvoiceNumber).WithContext("line_index", i)
			}
			return err
		}
	}
	return nil
}

// TotalQuantity sums the quantities of all lines
func (h *InvoiceHeader) TotalQuantity() int {
	total := 0
	for i := range h.Lines {
		total += h.Lines[i].InvoiceQuantity
	}
	return total
}

// LinesTotal sums the computed totals of all lines
func (h *InvoiceHeader) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for i := range h.Lines {
		total = total.Add(h.Lines[i].LineTotal())
	}
	return total
}

// String returns a string representation of the InvoiceHeader
func (h *InvoiceHeader) String() string {
	return fmt.Sprintf("InvoiceHeader{Number: %s, Date: %s, Total: %s, Lines: %d}",
		h.InvoiceNumber, h.InvoiceDate.Format(InvoiceDateLayout), h.InvoiceTotalExVAT.StringFixed(2), len(h.Lines))
}

// ParseInvoiceDate parses the exact dd/MM/yyyy HH:mm layout
func ParseInvoiceDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date string cannot be empty")
	}

	t, err := time.Parse(InvoiceDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date '%s' does not match dd/MM/yyyy HH:mm: %w", s, err)
	}
	return t, nil
}

// ParseInvariantDecimal parses a locale-invariant decimal. Surrounding
// whitespace and one layer of quote characters are tolerated and an empty
// value is zero. Thousands separators are rejected.
func ParseInvariantDecimal(s string) (decimal.Decimal, error) {
	s = stripQuotes(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

// ParseQuantity parses a base-10 integer quantity
func ParseQuantity(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("quantity cannot be empty")
	}

	n, err := strconv.ParseInt(s, 10, strconv.IntSize)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity '%s': %w", s, err)
	}
	return int(n), nil
}

func stripQuotes(s string) string {
	if s == "" {
		return s
	}
	if isQuote(s[0]) {
		s = s[1:]
	}
	if s != "" && isQuote(s[len(s)-1]) {
		s = s[:len(s)-1]
	}
	return strings.TrimSpace(s)
}

func isQuote(c byte) bool {
	return c == '"' || c == '\''
}

// CompareAmountsWithTolerance reports whether a and b differ by strictly less than tolerance
func CompareAmountsWithTolerance(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(tolerance)
}

// ColumnKind is the coercion applied to a column's raw text
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindDate
	KindDecimal
	KindInteger
)

// String returns the kind name used in diagnostics
func (k ColumnKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindDecimal:
		return "decimal"
	case KindInteger:
		return "integer"
	default:
		return "unknown"
	}
}

// Column declares one CSV column: its external label, the record field it
// fills and how the raw text is coerced.
type Column struct {
	Label    string
	Field    string
	Kind     ColumnKind
	Required bool
}

const (
	ColumnInvoiceNumber   = "Invoice Number"
	ColumnInvoiceDate     = "Invoice Date"
	ColumnAddress         = "Address"
	ColumnLineDescription = "Line description"
	ColumnInvoiceQuantity = "Invoice Quantity"
	ColumnUnitPrice       = "Unit selling price ex VAT"
	ColumnInvoiceTotal    = "Invoice Total Ex VAT"
)

// InvoiceColumns is the declared column table in required-header order
var InvoiceColumns = []Column{
	{Label: ColumnInvoiceNumber, Field: "InvoiceNumber", Kind: KindText, Required: true},
	{Label: ColumnInvoiceDate, Field: "InvoiceDate", Kind: KindDate, Required: true},
	{Label: ColumnAddress, Field: "Address", Kind: KindText, Required: true},
	{Label: ColumnLineDescription, Field: "LineDescription", Kind: KindText, Required: true},
	{Label: ColumnInvoiceQuantity, Field: "InvoiceQuantity", Kind: KindInteger, Required: true},
	{Label: ColumnUnitPrice, Field: "UnitSellingPriceExVAT", Kind: KindDecimal},
	{Label: ColumnInvoiceTotal, Field: "InvoiceTotalExVAT", Kind: KindDecimal},
}

func init() {
	if err := validateColumns(InvoiceColumns); err != nil {
		panic(err)
	}
}

func validateColumns(columns []Column) error {
	seenLabels := make(map[string]bool, len(columns))
	seenFields := make(map[string]bool, len(columns))
	for _, c := range columns {
		label := NormalizeLabel(c.Label)
		if label == "" {
			return fmt.Errorf("column for field %s has an empty label", c.Field)
		}
		if seenLabels[label] {
			return fmt.Errorf("duplicate column label %q", c.Label)
		}
		if seenFields[c.Field] {
			return fmt.Errorf("field %s is mapped by more than one column", c.Field)
		}
		seenLabels[label] = true
		seenFields[c.Field] = true
	}
	return nil
}

// NormalizeLabel lower-cases a header label and removes all whitespace
func NormalizeLabel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
