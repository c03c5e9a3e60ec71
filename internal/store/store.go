// Package store defines the persistence gateway used by the import pipeline
// and the audit record written for every import run.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"invoice-import-service/internal/models"
	"invoice-import-service/pkg/errors"
)

// ErrNotFound is the cause of errors for lookups of invoices that do not exist
var ErrNotFound = stderrors.New("invoice not found")

// WriteStatus is the outcome of an atomic header and lines write
type WriteStatus int

const (
	StatusInserted WriteStatus = iota
	StatusDuplicate
	StatusFailed
)

// String returns the status name
func (s WriteStatus) String() string {
	switch s {
	case StatusInserted:
		return "inserted"
	case StatusDuplicate:
		return "duplicate"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("WriteStatus(%d)", int(s))
	}
}

// WriteResult reports the outcome of AddHeaderWithLines. Err is set for
// StatusDuplicate and StatusFailed.
type WriteResult struct {
	Status   WriteStatus
	HeaderID uint
	Err      error
}

// Inserted builds a successful write result
func Inserted(headerID uint) WriteResult {
	return WriteResult{Status: StatusInserted, HeaderID: headerID}
}

// Duplicate builds a write result for a uniqueness violation on the invoice number
func Duplicate(invoiceNumber string, cause error) WriteResult {
	return WriteResult{Status: StatusDuplicate, Err: errors.DuplicateInvoiceError(invoiceNumber, true, cause)}
}

// Failed builds a write result for any other store failure. The transaction was rolled back.
func Failed(cause error) WriteResult {
	return WriteResult{Status: StatusFailed, Err: errors.StoreError(errors.CodeTransactionFailed, "add_header_with_lines", cause)}
}

// Gateway is the persistence contract of the import pipeline
type Gateway interface {
	// FindHeaderByNumber returns nil and no error when the invoice does not exist
	FindHeaderByNumber(ctx context.Context, invoiceNumber string) (*models.InvoiceHeader, error)

	// AddHeaderWithLines writes the header and all lines in one transaction.
	// Either everything is committed or nothing is.
	AddHeaderWithLines(ctx context.Context, header *models.InvoiceHeader, lines []models.InvoiceLine) WriteResult

	ListAllHeadersWithLines(ctx context.Context) ([]*models.InvoiceHeader, error)
	SumHeaderTotals(ctx context.Context) (decimal.Decimal, error)
	SumLineTotals(ctx context.Context) (decimal.Decimal, error)

	// DeleteHeader removes the invoice and every line it owns
	DeleteHeader(ctx context.Context, invoiceNumber string) error
}

// RunRecorder stores the audit trail of import runs
type RunRecorder interface {
	RecordRun(ctx context.Context, run *ImportRun) error
	ListRuns(ctx context.Context, limit int) ([]*ImportRun, error)
}

// Store is a complete backend: the gateway, the run audit trail and lifecycle
type Store interface {
	Gateway
	RunRecorder
	Migrate(ctx context.Context) error
	Close() error
}

// Run status values
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// MaxRunErrorLength is the size in characters of the ImportRun.Error column
const MaxRunErrorLength = 2000

// ImportRun is the audit record of one import of a CSV file
type ImportRun struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	SourceFile  string          `gorm:"size:1024;not null" json:"source_file"`
	Status      string          `gorm:"size:20;not null;index" json:"status"`
	Committed   int             `json:"committed"`
	Skipped     int             `json:"skipped"`
	HeaderTotal decimal.Decimal `gorm:"type:decimal(18,2)" json:"header_total"`
	LineTotal   decimal.Decimal `gorm:"type:decimal(18,2)" json:"line_total"`
	Matched     bool            `json:"matched"`
	Error       string          `gorm:"size:2000" json:"error,omitempty"`
	Summary     datatypes.JSON  `json:"summary,omitempty"`
	StartedAt   time.Time       `gorm:"index" json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// TableName pins the table name independent of gorm's naming strategy
func (ImportRun) TableName() string {
	return "import_runs"
}

// NotFound builds the error returned for an unknown invoice number
func NotFound(invoiceNumber string) error {
	return errors.ValidationError(errors.CodeNotFound, "invoice number", invoiceNumber, ErrNotFound)
}
