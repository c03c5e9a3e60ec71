package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategorySchema         ErrorCategory = "schema"
	CategoryParse          ErrorCategory = "parse"
	CategoryValidation     ErrorCategory = "validation"
	CategoryDuplicate      ErrorCategory = "duplicate"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryStore          ErrorCategory = "store"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeEmptyFile      ErrorCode = "empty_file"

	// Schema errors
	CodeMissingColumn ErrorCode = "missing_column"

	// Parse errors
	CodeInvalidFormat  ErrorCode = "invalid_format"
	CodeMissingField   ErrorCode = "missing_field"
	CodeTypeConversion ErrorCode = "type_conversion"
	CodeNoRecords      ErrorCode = "no_records"

	// Validation errors
	CodeInvalidData    ErrorCode = "invalid_data"
	CodeOutOfRange     ErrorCode = "out_of_range"
	CodeHeaderConflict ErrorCode = "header_conflict"
	CodeNotFound       ErrorCode = "not_found"

	// Duplicate errors
	CodeDuplicateInvoice ErrorCode = "duplicate_invoice"

	// Reconciliation errors
	CodeTotalsMismatch ErrorCode = "totals_mismatch"

	// Store errors
	CodeStoreFailure      ErrorCode = "store_failure"
	CodeTransactionFailed ErrorCode = "transaction_failed"
	CodeConnectionFailed  ErrorCode = "connection_failed"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ImportError is the base error type for all application errors
type ImportError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ImportError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ImportError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ImportError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategorySchema, CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryDuplicate:
		return 5
	case CategoryReconciliation:
		return 6
	case CategoryStore:
		return 7
	default:
		return 1
	}
}

// WithContext adds context information to the error
func (e *ImportError) WithContext(key string, value interface{}) *ImportError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ImportError) WithSuggestion(suggestion string) *ImportError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ImportError
func New(category ErrorCategory, code ErrorCode, message string) *ImportError {
	return &ImportError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ImportError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}

	return &ImportError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func newOrWrap(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file could not be read: %s", path)
		suggestion = "verify the file integrity and encoding"
	case CodeEmptyFile:
		message = fmt.Sprintf("CSV file is empty: %s", path)
		suggestion = "provide a file with a header row and at least one invoice line"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return newOrWrap(err, CategoryFile, code, message).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// SchemaError reports the first required column missing from the header row.
func SchemaError(missing string, present []string) *ImportError {
	return New(CategorySchema, CodeMissingColumn, fmt.Sprintf("missing required column '%s'", missing)).
		WithSuggestion("verify the file has all required columns with correct headers").
		WithContext("column", missing).
		WithContext("present_headers", strings.Join(present, ", "))
}

// FieldMissingError reports a required text field that is empty for a row.
// invoiceNumber is empty when the row's invoice number itself is missing.
func FieldMissingError(file string, line int, field, invoiceNumber string) *ImportError {
	message := fmt.Sprintf("missing value for '%s' in row %d", field, line)
	if invoiceNumber != "" {
		message = fmt.Sprintf("missing value for '%s' in row %d (invoice %s)", field, line, invoiceNumber)
	}

	err := New(CategoryParse, CodeMissingField, message).
		WithSuggestion("provide a value for this required field").
		WithContext("file", file).
		WithContext("line", line).
		WithContext("field", field)
	if invoiceNumber != "" {
		err.WithContext("invoice_number", invoiceNumber)
	}
	return err
}

// TypeConversionError reports a cell that could not be converted to its field type.
func TypeConversionError(file string, line int, header, raw string, err error) *ImportError {
	return newOrWrap(err, CategoryParse, CodeTypeConversion,
		fmt.Sprintf("could not convert '%s' in row %d, column '%s'", raw, line, header)).
		WithSuggestion("dates use dd/MM/yyyy HH:mm, amounts use '.' as decimal separator, quantities are whole numbers").
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", header).
		WithContext("value", raw)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid CSV format in file %s at line %d", file, line)
		suggestion = "check quoting and delimiters; only comma-delimited files are supported"
	case CodeNoRecords:
		message = fmt.Sprintf("no valid records found in file %s", file)
		suggestion = "ensure the file contains data rows after the header"
	default:
		message = fmt.Sprintf("parse error in file %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "check the file format and data integrity"
	}

	return newOrWrap(err, CategoryParse, code, message).
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ValidationError creates a validation-related error
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	case CodeHeaderConflict:
		message = fmt.Sprintf("rows for invoice %v disagree on '%s'", value, field)
		suggestion = "make every row of an invoice carry the same date, address and total"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeNotFound:
		message = fmt.Sprintf("no record with %s %v", field, value)
		suggestion = "use the list command to see stored invoices"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return newOrWrap(err, CategoryValidation, code, message).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// DuplicateInvoiceError reports an invoice number that already exists in the store.
// atWrite distinguishes a uniqueness violation at insert time from a pre-check hit.
func DuplicateInvoiceError(invoiceNumber string, atWrite bool, err error) *ImportError {
	stage := "pre-check"
	if atWrite {
		stage = "write"
	}

	return newOrWrap(err, CategoryDuplicate, CodeDuplicateInvoice,
		fmt.Sprintf("invoice %s already exists", invoiceNumber)).
		WithSuggestion("remove already imported invoices from the file or delete them from the store first").
		WithContext("invoice_number", invoiceNumber).
		WithContext("detected_at", stage)
}

// ReconciliationMismatch reports header and line totals that differ beyond tolerance.
func ReconciliationMismatch(headerTotal, lineTotal, difference decimal.Decimal) *ImportError {
	return New(CategoryReconciliation, CodeTotalsMismatch,
		fmt.Sprintf("totals do not match: headers %s, lines %s, difference %s",
			headerTotal.StringFixed(2), lineTotal.StringFixed(2), difference.StringFixed(2))).
		WithSuggestion("this might indicate missing or incorrect line items").
		WithContext("header_total", headerTotal.StringFixed(2)).
		WithContext("line_total", lineTotal.StringFixed(2)).
		WithContext("difference", difference.StringFixed(2))
}

// StoreError creates a persistence-related error, preserving the cause
func StoreError(code ErrorCode, operation string, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeTransactionFailed:
		message = fmt.Sprintf("transaction failed during %s", operation)
		suggestion = "the write was rolled back; check database constraints and retry"
	case CodeConnectionFailed:
		message = fmt.Sprintf("could not connect to the database during %s", operation)
		suggestion = "check the database DSN and that the server is reachable"
	default:
		message = fmt.Sprintf("store error during %s", operation)
		suggestion = "check database availability and try again"
	}

	return newOrWrap(err, CategoryStore, code, message).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ImportError {
	var message string
	var suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this configuration setting or use a config file"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return newOrWrap(err, CategoryConfiguration, code, message).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ImportError {
	return newOrWrap(err, CategoryInternal, code, fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - please report it with the error details").
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ImportError        `json:"errors"`
	SampleErrors []*ImportError        `json:"sample_errors,omitempty"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ImportError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*ImportError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	maxSamples := 5
	if len(errs) > maxSamples {
		summary.SampleErrors = errs[:maxSamples]
	} else if len(errs) > 0 {
		summary.SampleErrors = errs
	}

	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}

	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// HasCode checks if the summary contains errors with the given code
func (es *ErrorSummary) HasCode(code ErrorCode) bool {
	return es.ByCode[code] > 0
}

// AsImportError extracts an ImportError from an error chain
func AsImportError(err error) (*ImportError, bool) {
	var importErr *ImportError
	if errors.As(err, &importErr) {
		return importErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries an ImportError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	importErr, ok := AsImportError(err)
	return ok && importErr.Category == category
}

// HasCode reports whether err carries an ImportError with the given code.
func HasCode(err error, code ErrorCode) bool {
	importErr, ok := AsImportError(err)
	return ok && importErr.Code == code
}

// WrapIfNeeded wraps an error if it's not already an ImportError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ImportError {
	if err == nil {
		return nil
	}

	if importErr, ok := AsImportError(err); ok {
		return importErr
	}

	return Wrap(err, category, code, message)
}
