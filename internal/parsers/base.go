// Package parsers reads invoice CSV files into typed records.
//
// Parsing happens in two passes over the header and the rows:
//   - the header row is checked against the declared column table before any
//     data row is touched, so a malformed file never produces partial output
//   - every data row is coerced into a models.InvoiceRecord; the first row that
//     fails aborts the parse with a structured error naming the row and column
//
// Only comma-delimited files with a header row are supported. Dates use the
// dd/MM/yyyy HH:mm layout and amounts are parsed locale-invariant.
//
// Example usage:
//
//	parser, err := NewInvoiceParser(DefaultInvoiceParserConfig())
//	records, stats, err := parser.ParseFile(ctx, "invoices.csv")
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

const utf8BOM = "\ufeff"

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     1000000, // 1MB per field
		ValidateEncoding: true,
	}
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.GetGlobalLogger().WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"validate_encoding": config.ValidateEncoding,
		"max_field_size":    config.MaxFieldSize,
		"skip_empty_rows":   config.SkipEmptyRows,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	Source      string
	LineNumber  int
	Headers     []string
	RecordCount int
	ctx         context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:  source,
		Headers: make([]string, 0),
		ctx:     ctx,
	}
}

// Err returns a non-nil error once the parsing context has been cancelled
func (pc *ParseContext) Err() error {
	if err := pc.ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "parsing cancelled").
			WithContext("file", pc.Source).
			WithContext("line", pc.LineNumber)
	}
	return nil
}

// OpenFile opens a CSV file for reading. The caller owns the returned file and must close it.
func (bp *BaseParser) OpenFile(filePath string) (*os.File, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")

		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	if info, statErr := file.Stat(); statErr == nil && info.IsDir() {
		file.Close()
		return nil, errors.FileError(errors.CodeFileCorrupted, filePath, fmt.Errorf("path is a directory"))
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			bp.logger.WithError(err).WithField("file_path", filePath).Error("File encoding validation failed")
			return nil, err
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	return file, nil
}

// NewReader returns a csv.Reader configured for comma-delimited input
func (bp *BaseParser) NewReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(newQuotePaddingReader(r, ',', bp.config.TrimLeadingSpace))
	reader.Comma = ','
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1 // row width is checked against the header per row
	return reader
}

// quotePaddingReader drops blanks between a closing quote and the next
// delimiter, so `"50.00" ,` reads the same as `"50.00",`. Everything else is
// passed through for csv.Reader to judge.
type quotePaddingReader struct {
	src         *bufio.Reader
	comma       byte
	trimLeading bool

	fieldStart bool
	inQuotes   bool
	closed     bool
	pending    []byte
	out        []byte
	err        error
}

func newQuotePaddingReader(r io.Reader, comma byte, trimLeading bool) *quotePaddingReader {
	return &quotePaddingReader{
		src:         bufio.NewReader(r),
		comma:       comma,
		trimLeading: trimLeading,
		fieldStart:  true,
	}
}

func (q *quotePaddingReader) Read(p []byte) (int, error) {
	for len(q.out) == 0 {
		if q.err != nil {
			return 0, q.err
		}
		c, err := q.src.ReadByte()
		if err != nil {
			// blanks after the last closing quote in the input
			q.pending = q.pending[:0]
			q.err = err
			continue
		}
		q.step(c)
	}

	n := copy(p, q.out)
	q.out = q.out[n:]
	return n, nil
}

func (q *quotePaddingReader) step(c byte) {
	blank := c == ' ' || c == '\t'
	delimiter := c == q.comma || c == '\n' || c == '\r'

	switch {
	case q.inQuotes:
		q.out = append(q.out, c)
		if c == '"' {
			q.inQuotes = false
			q.closed = true
		}

	case q.closed:
		switch {
		case c == '"' && len(q.pending) == 0:
			// escaped quote inside the field
			q.out = append(q.out, c)
			q.closed = false
			q.inQuotes = true
		case blank:
			q.pending = append(q.pending, c)
		case delimiter:
			q.pending = q.pending[:0]
			q.out = append(q.out, c)
			q.closed = false
			q.fieldStart = true
		default:
			q.out = append(q.out, q.pending...)
			q.out = append(q.out, c)
			q.pending = q.pending[:0]
			q.closed = false
			q.fieldStart = false
		}

	case q.fieldStart && c == '"':
		q.out = append(q.out, c)
		q.inQuotes = true
		q.fieldStart = false

	default:
		q.out = append(q.out, c)
		q.fieldStart = delimiter || (q.fieldStart && blank && q.trimLeading)
	}
}

// validateEncoding checks if the file contains valid UTF-8 text
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), bp.maxLineSize())
	lineNum := 0

	for scanner.Scan() && lineNum < 100 { // Check first 100 lines
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeInvalidFormat,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			).WithSuggestion("save the file in UTF-8 encoding and try again")
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	return nil
}

func (bp *BaseParser) maxLineSize() int {
	if bp.config.MaxFieldSize > 0 {
		return bp.config.MaxFieldSize * 16
	}
	return bufio.MaxScanTokenSize * 256
}

// ReadHeaders reads the header row. An input without any row is an empty-file error.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			bp.logger.WithField("file_path", parseCtx.Source).Error("File is empty")
			return errors.FileError(errors.CodeEmptyFile, parseCtx.Source, nil)
		}

		bp.logger.WithError(err).Error("Failed to read header row")
		return bp.readError(err, parseCtx)
	}

	parseCtx.LineNumber, _ = reader.FieldPos(0)
	parseCtx.Headers = cleanHeaders(headers)

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Successfully read headers")
	return nil
}

// cleanHeaders trims whitespace and a leading byte order mark
func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, header := range headers {
		if i == 0 {
			header = strings.TrimPrefix(header, utf8BOM)
		}
		cleaned[i] = strings.TrimSpace(header)
	}
	return cleaned
}

// ReadRecord reads the next data row, skipping blank rows when configured.
// It returns io.EOF at the end of input.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if err := parseCtx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			bp.logger.WithError(err).WithField("line_number", parseCtx.LineNumber+1).Warn("Failed to read CSV record")
			return nil, bp.readError(err, parseCtx)
		}

		parseCtx.LineNumber, _ = reader.FieldPos(0)

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			bp.logger.WithField("line_number", parseCtx.LineNumber).Debug("Skipping empty record")
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					column := fmt.Sprintf("field_%d", i)
					if i < len(parseCtx.Headers) {
						column = parseCtx.Headers[i]
					}
					return nil, errors.ParseError(
						errors.CodeInvalidData,
						parseCtx.Source,
						parseCtx.LineNumber,
						column,
						truncate(field, 50),
						fmt.Errorf("field size limit exceeded"),
					).WithSuggestion(fmt.Sprintf("reduce field size to under %d bytes", bp.config.MaxFieldSize))
				}
			}
		}

		parseCtx.RecordCount++
		return record, nil
	}
}

func (bp *BaseParser) readError(err error, parseCtx *ParseContext) error {
	line := parseCtx.LineNumber + 1
	if csvErr, ok := err.(*csv.ParseError); ok {
		line = csvErr.Line
	}
	return errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, line, "", "", err)
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	Source        string `json:"source"`
	TotalLines    int    `json:"total_lines"`
	RecordsParsed int    `json:"records_parsed"`
	Invoices      int    `json:"invoices"`
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(source string) *ParseStats {
	return &ParseStats{Source: source}
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records for %d invoices",
		ps.TotalLines, ps.RecordsParsed, ps.Invoices)
}
