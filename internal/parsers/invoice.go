package parsers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"invoice-import-service/internal/models"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

// InvoiceParser handles parsing of invoice line CSV files
type InvoiceParser struct {
	*BaseParser
	config *InvoiceParserConfig
	logger logger.Logger
}

// NewInvoiceParser creates a new InvoiceParser with the given configuration
func NewInvoiceParser(config *InvoiceParserConfig) (*InvoiceParser, error) {
	if config == nil {
		config = DefaultInvoiceParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"invoice_parser_config",
			config,
			err,
		)
	}

	return &InvoiceParser{
		BaseParser: NewBaseParser(config.parseConfig()),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("invoice_parser"),
	}, nil
}

// ParseFile parses an invoice CSV file. The file is closed on every return path.
func (p *InvoiceParser) ParseFile(ctx context.Context, filePath string) ([]*models.InvoiceRecord, *ParseStats, error) {
	file, err := p.OpenFile(filePath)
	if err != nil {
		return nil, NewParseStats(filePath), err
	}
	defer file.Close()

	return p.Parse(ctx, file, filePath)
}

// Parse reads invoice records from r. source names the input in errors and logs.
// The first row that cannot be converted aborts the parse and no records are returned.
func (p *InvoiceParser) Parse(ctx context.Context, r io.Reader, source string) ([]*models.InvoiceRecord, *ParseStats, error) {
	p.logger.WithFields(logger.Fields{
		"file_path": source,
		"operation": "parse_invoices",
	}).Info("Starting invoice parsing")

	parseCtx := NewParseContext(ctx, source)
	stats := NewParseStats(source)
	reader := p.NewReader(r)

	if err := p.ReadHeaders(reader, parseCtx); err != nil {
		return nil, stats, err
	}

	if err := ValidateHeaders(parseCtx.Headers); err != nil {
		p.logger.WithError(err).WithFields(logger.Fields{
			"file_path": source,
			"headers":   parseCtx.Headers,
		}).Error("Required columns are missing")
		if importErr, ok := errors.AsImportError(err); ok {
			importErr.WithContext("file", source)
		}
		return nil, stats, err
	}
	indexes := columnIndexes(parseCtx.Headers)

	var records []*models.InvoiceRecord
	invoices := make(map[string]bool)

	for {
		row, err := p.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			stats.TotalLines = parseCtx.LineNumber
			return nil, stats, err
		}

		record, err := p.parseRecord(row, indexes, parseCtx)
		if err != nil {
			p.logger.WithError(err).WithFields(logger.Fields{
				"file_path":   source,
				"line_number": parseCtx.LineNumber,
			}).Error("Failed to parse invoice row")
			stats.TotalLines = parseCtx.LineNumber
			return nil, stats, err
		}

		records = append(records, record)
		invoices[record.InvoiceNumber] = true
	}

	stats.TotalLines = parseCtx.LineNumber
	stats.RecordsParsed = len(records)
	stats.Invoices = len(invoices)

	if len(records) == 0 {
		p.logger.WithField("file_path", source).Error("No invoice rows found after the header")
		return nil, stats, errors.ParseError(errors.CodeNoRecords, source, parseCtx.LineNumber, "", "", nil)
	}

	p.logger.WithFields(logger.Fields{
		"file_path":      source,
		"records_parsed": stats.RecordsParsed,
		"invoices":       stats.Invoices,
	}).Info("Invoice parsing completed")

	return records, stats, nil
}

// parseRecord converts one CSV row into a record following the declared column table
func (p *InvoiceParser) parseRecord(row []string, indexes map[string]int, parseCtx *ParseContext) (*models.InvoiceRecord, error) {
	line := parseCtx.LineNumber
	record := &models.InvoiceRecord{Line: line}

	for _, col := range models.InvoiceColumns {
		// cells missing from a short row read as empty
		raw := ""
		if idx := indexes[col.Label]; idx < len(row) {
			raw = row[idx]
		}

		switch col.Kind {
		case models.KindText:
			value := strings.TrimSpace(raw)
			if value == "" && col.Required {
				return nil, errors.FieldMissingError(parseCtx.Source, line, col.Label, record.InvoiceNumber)
			}
			if err := setText(record, col.Field, value); err != nil {
				return nil, err
			}

		case models.KindDate:
			value, err := models.ParseInvoiceDate(raw)
			if err != nil {
				return nil, errors.TypeConversionError(parseCtx.Source, line, col.Label, raw, err)
			}
			record.InvoiceDate = value

		case models.KindDecimal:
			value, err := models.ParseInvariantDecimal(raw)
			if err != nil {
				return nil, errors.TypeConversionError(parseCtx.Source, line, col.Label, raw, err)
			}
			switch col.Field {
			case "InvoiceTotalExVAT":
				record.InvoiceTotalExVAT = value
			case "UnitSellingPriceExVAT":
				record.UnitSellingPriceExVAT = value
			default:
				return nil, unknownField(col)
			}

		case models.KindInteger:
			value, err := models.ParseQuantity(raw)
			if err != nil {
				return nil, errors.TypeConversionError(parseCtx.Source, line, col.Label, raw, err)
			}
			record.InvoiceQuantity = value

		default:
			return nil, unknownField(col)
		}
	}

	return record, nil
}

func setText(record *models.InvoiceRecord, field, value string) error {
	switch field {
	case "InvoiceNumber":
		record.InvoiceNumber = value
	case "Address":
		record.Address = value
	case "LineDescription":
		record.LineDescription = value
	default:
		return errors.InternalError(errors.CodeUnexpectedError, "set_text_field", fmt.Errorf("no text field %s", field))
	}
	return nil
}

func unknownField(col models.Column) error {
	return errors.InternalError(errors.CodeUnexpectedError, "parse_row",
		fmt.Errorf("column '%s' maps to unsupported field %s of kind %s", col.Label, col.Field, col.Kind))
}
