package reporter

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"invoice-import-service/internal/importer"
	"invoice-import-service/internal/models"
	"invoice-import-service/internal/reconciler"
	"invoice-import-service/internal/store"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

// RenderFunc renders one report with the given generator
type RenderFunc func(rg *ReportGenerator, w io.Writer) error

// SafeReportGenerator wraps ReportGenerator with fallbacks. Reports are
// rendered in memory first so a failed render never leaves partial output.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("check the output format setting")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// WriteImportReport renders an import result
func (srg *SafeReportGenerator) WriteImportReport(result *importer.ImportResult, writer io.Writer) error {
	return srg.Write(writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateImportReport(result, w)
	})
}

// WriteReconciliationReport renders a totals check
func (srg *SafeReportGenerator) WriteReconciliationReport(report *reconciler.Report, writer io.Writer) error {
	return srg.Write(writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateReconciliationReport(report, w)
	})
}

// WriteInvoiceList renders stored invoices
func (srg *SafeReportGenerator) WriteInvoiceList(headers []*models.InvoiceHeader, writer io.Writer) error {
	return srg.Write(writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateInvoiceList(headers, w)
	})
}

// WriteRunList renders the import run audit trail
func (srg *SafeReportGenerator) WriteRunList(runs []*store.ImportRun, writer io.Writer) error {
	return srg.Write(writer, func(rg *ReportGenerator, w io.Writer) error {
		return rg.GenerateRunList(runs, w)
	})
}

// Write renders a report and writes it, falling back to console format when
// rendering fails and to a backup file when writing to a file fails.
func (srg *SafeReportGenerator) Write(writer io.Writer, render RenderFunc) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if writer == nil {
		err := errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("provide a valid output writer")
		srg.logger.WithError(err).Error("Report generation failed: input validation")
		return err
	}

	var buf bytes.Buffer
	if err := render(srg.ReportGenerator, &buf); err != nil {
		srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")
		if !srg.shouldAttemptFormatFallback() {
			return srg.wrapGenerationError(err)
		}
		buf.Reset()
		if err := srg.renderWithFormatFallback(&buf, render, err); err != nil {
			return err
		}
	}

	if _, err := writer.Write(buf.Bytes()); err != nil {
		if srg.shouldAttemptOutputFallback(err, writer) {
			return srg.writeWithOutputFallback(buf.Bytes(), writer.(*os.File), err)
		}
		return srg.wrapGenerationError(err)
	}

	return nil
}

// shouldAttemptFormatFallback determines if a format fallback should be attempted
func (srg *SafeReportGenerator) shouldAttemptFormatFallback() bool {
	return srg.config.Format != FormatConsole
}

func (srg *SafeReportGenerator) renderWithFormatFallback(buf *bytes.Buffer, render RenderFunc, originalErr error) error {
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")

	fallbackGenerator, err := NewReportGenerator(&fallbackConfig)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}

	fmt.Fprintf(buf, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(buf, "Original error: %v\n\n", originalErr)

	if err := render(fallbackGenerator, buf); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}

	srg.logger.Info("Report generated using format fallback")
	return nil
}

// shouldAttemptOutputFallback determines if an output fallback should be attempted
func (srg *SafeReportGenerator) shouldAttemptOutputFallback(err error, writer io.Writer) bool {
	if file, ok := writer.(*os.File); ok && file.Name() != "" && file != os.Stdout && file != os.Stderr {
		return isFileError(err)
	}
	return false
}

func (srg *SafeReportGenerator) writeWithOutputFallback(report []byte, file *os.File, originalErr error) error {
	originalPath := file.Name()
	backupPath := generateBackupPath(originalPath)

	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	backupFile, err := os.Create(backupPath)
	if err != nil {
		return srg.wrapGenerationError(originalErr)
	}
	defer backupFile.Close()

	if _, err := backupFile.Write(report); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}

	srg.logger.WithField("backup_file", backupPath).Warn("Report saved to backup file")
	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", originalPath, backupPath)

	return nil
}

// wrapGenerationError wraps generation errors with context
func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	return errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "report generation failed").
		WithSuggestion("check the output destination and report format settings")
}

// Utility functions

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	case nil:
		return "none"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}

func generateBackupPath(originalPath string) string {
	dir := filepath.Dir(originalPath)
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	return filepath.Join(dir, fmt.Sprintf("%s_backup%s", name, ext))
}
