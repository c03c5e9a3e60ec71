package importer

import (
	"encoding/json"
	"unicode/utf8"

	"gorm.io/datatypes"

	"invoice-import-service/internal/store"
	"invoice-import-service/pkg/errors"
)

type auditSummary struct {
	Invoices  []*InvoiceOutcome `json:"invoices"`
	Warnings  []string          `json:"warnings,omitempty"`
	Records   int               `json:"records"`
	ErrorCode errors.ErrorCode  `json:"error_code,omitempty"`
}

// AuditRecord builds the stored record of this run. runErr is the error Run
// returned, if any.
func (r *ImportResult) AuditRecord(runErr error) (*store.ImportRun, error) {
	summary := auditSummary{
		Invoices: r.Invoices,
		Warnings: r.Warnings,
	}
	if r.Stats != nil {
		summary.Records = r.Stats.RecordsParsed
	}
	if importErr, ok := errors.AsImportError(runErr); ok {
		summary.ErrorCode = importErr.Code
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "encode_run_summary", err)
	}

	run := &store.ImportRun{
		ID:         r.RunID,
		SourceFile: r.SourceFile,
		Status:     store.RunSucceeded,
		Committed:  r.Committed,
		Skipped:    r.Skipped,
		Summary:    datatypes.JSON(raw),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Reconciliation != nil {
		run.HeaderTotal = r.Reconciliation.HeaderTotal
		run.LineTotal = r.Reconciliation.LineTotal
		run.Matched = r.Reconciliation.Matched
	}
	if runErr != nil {
		run.Status = store.RunFailed
		run.Error = truncateRunes(runErr.Error(), store.MaxRunErrorLength)
	}

	return run, nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	const ellipsis = "..."
	return string([]rune(s)[:max-len(ellipsis)]) + ellipsis
}
