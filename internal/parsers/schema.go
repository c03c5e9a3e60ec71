package parsers

import (
	"invoice-import-service/internal/models"
	"invoice-import-service/pkg/errors"
)

// NormalizeHeader lower-cases a header and strips all whitespace so that
// "Invoice Number", "invoice number" and "InvoiceNumber" compare equal.
func NormalizeHeader(s string) string {
	return models.NormalizeLabel(s)
}

// RequiredHeaders returns the labels of all declared columns in declared order
func RequiredHeaders() []string {
	labels := make([]string, len(models.InvoiceColumns))
	for i, c := range models.InvoiceColumns {
		labels[i] = c.Label
	}
	return labels
}

// ValidateHeaders checks that every declared column is present in the header
// row. The error names the first missing column in declared order.
func ValidateHeaders(present []string) error {
	seen := make(map[string]bool, len(present))
	for _, h := range present {
		seen[NormalizeHeader(h)] = true
	}

	for _, c := range models.InvoiceColumns {
		if !seen[NormalizeHeader(c.Label)] {
			return errors.SchemaError(c.Label, present)
		}
	}
	return nil
}

// columnIndexes maps each declared column label to its position in the
// header row. When a header repeats, the first occurrence wins.
func columnIndexes(present []string) map[string]int {
	byHeader := make(map[string]int, len(present))
	for i, h := range present {
		key := NormalizeHeader(h)
		if _, exists := byHeader[key]; !exists {
			byHeader[key] = i
		}
	}

	indexes := make(map[string]int, len(models.InvoiceColumns))
	for _, c := range models.InvoiceColumns {
		if i, ok := byHeader[NormalizeHeader(c.Label)]; ok {
			indexes[c.Label] = i
		}
	}
	return indexes
}
