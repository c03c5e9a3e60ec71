package parsers

import (
	"fmt"
)

// InvoiceParserConfig holds configuration for parsing invoice CSV files
type InvoiceParserConfig struct {
	SkipEmptyRows    bool `json:"skip_empty_rows" mapstructure:"skip-empty-rows"`
	ValidateEncoding bool `json:"validate_encoding" mapstructure:"validate-encoding"`
	MaxFieldSize     int  `json:"max_field_size" mapstructure:"max-field-size"`
}

// DefaultInvoiceParserConfig returns a configuration with standard defaults
func DefaultInvoiceParserConfig() *InvoiceParserConfig {
	return &InvoiceParserConfig{
		SkipEmptyRows:    true,
		ValidateEncoding: true,
		MaxFieldSize:     1000000,
	}
}

// Validate checks if the invoice parser configuration is valid
func (c *InvoiceParserConfig) Validate() error {
	if c.MaxFieldSize < 0 {
		return fmt.Errorf("max field size cannot be negative, got %d", c.MaxFieldSize)
	}
	if c.MaxFieldSize > 0 && c.MaxFieldSize < 64 {
		return fmt.Errorf("max field size must be at least 64 bytes, got %d", c.MaxFieldSize)
	}
	return nil
}

func (c *InvoiceParserConfig) parseConfig() *ParseConfig {
	return &ParseConfig{
		TrimLeadingSpace: true,
		SkipEmptyRows:    c.SkipEmptyRows,
		MaxFieldSize:     c.MaxFieldSize,
		ValidateEncoding: c.ValidateEncoding,
	}
}
