// Package config maps flags, environment variables and config files onto the
// settings of the import, the store, the logger and the reports.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"invoice-import-service/internal/importer"
	"invoice-import-service/internal/parsers"
	"invoice-import-service/internal/reporter"
	"invoice-import-service/internal/store/sqlstore"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

// EnvPrefix prefixes every environment variable, e.g. INVOICE_IMPORT_DATABASE_DSN
const EnvPrefix = "INVOICE_IMPORT"

// Keys shared by flags, config files and the environment
const (
	KeyDatabaseDriver  = "database.driver"
	KeyDatabaseDSN     = "database.dsn"
	KeyDuplicatePolicy = "import.duplicate-policy"
	KeyMismatchPolicy  = "import.mismatch-policy"
	KeyStrictHeaders   = "import.strict-headers"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyOutputFormat    = "output-format"
	KeyOutputFile      = "output-file"
	KeyVerbose         = "verbose"
)

// Config is the complete CLI configuration
type Config struct {
	Database     sqlstore.Config `mapstructure:"database"`
	Import       ImportSettings  `mapstructure:"import"`
	Log          logger.Config   `mapstructure:"log"`
	OutputFormat string          `mapstructure:"output-format"`
	OutputFile   string          `mapstructure:"output-file"`
	Verbose      bool            `mapstructure:"verbose"`
}

// ImportSettings holds the import policies
type ImportSettings struct {
	DuplicatePolicy string                      `mapstructure:"duplicate-policy"`
	MismatchPolicy  string                      `mapstructure:"mismatch-policy"`
	StrictHeaders   bool                        `mapstructure:"strict-headers"`
	Parser          parsers.InvoiceParserConfig `mapstructure:"parser"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal
func SetDefaults(v *viper.Viper) {
	db := sqlstore.DefaultConfig()
	v.SetDefault(KeyDatabaseDriver, db.Driver)
	v.SetDefault(KeyDatabaseDSN, db.DSN)
	v.SetDefault("database.max-open-conns", db.MaxOpenConns)
	v.SetDefault("database.max-idle-conns", db.MaxIdleConns)
	v.SetDefault("database.conn-max-lifetime", db.ConnMaxLifetime)
	v.SetDefault("database.slow-threshold", db.SlowThreshold)

	imp := importer.DefaultConfig()
	v.SetDefault(KeyDuplicatePolicy, string(imp.DuplicatePolicy))
	v.SetDefault(KeyMismatchPolicy, string(imp.MismatchPolicy))
	v.SetDefault(KeyStrictHeaders, imp.StrictHeaders)
	v.SetDefault("import.parser.skip-empty-rows", imp.Parser.SkipEmptyRows)
	v.SetDefault("import.parser.validate-encoding", imp.Parser.ValidateEncoding)
	v.SetDefault("import.parser.max-field-size", imp.Parser.MaxFieldSize)

	log := logger.DefaultConfig()
	v.SetDefault(KeyLogLevel, string(log.Level))
	v.SetDefault(KeyLogFormat, string(log.Format))
	v.SetDefault("log.output", string(log.Output))
	v.SetDefault("log.file", "")

	v.SetDefault(KeyOutputFormat, string(reporter.FormatConsole))
	v.SetDefault(KeyOutputFile, "")
	v.SetDefault(KeyVerbose, false)
}

// BindEnv makes every key readable from INVOICE_IMPORT_* variables
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", v.ConfigFileUsed(), err)
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Verbose {
		cfg.Log.Level = logger.DebugLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "database", c.Database.Driver, err)
	}
	if _, err := c.ImporterConfig(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", c.Log.Level, err)
	}
	if _, err := reporter.ParseOutputFormat(c.OutputFormat); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, KeyOutputFormat, c.OutputFormat, err)
	}
	return nil
}

// ImporterConfig builds the import configuration
func (c *Config) ImporterConfig() (*importer.Config, error) {
	duplicates, err := importer.ParseDuplicatePolicy(c.Import.DuplicatePolicy)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyDuplicatePolicy, c.Import.DuplicatePolicy, err)
	}
	mismatch, err := importer.ParseMismatchPolicy(c.Import.MismatchPolicy)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyMismatchPolicy, c.Import.MismatchPolicy, err)
	}

	parser := c.Import.Parser
	if err := parser.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "import.parser", parser, err)
	}

	config := importer.DefaultConfig()
	config.DuplicatePolicy = duplicates
	config.MismatchPolicy = mismatch
	config.StrictHeaders = c.Import.StrictHeaders
	config.Parser = &parser
	return config, nil
}

// LoggerConfig returns the logger configuration
func (c *Config) LoggerConfig() *logger.Config {
	log := c.Log
	return &log
}

// DatabaseConfig returns the store configuration
func (c *Config) DatabaseConfig() *sqlstore.Config {
	db := c.Database
	return &db
}

// ReportConfig creates a report configuration for the configured output format
func (c *Config) ReportConfig() (*reporter.ReportConfig, error) {
	format, err := reporter.ParseOutputFormat(c.OutputFormat)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyOutputFormat, c.OutputFormat, err)
	}

	config := reporter.DefaultReportConfig()
	config.Format = format

	switch format {
	case reporter.FormatJSON:
		config.IncludeWarnings = true
	case reporter.FormatCSV:
		config.CSVHeaders = true
		config.CSVDelimiter = ','
	}
	if c.Verbose {
		config.MaxListed = 0
	}

	return config, nil
}

// Describe returns a redacted one-line summary for verbose output
func (c *Config) Describe() string {
	return fmt.Sprintf("database=%s duplicate-policy=%s mismatch-policy=%s strict-headers=%t output=%s",
		c.Database.Driver, c.Import.DuplicatePolicy, c.Import.MismatchPolicy, c.Import.StrictHeaders, c.OutputFormat)
}

// ConnectTimeout bounds how long commands wait for the database
const ConnectTimeout = 30 * time.Second
