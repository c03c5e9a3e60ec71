// Package sqlstore is the relational Store backed by gorm. Postgres is the
// production database; SQLite serves local files and tests.
package sqlstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"invoice-import-service/internal/models"
	"invoice-import-service/internal/store"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the database connection settings
type Config struct {
	Driver          string        `json:"driver" mapstructure:"driver"`
	DSN             string        `json:"-" mapstructure:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns" mapstructure:"max-open-conns"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn-max-lifetime"`
	SlowThreshold   time.Duration `json:"slow_threshold" mapstructure:"slow-threshold"`
}

// DefaultConfig returns a configuration for a local SQLite file
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		DSN:             "invoices.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		SlowThreshold:   200 * time.Millisecond,
	}
}

// Validate checks the database configuration
func (c *Config) Validate() error {
	switch strings.ToLower(c.Driver) {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q, must be %s or %s", c.Driver, DriverPostgres, DriverSQLite)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("connection pool sizes cannot be negative")
	}
	return nil
}

// Store implements store.Store on top of gorm
type Store struct {
	db     *gorm.DB
	logger logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the configured database
func Open(config *Config, log logger.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "database", config.Driver, err)
	}

	var dialector gorm.Dialector
	switch strings.ToLower(config.Driver) {
	case DriverPostgres:
		dialector = postgres.Open(config.DSN)
	default:
		dialector = sqlite.Open(config.DSN)
	}

	log = log.WithComponent("sqlstore")
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newGormLogger(log, config.SlowThreshold),
	})
	if err != nil {
		return nil, errors.StoreError(errors.CodeConnectionFailed, "open", err).
			WithContext("driver", config.Driver)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.StoreError(errors.CodeConnectionFailed, "open", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	log.WithField("driver", config.Driver).Debug("Connected to database")
	return &Store{db: db, logger: log}, nil
}

// New wraps an existing gorm connection. Error translation is switched on
// because duplicate detection relies on gorm.ErrDuplicatedKey.
func New(db *gorm.DB, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	db.Config.TranslateError = true
	return &Store{db: db, logger: log.WithComponent("sqlstore")}
}

// Ping checks the database is reachable within ctx
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.StoreError(errors.CodeConnectionFailed, "ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.StoreError(errors.CodeConnectionFailed, "ping", err)
	}
	return nil
}

// DB exposes the underlying connection
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the invoice and audit tables
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&models.InvoiceHeader{},
		&models.InvoiceLine{},
		&store.ImportRun{},
	); err != nil {
		return errors.StoreError(errors.CodeStoreFailure, "migrate", err)
	}
	return nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// FindHeaderByNumber returns the invoice with its lines, or nil when absent
func (s *Store) FindHeaderByNumber(ctx context.Context, invoiceNumber string) (*models.InvoiceHeader, error) {
	var header models.InvoiceHeader
	err := s.db.WithContext(ctx).
		Preload("Lines", orderByID).
		Where("invoice_number = ?", invoiceNumber).
		Take(&header).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.StoreError(errors.CodeStoreFailure, "find_header_by_number", err).
			WithContext("invoice_number", invoiceNumber)
	}
	return &header, nil
}

// AddHeaderWithLines inserts the header and its lines in one transaction
func (s *Store) AddHeaderWithLines(ctx context.Context, header *models.InvoiceHeader, lines []models.InvoiceLine) store.WriteResult {
	row := *header
	row.ID = 0
	row.Lines = nil

	var created []models.InvoiceLine
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}

		created = make([]models.InvoiceLine, len(lines))
		for i, l := range lines {
			l.ID = 0
			l.InvoiceHeaderID = row.ID
			created[i] = l
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		if stderrors.Is(err, gorm.ErrDuplicatedKey) {
			s.logger.WithField("invoice_number", header.InvoiceNumber).Warn("Invoice number already stored")
			return store.Duplicate(header.InvoiceNumber, err)
		}
		s.logger.WithError(err).WithField("invoice_number", header.InvoiceNumber).Error("Invoice write rolled back")
		return store.Failed(err)
	}

	header.ID = row.ID
	header.Lines = created
	return store.Inserted(row.ID)
}

// ListAllHeadersWithLines loads every invoice with its lines
func (s *Store) ListAllHeadersWithLines(ctx context.Context) ([]*models.InvoiceHeader, error) {
	var headers []*models.InvoiceHeader
	err := s.db.WithContext(ctx).
		Preload("Lines", orderByID).
		Order("id").
		Find(&headers).Error
	if err != nil {
		return nil, errors.StoreError(errors.CodeStoreFailure, "list_headers", err)
	}
	return headers, nil
}

// SumHeaderTotals sums invoice totals in the database
func (s *Store) SumHeaderTotals(ctx context.Context) (decimal.Decimal, error) {
	return s.sum(ctx, &models.InvoiceHeader{}, "COALESCE(SUM(invoice_total_ex_vat), 0)", "sum_header_totals")
}

// SumLineTotals sums quantity times unit price in the database
func (s *Store) SumLineTotals(ctx context.Context) (decimal.Decimal, error) {
	return s.sum(ctx, &models.InvoiceLine{}, "COALESCE(SUM(invoice_quantity * unit_selling_price_ex_vat), 0)", "sum_line_totals")
}

// sumScale drops the float noise of SQLite aggregates while keeping sub-cent
// amounts, so tolerance checks see the same value as summing the listed lines
const sumScale = 6

func (s *Store) sum(ctx context.Context, model interface{}, expr, operation string) (decimal.Decimal, error) {
	var total decimal.Decimal
	row := s.db.WithContext(ctx).Model(model).Select(expr).Row()
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, errors.StoreError(errors.CodeStoreFailure, operation, err)
	}
	return total.Round(sumScale), nil
}

// DeleteHeader deletes the invoice's lines and then the invoice in one transaction
func (s *Store) DeleteHeader(ctx context.Context, invoiceNumber string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var header models.InvoiceHeader
		if err := tx.Where("invoice_number = ?", invoiceNumber).Take(&header).Error; err != nil {
			return err
		}
		if err := tx.Where("invoice_header_id = ?", header.ID).Delete(&models.InvoiceLine{}).Error; err != nil {
			return err
		}
		return tx.Delete(&header).Error
	})
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return store.NotFound(invoiceNumber)
		}
		return errors.StoreError(errors.CodeTransactionFailed, "delete_header", err).
			WithContext("invoice_number", invoiceNumber)
	}

	s.logger.WithField("invoice_number", invoiceNumber).Info("Deleted invoice")
	return nil
}

// RecordRun inserts an import run audit record
func (s *Store) RecordRun(ctx context.Context, run *store.ImportRun) error {
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return errors.StoreError(errors.CodeStoreFailure, "record_run", err)
	}
	return nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*store.ImportRun, error) {
	var runs []*store.ImportRun
	query := s.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, errors.StoreError(errors.CodeStoreFailure, "list_runs", err)
	}
	return runs, nil
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

// gormWriter sends gorm's log lines to the application logger at debug level
type gormWriter struct {
	logger logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.logger.Debugf(format, args...)
}

func newGormLogger(log logger.Logger, slowThreshold time.Duration) gormlogger.Interface {
	return gormlogger.New(gormWriter{logger: log}, gormlogger.Config{
		SlowThreshold:             slowThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
