package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"invoice-import-service/internal/models"
	"invoice-import-service/internal/store"
	"invoice-import-service/internal/store/storetest"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	config := DefaultConfig()
	config.DSN = filepath.Join(t.TempDir(), "invoices.db") + "?_foreign_keys=on"

	s, err := Open(config, logger.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSQLStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestNew_WrapsConnection(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "wrapped.db")), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}

	s := New(db, logger.NewNop())
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	first := s.AddHeaderWithLines(ctx, storetest.Header("INV001", "10.00"), []models.InvoiceLine{storetest.Line("Widget", 1, "10.00")})
	if first.Status != store.StatusInserted {
		t.Fatalf("expected insert, got %s: %v", first.Status, first.Err)
	}

	second := s.AddHeaderWithLines(ctx, storetest.Header("INV001", "10.00"), []models.InvoiceLine{storetest.Line("Widget", 1, "10.00")})
	if second.Status != store.StatusDuplicate {
		t.Errorf("expected duplicate without TranslateError set by the caller, got %s: %v", second.Status, second.Err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		wantError bool
	}{
		{name: "sqlite", config: Config{Driver: DriverSQLite, DSN: "x.db"}},
		{name: "postgres", config: Config{Driver: DriverPostgres, DSN: "host=localhost"}},
		{name: "upper case driver", config: Config{Driver: "POSTGRES", DSN: "host=localhost"}},
		{name: "unknown driver", config: Config{Driver: "mysql", DSN: "x"}, wantError: true},
		{name: "empty dsn", config: Config{Driver: DriverSQLite}, wantError: true},
		{name: "negative pool", config: Config{Driver: DriverSQLite, DSN: "x.db", MaxOpenConns: -1}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open(&Config{Driver: "oracle", DSN: "x"}, logger.NewNop())
	if !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestAddHeaderWithLines_RollsBackOnLineFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// the trigger aborts the line insert after the header row was written
	if err := s.DB().Exec("CREATE TRIGGER reject_bad_line BEFORE INSERT ON invoice_lines " +
		"WHEN NEW.line_description = 'boom' BEGIN SELECT RAISE(ABORT, 'rejected line'); END").Error; err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	r := s.AddHeaderWithLines(ctx, storetest.Header("INV001", "20.00"), []models.InvoiceLine{
		storetest.Line("ok", 1, "10.00"),
		storetest.Line("boom", 1, "10.00"),
	})
	if r.Status != store.StatusFailed {
		t.Fatalf("expected failed write, got %s: %v", r.Status, r.Err)
	}
	if !errors.HasCode(r.Err, errors.CodeTransactionFailed) {
		t.Errorf("expected transaction failure, got %v", r.Err)
	}

	found, err := s.FindHeaderByNumber(ctx, "INV001")
	if err != nil {
		t.Fatalf("FindHeaderByNumber: %v", err)
	}
	if found != nil {
		t.Error("expected the header insert to be rolled back with the lines")
	}

	var lines int64
	s.DB().Model(&models.InvoiceLine{}).Count(&lines)
	if lines != 0 {
		t.Errorf("expected no lines after rollback, got %d", lines)
	}
}
