package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"invoice-import-service/cmd/importer/config"
	"invoice-import-service/internal/reporter"
	"invoice-import-service/internal/store"
	"invoice-import-service/internal/store/sqlstore"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

// openStore connects to the configured database, creating the tables first
// when migrate is set. Connecting and migrating share config.ConnectTimeout.
func openStore(ctx context.Context, cfg *config.Config, migrate bool) (store.Store, error) {
	st, err := sqlstore.Open(cfg.DatabaseConfig(), logger.GetGlobalLogger())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, err
	}
	if migrate {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}
	return st, nil
}

func closeStore(st store.Store) {
	if err := st.Close(); err != nil {
		logger.GetGlobalLogger().WithError(err).Warn("Failed to close database")
	}
}

// writeReport renders a report in the configured format to the configured
// output file, or to out when no file is set
func writeReport(cfg *config.Config, out io.Writer, render reporter.RenderFunc) error {
	reportConfig, err := cfg.ReportConfig()
	if err != nil {
		return err
	}

	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}

	if cfg.OutputFile != "" {
		file, err := os.Create(cfg.OutputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, cfg.OutputFile, err)
		}
		defer file.Close()
		out = file
	}

	return generator.Write(out, render)
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, nil,
			fmt.Errorf("%s path cannot be empty", description))
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeFileCorrupted, filePath,
			fmt.Errorf("%s is a directory, expected a file", description))
	}

	// Check if file is readable
	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()

	return nil
}

// validateOutputFile checks that the directory of the output file exists
func validateOutputFile(outputFile string) error {
	if outputFile == "" {
		return nil
	}
	dir := filepath.Dir(outputFile)
	if dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, dir, err).
			WithSuggestion("create the output directory or choose another output file")
	}
	return nil
}
