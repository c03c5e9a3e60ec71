package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"invoice-import-service/cmd/importer/config"
	"invoice-import-service/pkg/logger"
)

// migrateCmd creates or updates the database tables
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the invoice tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate(cmd.Context(), appConfig, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	op := logger.NewOperationLogger("migrate", logger.GetGlobalLogger().WithComponent("cli")).
		WithField("driver", cfg.Database.Driver)

	op.Step("connect")
	st, err := openStore(ctx, cfg, false)
	if err != nil {
		op.Error(err, "Migration failed")
		return err
	}
	defer closeStore(st)

	op.Step("auto_migrate")
	if err := st.Migrate(ctx); err != nil {
		op.Error(err, "Migration failed")
		return err
	}
	op.Success("Database schema migrated")

	fmt.Fprintf(out, "Database schema is up to date (%s)\n", cfg.Database.Driver)
	return nil
}
