package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"invoice-import-service/cmd/importer/config"
	"invoice-import-service/pkg/errors"
	"invoice-import-service/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	// appConfig is loaded before every command runs
	appConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "invoice-import",
	Short: "Invoice CSV import tool",
	Long: `invoice-import loads invoice CSV exports into a relational database.
Rows are grouped by invoice number into one header with its lines, every
invoice is written atomically, re-imports are rejected as duplicates and the
stored header totals are checked against the stored line totals afterwards.

Configuration is read from flags, INVOICE_IMPORT_* environment variables,
a .env file in the working directory and an optional config file.

Examples:
  invoice-import import invoices.csv
  invoice-import import invoices.csv --db-driver postgres --db-dsn "host=localhost dbname=invoices"
  invoice-import reconcile --output-format json
  invoice-import list
  invoice-import version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.String("db-driver", "sqlite", "database driver: sqlite, postgres")
	flags.String("db-dsn", "invoices.db", "database connection string")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")
	flags.StringP("output-format", "f", "console", "output format: console, json, csv")
	flags.StringP("output-file", "o", "", "output file path (default: stdout)")

	// Bind flags to viper
	viper.BindPFlag(config.KeyVerbose, flags.Lookup("verbose"))
	viper.BindPFlag(config.KeyDatabaseDriver, flags.Lookup("db-driver"))
	viper.BindPFlag(config.KeyDatabaseDSN, flags.Lookup("db-dsn"))
	viper.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	viper.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
	viper.BindPFlag(config.KeyOutputFormat, flags.Lookup("output-format"))
	viper.BindPFlag(config.KeyOutputFile, flags.Lookup("output-file"))
}

// initConfig reads in the .env file, config file and ENV variables.
func initConfig() {
	// A missing .env file is normal outside development
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error reading .env file: %s\n", err)
	}

	config.BindEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)

		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).GetExitCode())
		}

		if viper.GetBool(config.KeyVerbose) {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

// loadConfig decodes the configuration and installs the global logger
func loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.LoggerConfig())
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Log.Level, err)
	}
	logger.SetGlobalLogger(log)

	log.WithFields(logger.Fields{
		"command": cmd.Name(),
		"config":  cfg.Describe(),
	}).Debug("Configuration loaded")

	appConfig = cfg
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
