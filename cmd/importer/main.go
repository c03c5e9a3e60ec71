package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"invoice-import-service/cmd/importer/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)

	// an interrupted import stops before the next invoice is written
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()

	if err != nil {
		os.Exit(cmd.NewCLIErrorHandler().HandleError(err))
	}
}
