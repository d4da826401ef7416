package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/polestar-community/polestar-go/cmd/polestar-exporter/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.NewExporterCommand(ctx).Execute(); err != nil {
		stop()
		os.Exit(1)
	}
}
