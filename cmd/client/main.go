package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/wardsync/internal/buildinfo"
	"github.com/dmitrijs2005/wardsync/internal/client/cli"
	"github.com/dmitrijs2005/wardsync/internal/client/config"
	"github.com/dmitrijs2005/wardsync/internal/logging"
)

func main() {
	buildinfo.Print(os.Stdout, "wardsync")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger := logging.NewText(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)
}
