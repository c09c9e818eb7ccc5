package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/wardsync/internal/buildinfo"
	"github.com/dmitrijs2005/wardsync/internal/logging"
	"github.com/dmitrijs2005/wardsync/internal/server"
	"github.com/dmitrijs2005/wardsync/internal/server/config"
)

func main() {
	buildinfo.Print(os.Stdout, "wardsync-server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	cfg := config.LoadConfig()
	logger := logging.NewJSON(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}
