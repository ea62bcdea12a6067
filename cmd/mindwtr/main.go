package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mindwtr/mindwtr/internal/app"
	"github.com/mindwtr/mindwtr/internal/buildinfo"
	"github.com/mindwtr/mindwtr/internal/config"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
