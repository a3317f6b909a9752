// Package main provides the local desktop server.
// Desktop clients communicate via REST/WebSocket on localhost:8090.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/kimhsiao/spiritlog/backend/cmd/desktop/handlers"
	"github.com/kimhsiao/spiritlog/backend/internal/app"
	"github.com/kimhsiao/spiritlog/backend/internal/config"
	"github.com/kimhsiao/spiritlog/backend/internal/logging"
)

func main() {
	if err := run(context.Background()); err != nil {
		config.Exitf("spiritlog-desktop: %v", err)
	}
}

func run(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	return handlers.Serve(ctx, a, cfg.ListenAddr)
}
