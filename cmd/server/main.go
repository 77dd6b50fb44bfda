// Package main is the entry point for the VoteDrop HTTP API. In Go every
// executable program must define package main and a main() function, while
// libraries use other package names.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/app"
	"github.com/dharsanguruparan/VoteDrop/internal/config"
	"github.com/dharsanguruparan/VoteDrop/internal/events"
	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/server"
	"github.com/dharsanguruparan/VoteDrop/internal/signing"
)

func main() {
	// Step 1: load configuration from environment variables (Go prefers
	// returning values + errors rather than throwing exceptions).
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Step 2: create a context that cancels when SIGINT/SIGTERM arrive.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 3: construct dependencies.
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("init pipeline")
	}
	defer a.Close()
	a.Pipeline.Bus().SubscribeAll(func(ev events.Event) {
		logger.WithFields(logrus.Fields{"event": ev.Name, "dataset_id": ev.DatasetID}).Debug("event")
	})
	srv := server.New(cfg, a.Pipeline, a.Dispatcher(), signing.NewSigner(cfg.SigningSecret), logger)
	if a.Archive != nil {
		srv.WithUploadLinks(a.Archive)
	}

	// Step 4: block until the HTTP server exits.
	if err := srv.Serve(ctx); err != nil {
		logger.WithError(err).Error("server stopped")
		a.Close()
		os.Exit(1)
	}
}
