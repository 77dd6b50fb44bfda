package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/VoteDrop/internal/app"
	"github.com/dharsanguruparan/VoteDrop/internal/config"
	"github.com/dharsanguruparan/VoteDrop/internal/logging"
	"github.com/dharsanguruparan/VoteDrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if cfg.Dispatch != config.DispatchAsynq {
		logger.Warnf("VOTEDROP_DISPATCH is %q; the server will not enqueue jobs for this worker", cfg.Dispatch)
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("init pipeline")
	}
	defer a.Close()

	server := asynq.NewServer(a.RedisOpt(), asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Logger:      logger.WithField("component", "asynq"),
	})
	processor := worker.NewProcessor(a.Pipeline, logger)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(mux); err != nil {
		logger.WithError(err).Error("worker stopped")
		a.Close()
		os.Exit(1)
	}
}
