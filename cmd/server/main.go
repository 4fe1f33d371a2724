package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/keystep-id/keystep/internal/app"
	"github.com/keystep-id/keystep/internal/config"
)

func main() {
	cfg := config.LoadFromEnv()

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	server, err := app.New(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("startup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("server exited")
	}
}
