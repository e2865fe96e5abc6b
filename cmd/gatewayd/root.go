package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ark-relay/gateway/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const shutdownGrace = 10 * time.Second

func runDaemon(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))

	shutdownTracing, err := cfg.InitTracing(ctx.Context)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log.Debugf("gateway config: %s", cfg)

	svc := cfg.AppService()
	if err := svc.Start(ctx.Context); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	log.Info("gateway service started")

	if outbox := cfg.Outbox(); outbox != nil {
		go outbox.Run(ctx.Context, svc.SessionEventsChannel(ctx.Context))
		log.Info("session outcome outbox started")
	}

	log.RegisterExitHandler(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		svc.Shutdown(shutdownCtx)
		if outbox := cfg.Outbox(); outbox != nil {
			if err := outbox.Close(); err != nil {
				log.WithError(err).Warn("failed to close session outcome outbox")
			}
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to flush tracer provider")
		}
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP, os.Interrupt)
	<-sigChan

	log.Info("shutting down gateway...")
	log.Exit(0)
	return nil
}
