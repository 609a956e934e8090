// aurad is the AuraSign orchestration gateway: it accepts perception clients
// over websocket, relays their turns through the RabbitMQ worker pipeline,
// joins partial results in Redis, and routes finished audio back.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	orchestration "github.com/aurasign/aura-core/core"
	"github.com/aurasign/aura-core/core/bus/rabbitmq"
	redisstore "github.com/aurasign/aura-core/core/store/redis"
	"github.com/aurasign/aura-core/gateway"
	"github.com/aurasign/aura-core/internal/config"
)

func main() {
	configPath := flag.String("config", "aurad.yaml", "path to config file (optional)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("gateway terminated", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Both infrastructure endpoints are fatal when unreachable at startup;
	// only losses after this point are handled by reconnection.
	store, err := redisstore.NewClient(ctx, cfg.RedisURL, redisstore.WithRecordTTL(cfg.RecordTTL))
	if err != nil {
		return err
	}
	defer store.Close()

	busClient, err := rabbitmq.NewClient(ctx, cfg.AMQPURL)
	if err != nil {
		return err
	}
	defer busClient.Close()

	orchestrator := orchestration.NewOrchestrator(busClient, store,
		orchestration.WithDefaultTone(cfg.DefaultTone))
	defer orchestrator.Close()

	if err := orchestrator.Orchestrate(ctx,
		orchestration.WithJobSubmittedCallback(func(correlationID string) {
			logger.Info("job submitted", "correlationID", correlationID)
		}),
		orchestration.WithFailureCallback(func(correlationID string) {
			logger.Warn("job degraded via dead letter", "correlationID", correlationID)
		}),
	); err != nil {
		return err
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: gateway.NewServer(orchestrator).Handler(),
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
