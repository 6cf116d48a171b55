package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veritome/knowledge-gateway/internal/cache"
	"github.com/veritome/knowledge-gateway/internal/config"
	"github.com/veritome/knowledge-gateway/internal/events"
	"github.com/veritome/knowledge-gateway/internal/gateway"
	"github.com/veritome/knowledge-gateway/internal/graph"
	"github.com/veritome/knowledge-gateway/internal/guard"
	"github.com/veritome/knowledge-gateway/internal/logger"
	"github.com/veritome/knowledge-gateway/internal/payment"
)

func main() {
	_ = godotenv.Load()

	log := logger.New("gateway")
	cfg, err := config.LoadGateway()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	if err := guard.Validate(cfg.GraphEndpoint); err != nil {
		// Not fatal: the guard re-runs per request and every request
		// will see the 400, but an operator should hear about it now.
		log.Warn("graph endpoint failed the remote-source check", slog.Any("err", err))
	}

	graphClient := graph.New(cfg.GraphEndpoint, cfg.QueryTimeout, log)

	facilitator := payment.NewFacilitator(cfg.FacilitatorURL, cfg.FacilitatorTimeout, log)
	if facilitator == nil {
		log.Warn("no payment facilitator configured; monetized records will stay gated")
	}
	gate := payment.NewGate(facilitator, cfg.PaymentScheme, cfg.PaymentNetwork, cfg.PaymentAsset)

	var store cache.Store
	if cfg.RedisAddr != "" {
		redisStore, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL, log)
		if err != nil {
			log.Error("init redis cache", slog.Any("err", err))
			os.Exit(1)
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		store = cache.NewMemory(cfg.CacheCapacity, cfg.CacheTTL)
	}

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	defer publisher.Close()

	srv := gateway.NewServer(log, cfg, graphClient, gate, store, publisher)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		log.Info("gateway starting",
			slog.String("addr", cfg.BindAddr),
			slog.String("graph_endpoint", cfg.GraphEndpoint),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
