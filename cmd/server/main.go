package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tradekeep/journal-service/internal/api"
	"github.com/tradekeep/journal-service/internal/cache"
	"github.com/tradekeep/journal-service/internal/config"
	"github.com/tradekeep/journal-service/internal/database"
	"github.com/tradekeep/journal-service/internal/kafka"
	"github.com/tradekeep/journal-service/internal/service"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(cfg.Database.MigrationsPath); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// the service runs without a cache; reads just skip the TTL layer
	var readCache service.ReadCache
	redisCache, err := cache.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("redis unavailable, running without read cache", zap.Error(err))
	} else {
		readCache = redisCache
		defer redisCache.Close()
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
	defer producer.Close()

	svc := service.New(db, producer, readCache, logger, service.Options{
		MinSample:      cfg.Journal.StatsMinSample,
		DayTradeWindow: cfg.Journal.DayTradeWindow,
		StatsTTL:       cfg.Journal.StatsTTL,
		LeaderboardTTL: cfg.Journal.LeaderboardTTL,
	})

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.FillsTopic, cfg.Kafka.GroupID, svc, logger)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil {
			logger.Error("fill consumer stopped", zap.Error(err))
		}
	}()

	handler := api.NewHandler(svc, logger)
	router := api.SetupRoutes(handler, logger)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	cancel()
	select {
	case <-consumerDone:
	case <-time.After(5 * time.Second):
		logger.Warn("fill consumer did not drain in time")
	}
}
