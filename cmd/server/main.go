package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crashpit/internal/config"
	"crashpit/internal/logger"
	"crashpit/internal/metrics"
	"crashpit/internal/server"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	srv := server.New(cfg, log)
	srv.RegisterFiberRoutes()

	metricsSrv := metrics.StartServer(cfg.MetricsPort, srv.Healthy)
	log.Info("metrics server listening", zap.String("port", cfg.MetricsPort))

	go func() {
		log.Info("http server listening", zap.String("port", cfg.HTTPPort))
		if err := srv.Listen(":" + cfg.HTTPPort); err != nil {
			log.Fatal("http server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("signal received, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(ctx)

	if err := srv.Shutdown(); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
}
