package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/api"
	"github.com/TheHabib2005/ph-health-care-backend/internal/config"
	"github.com/TheHabib2005/ph-health-care-backend/internal/producer"
	"github.com/TheHabib2005/ph-health-care-backend/internal/queue"
	"github.com/TheHabib2005/ph-health-care-backend/internal/storage"
	"github.com/TheHabib2005/ph-health-care-backend/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := newLogger(cfg.AppEnv)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connect", zap.Error(err))
	}
	defer pool.Close()

	rdb := r.NewClient(&r.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})

	store := storage.New(pool)
	q := queue.NewRedisQ(rdb, cfg.QueuePrefix)
	defer q.Close()

	prod := producer.New(store, q, logger)
	archive := webhook.NewStaticInvoiceArchive(cfg.InvoiceBaseURL, logger)
	webhooks := webhook.NewProcessor(store, prod, archive, cfg.StripeWebhookSecret, logger)

	rtr := api.NewRouter(api.Deps{
		Webhooks: webhooks,
		Jobs:     store,
		Producer: prod,
		Store:    store,
		Queue:    q,
		Log:      logger,
	})

	srv := &http.Server{Addr: cfg.APIAddr, Handler: rtr}
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.APIAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

func newLogger(appEnv string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if appEnv == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}
