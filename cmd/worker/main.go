package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/config"
	"github.com/TheHabib2005/ph-health-care-backend/internal/mailer"
	"github.com/TheHabib2005/ph-health-care-backend/internal/notify"
	"github.com/TheHabib2005/ph-health-care-backend/internal/queue"
	"github.com/TheHabib2005/ph-health-care-backend/internal/storage"
	"github.com/TheHabib2005/ph-health-care-backend/internal/worker"
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

	if err := storage.Migrate(ctx, cfg.PostgresDSN); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

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

	var transport mailer.Transport
	if cfg.ResendAPIKey != "" {
		transport = mailer.NewResendTransport(cfg.ResendAPIKey, cfg.MailFrom, logger)
	} else {
		logger.Warn("no RESEND_API_KEY set, mail goes to the log")
		transport = mailer.NewFakeTransport(logger)
	}
	renderer, err := mailer.NewTemplateRenderer()
	if err != nil {
		logger.Fatal("templates", zap.Error(err))
	}

	rt := worker.New(store, q, worker.Config{
		Concurrency: cfg.WorkerConcurrency,
		LeaseTTL:    cfg.LeaseTTL,
		JobTimeout:  cfg.JobTimeout,
	}, logger)
	notify.New(transport, renderer, logger).RegisterAll(rt)
	rt.OnEvent(func(ev worker.Event) {
		logger.Debug("job lifecycle",
			zap.String("job_id", ev.JobID),
			zap.String("kind", string(ev.Kind)),
			zap.String("state", string(ev.State)),
			zap.Int("attempts", ev.Attempts),
			zap.String("err", ev.Err))
	})

	sched := worker.NewScheduler(store, q, worker.SchedulerConfig{
		Interval:       cfg.SchedulerInterval,
		EventRetention: cfg.EventRetention,
	}, logger)
	go sched.Run(ctx)

	if err := rt.Start(ctx); err != nil {
		logger.Fatal("start worker", zap.Error(err))
	}
	<-ctx.Done()
	rt.Shutdown()
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
