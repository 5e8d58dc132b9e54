package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	APIAddr string `env:"API_ADDR" envDefault:":8080"`

	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisUsername string `env:"REDIS_USERNAME"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	QueuePrefix   string `env:"QUEUE_PREFIX" envDefault:"notifications"`

	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	LeaseTTL          time.Duration `env:"LEASE_TTL" envDefault:"60s"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT" envDefault:"30s"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1s"`
	EventRetention    time.Duration `env:"EVENT_RETENTION" envDefault:"2160h"`

	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	ResendAPIKey        string `env:"RESEND_API_KEY"`
	MailFrom            string `env:"MAIL_FROM" envDefault:"PH Health Care <noreply@ph-health-care.com>"`
	InvoiceBaseURL      string `env:"INVOICE_BASE_URL" envDefault:"https://cdn.ph-health-care.com"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func Load() (Config, error) {
	// Developer convenience; production sets real env vars.
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	return c, nil
}
