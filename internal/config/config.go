package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	// DedupSecret keys the recipient hash inside dedup keys and limiter
	// buckets.
	DedupSecret string `env:"DEDUP_SECRET,required=true"`

	MaxQueueDepth   int64 `env:"MAX_QUEUE_DEPTH,default=10000"`
	ResumeThreshold int64 `env:"RESUME_THRESHOLD,default=8000"`

	ChannelLimitPerSec   int64 `env:"CHANNEL_LIMIT_PER_SEC,default=100"`
	RecipientLimitPerMin int64 `env:"RECIPIENT_LIMIT_PER_MIN,default=10"`
	GlobalLimitPerSec    int64 `env:"GLOBAL_LIMIT_PER_SEC,default=500"`

	WorkerConcurrency        int `env:"WORKER_CONCURRENCY,default=16"`
	ReconcileIntervalSeconds int `env:"RECONCILE_INTERVAL_SECONDS,default=60"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	SMSGatewayURL string `env:"SMS_GATEWAY_URL"`
	SMSGatewayKey string `env:"SMS_GATEWAY_KEY"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
