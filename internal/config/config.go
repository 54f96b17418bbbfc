package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN    string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL    string `env:"RABBITMQ_URL,required=true"`
	RedisURL       string `env:"REDIS_URL,required=true"`
	ChatAPIBaseURL string `env:"CHAT_API_BASE_URL,required=true"`
	ChatAPIToken   string `env:"CHAT_API_TOKEN"`
	// PermissiveIntervals widens the allowed reminder interval range for
	// test deployments.
	PermissiveIntervals bool   `env:"PERMISSIVE_INTERVALS,default=false"`
	NotifyRatePerSec    int    `env:"NOTIFY_RATE_PER_SEC,default=25"`
	CheckConcurrency    int    `env:"CHECK_CONCURRENCY,default=4"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
