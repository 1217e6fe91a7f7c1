// Package config loads service configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/look4dennis/stride-notify/internal/delivery"
)

// Config holds everything the notifyd binary needs.
type Config struct {
	HTTPAddr     string // e.g. ":8080"
	AMQPURL      string // empty => in-process loopback transport
	AMQPExchange string
	Policy       delivery.Policy
}

// Load reads configuration from environment variables, falling back to the
// production defaults. A .env file in the working directory is honored when
// present.
func Load() Config {
	_ = godotenv.Load()

	p := delivery.DefaultPolicy()
	p.MaxRetries = getEnvInt("NOTIFY_MAX_RETRIES", p.MaxRetries)
	p.DrainBatch = getEnvInt("NOTIFY_DRAIN_BATCH", p.DrainBatch)
	p.RetryBatch = getEnvInt("NOTIFY_RETRY_BATCH", p.RetryBatch)
	p.BackoffBase = getEnvDuration("NOTIFY_BACKOFF_BASE", p.BackoffBase)
	p.UnhealthyAfter = getEnvDuration("NOTIFY_UNHEALTHY_AFTER", p.UnhealthyAfter)
	p.RecoveryCooldown = getEnvDuration("NOTIFY_RECOVERY_COOLDOWN", p.RecoveryCooldown)
	p.StalenessWindow = getEnvDuration("NOTIFY_STALENESS_WINDOW", p.StalenessWindow)
	p.ProcessInterval = getEnvDuration("NOTIFY_PROCESS_INTERVAL", p.ProcessInterval)
	p.HealthInterval = getEnvDuration("NOTIFY_HEALTH_INTERVAL", p.HealthInterval)

	return Config{
		HTTPAddr:     getEnv("NOTIFY_HTTP_ADDR", ":8080"),
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "stride.notifications"),
		Policy:       p,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
