package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN   string
	MongoURI  string
	RedisAddr string
	RabbitURL string
	HTTPAddr  string

	HoldTTL        time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
	IdempotencyTTL time.Duration

	PaymentDeclineRate float64
	PaymentErrorRate   float64

	OTLPEndpoint string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		CRDBDSN:   os.Getenv("CRDB_DSN"),
		MongoURI:  os.Getenv("MONGO_URI"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		RabbitURL: os.Getenv("RABBIT_URL"),
		HTTPAddr:  envString("HTTP_ADDR", ":8080"),

		HoldTTL:        envDuration("HOLD_TTL", 10*time.Minute),
		SweepInterval:  envDuration("SWEEP_INTERVAL", 30*time.Second),
		SweepBatchSize: envInt("SWEEP_BATCH_SIZE", 100),
		IdempotencyTTL: envDuration("IDEMPOTENCY_TTL", time.Hour),

		PaymentDeclineRate: envFloat("PAYMENT_DECLINE_RATE", 0.1),
		PaymentErrorRate:   envFloat("PAYMENT_ERROR_RATE", 0.02),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 || f > 1 {
		return def
	}
	return f
}
