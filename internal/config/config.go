package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	OTLPEndpoint string
	OTLPInsecure bool

	RelayInterval  time.Duration
	RelayBatchSize int
	RelayChannel   string

	MechanicCommissionPercent int
	BodyworkCommissionPercent int

	RateLimitPerMinute       int
	RateLimitBurst           int
	WorkerRateLimitPerMinute int
	WorkerRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),
		RedisURL:    os.Getenv("REDIS_URL"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",

		RelayInterval:  readDurationSeconds("RELAY_INTERVAL_SECONDS", 5),
		RelayBatchSize: readInt("RELAY_BATCH_SIZE", 100),
		RelayChannel:   readString("RELAY_CHANNEL", "workshop.events"),

		MechanicCommissionPercent: readInt("MECHANIC_COMMISSION_PERCENT", 10),
		BodyworkCommissionPercent: readInt("BODYWORK_COMMISSION_PERCENT", 8),

		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		WorkerRateLimitPerMinute: readInt("WORKER_RATE_LIMIT_PER_MIN", 600),
		WorkerRateLimitBurst:     readInt("WORKER_RATE_LIMIT_BURST", 120),
	}
}

func readString(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
