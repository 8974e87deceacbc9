package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Statistics API configuration.
	StatsBaseURL string
	StatsTimeout time.Duration

	// Chart history configuration.
	HistoryLastDays int
	HistoryCacheTTL time.Duration

	// RefreshSchedule is a standard cron expression; empty disables refresh.
	RefreshSchedule string

	// Kafka snapshot publishing.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaSnapshotTopic string
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is honored if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	statsTimeout, err := parsePositiveDuration("STATS_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	cacheTTL, err := parsePositiveDuration("HISTORY_CACHE_TTL", "10m")
	if err != nil {
		return nil, err
	}

	lastDays, err := parsePositiveInt("HISTORY_LAST_DAYS", 120)
	if err != nil {
		return nil, err
	}

	kafkaEnabled := os.Getenv("KAFKA_ENABLED") == "true"

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		StatsBaseURL: sharedcfg.EnvOrDefault("STATS_BASE_URL", "https://disease.sh/v3/covid-19"),
		StatsTimeout: statsTimeout,

		HistoryLastDays: lastDays,
		HistoryCacheTTL: cacheTTL,

		RefreshSchedule: os.Getenv("REFRESH_SCHEDULE"),

		KafkaEnabled:       kafkaEnabled,
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSnapshotTopic: sharedcfg.EnvOrDefault("KAFKA_SNAPSHOT_TOPIC", "outbreak-snapshots"),
	}

	u, err := url.Parse(cfg.StatsBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("invalid STATS_BASE_URL")
	}
	if cfg.RefreshSchedule != "" {
		if _, err := cron.ParseStandard(cfg.RefreshSchedule); err != nil {
			return nil, fmt.Errorf("invalid REFRESH_SCHEDULE: %w", err)
		}
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
		}
		if cfg.KafkaSnapshotTopic == "" {
			return nil, errors.New("KAFKA_SNAPSHOT_TOPIC is required")
		}
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
