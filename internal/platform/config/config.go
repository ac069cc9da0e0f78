package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures every tunable the engine reads at startup. Thresholds live
// in a separate hot-reloadable file (see thresholds.go); everything here is
// fixed for the life of the process.
type Config struct {
	Addr        string
	DatabaseURL string

	Redis RedisConfig

	Kafka KafkaConfig

	// Embedding provider.
	ProviderURL     string
	ProviderTimeout time.Duration
	ProviderRetries int

	// Gate-facing SLA: the hard bound on SubmitVerification.
	DecisionSLA time.Duration

	// Alert correlation.
	CooldownWindow time.Duration

	// Dispatcher.
	SubscriberBuffer int
	ReplayWindow     int

	// Watchlist snapshot refresh cron spec.
	WatchlistRefreshSpec string

	// Resolved incidents older than this are swept by the retention job.
	IncidentRetention time.Duration

	ThresholdsFile string

	// Gate clients authenticate with an API key checked against this bcrypt
	// hash. Dashboard stream tokens are HS256 JWTs signed with StreamSecret.
	GateKeyHash  string
	StreamSecret string
}

// RedisConfig mirrors the platform redis client options.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig enables the command-center topic sink when Brokers is set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds the engine config from environment variables so main stays
// lean. Call Validate before serving.
func FromEnv() Config {
	cfg := Config{
		Addr:                 envOr("GATEWARDEN_ADDR", ":8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ProviderURL:          os.Getenv("PROVIDER_URL"),
		ProviderTimeout:      envDuration("PROVIDER_TIMEOUT", 800*time.Millisecond),
		ProviderRetries:      envInt("PROVIDER_RETRIES", 2),
		DecisionSLA:          envDuration("DECISION_SLA", 3*time.Second),
		CooldownWindow:       envDuration("COOLDOWN_WINDOW", 5*time.Minute),
		SubscriberBuffer:     envInt("SUBSCRIBER_BUFFER", 256),
		ReplayWindow:         envInt("REPLAY_WINDOW", 1024),
		WatchlistRefreshSpec: envOr("WATCHLIST_REFRESH_SPEC", "@every 30s"),
		IncidentRetention:    envDuration("INCIDENT_RETENTION", 30*24*time.Hour),
		ThresholdsFile:       envOr("THRESHOLDS_FILE", "thresholds.yaml"),
		GateKeyHash:          os.Getenv("GATE_KEY_HASH"),
		StreamSecret:         os.Getenv("STREAM_SECRET"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Topic: envOr("KAFKA_TOPIC", "gatewarden.events"),
		},
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	return cfg
}

// Validate rejects configurations the engine must not serve with. A non-nil
// error is fatal at startup; nothing here is hot-fixable.
func (c Config) Validate() error {
	var problems []string
	if c.ProviderTimeout <= 0 {
		problems = append(problems, "provider timeout must be positive")
	}
	if c.ProviderRetries < 0 {
		problems = append(problems, "provider retries must not be negative")
	}
	if c.DecisionSLA <= 0 {
		problems = append(problems, "decision SLA must be positive")
	}
	if c.DecisionSLA <= c.ProviderTimeout {
		problems = append(problems, "decision SLA must exceed the provider timeout")
	}
	if c.CooldownWindow <= 0 {
		problems = append(problems, "cooldown window must be positive")
	}
	if c.SubscriberBuffer < 1 {
		problems = append(problems, "subscriber buffer must be at least 1")
	}
	if c.ReplayWindow < 0 {
		problems = append(problems, "replay window must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
