package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration loaded from the environment.
type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig
	RateLimit  RateLimitConfig
	BruteForce BruteForceConfig
	Auth       AuthConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	// URL may be empty, in which case the service falls back to the
	// in-process counter store (single-instance deployments only).
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type ClickHouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
	Table    string
}

type RateLimitConfig struct {
	// Disabled bypasses window enforcement entirely. This is an explicit
	// deployer decision, never inferred from the environment name.
	Disabled bool
}

type BruteForceConfig struct {
	MaxAttempts     int
	AttemptWindow   time.Duration
	BaseBanDuration time.Duration
	BanMultiplier   int
	MaxBanDuration  time.Duration
}

type AuthConfig struct {
	// Users maps usernames to argon2id password hashes. Stands in for
	// the backend's user repository behind the same Verifier interface.
	Users map[string]string
}

// Load reads configuration from the environment, with .env support for
// local development.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: splitAndTrim(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_SECURITY_EVENTS_TOPIC", "security-events"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "visitgate"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Table:    getEnv("CLICKHOUSE_EVENTS_TABLE", "security_events"),
		},
		RateLimit: RateLimitConfig{
			Disabled: getEnvBool("RATE_LIMIT_DISABLED", false),
		},
		BruteForce: BruteForceConfig{
			MaxAttempts:     getEnvInt("BRUTE_FORCE_MAX_ATTEMPTS", 5),
			AttemptWindow:   getEnvDuration("BRUTE_FORCE_ATTEMPT_WINDOW", 15*time.Minute),
			BaseBanDuration: getEnvDuration("BRUTE_FORCE_BASE_BAN", 15*time.Minute),
			BanMultiplier:   getEnvInt("BRUTE_FORCE_BAN_MULTIPLIER", 2),
			MaxBanDuration:  getEnvDuration("BRUTE_FORCE_MAX_BAN", 24*time.Hour),
		},
		Auth: AuthConfig{
			Users: parseUsers(getEnv("AUTH_USERS", "")),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// parseUsers parses "alice:$argon2id$...;bob:$argon2id$..." pairs.
// Hash values may themselves contain colons, so we split on the first
// colon only.
func parseUsers(raw string) map[string]string {
	users := make(map[string]string)
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, hash, ok := strings.Cut(pair, ":")
		if !ok || name == "" || hash == "" {
			continue
		}
		users[name] = hash
	}
	return users
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
