package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Config holds everything the automation manager reads from its environment.
type Config struct {
	AppEnv   string
	AppName  string
	LogLevel string

	Server     ServerConfig
	Database   DatabaseConfig
	Evaluation EvaluationConfig
	Lock       LockConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
}

type ServerConfig struct {
	Addr         string
	ExitWaitTime time.Duration
}

type DatabaseConfig struct {
	Type string
	DSN  string
}

// EvaluationConfig controls the recurring evaluation pass.
type EvaluationConfig struct {
	Timezone          string
	Location          *time.Location
	Interval          time.Duration
	MaxConcurrency    int
	AutomationTimeout time.Duration
	// FinalizeTimeout bounds the bookkeeping write after an automation's work items are created.
	FinalizeTimeout time.Duration
}

type LockConfig struct {
	Backend string
	TTL     time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	EventsTopic     string
	ApprovalTopic   string
	ApprovalGroupID string
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		AppName:  getEnv("APP_NAME", "automation-manager"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			ExitWaitTime: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Type: getEnv("DB_TYPE", "sqlite"),
			DSN:  os.Getenv("DB_DSN"),
		},
		Evaluation: EvaluationConfig{
			Timezone: getEnv("ORG_TIMEZONE", "Asia/Kolkata"),
		},
		Lock: LockConfig{
			Backend: strings.ToLower(getEnv("LOCK_BACKEND", LockBackendLocal)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Kafka: KafkaConfig{
			Brokers:         splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			EventsTopic:     getEnv("AUTOMATION_EVENTS_TOPIC", "automation_events"),
			ApprovalTopic:   getEnv("TEMPLATE_APPROVAL_TOPIC", "template_approvals"),
			ApprovalGroupID: getEnv("TEMPLATE_APPROVAL_GROUP_ID", "automation-manager-approvals"),
		},
	}

	var err error
	if cfg.Evaluation.Interval, err = getDuration("EVALUATION_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Evaluation.AutomationTimeout, err = getDuration("AUTOMATION_TIMEOUT", time.Minute); err != nil {
		return nil, err
	}
	if cfg.Evaluation.FinalizeTimeout, err = getDuration("BOOKKEEPING_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Evaluation.MaxConcurrency, err = getInt("MAX_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.Lock.TTL, err = getDuration("LOCK_TTL", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.Kafka.Enabled, err = getBool("KAFKA_ENABLED", false); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Evaluation.Timezone)
	if err != nil {
		return fmt.Errorf("invalid ORG_TIMEZONE %q: %w", c.Evaluation.Timezone, err)
	}
	c.Evaluation.Location = loc

	if c.Evaluation.Interval <= 0 {
		return fmt.Errorf("EVALUATION_INTERVAL must be positive, got %s", c.Evaluation.Interval)
	}
	if c.Evaluation.MaxConcurrency < 1 {
		return fmt.Errorf("MAX_CONCURRENCY must be at least 1, got %d", c.Evaluation.MaxConcurrency)
	}
	if c.Evaluation.AutomationTimeout <= 0 {
		return fmt.Errorf("AUTOMATION_TIMEOUT must be positive, got %s", c.Evaluation.AutomationTimeout)
	}
	if c.Evaluation.FinalizeTimeout <= 0 {
		return fmt.Errorf("BOOKKEEPING_TIMEOUT must be positive, got %s", c.Evaluation.FinalizeTimeout)
	}
	switch c.Lock.Backend {
	case LockBackendLocal:
	case LockBackendRedis:
		// the redis key is not renewed, so it has to outlive the longest hold
		if hold := c.Evaluation.AutomationTimeout + c.Evaluation.FinalizeTimeout; c.Lock.TTL <= hold {
			return fmt.Errorf("LOCK_TTL (%s) must exceed AUTOMATION_TIMEOUT + BOOKKEEPING_TIMEOUT (%s)", c.Lock.TTL, hold)
		}
	default:
		return fmt.Errorf("unsupported LOCK_BACKEND %q", c.Lock.Backend)
	}
	switch c.Database.Type {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_TYPE %q", c.Database.Type)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but KAFKA_BROKERS is empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
