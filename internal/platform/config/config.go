package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	day = 24 * time.Hour
	// maxRetentionDays is the largest day count a time.Duration can hold.
	maxRetentionDays = math.MaxInt64 / int64(day)
)

// Defaults applied when the environment leaves a setting unset or invalid.
var (
	DefaultAddr              = ":8080"
	DefaultAuditLogCapacity  = 1000
	DefaultAuditBufferSize   = 256
	DefaultCleanupInterval   = time.Hour
	DefaultRetention         = 30 * day
	DefaultRedisAuditChannel = "zynx:pdpa:audit"
	DefaultKafkaAuditTopic   = "zynx.pdpa.audit"
)

// Server captures process level configuration.
type Server struct {
	Addr             string
	Environment      string
	LogLevel         string
	AuditLogCapacity int
	AuditBufferSize  int
	CleanupInterval  time.Duration

	// DefaultRetention applies to purposes absent from Retention.
	DefaultRetention time.Duration
	// Retention maps purpose names to retention periods. Keys are validated by
	// the ledger, not here.
	Retention map[string]time.Duration

	Redis RedisConfig
	Kafka KafkaConfig

	// Warnings collects settings that were present but unusable.
	Warnings []string
}

// RedisConfig describes the optional Redis connection used for audit fan-out.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	AuditChannel string
}

// KafkaConfig describes the optional Kafka producer used for audit fan-out.
type KafkaConfig struct {
	Brokers         string
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
	AuditTopic      string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:             envOr("ZYNX_ADDR", DefaultAddr),
		Environment:      envOr("ZYNX_ENV", "development"),
		LogLevel:         envOr("LOG_LEVEL", "info"),
		AuditLogCapacity: DefaultAuditLogCapacity,
		AuditBufferSize:  DefaultAuditBufferSize,
		CleanupInterval:  DefaultCleanupInterval,
		DefaultRetention: DefaultRetention,
		Retention:        make(map[string]time.Duration),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			AuditChannel: envOr("REDIS_AUDIT_CHANNEL", DefaultRedisAuditChannel),
		},
		Kafka: KafkaConfig{
			Brokers:         os.Getenv("KAFKA_BROKERS"),
			Acks:            envOr("KAFKA_ACKS", "all"),
			Retries:         3,
			DeliveryTimeout: 30 * time.Second,
			AuditTopic:      envOr("KAFKA_AUDIT_TOPIC", DefaultKafkaAuditTopic),
		},
	}

	cfg.AuditLogCapacity = cfg.positiveInt("AUDIT_LOG_CAPACITY", cfg.AuditLogCapacity)
	cfg.AuditBufferSize = cfg.positiveInt("AUDIT_BUFFER_SIZE", cfg.AuditBufferSize)
	cfg.CleanupInterval = cfg.duration("CLEANUP_INTERVAL", cfg.CleanupInterval)
	cfg.DefaultRetention = cfg.duration("DEFAULT_RETENTION", cfg.DefaultRetention)
	cfg.Redis.PoolSize = cfg.positiveInt("REDIS_POOL_SIZE", cfg.Redis.PoolSize)
	cfg.Kafka.Retries = cfg.positiveInt("KAFKA_RETRIES", cfg.Kafka.Retries)

	if path := os.Getenv("RETENTION_POLICY_FILE"); path != "" {
		if err := cfg.loadRetentionFile(path); err != nil {
			cfg.Warnings = append(cfg.Warnings, err.Error())
		}
	}
	if raw := os.Getenv("RETENTION_POLICY"); raw != "" {
		policy, err := ParseRetentionPolicy(raw)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("RETENTION_POLICY ignored: %v", err))
		} else {
			for purpose, period := range policy {
				cfg.Retention[purpose] = period
			}
		}
	}
	return cfg
}

// loadRetentionFile overlays retention settings from a YAML file:
//
//	default_retention: 30d
//	retention:
//	  chat_service: 30d
//	  analytics: 2160h
func (c *Server) loadRetentionFile(path string) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("load retention policy file: %w", err)
	}
	if raw := k.String("default_retention"); raw != "" {
		period, err := ParseRetention(raw)
		if err != nil {
			return fmt.Errorf("retention policy file default_retention: %w", err)
		}
		c.DefaultRetention = period
	}
	for purpose, raw := range k.StringMap("retention") {
		period, err := ParseRetention(raw)
		if err != nil {
			return fmt.Errorf("retention policy file %s: %w", purpose, err)
		}
		c.Retention[strings.TrimSpace(purpose)] = period
	}
	return nil
}

// ParseRetentionPolicy parses "purpose=period" pairs separated by commas,
// e.g. "chat_service=30d,analytics=2160h".
func ParseRetentionPolicy(raw string) (map[string]time.Duration, error) {
	policy := make(map[string]time.Duration)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		purpose, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(purpose) == "" {
			return nil, fmt.Errorf("malformed entry %q", pair)
		}
		period, err := ParseRetention(value)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", pair, err)
		}
		policy[strings.TrimSpace(purpose)] = period
	}
	return policy, nil
}

// ParseRetention accepts Go duration syntax or a whole number of days with a
// "d" suffix. Periods must be positive.
func ParseRetention(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	var period time.Duration
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", raw)
		}
		if n > maxRetentionDays {
			return 0, fmt.Errorf("retention %q exceeds %d days", raw, maxRetentionDays)
		}
		period = time.Duration(n) * day
	} else {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		period = d
	}
	if period <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %q", raw)
	}
	return period, nil
}

func (c *Server) positiveInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q ignored: expected positive integer", key, raw))
		return fallback
	}
	return n
}

func (c *Server) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := ParseRetention(raw)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s ignored: %v", key, err))
		return fallback
	}
	return d
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
