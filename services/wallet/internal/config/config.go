package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/aferconlda/aferconpay1/libs/config"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type KafkaTopics struct {
	Notifications string
	Transactions  string
	DeadLetter    string
}

type KafkaConfig struct {
	Brokers []string
	Topics  KafkaTopics
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	App             base.AppConfig
	DB              DBConfig
	Kafka           KafkaConfig
	Redis           RedisConfig
	RateLimit       RateLimitConfig
	JWTSecret       string
	FeeRefreshEvery time.Duration
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("APAY_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("APAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("APAY_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.notifications", "wallet.notifications")
	v.SetDefault("kafka.topics.transactions", "wallet.transactions")
	v.SetDefault("kafka.topics.dead_letter", "dead_letter")
	v.SetDefault("redis.addr", "")
	v.SetDefault("rate_limit.limit", 30)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("fee_refresh_every", "5m")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", "localhost")),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", "aferconpay")),
			User:     envString("DB_USER", envString("POSTGRES_USER", "aferconpay")),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "aferconpay")),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
		},
		Kafka: KafkaConfig{
			Brokers: envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			Topics: KafkaTopics{
				Notifications: envString("KAFKA_NOTIFICATIONS_TOPIC", v.GetString("kafka.topics.notifications")),
				Transactions:  envString("KAFKA_TRANSACTIONS_TOPIC", v.GetString("kafka.topics.transactions")),
				DeadLetter:    envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       envInt("REDIS_DB", v.GetInt("redis.db")),
		},
		RateLimit: RateLimitConfig{
			Limit:  envInt("RATE_LIMIT", v.GetInt("rate_limit.limit")),
			Window: envDuration("RATE_LIMIT_WINDOW", v.GetDuration("rate_limit.window")),
		},
		JWTSecret:       envString("JWT_SECRET", v.GetString("jwt_secret")),
		FeeRefreshEvery: envDuration("FEE_REFRESH_EVERY", v.GetDuration("fee_refresh_every")),
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.Topics.Notifications == "" || cfg.Kafka.Topics.Transactions == "" {
		return nil, fmt.Errorf("kafka topics required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("APAY_JWT_SECRET required")
	}
	if cfg.RateLimit.Limit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}
	if cfg.RateLimit.Window <= 0 {
		return nil, fmt.Errorf("rate limit window must be positive")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv("APAY_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv("APAY_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv("APAY_" + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	for _, candidate := range []string{"APAY_" + key, key} {
		v := os.Getenv(candidate)
		if v == "" {
			continue
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
