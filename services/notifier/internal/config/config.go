package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

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

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Notifications string
	DeadLetter    string
}

type Config struct {
	App          base.AppConfig
	DB           DBConfig
	Kafka        KafkaConfig
	PushEndpoint string
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
	v.SetDefault("kafka.consumer_group", "notifier-service")
	v.SetDefault("kafka.topics.notifications", "wallet.notifications")
	v.SetDefault("kafka.topics.dead_letter", "dead_letter")
	v.SetDefault("push.endpoint", "")

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
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Notifications: envString("KAFKA_NOTIFICATIONS_TOPIC", v.GetString("kafka.topics.notifications")),
			DeadLetter:    envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
		},
		PushEndpoint: envString("PUSH_ENDPOINT", v.GetString("push.endpoint")),
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if cfg.Kafka.Notifications == "" {
		return nil, fmt.Errorf("notifications topic required")
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
