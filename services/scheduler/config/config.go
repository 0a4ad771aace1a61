package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the scheduler service.
type Config struct {
	LogLevel      string
	LogFile       string
	KafkaBrokers  string
	RedisAddr     string
	PostgresDSN   string
	CheckInterval time.Duration
	ExecuteQueue  string
	MetricsAddr   string
	OTelEndpoint  string
	OTelSample    float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		LogFile:       v.GetString("log_file"),
		KafkaBrokers:  v.GetString("kafka_brokers"),
		RedisAddr:     v.GetString("redis_addr"),
		PostgresDSN:   v.GetString("postgres_dsn"),
		CheckInterval: v.GetDuration("check_interval"),
		ExecuteQueue:  v.GetString("execute_queue"),
		MetricsAddr:   v.GetString("metrics_addr"),
		OTelEndpoint:  v.GetString("otel_endpoint"),
		OTelSample:    v.GetFloat64("otel_sample_ratio"),
	}
}
