package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the worker service.
type Config struct {
	LogLevel     string
	LogFile      string
	KafkaBrokers string
	RedisAddr    string
	PostgresDSN  string

	Queue      string
	MaxRetries int
	JobTimeout time.Duration
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	AgentEndpoint string
	AgentTimeout  time.Duration

	ActionTimeout   time.Duration
	ActionRateLimit int
	ActionQueue     string

	BroadcastBudget int
	BroadcastLimit  int
	JobStatusTTL    time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	MetricsAddr  string
	OTelEndpoint string
	OTelSample   float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:     v.GetString("log_level"),
		LogFile:      v.GetString("log_file"),
		KafkaBrokers: v.GetString("kafka_brokers"),
		RedisAddr:    v.GetString("redis_addr"),
		PostgresDSN:  v.GetString("postgres_dsn"),

		Queue:      v.GetString("queue"),
		MaxRetries: v.GetInt("max_retries"),
		JobTimeout: v.GetDuration("job_timeout"),
		BaseDelay:  v.GetDuration("retry_base_delay"),
		MaxDelay:   v.GetDuration("retry_max_delay"),

		AgentEndpoint: v.GetString("agent_endpoint"),
		AgentTimeout:  v.GetDuration("agent_timeout"),

		ActionTimeout:   v.GetDuration("action_timeout"),
		ActionRateLimit: v.GetInt("action_rate_limit"),
		ActionQueue:     v.GetString("action_queue"),

		BroadcastBudget: v.GetInt("broadcast_budget"),
		BroadcastLimit:  v.GetInt("broadcast_limit"),
		JobStatusTTL:    v.GetDuration("job_status_ttl"),

		SMTPHost:     v.GetString("smtp_host"),
		SMTPPort:     v.GetInt("smtp_port"),
		SMTPFrom:     v.GetString("smtp_from"),
		SMTPUsername: v.GetString("smtp_username"),
		SMTPPassword: v.GetString("smtp_password"),

		MetricsAddr:  v.GetString("metrics_addr"),
		OTelEndpoint: v.GetString("otel_endpoint"),
		OTelSample:   v.GetFloat64("otel_sample_ratio"),
	}
}
