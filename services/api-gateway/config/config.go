package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the api-gateway service.
type Config struct {
	LogLevel       string
	LogFile        string
	HTTPPort       string
	MetricsAddr    string
	KafkaBrokers   string
	RedisAddr      string
	PostgresDSN    string
	ExecuteQueue   string
	RateLimit      float64
	RateBurst      int
	MaxBodyBytes   int64
	ActionTimeout  time.Duration
	JobStatusTTL   time.Duration
	BroadcastLimit int
	EnableEvents   bool
	SMTPHost       string
	SMTPPort       int
	SMTPFrom       string
	SMTPUsername   string
	SMTPPassword   string
	OTelEndpoint   string
	OTelSample     float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:       v.GetString("log_level"),
		LogFile:        v.GetString("log_file"),
		HTTPPort:       v.GetString("http_port"),
		MetricsAddr:    v.GetString("metrics_addr"),
		KafkaBrokers:   v.GetString("kafka_brokers"),
		RedisAddr:      v.GetString("redis_addr"),
		PostgresDSN:    v.GetString("postgres_dsn"),
		ExecuteQueue:   v.GetString("execute_queue"),
		RateLimit:      v.GetFloat64("rate_limit"),
		RateBurst:      v.GetInt("rate_burst"),
		MaxBodyBytes:   v.GetInt64("max_body_bytes"),
		ActionTimeout:  v.GetDuration("action_timeout"),
		JobStatusTTL:   v.GetDuration("job_status_ttl"),
		BroadcastLimit: v.GetInt("broadcast_limit"),
		EnableEvents:   v.GetBool("enable_events"),
		SMTPHost:       v.GetString("smtp_host"),
		SMTPPort:       v.GetInt("smtp_port"),
		SMTPFrom:       v.GetString("smtp_from"),
		SMTPUsername:   v.GetString("smtp_username"),
		SMTPPassword:   v.GetString("smtp_password"),
		OTelEndpoint:   v.GetString("otel_endpoint"),
		OTelSample:     v.GetFloat64("otel_sample_ratio"),
	}
}
