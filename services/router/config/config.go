package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the router service.
type Config struct {
	LogLevel       string
	LogFile        string
	KafkaBrokers   string
	ConsumerGroup  string
	RedisAddr      string
	RateLimit      int
	JobStatusTTL   time.Duration
	BroadcastLimit int
	MetricsAddr    string
	OTelEndpoint   string
	OTelSample     float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:       v.GetString("log_level"),
		LogFile:        v.GetString("log_file"),
		KafkaBrokers:   v.GetString("kafka_brokers"),
		ConsumerGroup:  v.GetString("consumer_group"),
		RedisAddr:      v.GetString("redis_addr"),
		RateLimit:      v.GetInt("rate_limit"),
		JobStatusTTL:   v.GetDuration("job_status_ttl"),
		BroadcastLimit: v.GetInt("broadcast_limit"),
		MetricsAddr:    v.GetString("metrics_addr"),
		OTelEndpoint:   v.GetString("otel_endpoint"),
		OTelSample:     v.GetFloat64("otel_sample_ratio"),
	}
}
