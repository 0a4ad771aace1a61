package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-agent-flow/internal/handlers"
	"github.com/ramiqadoumi/go-agent-flow/internal/kafka"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
	"github.com/ramiqadoumi/go-agent-flow/internal/tracking"
	"github.com/ramiqadoumi/go-agent-flow/pkg/cmdutil"
	"github.com/ramiqadoumi/go-agent-flow/pkg/logging"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
	"github.com/ramiqadoumi/go-agent-flow/services/router"
	"github.com/ramiqadoumi/go-agent-flow/services/router/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the router",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	f.String("consumer-group", "router-group", "Kafka consumer group")
	f.String("redis-addr", "localhost:6379", "Redis address (host:port)")
	f.Int("rate-limit", 100, "max jobs per second per job kind (0 = disabled)")
	f.Duration("job-status-ttl", redisstore.DefaultJobStatusTTL, "lifetime of an interaction's job statuses after the last write")
	f.Int("broadcast-limit", redisstore.DefaultHardLimit, "largest real-time event in bytes")
	f.String("metrics-addr", ":9094", "Prometheus metrics server address")
	f.String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	f.Float64("otel-sample-ratio", 1.0, "fraction of traces sampled")

	v := viper.GetViper()
	cmdutil.BindFlag(v, "kafka_brokers", f, "kafka-brokers")
	cmdutil.BindFlag(v, "consumer_group", f, "consumer-group")
	cmdutil.BindFlag(v, "redis_addr", f, "redis-addr")
	cmdutil.BindFlag(v, "rate_limit", f, "rate-limit")
	cmdutil.BindFlag(v, "job_status_ttl", f, "job-status-ttl")
	cmdutil.BindFlag(v, "broadcast_limit", f, "broadcast-limit")
	cmdutil.BindFlag(v, "metrics_addr", f, "metrics-addr")
	cmdutil.BindFlag(v, "otel_endpoint", f, "otel-endpoint")
	cmdutil.BindFlag(v, "otel_sample_ratio", f, "otel-sample-ratio")
	_ = v.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger, closeLog, err := logging.New(cfg.LogLevel, service, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closeLog() }()

	ctx, cancel := cmdutil.SignalContext(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName: service,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSample,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	brokers := cmdutil.Brokers(cfg.KafkaBrokers)

	consumer := kafka.NewConsumer(brokers, kafka.TopicPending, cfg.ConsumerGroup, logger)
	defer func() { _ = consumer.Close() }()

	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	broadcaster := redisstore.NewBroadcaster(redisClient, cfg.BroadcastLimit)
	store := redisstore.NewJobStatusStore(redisClient, broadcaster, logger, redisstore.WithTTL(cfg.JobStatusTTL))
	bridge := tracking.NewBridge(store, handlers.DecodeCommand, logger)

	var limiter redisstore.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = redisstore.NewRateLimiter(redisClient, service, cfg.RateLimit, time.Second)
		logger.Info("rate limiter enabled", slog.Int("limit_per_second", cfg.RateLimit))
	}

	r := router.NewRouter(consumer, producer, bridge, limiter, logger)

	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, logger, map[string]telemetry.ReadyCheck{
		"redis": redisstore.Ping(redisClient),
	})

	logger.Info("router starting", slog.String("topic", kafka.TopicPending))
	if err := r.Run(ctx); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	logger.Info("stopped")
	return nil
}
