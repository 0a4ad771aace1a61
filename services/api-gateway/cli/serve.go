package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-agent-flow/internal/actions"
	"github.com/ramiqadoumi/go-agent-flow/internal/execution"
	"github.com/ramiqadoumi/go-agent-flow/internal/handlers"
	"github.com/ramiqadoumi/go-agent-flow/internal/kafka"
	"github.com/ramiqadoumi/go-agent-flow/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-agent-flow/internal/redis"
	"github.com/ramiqadoumi/go-agent-flow/pkg/cmdutil"
	"github.com/ramiqadoumi/go-agent-flow/pkg/logging"
	"github.com/ramiqadoumi/go-agent-flow/pkg/telemetry"
	"github.com/ramiqadoumi/go-agent-flow/services/api-gateway/config"
	"github.com/ramiqadoumi/go-agent-flow/services/api-gateway/handler"
	"github.com/ramiqadoumi/go-agent-flow/services/api-gateway/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("http-port", "8080", "HTTP server port")
	f.String("metrics-addr", ":9095", "Prometheus metrics server address")
	f.String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	f.String("redis-addr", "localhost:6379", "Redis address (host:port)")
	f.String("execute-queue", handlers.DefaultExecuteQueue, "queue agent executions are enqueued on")
	f.Float64("rate-limit", 20, "requests per second per client (0 = disabled)")
	f.Int("rate-burst", 40, "burst size of the per-client rate limiter")
	f.Int64("max-body-bytes", 1<<20, "largest accepted request body")
	f.Duration("action-timeout", 10*time.Second, "HTTP timeout for one output action test delivery")
	f.Duration("job-status-ttl", redisstore.DefaultJobStatusTTL, "lifetime of an interaction's job statuses after the last write")
	f.Int("broadcast-limit", redisstore.DefaultHardLimit, "largest real-time event in bytes")
	f.Bool("enable-events", true, "serve the server-sent event stream of an interaction")
	f.String("smtp-host", "localhost", "SMTP server host")
	f.Int("smtp-port", 1025, "SMTP server port")
	f.String("smtp-from", "noreply@agentflow.dev", "SMTP sender address")
	f.String("smtp-username", "", "SMTP auth username")
	f.String("smtp-password", "", "SMTP auth password or app password")
	f.String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	f.Float64("otel-sample-ratio", 1.0, "fraction of traces sampled")

	v := viper.GetViper()
	for key, flag := range map[string]string{
		"http_port":         "http-port",
		"metrics_addr":      "metrics-addr",
		"kafka_brokers":     "kafka-brokers",
		"redis_addr":        "redis-addr",
		"execute_queue":     "execute-queue",
		"rate_limit":        "rate-limit",
		"rate_burst":        "rate-burst",
		"max_body_bytes":    "max-body-bytes",
		"action_timeout":    "action-timeout",
		"job_status_ttl":    "job-status-ttl",
		"broadcast_limit":   "broadcast-limit",
		"enable_events":     "enable-events",
		"smtp_host":         "smtp-host",
		"smtp_port":         "smtp-port",
		"smtp_from":         "smtp-from",
		"smtp_username":     "smtp-username",
		"smtp_password":     "smtp-password",
		"otel_endpoint":     "otel-endpoint",
		"otel_sample_ratio": "otel-sample-ratio",
	} {
		cmdutil.BindFlag(v, key, f, flag)
	}
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

	producer := kafka.NewProducer(cmdutil.Brokers(cfg.KafkaBrokers))
	defer func() { _ = producer.Close() }()

	redisClient := redisstore.NewClient(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	broadcaster := redisstore.NewBroadcaster(redisClient, cfg.BroadcastLimit)
	jobs := redisstore.NewJobStatusStore(redisClient, broadcaster, logger, redisstore.WithTTL(cfg.JobStatusTTL))

	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
	initCancel()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	executions := postgres.NewExecutionRepository(pool)
	actionRepo := postgres.NewActionRepository(pool)
	enqueuer := kafka.NewEnqueuer(producer)

	submitter := handlers.NewSubmitter(
		executions,
		enqueuer,
		execution.NewFailureHandler(executions, logger),
		logger,
	).WithQueue(cfg.ExecuteQueue)

	// Test deliveries run in-process; only the provider registry is exercised.
	tester := actions.NewDispatcher(actionRepo, enqueuer, actions.NewRegistry(
		actions.NewWebhookProvider(cfg.ActionTimeout),
		actions.NewSlackProvider(cfg.ActionTimeout),
		actions.NewEmailProvider(actions.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}),
	), logger, actions.WithTestTimeout(cfg.ActionTimeout))

	deps := handler.Deps{
		Jobs:       jobs,
		Submitter:  submitter,
		Executions: executions,
		Actions:    actionRepo,
		Tester:     tester,
		Logger:     logger,
	}
	if cfg.EnableEvents {
		deps.Subscriber = broadcaster
	}
	rest := handler.NewREST(deps)

	checks := map[string]telemetry.ReadyCheck{
		"redis":    redisstore.Ping(redisClient),
		"postgres": pool.Ping,
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(cfg.MaxBodyBytes))
	r.Get("/healthz", rest.Healthz)
	r.Get("/readyz", handler.Readyz(checks))
	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware())
		}
		r.Route("/api/v1", rest.Routes)
	})

	// WriteTimeout stays zero so the event stream is not cut off; handlers
	// bound their own work through the request context.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// ── Prometheus metrics ────────────────────────────────────────────────────
	telemetry.StartMetricsServer(ctx, cfg.MetricsAddr, logger, checks)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api-gateway HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}
