package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curie/studyrelay/internal/config"
	"github.com/curie/studyrelay/internal/kafka"
	"github.com/curie/studyrelay/internal/observability"
	"github.com/curie/studyrelay/internal/queue"
	kafkaqueue "github.com/curie/studyrelay/internal/queue/kafka"
	redisqueue "github.com/curie/studyrelay/internal/queue/redis"
	sqsqueue "github.com/curie/studyrelay/internal/queue/sqs"
	"github.com/curie/studyrelay/internal/relay"
	"github.com/curie/studyrelay/internal/source"
	httpsource "github.com/curie/studyrelay/internal/source/http"
	lambdasource "github.com/curie/studyrelay/internal/source/lambda"
	"github.com/curie/studyrelay/internal/tracing"
)

const serviceName = "studyrelay"

const defaultSettingsFile = "appsettings.json"

var defaultSSMPaths = []string{"/curie/Dev", "/curie/Config"}

// ssmReloadAfter is how long each default parameter path stays fresh.
var ssmReloadAfter = map[string]time.Duration{
	"/curie/Dev":    10 * time.Minute,
	"/curie/Config": 2 * time.Second,
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := observability.NewLogger(serviceName, observability.GetLogLevel(""))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lambdaMode := os.Getenv("AWS_LAMBDA_RUNTIME_API") != ""

	tr, err := tracing.Initialize(ctx, tracing.GetConfig(serviceName), logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(envOr("AWS_REGION", "ap-south-1")))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	sources, err := configSources(awsCfg, lambdaMode)
	if err != nil {
		return err
	}
	provider := config.NewProvider(logger, sources...)
	snap, err := provider.Reload(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, err := queue.ParseBackend(os.Getenv("STUDYRELAY_QUEUE_BACKEND"))
	if err != nil {
		return err
	}
	publisher, err := buildPublisher(backend, snap, awsCfg, logger)
	if err != nil {
		return fmt.Errorf("build %s publisher: %w", backend, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	handler := relay.NewHandler(provider, observability.NewTraceLogger(logger), publisher,
		relay.WithMetrics(metrics),
		relay.WithTracer(tr.Tracer),
		relay.WithBackendName(string(backend)),
	)

	var src source.Source
	if lambdaMode {
		ls := lambdasource.NewSource(logger)
		ls.AfterInvoke = func(ctx context.Context) {
			if err := tr.Flush(ctx); err != nil {
				logger.Warn("span flush failed", "error", err)
			}
		}
		src = ls
	} else {
		hs, err := httpSource(metrics, logger)
		if err != nil {
			return err
		}
		src = hs
	}
	runner := relay.NewRunner(src, handler, publisher, logger)

	go func() {
		if err := provider.Watch(ctx); err != nil {
			logger.Error("config watcher error", "error", err)
		}
	}()

	if lambdaMode {
		logger.Info("running as lambda function", "backend", backend)
		runErr := runner.Run(ctx)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		if err := tr.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
		return runErr
	}

	health := observability.NewHealthServer()
	health.AddCheck("config", func(context.Context) error {
		if provider.Snapshot().Get(config.KeyQueueDestination) == "" {
			return errors.New(config.KeyQueueDestination + " is not set")
		}
		return nil
	})

	metricsAddr := envOr("STUDYRELAY_METRICS_ADDR", ":9090")
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("GET /healthz", health.Handler())
	mux.Handle("GET /readyz", health.Handler())

	metricsServer := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("metrics server starting", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	health.SetReady(true)
	logger.Info("running as http relay", "backend", backend)

	runErr := runner.Run(ctx)

	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("relay shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	if err := tr.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// configSources builds the layers in precedence order: settings file, SSM
// paths, then dotenv files and the environment. The default settings file is
// required in Lambda and optional elsewhere.
func configSources(awsCfg aws.Config, lambdaMode bool) ([]config.Source, error) {
	var sources []config.Source

	if path, ok := os.LookupEnv("STUDYRELAY_CONFIG_FILE"); ok && path != "" {
		sources = append(sources, &config.FileSource{Path: path})
	} else {
		sources = append(sources, &config.FileSource{Path: defaultSettingsFile, Optional: !lambdaMode})
	}

	var override time.Duration
	if v := os.Getenv("STUDYRELAY_SSM_RELOAD_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("STUDYRELAY_SSM_RELOAD_AFTER: invalid duration %q", v)
		}
		override = d
	}

	paths := splitList(os.Getenv("STUDYRELAY_SSM_PATHS"))
	if _, set := os.LookupEnv("STUDYRELAY_SSM_PATHS"); !set && lambdaMode {
		paths = defaultSSMPaths
	}
	if len(paths) > 0 {
		client := ssm.NewFromConfig(awsCfg)
		for _, p := range paths {
			src := config.NewSSMSource(client, p)
			src.ReloadAfter = ssmReloadAfter[p]
			if override > 0 {
				src.ReloadAfter = override
			}
			sources = append(sources, src)
		}
	}

	dotenv := []string{".env"}
	if v, ok := os.LookupEnv("STUDYRELAY_DOTENV"); ok {
		dotenv = splitList(v)
	}
	sources = append(sources, &config.EnvSource{DotenvFiles: dotenv})
	return sources, nil
}

func buildPublisher(backend queue.Backend, snap *config.Snapshot, awsCfg aws.Config, logger *slog.Logger) (queue.Publisher, error) {
	logger = logger.With("backend", string(backend))
	switch backend {
	case queue.BackendSQS:
		return sqsqueue.NewPublisher(awsCfg, sqsqueue.Config{Endpoint: snap.Get(config.KeySQSEndpoint)}, logger), nil
	case queue.BackendKafka:
		return kafkaqueue.NewPublisher(kafka.ClusterFromConfig(snap), logger)
	case queue.BackendRedis:
		return redisqueue.NewPublisher(redisqueue.Config{
			URL:    snap.Get(config.KeyRedisURL),
			MaxLen: snap.Int64(config.KeyRedisMaxLen, 0),
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", backend)
	}
}

func httpSource(metrics *observability.Metrics, logger *slog.Logger) (*httpsource.Source, error) {
	var limit float64
	if v := os.Getenv("STUDYRELAY_HTTP_RATE_LIMIT"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("STUDYRELAY_HTTP_RATE_LIMIT: %w", err)
		}
		limit = parsed
	}
	return httpsource.NewSource(httpsource.Config{
		ListenAddr: envOr("STUDYRELAY_LISTEN_ADDR", ":8080"),
		Path:       envOr("STUDYRELAY_HTTP_PATH", "/"),
		RateLimit:  limit,
		Requests:   metrics.HTTPRequests,
	}, logger)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
