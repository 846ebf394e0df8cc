package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/cffl"
	"github.com/absmach/cffl/coordinator"
	"github.com/absmach/cffl/coordinator/api"
	"github.com/absmach/cffl/coordinator/middleware"
	"github.com/absmach/cffl/experiment"
	"github.com/absmach/cffl/pkg/mqtt"
	"github.com/absmach/cffl/pkg/storage"
	"github.com/caarlos0/env/v11"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName         = "coordinator"
	pathEnv         = ".env"
	shutdownTimeout = 10 * time.Second
)

type envConfig struct {
	LogLevel   string  `env:"CFFL_LOG_LEVEL"   envDefault:"info"`
	InstanceID string  `env:"CFFL_INSTANCE_ID"`
	ConfigFile string  `env:"CFFL_CONFIG"`
	HTTPHost   string  `env:"CFFL_HTTP_HOST"   envDefault:"0.0.0.0"`
	HTTPPort   string  `env:"CFFL_HTTP_PORT"   envDefault:"9090"`
	OTELURL    url.URL `env:"CFFL_OTEL_URL"`
	TraceRatio float64 `env:"CFFL_TRACE_RATIO" envDefault:"1"`
	MQTT       mqtt.Config
	Storage    storage.Config
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	expCfg := cffl.Default()
	if cfg.ConfigFile != "" {
		loaded, err := cffl.LoadConfig(cfg.ConfigFile)
		if err != nil {
			logger.Error("failed to load experiment", slog.String("error", err.Error()))

			return
		}
		expCfg = *loaded
	}

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := newTracerProvider(ctx, cfg.OTELURL, cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tracer := tp.Tracer(svcName)

	var pubsub mqtt.PubSub
	if cfg.MQTT.Address != "" {
		cfg.MQTT.ClientID = svcName + "-" + cfg.InstanceID
		ps, err := mqtt.NewPubSub(cfg.MQTT, logger)
		if err != nil {
			logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := ps.Disconnect(context.Background()); err != nil {
				logger.Warn("failed to disconnect from mqtt broker", slog.Any("error", err))
			}
		}()
		pubsub = ps
	}

	counter, latency, credits := makeMetrics(svcName, "api")
	current := new(experiment.Current)
	runner := experiment.NewRunner(expCfg, experiment.Options{
		Storage:   cfg.Storage,
		Publisher: pubsub,
		Current:   current,
		Wrap: func(svc coordinator.Service) coordinator.Service {
			svc = middleware.Logging(logger, svc)
			svc = middleware.Tracing(tracer, svc)

			return middleware.Metrics(counter, latency, credits, svc)
		},
	}, logger)
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("failed to close round storage", slog.Any("error", err))
		}
	}()

	hs := &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort),
		Handler:           api.MakeHandler(current, logger, cfg.InstanceID),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info(fmt.Sprintf("%s service http server listening at %s", svcName, hs.Addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		summary, err := runner.Run(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return fmt.Errorf("experiment failed: %w", err)
		}
		logger.Info("experiment results written",
			slog.String("dir", runner.Dir()),
			slog.Any("federated_final_performance", summary.Mean["federated_final_performance"]),
		)

		return nil
	})

	g.Go(func() error {
		return stopSignalHandler(ctx, cancel, logger, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}

func newTracerProvider(ctx context.Context, u url.URL, ratio float64) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(u.Host),
		otlptracehttp.WithURLPath(u.Path),
	}
	if u.Scheme != "https" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", svcName))),
	), nil
}

func makeMetrics(namespace, subsystem string) (*kitprometheus.Counter, *kitprometheus.Summary, *kitprometheus.Gauge) {
	counter := kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_count",
		Help:      "Number of requests received.",
	}, []string{"method"})
	latency := kitprometheus.NewSummaryFrom(stdprometheus.SummaryOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_latency_microseconds",
		Help:      "Total duration of requests in microseconds.",
	}, []string{"method"})
	credits := kitprometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "credit",
		Help:      "Credit held by each worker after the latest round.",
	}, []string{"worker"})

	return counter, latency, credits
}

func stopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, hs *http.Server) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		logger.Info(fmt.Sprintf("%s service shutdown by signal: %s", svcName, sig))
	case <-ctx.Done():
	}
	defer cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	return hs.Shutdown(shutdownCtx)
}
