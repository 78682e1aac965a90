package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/rpcdispatch"
	"github.com/felixgeelhaar/rpcdispatch/config"
	"github.com/felixgeelhaar/rpcdispatch/internal/logging"
	"github.com/felixgeelhaar/rpcdispatch/observe"
	"github.com/felixgeelhaar/rpcdispatch/transport"
)

const serviceName = "rpcdispatchd"

var serveStdio bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the demo service",
	Long: `Runs the websocket, HTTP and metrics listeners configured in
transports.* until SIGINT or SIGTERM. With --stdio the engine reads
newline-delimited JSON from stdin instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveStdio, "stdio", false, "Serve over stdin/stdout instead of the network listeners")
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(serviceResource()))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(serviceResource()))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := errors.Join(tp.Shutdown(shutdownCtx), mp.Shutdown(shutdownCtx)); err != nil {
			logger.Warn("telemetry shutdown failed", rpcdispatch.F("error", err.Error()))
		}
	}()

	tracing, err := observe.NewOTel(
		observe.WithTracerProvider(tp),
		observe.WithMeterProvider(mp),
		observe.WithServiceName(serviceName),
	)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observe.NewPrometheus(registry)
	if err := metrics.Register(); err != nil {
		return fmt.Errorf("prometheus: %w", err)
	}

	engine, err := rpcdispatch.FromConfig(ctx, cfg, registerCalculator(logger), logger,
		rpcdispatch.WithListener(tracing),
		rpcdispatch.WithListener(metrics),
		rpcdispatch.WithMiddleware(rpcdispatch.PrivateMethods("_")),
	)
	if err != nil {
		return err
	}

	if serveStdio {
		logger.Info("serving stdio", rpcdispatch.F("config", cfg.String()))
		return rpcdispatch.ServeStdio(ctx, engine)
	}

	logger.Info("starting", rpcdispatch.F("config", cfg.String()))

	g, ctx := errgroup.WithContext(ctx)
	if addr := cfg.Transports.WebSocket; addr != "" {
		opts := []transport.WebSocketOption{}
		if len(cfg.Transports.AllowedOrigins) > 0 {
			opts = append(opts, transport.WithWebSocketAllowedOrigins(cfg.Transports.AllowedOrigins...))
		}
		ws := transport.NewWebSocket(addr, opts...)
		g.Go(func() error { return ws.Serve(ctx, engine) })
		logger.Info("websocket listening", rpcdispatch.F("addr", addr))
	}
	if addr := cfg.Transports.HTTP; addr != "" {
		opts := []transport.HTTPOption{}
		if len(cfg.Transports.AllowedOrigins) > 0 {
			opts = append(opts, transport.WithAllowedOrigins(cfg.Transports.AllowedOrigins...))
		}
		h := transport.NewHTTP(addr, opts...)
		g.Go(func() error { return h.Serve(ctx, engine) })
		logger.Info("http listening", rpcdispatch.F("addr", addr))
	}
	if addr := cfg.Transports.Metrics; addr != "" {
		g.Go(func() error { return serveMetrics(ctx, addr, registry) })
		logger.Info("metrics listening", rpcdispatch.F("addr", addr))
	}

	err = g.Wait()
	logger.Info("stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics exposes registry on /metrics until ctx is canceled.
func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func serviceResource() *resource.Resource {
	return resource.NewSchemaless(attribute.String("service.name", serviceName))
}
