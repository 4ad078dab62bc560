package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/skillsenselab/tickstream/auth"
	"github.com/skillsenselab/tickstream/component"
	"github.com/skillsenselab/tickstream/config"
	"github.com/skillsenselab/tickstream/logger"
	"github.com/skillsenselab/tickstream/observability"
	"github.com/skillsenselab/tickstream/poller"
	"github.com/skillsenselab/tickstream/server"
	"github.com/skillsenselab/tickstream/store"
	"github.com/skillsenselab/tickstream/stream"
	"github.com/skillsenselab/tickstream/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tickstream: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Init(cfg.Logging)
	log := logger.GetGlobalLogger()
	log.Info("Starting tickstream", map[string]interface{}{
		"version":     version.Version,
		"environment": cfg.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	meter, shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	metrics, err := stream.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("creating stream metrics: %w", err)
	}

	// The store opens first: the admission gate and the change detector
	// both need its readers at wiring time.
	storeComp := store.NewComponent(cfg.Store, log)
	if err := storeComp.Start(ctx); err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	market := store.NewMarketStore(storeComp.DB())

	verifier, err := auth.NewVerifier(&cfg.Auth)
	if err != nil {
		return err
	}

	registry := stream.NewRegistry(cfg.Stream.MaxConnections)
	seq := stream.NewSequence()
	hub := stream.NewHub(log, metrics, cfg.Stream.BufferDepth)
	gate := stream.NewAdmissionGate(log, registry, market, metrics, cfg.Stream)
	streamHandler := stream.NewHandler(log, gate, hub, registry, seq, metrics, cfg.Stream)

	composer := poller.NewComposer(seq, cfg.Stream.RetryHintMS)
	detector := poller.NewDetector(log, market, composer, hub, cfg.Poller)

	srv := server.New(cfg.Server, log)
	srv.ApplyMiddleware()
	srv.GinEngine().Use(auth.Middleware(verifier))
	streamHandler.Register(srv.GinEngine())

	// Shutdown does not cancel in-flight request contexts; evict open
	// streams so their dispatch loops exit within the drain deadline.
	srv.OnShutdown(hub.EvictAll)

	components := component.NewRegistry()
	for _, c := range []component.Component{
		storeComp,
		detector,
		server.NewComponent(srv),
	} {
		if err := components.Register(c); err != nil {
			return err
		}
	}
	srv.RegisterDefaultEndpoints(version.ServiceName, components)

	if err := components.StartAll(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = components.StopAll(stopCtx)
		return fmt.Errorf("starting components: %w", err)
	}

	log.Info("tickstream ready", map[string]interface{}{
		"addr":            srv.Addr(),
		"max_connections": cfg.Stream.MaxConnections,
	})

	<-ctx.Done()
	log.Info("Shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := components.StopAll(stopCtx); err != nil {
		return fmt.Errorf("stopping components: %w", err)
	}

	log.Info("tickstream stopped")
	return nil
}

// initTelemetry sets up the OTel meter provider when observability is
// enabled, falling back to a no-op meter otherwise.
func initTelemetry(ctx context.Context, cfg *config.Config) (metric.Meter, func(), error) {
	if !cfg.Observability.Enabled {
		return noop.NewMeterProvider().Meter(version.ServiceName), func() {}, nil
	}

	meterProvider, err := observability.InitMeter(ctx, &cfg.Observability)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing metrics: %w", err)
	}
	tracerProvider, err := observability.InitTracer(ctx, &cfg.Observability)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing tracing: %w", err)
	}

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = meterProvider.Shutdown(shutdownCtx)
		_ = tracerProvider.Shutdown(shutdownCtx)
	}
	return meterProvider.Meter(version.ServiceName), shutdown, nil
}
