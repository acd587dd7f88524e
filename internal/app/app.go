// Package app wires the tone service together. New builds every subsystem,
// Run serves until the context is cancelled, and Shutdown drains the
// listeners and closes the Kafka clients.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "speech-tone-service/internal/api/grpc"
	"speech-tone-service/internal/config"
	"speech-tone-service/internal/events"
	httpapi "speech-tone-service/internal/http"
	"speech-tone-service/internal/observability"
	"speech-tone-service/internal/observability/logging"
	"speech-tone-service/internal/observability/metrics"
	"speech-tone-service/internal/service/latency"
	"speech-tone-service/internal/service/orchestrator"
	"speech-tone-service/internal/service/session"
	"speech-tone-service/internal/tone"
)

const shutdownTimeout = 10 * time.Second

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	store        *session.Store
	orchestrator *orchestrator.Orchestrator
	handler      events.Handler
	publisher    *events.Publisher
	consumer     *events.Consumer
	hub          *httpapi.Hub

	grpcServer *grpc.Server
	health     *health.Server
	httpServer *http.Server
	obs        *observability.Server

	// closers run in order during Shutdown, after the listeners stop.
	closers  []func() error
	stopOnce sync.Once
	stopErr  error
}

// New constructs the Application from cfg. It fails only when the rule
// tables cannot be loaded.
func New(cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	engine, err := newEngine(cfg.Tone)
	if err != nil {
		return nil, err
	}

	a.store = session.NewStore(cfg.Sessions.Limits())
	a.orchestrator, err = orchestrator.New(engine, cfg.Tone.Mode, a.store, latency.NewReporter())
	if err != nil {
		return nil, err
	}

	a.publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPreview: cfg.Kafka.TopicPreview,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Service.Principal,
	})
	a.closers = append(a.closers, a.publisher.Close)

	a.hub = httpapi.NewHub()
	sink := events.Tee(a.publisher, a.hub)

	// Outputs from the streaming transports reach Kafka and the watchers
	// through the tap; the consumer publishes its own outputs.
	a.handler = events.Tap(a.orchestrator, sink)

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		a.consumer = events.NewConsumer(&events.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.TopicInput,
			GroupID: cfg.Kafka.GroupID,
		}, a.orchestrator, sink)
		// The reader must close before the writers it feeds.
		a.closers = append([]func() error{a.consumer.Close}, a.closers...)
	}

	a.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor()),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(metrics.DefaultMetrics)),
	)
	a.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.health)
	grpcapi.Register(a.grpcServer, a.handler)

	a.httpServer = &http.Server{
		Addr: cfg.Service.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Dependencies{
			Handler:  a.handler,
			Engine:   engine,
			Mode:     cfg.Tone.Mode,
			Sessions: a.store,
			Hub:      a.hub,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.obs = observability.NewServer(cfg.Observability.MetricsAddr)

	a.Logger.Info().
		Str("mode", cfg.Tone.Mode.String()).
		Bool("kafka", a.consumer != nil).
		Msg("Speech tone service application created")
	return a, nil
}

func newEngine(cfg config.ToneConfig) (*tone.Engine, error) {
	if cfg.RulesFile == "" {
		return tone.NewDefaultEngine()
	}
	rules, err := tone.LoadRulesFile(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load tone rules: %w", err)
	}
	return tone.NewEngine(rules)
}

// Handler returns the message handler the streaming transports use.
func (a *Application) Handler() events.Handler {
	return a.handler
}

// Run serves every transport until ctx is cancelled or one of them fails,
// then shuts the application down.
func (a *Application) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", ":"+a.Cfg.Service.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("grpcAddr", lis.Addr().String()).
		Str("httpAddr", a.Cfg.Service.HTTPAddr).
		Str("metricsAddr", a.Cfg.Observability.MetricsAddr).
		Msg("Speech tone service starting")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.store.RunJanitor(gctx, a.Cfg.Sessions.JanitorInterval, a.Cfg.Sessions.MaxAge)
		return nil
	})
	g.Go(func() error {
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(a.obs.ListenAndServe)
	if a.consumer != nil {
		g.Go(func() error {
			return a.consumer.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(sctx)
	})

	a.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	a.health.SetServingStatus(grpcapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	a.obs.SetReady(true)

	return g.Wait()
}

// Shutdown stops the listeners and closes every subsystem. It is safe to
// call more than once; later calls return the first result.
func (a *Application) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.Logger.Info().Int("activeSessions", a.store.Len()).Msg("Speech tone service shutting down")

		a.obs.SetReady(false)
		a.health.Shutdown()

		stopped := make(chan struct{})
		go func() {
			a.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			a.grpcServer.Stop()
		}

		var errs []error
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		for _, closer := range a.closers {
			if err := closer(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := a.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}
