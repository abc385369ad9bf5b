package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"homeflow/internal/batch"
	"homeflow/internal/broker"
	"homeflow/internal/config"
	"homeflow/internal/constants"
	"homeflow/internal/filtering"
	"homeflow/internal/ingestion"
	"homeflow/internal/logger"
	"homeflow/pkg/bootstrap"
	"homeflow/pkg/health"
	"homeflow/pkg/metrics"
	"homeflow/pkg/retry"
	"homeflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	filter         *filtering.Service
	coordinator    *ingestion.Coordinator
	retries        *batch.RetryScheduler
	tracerProvider *tracing.Provider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	if err := a.InitRecordSource(); err != nil {
		return fmt.Errorf("failed to initialize event stream: %w", err)
	}

	if err := a.initFiltering(ctx); err != nil {
		return fmt.Errorf("failed to initialize filtering: %w", err)
	}

	a.initIngestion()

	tp, err := tracing.Init(ctx, a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterFilteringMetrics()
	metrics.RegisterIngestionMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	a.initHTTPServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("postgres is required for event storage")
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Redis unavailable, using in-process dedupe, spool and windows", "error", err)
		return nil
	}
	a.redis = rdb
	return nil
}

func (a *App) initFiltering(ctx context.Context) error {
	cfg := a.Config.Filtering

	opts := []filtering.EvaluatorOption{
		filtering.WithErrorFallback(cfg.Fallback.OnError),
	}
	if cfg.WindowBackend == constants.WindowBackendRedis && a.redis != nil {
		opts = append(opts, filtering.WithWindowCounter(filtering.NewRedisWindow(a.redis)))
	} else {
		opts = append(opts, filtering.WithWindowCounter(filtering.NewMemoryWindow()))
	}
	if len(cfg.Importance.EventTypes) > 0 || len(cfg.Importance.EntityPrefixes) > 0 {
		opts = append(opts, filtering.WithImportancePolicy(
			filtering.NewImportancePolicy(cfg.Importance.EventTypes, cfg.Importance.EntityPrefixes)))
	}

	evaluator, err := filtering.NewEvaluator(a.Logger.Component("filtering"), opts...)
	if err != nil {
		return err
	}

	svc := filtering.NewService(filtering.NewRepository(a.db), evaluator, cfg, a.Logger.Component("filtering"))
	if err := svc.ReloadRules(ctx); err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to load initial rules, importance defaults apply", "error", err)
	}
	a.filter = svc
	return nil
}

func (a *App) initIngestion() {
	cfg := a.Config
	log := a.Logger.Component("ingestion")

	batches := batch.NewRepository(a.db)
	store := ingestion.NewPostgresEventStore(a.db, cfg.Ingestion.DirectWriteMaxAttempts)

	opts := []ingestion.Option{
		ingestion.WithQueueSize(cfg.Broker.Kafka.PartitionBuffer),
		ingestion.WithSavePolicy(retry.PolicyFromConfig(cfg.Broker.Kafka.Retry)),
	}

	memory := ingestion.NewMemoryDedupe(cfg.Ingestion.DedupeWindowSize)
	if a.redis != nil {
		opts = append(opts,
			ingestion.WithDeduplicator(ingestion.ChainDedupe{
				memory,
				ingestion.NewRedisDedupe(a.redis, cfg.Ingestion, cfg.CircuitBreaker, log),
			}),
			ingestion.WithSpool(ingestion.NewRedisSpool(a.redis, 0)),
		)
	} else {
		opts = append(opts, ingestion.WithDeduplicator(memory))
	}

	if kp, ok := a.Producer.(*broker.KafkaProducer); ok && cfg.Broker.Kafka.DLQTopic != "" {
		opts = append(opts, ingestion.WithDeadLetter(broker.NewKafkaDeadLetter(kp, cfg.Broker.Kafka.DLQTopic, serviceName)))
	}

	if cfg.Ingestion.PublishDecisions {
		opts = append(opts, ingestion.WithPublisher(a.Producer, ingestion.Topics{
			Decisions: cfg.Broker.Kafka.DecisionsTopic,
			Batches:   cfg.Broker.Kafka.BatchesTopic,
		}))
	}

	a.coordinator = ingestion.NewCoordinator(a.Source, a.filter, store, batches, cfg.Ingestion, log, opts...)
	a.retries = batch.NewRetryScheduler(batches, a.coordinator, clockwork.NewRealClock(),
		cfg.Ingestion.RetryScanInterval, a.Logger.Component("batch"))
}

func (a *App) initHTTPServer() {
	registry := health.NewCheckerRegistry()
	registry.Register(health.NewPostgreSQLChecker(a.db))
	if a.redis != nil {
		registry.RegisterOptional(health.NewRedisChecker(a.redis))
	}
	if len(a.Config.Broker.Kafka.Brokers) > 0 {
		registry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	}

	mux := http.NewServeMux()
	mux.Handle("/health", registry.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		handler := filtering.NewHandler(a.filter, a.Logger)
		g.Go(func() error {
			a.Logger.InfowCtx(gCtx, "Starting config update consumer", "topic", topic)
			return a.Consumer.Consume(gCtx, topic, handler.HandleConfigUpdateEvent)
		})
	}

	g.Go(func() error { return a.filter.StartReloader(gCtx) })
	g.Go(func() error { return a.filter.StartMatchFlusher(gCtx) })
	g.Go(func() error { return a.retries.Start(gCtx) })
	g.Go(func() error { return a.coordinator.Run(gCtx) })

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, bootstrap.Databases{
			Postgres: a.db,
			Redis:    a.redis,
		})...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
