package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"homeflow/internal/approval"
	"homeflow/internal/automation"
	"homeflow/internal/backup"
	"homeflow/internal/batch"
	"homeflow/internal/config"
	"homeflow/internal/constants"
	"homeflow/internal/logger"
	"homeflow/internal/management"
	"homeflow/internal/suggestion"
	"homeflow/pkg/bootstrap"
	"homeflow/pkg/health"
	"homeflow/pkg/metrics"
	"homeflow/pkg/middleware"
	"homeflow/pkg/ratelimit"
	"homeflow/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	mongoClient    *mongo.Client
	mongoDB        *mongo.Database
	backups        *backup.Service
	automations    *automation.Service
	monitor        *automation.Monitor
	limiter        *ratelimit.Store
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.Provider
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

	tp, err := tracing.Init(ctx, a.Config.Tracing, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterManagementMetrics()
	metrics.RegisterLifecycleMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	handler := a.initServices()
	a.initRouter(handler)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("postgres is required")
	}
	a.db = db

	client, mdb, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "MongoDB connection failed, backups will not be archived", "error", err)
		return nil
	}
	a.mongoClient = client
	a.mongoDB = mdb
	return nil
}

// initServices builds the domain services bottom-up: backups, lifecycle,
// approvals, then suggestions which route through approvals.
func (a *App) initServices() *management.Handler {
	cfg := a.Config
	clock := clockwork.NewRealClock()
	lifecycleTopic := cfg.Broker.Kafka.LifecycleTopic

	var archive backup.Archive
	if a.mongoDB != nil {
		archive = backup.NewMongoArchive(a.mongoDB, cfg.Database.MongoDB.BackupCollection)
	}
	a.backups = backup.NewService(backup.NewPostgresStore(a.db), archive, clock, a.Logger.Component("backup"))

	a.automations = automation.NewService(automation.NewRepository(a.db), a.Logger.Component("lifecycle"),
		automation.WithBackups(a.backups),
		automation.WithPlatformSyncer(automation.NewPlatformSyncer(cfg.Lifecycle.Platform)),
		automation.WithClock(clock),
		automation.WithPublisher(a.Producer, lifecycleTopic),
	)
	a.monitor = automation.NewMonitor(a.automations.Stats(), cfg.Monitoring, clock, a.Logger.Component("monitor"))

	engine := approval.NewEngine(approval.NewRepository(a.db), approval.NewLifecycleApplier(a.automations),
		a.automations, cfg.Approval.SignificanceThreshold, a.Logger.Component("approval"),
		approval.WithClock(clock),
		approval.WithPublisher(a.Producer, lifecycleTopic),
	)

	opts := []management.HandlerOption{
		management.WithBatches(batch.NewRepository(a.db)),
		management.WithAutomations(a.automations),
		management.WithApprovals(engine),
		management.WithBackups(a.backups),
	}
	if suggestions := a.initSuggestions(engine, clock); suggestions != nil {
		opts = append(opts, management.WithSuggestions(suggestions))
	}

	var events *management.ConfigEventProducer
	if topic := cfg.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		events = management.NewConfigEventProducer(a.Producer, topic)
	}
	svc := management.NewService(management.NewRepository(a.db),
		management.WithVersioning(management.NewVersioningRepository(a.db)),
		management.WithConfigEvents(events),
		management.WithLogger(a.Logger.Component("rules")),
	)

	return management.NewHandler(svc, a.Logger, opts...)
}

func (a *App) initSuggestions(engine *approval.Engine, clock clockwork.Clock) *suggestion.Service {
	cfg := a.Config.Suggestion
	if !cfg.Enabled {
		return nil
	}

	var generators []suggestion.Generator
	if cfg.Primary.APIKey != "" {
		generators = append(generators, suggestion.NewOpenAIGenerator("primary", cfg.Primary, cfg.RequestsPerMinute))
	}
	if cfg.Secondary.APIKey != "" {
		generators = append(generators, suggestion.NewOpenAIGenerator("secondary", cfg.Secondary, cfg.RequestsPerMinute))
	}
	if len(generators) == 0 {
		a.Logger.Warnw("Suggestions enabled but no generator API key configured, suggestion routes disabled")
		return nil
	}

	generator := suggestion.NewFallbackGenerator(a.Config.CircuitBreaker, a.Logger.Component("suggestion"), generators...)
	return suggestion.NewService(suggestion.NewRepository(a.db), generator, a.automations, a.automations.Stats(),
		a.Logger.Component("suggestion"),
		suggestion.WithClock(clock),
		suggestion.WithEstimator(suggestion.NewMetricsEstimator(a.Config.Monitoring.SlowResponseMs)),
		suggestion.WithApprovals(engine),
		suggestion.WithPublisher(a.Producer, a.Config.Broker.Kafka.LifecycleTopic),
	)
}

func (a *App) initRouter(handler *management.Handler) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.ActorMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))
	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName))
	}

	if rl := a.Config.Management.RateLimit; rl.Enabled {
		limitCfg := ratelimit.FromConfig(rl)
		a.limiter = ratelimit.NewStore(limitCfg)
		router.Use(ratelimit.Middleware(a.limiter, ratelimit.ActorOrIP))
		a.Logger.Infow("Rate limiting enabled", "rps", limitCfg.RPS, "burst", limitCfg.Burst)
	}

	handler.RegisterRoutes(router)

	registry := health.NewCheckerRegistry()
	registry.Register(health.NewPostgreSQLChecker(a.db))
	if a.mongoClient != nil {
		registry.RegisterOptional(health.NewMongoDBChecker(a.mongoClient))
	}
	if len(a.Config.Broker.Kafka.Brokers) > 0 {
		registry.RegisterOptional(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	}

	router.GET("/health", gin.WrapF(registry.Handler()))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error { return a.monitor.Start(gCtx) })
	g.Go(func() error { return a.backups.StartPruner(gCtx, constants.BackupPruneInterval) })
	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.StartCleanup(gCtx)
			return nil
		})
	}

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
			Mongo:    a.mongoClient,
		})...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
