package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/vitals-risk-worker/internal/api"
	"github.com/septivank/vitals-risk-worker/internal/assignment"
	"github.com/septivank/vitals-risk-worker/internal/catalog"
	"github.com/septivank/vitals-risk-worker/internal/config"
	"github.com/septivank/vitals-risk-worker/internal/db"
	"github.com/septivank/vitals-risk-worker/internal/gateway"
	"github.com/septivank/vitals-risk-worker/internal/hub"
	"github.com/septivank/vitals-risk-worker/internal/logging"
	"github.com/septivank/vitals-risk-worker/internal/mq"
	"github.com/septivank/vitals-risk-worker/internal/repository"
	"github.com/septivank/vitals-risk-worker/internal/service"
	"github.com/septivank/vitals-risk-worker/internal/snapshot"
	"github.com/septivank/vitals-risk-worker/internal/threshold"
	"github.com/septivank/vitals-risk-worker/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideConfig loads the environment and, when CATALOG_URL is set, applies
// the catalog document on top of it
func ProvideConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Catalog.URL == "" {
		return cfg, nil
	}

	bootLogger, err := logging.NewLogger(cfg.ServiceName, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	defer bootLogger.Sync()

	client := catalog.NewClient(catalog.Options{
		BaseURL:     cfg.Catalog.URL,
		Environment: cfg.Catalog.Environment,
		Attempts:    cfg.Catalog.Retries,
		RetryDelay:  cfg.Catalog.RetryDelay,
	}, bootLogger.With(zap.String("component", "catalog")))

	doc, err := client.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return cfg.WithCatalog(doc)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.AutoMigrate)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideResolver creates the cached assignment resolver. ASSIGNMENT_API_URL
// switches the lookup from the database to the assignment service.
func ProvideResolver(cfg *config.Config, repo *repository.Repository, logger *zap.Logger) *assignment.Resolver {
	var source assignment.Source = assignment.NewRepositorySource(repo)
	if cfg.Assignment.APIURL != "" {
		source = assignment.NewRESTSource(cfg.Assignment.APIURL)
	}
	logger.Info("assignment resolver configured",
		zap.Bool("remote", cfg.Assignment.APIURL != ""),
		zap.Duration("cache_ttl", cfg.Assignment.CacheTTL),
		zap.Duration("lookup_timeout", cfg.Assignment.LookupTimeout),
	)
	return assignment.NewResolver(source, cfg.Assignment.CacheTTL, cfg.Assignment.LookupTimeout, logger)
}

// ProvideEvaluator creates the threshold evaluator over the resolved table
func ProvideEvaluator(cfg *config.Config, logger *zap.Logger) *threshold.Evaluator {
	logger.Info("threshold table loaded",
		zap.String("source", cfg.Thresholds.Source),
		zap.Int("profiles", len(cfg.Thresholds.Table)),
	)
	return threshold.NewEvaluator(cfg.Thresholds.Table)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, shutdowner fx.Shutdowner, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, shutdowner, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the publisher shared by every lane
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.Exchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideAlertHub creates the coarse alert notice hub
func ProvideAlertHub(cfg *config.Config) *hub.Broadcaster[service.AlertNotice] {
	return hub.NewBroadcaster[service.AlertNotice](cfg.Hub.AlertQueueSize)
}

// ProvideVitalsHub creates the per-patient vitals hub and runs its dispatcher
func ProvideVitalsHub(lc fx.Lifecycle, cfg *config.Config) *hub.Keyed[int64, service.VitalsEvent] {
	h := hub.NewKeyed[int64, service.VitalsEvent](cfg.Hub.VitalsQueueSize, cfg.Hub.SubmitQueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go h.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return h
}

// ProvideSnapshotStore creates the Redis snapshot store, nil when REDIS_ADDR is unset
func ProvideSnapshotStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *snapshot.Store {
	if cfg.Redis.Addr == "" {
		logger.Info("redis not configured, vitals snapshots disabled")
		return nil
	}

	client := snapshot.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	store := snapshot.NewStore(client, cfg.Redis.SnapshotTTL, logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return fmt.Errorf("[REDIS CONNECTION FAILED] cannot reach %s: %w", cfg.Redis.Addr, err)
			}
			logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return store
}

// ProvideRiskService creates the risk lane service
func ProvideRiskService(
	resolver *assignment.Resolver,
	evaluator *threshold.Evaluator,
	publisher *mq.Publisher,
	validator *validator.Validator,
	cfg *config.Config,
	logger *zap.Logger,
) *service.RiskService {
	return service.NewRiskService(resolver, evaluator, publisher, validator, cfg.RabbitMQ.RiskRoute, logger.With(zap.String("lane", "risk")))
}

// ProvidePersisterService creates the persister lane service
func ProvidePersisterService(
	resolver *assignment.Resolver,
	repo *repository.Repository,
	validator *validator.Validator,
	logger *zap.Logger,
) *service.PersisterService {
	return service.NewPersisterService(resolver, repo, validator, logger.With(zap.String("lane", "persister")))
}

// ProvideFinalizerService creates the finalizer lane service
func ProvideFinalizerService(
	resolver *assignment.Resolver,
	repo *repository.Repository,
	publisher *mq.Publisher,
	notices *hub.Broadcaster[service.AlertNotice],
	cfg *config.Config,
	logger *zap.Logger,
) *service.FinalizerService {
	return service.NewFinalizerService(resolver, repo, publisher, cfg.RabbitMQ.AlertsRoute, notices, logger.With(zap.String("lane", "finalizer")))
}

// ProvideLiveService creates the live vitals bridge
func ProvideLiveService(
	resolver *assignment.Resolver,
	validator *validator.Validator,
	store *snapshot.Store,
	vitalsHub *hub.Keyed[int64, service.VitalsEvent],
	logger *zap.Logger,
) *service.LiveService {
	var snapshots service.SnapshotWriter
	if store != nil {
		snapshots = store
	}
	return service.NewLiveService(resolver, validator, snapshots, vitalsHub, logger.With(zap.String("lane", "live")))
}

// ProvideAlertService creates the alert read and acknowledge service
func ProvideAlertService(repo *repository.Repository, notices *hub.Broadcaster[service.AlertNotice], logger *zap.Logger) *service.AlertService {
	return service.NewAlertService(repo, notices, logger)
}

// ProvideDashboardService creates the overview service
func ProvideDashboardService(repo *repository.Repository, cfg *config.Config) *service.DashboardService {
	return service.NewDashboardService(repo, cfg.Dashboard.LowBatteryPercent, cfg.Dashboard.RecentAlerts)
}

// ProvideAssignmentService creates the assignment write service
func ProvideAssignmentService(
	repo *repository.Repository,
	resolver *assignment.Resolver,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.AssignmentService {
	return service.NewAssignmentService(repo, resolver, publisher, cfg.RabbitMQ.AssignmentsRoute, logger)
}

// ProvideAssignmentListener creates the cross-replica invalidation listener
func ProvideAssignmentListener(resolver *assignment.Resolver, logger *zap.Logger) *service.AssignmentListener {
	return service.NewAssignmentListener(resolver, logger)
}

type lanes struct {
	fx.In

	Risk        *service.RiskService
	Persister   *service.PersisterService
	Finalizer   *service.FinalizerService
	Live        *service.LiveService
	Assignments *service.AssignmentListener
}

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	l lanes,
) error {
	rmq := cfg.RabbitMQ
	instance := uuid.NewString()[:8]

	defs := []mq.ConsumerConfig{
		{Name: "persister", Queue: rmq.PersisterQueue, RoutingKeys: []string{rmq.VitalsRoute.Pattern()}, Handler: l.Persister.HandleVitals},
		{Name: "risk", Queue: rmq.RiskQueue, RoutingKeys: []string{rmq.VitalsRoute.Pattern()}, Handler: l.Risk.HandleVitals},
		{Name: "finalizer", Queue: rmq.FinalizerQueue, RoutingKeys: []string{rmq.RiskRoute.Pattern()}, Handler: l.Finalizer.HandleRiskEvent},
		{Name: "live", Queue: rmq.LiveQueuePrefix + "." + instance, Exclusive: true, RoutingKeys: []string{rmq.VitalsRoute.Pattern()}, Handler: l.Live.HandleVitals},
		{Name: "assignments", Queue: rmq.AssignmentsPrefix + "." + instance, Exclusive: true, RoutingKeys: []string{rmq.AssignmentsRoute.Pattern()}, Handler: l.Assignments.HandleChange},
	}

	consumers := make([]*mq.Consumer, 0, len(defs))
	for _, def := range defs {
		def.Connection = conn
		def.DLQQueue = rmq.DLQQueue
		def.Exchange = rmq.Exchange
		def.PrefetchCount = rmq.PrefetchCount
		def.Logger = logger

		consumer, err := mq.NewConsumer(def)
		if err != nil {
			for _, c := range consumers {
				c.Close()
			}
			return fmt.Errorf("lane %s: %w", def.Name, err)
		}
		consumers = append(consumers, consumer)
	}

	// Create context for consumers that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			for _, c := range consumers {
				if err := c.Start(ctx); err != nil {
					return err
				}
			}
			logger.Info("worker lanes started",
				zap.Int("lanes", len(consumers)),
				zap.String("exchange", rmq.Exchange),
				zap.Int("prefetch", rmq.PrefetchCount),
			)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			var errs []error
			for _, c := range consumers {
				if err := c.Close(); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				logger.Error("failed to close consumers", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	return nil
}

func startGateway(
	lc fx.Lifecycle,
	cfg *config.Config,
	publisher *mq.Publisher,
	validator *validator.Validator,
	logger *zap.Logger,
) {
	if cfg.MQTT.BrokerURL == "" {
		logger.Info("MQTT broker not configured, device gateway disabled")
		return
	}

	gw := gateway.NewGateway(cfg.MQTT, cfg.RabbitMQ.VitalsRoute, publisher, validator, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return gw.Start()
		},
		OnStop: func(ctx context.Context) error {
			gw.Stop()
			return nil
		},
	})
}

type httpDeps struct {
	fx.In

	Alerts      *service.AlertService
	Dashboard   *service.DashboardService
	Assignments *service.AssignmentService
	Snapshots   *snapshot.Store
	AlertHub    *hub.Broadcaster[service.AlertNotice]
	VitalsHub   *hub.Keyed[int64, service.VitalsEvent]
}

func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, d httpDeps) {
	var snapshots api.SnapshotReader
	if d.Snapshots != nil {
		snapshots = d.Snapshots
	}

	server := api.NewServer(api.Deps{
		Alerts:      d.Alerts,
		Dashboard:   d.Dashboard,
		Assignments: d.Assignments,
		Snapshots:   snapshots,
		AlertHub:    d.AlertHub,
		VitalsHub:   d.VitalsHub,
		Logger:      logger.With(zap.String("component", "http")),
	})

	// Streams end when baseCtx is cancelled, so Shutdown does not wait on them
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ServicePort),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server failed", zap.Error(err))
				}
			}()
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancelStreams()
			return srv.Shutdown(ctx)
		},
	})
}
