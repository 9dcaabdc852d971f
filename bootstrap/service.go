package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CorventLabs/corvent/audit"
	"github.com/CorventLabs/corvent/common"
	"github.com/CorventLabs/corvent/common/mlog"
	"github.com/CorventLabs/corvent/common/mmodel"
	"github.com/CorventLabs/corvent/common/mmongo"
	"github.com/CorventLabs/corvent/common/mopentelemetry"
	"github.com/CorventLabs/corvent/common/mpostgres"
	"github.com/CorventLabs/corvent/common/mrabbitmq"
	"github.com/CorventLabs/corvent/common/mredis"
	"github.com/CorventLabs/corvent/common/mzap"
	"github.com/CorventLabs/corvent/coordination"
	"github.com/CorventLabs/corvent/coordination/memory"
	coordpg "github.com/CorventLabs/corvent/coordination/postgres"
	"github.com/CorventLabs/corvent/coordination/strategy"
	"github.com/CorventLabs/corvent/admin"
	"github.com/CorventLabs/corvent/dispatch"
	"github.com/CorventLabs/corvent/hooks"
	"github.com/CorventLabs/corvent/topics"
	"github.com/CorventLabs/corvent/transport"
	transportrabbit "github.com/CorventLabs/corvent/transport/rabbitmq"
	"github.com/CorventLabs/corvent/wire"
	"github.com/CorventLabs/corvent/workers/consumer"
	"github.com/CorventLabs/corvent/workers/perspective"
	"github.com/CorventLabs/corvent/workers/publisher"
	"github.com/gofiber/fiber/v2"
)

// Options carries the code-generated pieces a service plugs into the
// runtime: type registrations, perspectives, bindings and associations.
type Options struct {
	Registry       *wire.TypeRegistry
	Perspectives   *perspective.Registry
	ReadModelStore perspective.Store
	Bindings       []consumer.Binding
	Associations   []mmodel.MessageAssociation
	Resolver       topics.Resolver
	EnableAudit    bool
}

// Service is the assembled coordination runtime of one instance.
type Service struct {
	Config      *Config
	Logger      mlog.Logger
	Instance    mmodel.ServiceInstance
	Repo        coordination.Repository
	Dispatcher  *dispatch.Dispatcher
	Hooks       *hooks.Registry
	Publisher   *publisher.Publisher
	Consumer    *consumer.Consumer
	Perspective *perspective.Worker
	AdminApp    *fiber.App
	Auditor     *audit.Auditor

	// Bus is set in embedded mode only: the in-process transport.
	Bus *transport.Bus
	// AuditRepo is set when auditing is enabled.
	AuditRepo audit.Repository

	telemetry  *mopentelemetry.Telemetry
	strategies []strategy.Strategy
}

// InitService assembles the runtime: connections, repositories, strategies,
// dispatcher and the three worker loops.
func InitService(cfg *Config, opts Options) (*Service, error) {
	logger := mzap.InitializeLogger()

	telemetry := (&mopentelemetry.Telemetry{
		LibraryName:               cfg.OtelLibraryName,
		ServiceName:               cfg.OtelServiceName,
		ServiceVersion:            cfg.OtelServiceVersion,
		DeploymentEnv:             cfg.OtelDeploymentEnv,
		CollectorExporterEndpoint: cfg.OtelColExporterEndpoint,
		EnableTelemetry:           cfg.EnableTelemetry,
	}).InitializeTelemetry()

	instance := mmodel.NewServiceInstance(cfg.ServiceName)

	if opts.Registry == nil {
		opts.Registry = wire.NewTypeRegistry()
	}

	if opts.Perspectives == nil {
		opts.Perspectives = perspective.NewRegistry()
	}

	if opts.Resolver == nil {
		opts.Resolver = topics.NamespaceResolver{}
	}

	var (
		repo      coordination.Repository
		pub       transport.Publisher
		sub       transport.Subscriber
		store     perspective.Store
		cache     perspective.Invalidator
		auditRepo audit.Repository
	)

	var memBus *transport.Bus

	if cfg.Embedded {
		memStore := memory.NewStore()
		memBus = transport.NewBus()

		repo = memStore
		pub = memBus
		sub = memBus
		store = perspective.NewMemoryStore()
		auditRepo = audit.NewMemoryRepository()
	} else {
		postgresConnection := &mpostgres.PostgresConnection{
			ConnectionStringPrimary: fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
				cfg.PrimaryDBHost, cfg.PrimaryDBUser, cfg.PrimaryDBPassword, cfg.PrimaryDBName, cfg.PrimaryDBPort),
			ConnectionStringReplica: fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
				cfg.ReplicaDBHost, cfg.ReplicaDBUser, cfg.ReplicaDBPassword, cfg.ReplicaDBName, cfg.ReplicaDBPort),
			PrimaryDBName:      cfg.PrimaryDBName,
			ReplicaDBName:      cfg.ReplicaDBName,
			MigrationsPath:     cfg.MigrationsPath,
			Component:          cfg.ServiceName,
			MaxOpenConnections: cfg.MaxOpenConnections,
			MaxIdleConnections: cfg.MaxIdleConnections,
			Logger:             logger,
		}

		rabbitConnection := &mrabbitmq.RabbitMQConnection{
			ConnectionStringSource: fmt.Sprintf("amqp://%s:%s@%s:%s",
				cfg.RabbitMQUser, cfg.RabbitMQPass, cfg.RabbitMQHost, cfg.RabbitMQPortHost),
			Host:     cfg.RabbitMQHost,
			Port:     cfg.RabbitMQPortHost,
			User:     cfg.RabbitMQUser,
			Pass:     cfg.RabbitMQPass,
			Exchange: cfg.RabbitMQExchange,
			Logger:   logger,
		}

		repo = coordpg.NewCoordinationPostgreSQLRepository(postgresConnection, cfg.ServiceName)
		store = perspective.NewPostgreSQLStore(postgresConnection)

		rabbit := transportrabbit.New(rabbitConnection, cfg.RabbitMQPrefetch)
		pub = rabbit
		sub = rabbit

		if cfg.RedisHost != "" {
			redisConnection := &mredis.RedisConnection{
				Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
				User:     cfg.RedisUser,
				Password: cfg.RedisPassword,
				Protocol: 3,
				Logger:   logger,
			}

			cache = perspective.NewRedisCache(redisConnection, 0)
		}

		if opts.EnableAudit {
			mongoConnection := &mmongo.MongoConnection{
				ConnectionStringSource: fmt.Sprintf("mongodb://%s:%s@%s:%s",
					cfg.MongoDBUser, cfg.MongoDBPassword, cfg.MongoDBHost, cfg.MongoDBPort),
				Database:    cfg.MongoDBName,
				MaxPoolSize: common.SafeIntToUint64(cfg.MaxPoolSize),
				Logger:      logger,
			}

			auditRepo = audit.NewAuditMongoDBRepository(mongoConnection)
		}
	}

	if opts.ReadModelStore != nil {
		store = opts.ReadModelStore
	}

	ctx := common.ContextWithLogger(context.Background(), logger)

	if len(opts.Associations) > 0 {
		if err := repo.RegisterAssociations(ctx, opts.Associations); err != nil {
			return nil, err
		}
	}

	hookRegistry := hooks.NewRegistry(0, 0)

	strategyCfg := strategy.Config{
		Instance:                 instance,
		LeaseSeconds:             cfg.LeaseSeconds,
		StaleThresholdSeconds:    cfg.StaleThresholdSeconds,
		BatchSize:                cfg.BatchSize,
		PartitionCount:           cfg.PartitionCount,
		MaxPartitionsPerInstance: cfg.MaxPartitionsPerInstance,
	}

	svc := &Service{
		Config:    cfg,
		Logger:    logger,
		Instance:  instance,
		Repo:      repo,
		Hooks:     hookRegistry,
		Bus:       memBus,
		AuditRepo: auditRepo,
		telemetry: telemetry,
	}

	dispatchStrategy := svc.newStrategy(ctx, repo, strategyCfg)
	publisherStrategy := svc.newStrategy(ctx, repo, strategyCfg)
	consumerStrategy := svc.newStrategy(ctx, repo, strategyCfg)
	perspectiveStrategy := svc.newStrategy(ctx, repo, strategyCfg)

	codec := wire.JSONCodec{}

	svc.Dispatcher = dispatch.New(instance, dispatchStrategy, codec, opts.Registry, opts.Resolver, hookRegistry, cfg.BaseTopic)

	if opts.EnableAudit && auditRepo != nil {
		svc.Auditor = audit.NewAuditor(auditRepo, svc.Dispatcher, audit.DefaultCollection)
		hookRegistry.RegisterUniversalHook("audit", hooks.DefaultPriority, svc.Auditor.Hook())
	}

	svc.Publisher = publisher.New(publisherStrategy, pub, publisher.Config{
		PollingInterval:    cfg.PollingInterval(),
		IdleThresholdPolls: cfg.IdleThresholdPolls,
		DebugMode:          cfg.DebugMode,
	})

	svc.Consumer = consumer.New(consumerStrategy, sub, svc.Dispatcher, consumer.Config{
		Bindings:           opts.Bindings,
		PollingInterval:    cfg.PollingInterval(),
		IdleThresholdPolls: cfg.IdleThresholdPolls,
		DebugMode:          cfg.DebugMode,
	})

	svc.Perspective = perspective.New(perspectiveStrategy, repo, store, opts.Perspectives, hookRegistry, cache, perspective.Config{
		PollingInterval:    cfg.PollingInterval(),
		IdleThresholdPolls: cfg.IdleThresholdPolls,
		DebugMode:          cfg.DebugMode,
	})

	svc.AdminApp = admin.NewRouter(logger, repo)

	return svc, nil
}

func (s *Service) newStrategy(ctx context.Context, repo coordination.Repository, cfg strategy.Config) strategy.Strategy {
	var strat strategy.Strategy

	switch s.Config.StrategyKind {
	case "immediate":
		strat = strategy.NewImmediate(repo, cfg)
	case "interval":
		strat = strategy.NewInterval(ctx, repo, cfg, s.Config.PollingInterval())
	default:
		strat = strategy.NewManual(repo, cfg)
	}

	s.strategies = append(s.strategies, strat)

	return strat
}

type workerApp struct {
	name string
	run  func(ctx context.Context) error
}

// Run implements common.App.
func (w workerApp) Run(l *common.Launcher) error {
	ctx, stop := signal.NotifyContext(common.ContextWithLogger(context.Background(), l.Logger), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return w.run(ctx)
}

type adminApp struct {
	app     *fiber.App
	address string
}

// Run implements common.App.
func (a adminApp) Run(l *common.Launcher) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		_ = a.app.Shutdown()
	}()

	return a.app.Listen(a.address)
}

// Run starts the worker loops and the operator API and blocks until they
// stop.
func (s *Service) Run() {
	defer func() {
		for _, strat := range s.strategies {
			_ = strat.Close()
		}

		_ = s.Hooks.Close()

		if s.telemetry != nil {
			s.telemetry.ShutdownTelemetry()
		}

		_ = s.Logger.Sync()
	}()

	launcher := common.NewLauncher(
		common.WithLogger(s.Logger),
		common.RunApp("publisher", workerApp{name: "publisher", run: s.Publisher.Run}),
		common.RunApp("consumer", workerApp{name: "consumer", run: s.Consumer.Run}),
		common.RunApp("perspective", workerApp{name: "perspective", run: s.Perspective.Run}),
		common.RunApp("admin", adminApp{app: s.AdminApp, address: s.Config.AdminAddress}),
	)

	launcher.Run()
}
