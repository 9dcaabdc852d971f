package bootstrap

import (
	"time"

	"github.com/CorventLabs/corvent/common"
	"github.com/go-playground/validator/v10"
)

// ApplicationName is the default service name of the coordination runtime.
const ApplicationName = "corvent"

// Config is the configuration struct for the coordination runtime. Every
// knob of the worker loops is settable from the environment.
type Config struct {
	EnvName     string `env:"ENV_NAME"`
	LogLevel    string `env:"LOG_LEVEL"`
	ServiceName string `env:"SERVICE_NAME" validate:"required"`

	// Embedded mode runs on the in-memory coordinator and bus, without any
	// backing infrastructure.
	Embedded bool `env:"EMBEDDED_MODE"`

	PrimaryDBHost      string `env:"DB_HOST"`
	PrimaryDBUser      string `env:"DB_USER"`
	PrimaryDBPassword  string `env:"DB_PASSWORD"`
	PrimaryDBName      string `env:"DB_NAME"`
	PrimaryDBPort      string `env:"DB_PORT"`
	ReplicaDBHost      string `env:"DB_REPLICA_HOST"`
	ReplicaDBUser      string `env:"DB_REPLICA_USER"`
	ReplicaDBPassword  string `env:"DB_REPLICA_PASSWORD"`
	ReplicaDBName      string `env:"DB_REPLICA_NAME"`
	ReplicaDBPort      string `env:"DB_REPLICA_PORT"`
	MaxOpenConnections int    `env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConnections int    `env:"DB_MAX_IDLE_CONNS"`
	MigrationsPath     string `env:"DB_MIGRATIONS_PATH"`

	MongoDBHost     string `env:"MONGO_HOST"`
	MongoDBName     string `env:"MONGO_NAME"`
	MongoDBUser     string `env:"MONGO_USER"`
	MongoDBPassword string `env:"MONGO_PASSWORD"`
	MongoDBPort     string `env:"MONGO_PORT"`
	MaxPoolSize     int    `env:"MONGO_MAX_POOL_SIZE"`

	RabbitMQHost     string `env:"RABBITMQ_HOST"`
	RabbitMQPortHost string `env:"RABBITMQ_PORT_HOST"`
	RabbitMQUser     string `env:"RABBITMQ_DEFAULT_USER"`
	RabbitMQPass     string `env:"RABBITMQ_DEFAULT_PASS"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE"`
	RabbitMQPrefetch int    `env:"RABBITMQ_PREFETCH"`

	RedisHost     string `env:"REDIS_HOST"`
	RedisPort     string `env:"REDIS_PORT"`
	RedisUser     string `env:"REDIS_USER"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	AdminAddress string `env:"ADMIN_ADDRESS"`

	BaseTopic string `env:"BASE_TOPIC"`

	PollingIntervalMilliseconds int  `env:"POLLING_INTERVAL_MILLISECONDS" validate:"gte=0"`
	LeaseSeconds                int  `env:"LEASE_SECONDS" validate:"gte=0"`
	StaleThresholdSeconds       int  `env:"STALE_THRESHOLD_SECONDS" validate:"gte=0"`
	DebugMode                   bool `env:"DEBUG_MODE"`
	PartitionCount              int  `env:"PARTITION_COUNT" validate:"gte=0"`
	IdleThresholdPolls          int  `env:"IDLE_THRESHOLD_POLLS" validate:"gte=0"`
	MaxPartitionsPerInstance    int  `env:"MAX_PARTITIONS_PER_INSTANCE" validate:"gte=0"`
	BatchSize                   int  `env:"BATCH_SIZE" validate:"gte=0"`

	StrategyKind            string `env:"STRATEGY_KIND"`
	StrategyFlushIntervalMs int    `env:"STRATEGY_FLUSH_INTERVAL_MILLISECONDS" validate:"gte=0"`

	OtelServiceName         string `env:"OTEL_RESOURCE_SERVICE_NAME"`
	OtelLibraryName         string `env:"OTEL_LIBRARY_NAME"`
	OtelServiceVersion      string `env:"OTEL_RESOURCE_SERVICE_VERSION"`
	OtelDeploymentEnv       string `env:"OTEL_RESOURCE_DEPLOYMENT_ENVIRONMENT"`
	OtelColExporterEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	EnableTelemetry         bool   `env:"ENABLE_TELEMETRY"`
}

// NewConfig loads and validates the configuration from the environment.
func NewConfig() (*Config, error) {
	common.InitLocalEnvConfig()

	cfg := &Config{}

	if err := common.SetConfigFromEnvVars(cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.ServiceName == "" {
		cfg.ServiceName = ApplicationName
	}

	if cfg.PollingIntervalMilliseconds == 0 {
		cfg.PollingIntervalMilliseconds = 100
	}

	if cfg.LeaseSeconds == 0 {
		cfg.LeaseSeconds = 30
	}

	if cfg.StaleThresholdSeconds == 0 {
		cfg.StaleThresholdSeconds = 30
	}

	if cfg.PartitionCount == 0 {
		cfg.PartitionCount = 10000
	}

	if cfg.IdleThresholdPolls == 0 {
		cfg.IdleThresholdPolls = 2
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}

	if cfg.BaseTopic == "" {
		cfg.BaseTopic = cfg.ServiceName
	}

	if cfg.AdminAddress == "" {
		cfg.AdminAddress = ":8686"
	}

	if cfg.StrategyKind == "" {
		cfg.StrategyKind = "manual"
	}

	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "migrations"
	}
}

// PollingInterval returns the poll cadence as a duration.
func (cfg *Config) PollingInterval() time.Duration {
	return time.Duration(cfg.PollingIntervalMilliseconds) * time.Millisecond
}
