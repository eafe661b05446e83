package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/rl1809/order-placement/internal/core/resilience"
)

const (
	LedgerMemory = "memory"
	LedgerMySQL  = "mysql"
	LedgerRedis  = "redis"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"order-placement"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `env:"GRPC_ADDR" envDefault:":50051"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	// LedgerBackend is one of memory, mysql or redis
	LedgerBackend string `env:"LEDGER_BACKEND" envDefault:"memory"`

	// MySQLDSN empty keeps orders and products in memory
	MySQLDSN             string        `env:"MYSQL_DSN"`
	MySQLMaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"50"`
	MySQLMaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"25"`
	MySQLConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
	MySQLMigrate         bool          `env:"MYSQL_MIGRATE" envDefault:"true"`

	// RedisAddr empty disables the Redis idempotency store
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"100"`

	// InventoryAddr points the orchestrator at a remote gRPC ledger
	InventoryAddr string `env:"INVENTORY_GRPC_ADDR"`
	// CatalogURL points the orchestrator at a remote product service
	CatalogURL string `env:"CATALOG_URL"`

	KafkaBrokers      []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic        string        `env:"KAFKA_TOPIC" envDefault:"orders.placed"`
	KafkaRetries      int           `env:"KAFKA_RETRIES" envDefault:"3"`
	KafkaRetryBackoff time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"100ms"`

	DispatchWorkers   int           `env:"DISPATCH_WORKERS" envDefault:"10"`
	DispatchQueueSize int           `env:"DISPATCH_QUEUE_SIZE" envDefault:"10000"`
	DispatchTimeout   time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"5s"`

	InventoryGate GateConfig `envPrefix:"INVENTORY_GATE_"`
	CatalogGate   GateConfig `envPrefix:"CATALOG_GATE_"`

	OtelEndpoint string `env:"OTEL_ENDPOINT"`
	OtelInsecure bool   `env:"OTEL_INSECURE" envDefault:"true"`
}

type GateConfig struct {
	Timeout              time.Duration `env:"TIMEOUT" envDefault:"3s"`
	FailureRateThreshold float64       `env:"FAILURE_RATE_THRESHOLD" envDefault:"0.5"`
	SlidingWindowSize    int           `env:"SLIDING_WINDOW_SIZE" envDefault:"10"`
	OpenStateDuration    time.Duration `env:"OPEN_STATE_DURATION" envDefault:"5s"`
	HalfOpenMaxCalls     int           `env:"HALF_OPEN_MAX_CALLS" envDefault:"3"`
}

func (g GateConfig) Settings() resilience.Settings {
	return resilience.Settings{
		Timeout:              g.Timeout,
		FailureRateThreshold: g.FailureRateThreshold,
		SlidingWindowSize:    g.SlidingWindowSize,
		OpenStateDuration:    g.OpenStateDuration,
		HalfOpenMaxCalls:     g.HalfOpenMaxCalls,
	}
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("ledger backend %s requires MYSQL_DSN", c.LedgerBackend)
		}
	case LedgerRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("ledger backend %s requires REDIS_ADDR", c.LedgerBackend)
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", c.LedgerBackend)
	}

	if err := c.InventoryGate.Settings().Validate(); err != nil {
		return fmt.Errorf("inventory gate: %w", err)
	}
	if err := c.CatalogGate.Settings().Validate(); err != nil {
		return fmt.Errorf("catalog gate: %w", err)
	}
	if c.DispatchQueueSize < 0 {
		return fmt.Errorf("dispatch queue size must not be negative, got %d", c.DispatchQueueSize)
	}
	return nil
}
