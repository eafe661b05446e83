package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/order-placement/internal/adapter/client"
	"github.com/rl1809/order-placement/internal/adapter/handler"
	"github.com/rl1809/order-placement/internal/adapter/messaging"
	"github.com/rl1809/order-placement/internal/adapter/rpc"
	"github.com/rl1809/order-placement/internal/adapter/storage"
	"github.com/rl1809/order-placement/internal/config"
	"github.com/rl1809/order-placement/internal/core/service"
	"github.com/rl1809/order-placement/internal/logging"
	"github.com/rl1809/order-placement/internal/observability"
	"github.com/rl1809/order-placement/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.Version, cfg.OtelEndpoint, cfg.OtelInsecure)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	memoryStore := storage.NewMemoryStore()
	var (
		orders      port.OrderRepository   = memoryStore
		products    port.ProductRepository = memoryStore
		idempotency port.IdempotencyStore  = memoryStore
	)

	// Initialize MySQL
	var db *sql.DB
	var mysqlAdapter *storage.MySQLAdapter
	if cfg.MySQLDSN != "" {
		dsn, err := storage.MySQLDSN(cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("invalid mysql dsn", zap.Error(err))
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			logger.Fatal("failed to connect mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQLConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping mysql", zap.Error(err))
		}
		mysqlAdapter = storage.NewMySQLAdapter(db)
		if cfg.MySQLMigrate {
			if err := mysqlAdapter.Migrate(ctx); err != nil {
				logger.Fatal("failed to migrate mysql", zap.Error(err))
			}
		}
		orders, products = mysqlAdapter, mysqlAdapter
		logger.Info("connected to mysql")
	}

	// Initialize Redis
	var rdb *redis.Client
	var redisAdapter *storage.RedisAdapter
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: cfg.RedisPoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		redisAdapter = storage.NewRedisAdapter(rdb)
		idempotency = redisAdapter
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	}

	var localLedger port.StockLedger
	switch cfg.LedgerBackend {
	case config.LedgerMySQL:
		localLedger = mysqlAdapter
	case config.LedgerRedis:
		localLedger = redisAdapter
	default:
		localLedger = storage.NewMemoryLedger()
	}
	logger.Info("stock ledger ready", zap.String("backend", cfg.LedgerBackend))

	inventoryService := service.NewInventoryService(localLedger, logger.Named("inventory"))
	productService := service.NewProductService(products, localLedger, logger.Named("product"))

	// The orchestrator talks to the local ledger and catalog unless remote
	// services are configured.
	ledger := localLedger
	var inventoryClient *client.InventoryClient
	if cfg.InventoryAddr != "" {
		inventoryClient, err = client.NewInventoryClient(cfg.InventoryAddr)
		if err != nil {
			logger.Fatal("failed to create inventory client", zap.Error(err))
		}
		ledger = inventoryClient
		logger.Info("using remote inventory", zap.String("addr", cfg.InventoryAddr))
	}

	var catalog port.ProductCatalog = productService
	if cfg.CatalogURL != "" {
		catalog = client.NewCatalogClient(cfg.CatalogURL, &http.Client{Timeout: cfg.CatalogGate.Timeout})
		logger.Info("using remote catalog", zap.String("url", cfg.CatalogURL))
	}

	// Initialize event publishing
	var sink port.EventPublisher = messaging.NewLogPublisher(logger.Named("events"))
	var producer *messaging.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = messaging.NewKafkaProducer(
			messaging.NewKafkaWriter(cfg.KafkaBrokers),
			cfg.KafkaTopic,
			cfg.KafkaRetries,
			cfg.KafkaRetryBackoff,
			logger.Named("kafka"),
		)
		sink = producer
		logger.Info("publishing to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}
	dispatcher := messaging.NewDispatcher(sink, cfg.DispatchWorkers, cfg.DispatchQueueSize, cfg.DispatchTimeout, logger.Named("dispatcher"))
	logger.Info("started dispatch workers", zap.Int("workers", cfg.DispatchWorkers))

	orderService, err := service.NewOrderService(catalog, ledger, orders, dispatcher,
		service.WithLogger(logger.Named("order")),
		service.WithIdempotencyStore(idempotency),
		service.WithInventoryGate(cfg.InventoryGate.Settings()),
		service.WithCatalogGate(cfg.CatalogGate.Settings()),
	)
	if err != nil {
		logger.Fatal("failed to create order service", zap.Error(err))
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	rpc.RegisterInventoryServer(grpcServer, handler.NewGRPCHandler(inventoryService))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(orderService, inventoryService, productService, logger.Named("http"))
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpHandler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	// Drain queued events before closing the producer
	dispatcher.Close()
	logger.Info("dispatch workers stopped")

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("kafka producer close", zap.Error(err))
		}
	}
	if inventoryClient != nil {
		inventoryClient.Close()
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", zap.Error(err))
	}
	logger.Info("connections closed")
}
