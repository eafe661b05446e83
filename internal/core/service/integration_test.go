package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-placement/internal/adapter/storage"
	"github.com/rl1809/order-placement/internal/core/domain"
)

type testEnv struct {
	redis *redis.Client
	mysql *sql.DB
	cache *storage.RedisAdapter
	db    *storage.MySQLAdapter
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/orders"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	mysqlDSN, err := storage.MySQLDSN(mysqlDSN)
	if err != nil {
		t.Fatalf("invalid MYSQL_DSN: %v", err)
	}
	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	return &testEnv{
		redis: rdb,
		mysql: db,
		cache: storage.NewRedisAdapter(rdb),
		db:    adapter,
	}
}

func TestIntegration_FullPlacementFlow(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	sku := "integration-" + uuid.NewString()
	initialStock := 10

	// Setup: catalog in MySQL, stock in Redis
	products := NewProductService(env.db, env.cache, nil)
	err := products.CreateProduct(ctx, ProductRequest{Name: sku, Price: decimal.RequireFromString("4.99"), Quantity: initialStock})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	publisher := &mockPublisher{}
	svc, err := NewOrderService(products, env.cache, env.db, publisher, WithIdempotencyStore(env.cache))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	// Execute placements
	var placed, rejected atomic.Int32
	var numbers sync.Map
	var wg sync.WaitGroup
	totalRequests := 30

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()
			result, err := svc.PlaceOrder(ctx, PlaceOrderInput{
				IdempotencyKey: fmt.Sprintf("%s-user-%d", sku, userID),
				Items:          items(sku, 1),
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			switch result.Status {
			case domain.PlacementPlaced:
				placed.Add(1)
				numbers.Store(result.Order.Number, struct{}{})
			case domain.PlacementRejected:
				if result.Reason != domain.ReasonInsufficientStock {
					t.Errorf("unexpected rejection: %s", result.Reason)
				}
				rejected.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// Verify results
	if placed.Load() != int32(initialStock) || rejected.Load() != int32(totalRequests-initialStock) {
		t.Errorf("expected %d placed/%d rejected, got %d/%d",
			initialStock, totalRequests-initialStock, placed.Load(), rejected.Load())
	}

	entry, err := env.cache.Get(ctx, sku)
	if err != nil || entry == nil {
		t.Fatalf("failed to read stock: %v", err)
	}
	if entry.Quantity != 0 {
		t.Errorf("expected Redis stock 0, got %d", entry.Quantity)
	}

	// Verify MySQL orders
	var stored int
	numbers.Range(func(key, _ any) bool {
		order, err := env.db.GetOrder(ctx, key.(string))
		if err == nil && order != nil && order.TotalPrice.Equal(decimal.RequireFromString("4.99")) {
			stored++
		}
		return true
	})
	if stored != initialStock {
		t.Errorf("expected %d orders in MySQL, got %d", initialStock, stored)
	}
	if len(publisher.events) != initialStock {
		t.Errorf("expected %d events, got %d", initialStock, len(publisher.events))
	}
}

func TestIntegration_ReleaseOnPersistenceFailure(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	sku := "release-" + uuid.NewString()
	initialStock := 5

	if err := env.cache.SetStock(ctx, sku, initialStock); err != nil {
		t.Fatalf("set stock failed: %v", err)
	}

	orders := newMockOrderRepo()
	orders.err = errors.New("connection reset")
	svc, err := NewOrderService(newMockCatalog(map[string]string{sku: "1.00"}), env.cache, orders, &mockPublisher{})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	_, err = svc.PlaceOrder(ctx, PlaceOrderInput{IdempotencyKey: sku, Items: items(sku, 2)})
	if !errors.Is(err, domain.ErrPersistenceFailure) {
		t.Fatalf("expected persistence failure, got %v", err)
	}

	// Verify stock was released
	entry, _ := env.cache.Get(ctx, sku)
	if entry == nil || entry.Quantity != initialStock {
		t.Errorf("expected Redis stock %d after release, got %+v", initialStock, entry)
	}

	// The reservation is gone, so a retry with the same key deducts again.
	orders.err = nil
	result, err := svc.PlaceOrder(ctx, PlaceOrderInput{IdempotencyKey: sku, Items: items(sku, 2)})
	if err != nil || result.Status != domain.PlacementPlaced {
		t.Fatalf("expected retry to place, got %+v, %v", result, err)
	}
	entry, _ = env.cache.Get(ctx, sku)
	if entry.Quantity != initialStock-2 {
		t.Errorf("expected %d after retry, got %d", initialStock-2, entry.Quantity)
	}
}
