package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/order-placement/internal/adapter/messaging"
	"github.com/rl1809/order-placement/internal/adapter/storage"
	"github.com/rl1809/order-placement/internal/core/domain"
	"github.com/rl1809/order-placement/internal/core/service"
)

const (
	defaultRedisAddr = "localhost:6379"
	sku              = "flash-sale-item"
	unitPrice        = "19.99"
	initialStock     = 20
	totalRequests    = 50
)

func main() {
	ctx := context.Background()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = defaultRedisAddr
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Clear previous test data
	rdb.Del(ctx, "stock:"+sku)
	keys := must(rdb.Keys(ctx, "reservation:stress-*").Result())
	keys = append(keys, must(rdb.Keys(ctx, "idempotency:stress-*").Result())...)
	if len(keys) > 0 {
		rdb.Del(ctx, keys...)
	}

	// Initialize adapters and services
	ledger := storage.NewRedisAdapter(rdb)
	if err := ledger.SetStock(ctx, sku, initialStock); err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	store := storage.NewMemoryStore()
	products := service.NewProductService(store, ledger, nil)
	if err := products.CreateProduct(ctx, service.ProductRequest{Name: sku, Price: decimal.RequireFromString(unitPrice)}); err != nil {
		log.Fatalf("failed to create product: %v", err)
	}

	dispatcher := messaging.NewDispatcher(messaging.NewLogPublisher(zap.NewNop()), 4, totalRequests, time.Second, nil)
	defer dispatcher.Close()

	orderService, err := service.NewOrderService(products, ledger, store, dispatcher,
		service.WithIdempotencyStore(ledger))
	if err != nil {
		log.Fatalf("failed to create order service: %v", err)
	}

	// Counters
	var placed, rejected, degraded, failed atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			result, err := orderService.PlaceOrder(ctx, service.PlaceOrderInput{
				IdempotencyKey: fmt.Sprintf("stress-%d", userID),
				Items:          []domain.OrderLineItem{{SKU: sku, Quantity: 1}},
			})
			switch {
			case err != nil:
				failed.Add(1)
			case result.Status == domain.PlacementPlaced:
				placed.Add(1)
			case result.Status == domain.PlacementDegraded:
				degraded.Add(1)
			default:
				rejected.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Placed:           %d\n", placed.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Degraded:         %d\n", degraded.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if placed.Load() == initialStock && rejected.Load() == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d orders placed, %d rejected\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d placed/%d rejected, got %d/%d\n",
			initialStock, totalRequests-initialStock, placed.Load(), rejected.Load())
	}

	// Verify final stock in Redis
	entry, err := ledger.Get(ctx, sku)
	if err != nil || entry == nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Redis Stock: %d (version %d)\n", entry.Quantity, entry.Version)

	if entry.Quantity == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", entry.Quantity)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return v
}
