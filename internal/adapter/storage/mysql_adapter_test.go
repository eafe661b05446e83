package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-placement/internal/core/domain"
)

func getMySQLAdapter(t *testing.T) (*MySQLAdapter, *sql.DB) {
	t.Helper()
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/orders"
	}
	dsn, err := MySQLDSN(dsn)
	if err != nil {
		t.Fatalf("invalid MYSQL_DSN: %v", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return adapter, db
}

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name string
		dsn  string
	}{
		{"without params", "app:secret@tcp(db:3306)/orders"},
		{"parse time disabled", "app:secret@tcp(db:3306)/orders?parseTime=false"},
		{"other params kept", "app:secret@tcp(db:3306)/orders?sql_mode=ANSI&timeout=5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MySQLDSN(tt.dsn)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			cfg, err := mysql.ParseDSN(got)
			if err != nil {
				t.Fatalf("normalized dsn does not parse: %v", err)
			}
			if !cfg.ParseTime {
				t.Errorf("expected parseTime in %q", got)
			}
			if cfg.User != "app" || cfg.Passwd != "secret" || cfg.Addr != "db:3306" || cfg.DBName != "orders" {
				t.Errorf("connection details lost: %q", got)
			}
		})
	}

	got, _ := MySQLDSN("app:secret@tcp(db:3306)/orders?sql_mode=ANSI&timeout=5s")
	if cfg, _ := mysql.ParseDSN(got); cfg.Params["sql_mode"] != "ANSI" || cfg.Timeout != 5*time.Second {
		t.Errorf("params dropped: %q", got)
	}

	if _, err := MySQLDSN("not a dsn"); err == nil {
		t.Error("expected error for malformed dsn")
	}
}

func setStock(t *testing.T, db *sql.DB, sku string, quantity int) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO inventory (sku_code, quantity, version, created_at, updated_at) VALUES (?, ?, 0, NOW(6), NOW(6))
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), version = 0`, sku, quantity)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	t.Cleanup(func() { db.Exec(`DELETE FROM inventory WHERE sku_code = ?`, sku) })
}

func mysqlStock(t *testing.T, db *sql.DB, sku string) int {
	t.Helper()
	var quantity int
	if err := db.QueryRow(`SELECT quantity FROM inventory WHERE sku_code = ?`, sku).Scan(&quantity); err != nil {
		t.Fatalf("read stock of %s: %v", sku, err)
	}
	return quantity
}

func TestMySQL_CheckAndDeduct_Success(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	ctx := context.Background()
	setStock(t, db, "mysql-a", 10)

	if err := adapter.CheckAndDeduct(ctx, "", []domain.StockAdjustment{deduct("mysql-a", 3)}); err != nil {
		t.Fatalf("CheckAndDeduct failed: %v", err)
	}
	if got := mysqlStock(t, db, "mysql-a"); got != 7 {
		t.Errorf("expected stock 7, got %d", got)
	}

	entry, err := adapter.Get(ctx, "mysql-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry == nil || entry.Version != 1 {
		t.Errorf("expected version 1, got %+v", entry)
	}
}

func TestMySQL_CheckAndDeduct_InsufficientStockIsAllOrNothing(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	ctx := context.Background()
	setStock(t, db, "mysql-a", 10)
	setStock(t, db, "mysql-b", 5)

	err := adapter.CheckAndDeduct(ctx, "", []domain.StockAdjustment{deduct("mysql-a", 3), deduct("mysql-b", 10)})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := mysqlStock(t, db, "mysql-a"); got != 10 {
		t.Errorf("expected stock 10, got %d", got)
	}
	if got := mysqlStock(t, db, "mysql-b"); got != 5 {
		t.Errorf("expected stock 5, got %d", got)
	}
}

func TestMySQL_CheckAndDeduct_SkuNotFound(t *testing.T) {
	adapter, _ := getMySQLAdapter(t)

	err := adapter.CheckAndDeduct(context.Background(), "", []domain.StockAdjustment{deduct("mysql-ghost", 1)})
	if !errors.Is(err, domain.ErrSkuNotFound) {
		t.Fatalf("expected ErrSkuNotFound, got %v", err)
	}
}

func TestMySQL_CheckAndDeduct_Concurrent(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	ctx := context.Background()

	initialStock := 20
	totalRequests := 50
	setStock(t, db, "mysql-concurrent", initialStock)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.CheckAndDeduct(ctx, "", []domain.StockAdjustment{deduct("mysql-concurrent", 1)})
			if err == nil {
				successCount.Add(1)
			} else if !errors.Is(err, domain.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	if got := mysqlStock(t, db, "mysql-concurrent"); got != 0 {
		t.Errorf("expected stock 0, got %d", got)
	}
}

func TestMySQL_ReservationKeyAndRelease(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	ctx := context.Background()
	setStock(t, db, "mysql-res", 10)

	key := "test-reservation-" + uuid.NewString()
	batch := []domain.StockAdjustment{deduct("mysql-res", 4)}

	for i := 0; i < 2; i++ {
		if err := adapter.CheckAndDeduct(ctx, key, batch); err != nil {
			t.Fatalf("attempt %d failed: %v", i, err)
		}
	}
	if got := mysqlStock(t, db, "mysql-res"); got != 6 {
		t.Errorf("expected stock 6, got %d", got)
	}

	if err := adapter.Release(ctx, key, batch); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := adapter.Release(ctx, key, batch); err != nil {
		t.Fatalf("second Release failed: %v", err)
	}
	if got := mysqlStock(t, db, "mysql-res"); got != 10 {
		t.Errorf("expected stock 10 after release, got %d", got)
	}
}

func TestMySQL_CheckAndAdd_Upsert(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	ctx := context.Background()

	sku := "mysql-new-" + uuid.NewString()[:8]
	t.Cleanup(func() { db.Exec(`DELETE FROM inventory WHERE sku_code = ?`, sku) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := adapter.CheckAndAdd(ctx, []domain.StockAdjustment{add(sku, 2)}); err != nil {
				t.Errorf("CheckAndAdd failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := mysqlStock(t, db, sku); got != 20 {
		t.Errorf("expected stock 20, got %d", got)
	}
}

func TestMySQL_CreateAndGetOrder(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	ctx := context.Background()

	order := domain.NewOrder(uuid.NewString(), []domain.OrderLineItem{
		{SKU: "A", Quantity: 3},
		{SKU: "B", Quantity: 1},
	}, time.Now())
	order.IdempotencyKey = "idem-" + order.Number
	if err := order.ApplyPrices(map[string]decimal.Decimal{
		"A": decimal.RequireFromString("2.50"),
		"B": decimal.RequireFromString("10"),
	}); err != nil {
		t.Fatalf("ApplyPrices failed: %v", err)
	}
	t.Cleanup(func() {
		db.Exec(`DELETE FROM order_line_items WHERE order_number = ?`, order.Number)
		db.Exec(`DELETE FROM orders WHERE order_number = ?`, order.Number)
	})

	if err := adapter.CreateOrder(ctx, order); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	got, err := adapter.GetOrder(ctx, order.Number)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected order, got nil")
	}
	if !got.TotalPrice.Equal(decimal.RequireFromString("17.50")) {
		t.Errorf("expected total 17.50, got %s", got.TotalPrice)
	}
	if len(got.LineItems) != 2 || got.LineItems[0].SKU != "A" || !got.LineItems[0].UnitPrice.Decimal.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("unexpected line items: %+v", got.LineItems)
	}

	byKey, err := adapter.GetOrderByIdempotencyKey(ctx, order.IdempotencyKey)
	if err != nil {
		t.Fatalf("GetOrderByIdempotencyKey failed: %v", err)
	}
	if byKey == nil || byKey.Number != order.Number {
		t.Errorf("expected order %s by idempotency key, got %+v", order.Number, byKey)
	}

	if err := adapter.CreateOrder(ctx, order); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest on second insert, got %v", err)
	}
}

func TestMySQL_GetOrder_NotFound(t *testing.T) {
	adapter, _ := getMySQLAdapter(t)

	order, err := adapter.GetOrder(context.Background(), "nonexistent-order")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Error("expected nil for nonexistent order")
	}
}

func TestMySQL_Products(t *testing.T) {
	adapter, db := getMySQLAdapter(t)
	ctx := context.Background()
	t.Cleanup(func() { db.Exec(`DELETE FROM products WHERE name LIKE 'mysql-product-%'`) })

	p := domain.Product{Name: "mysql-product-1", Description: "first", Price: decimal.RequireFromString("9.99")}
	if err := adapter.UpsertProduct(ctx, p); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}
	p.Price = decimal.RequireFromString("12.00")
	if err := adapter.UpsertProduct(ctx, p); err != nil {
		t.Fatalf("second UpsertProduct failed: %v", err)
	}

	products, err := adapter.GetProductsByNames(ctx, []string{"mysql-product-1", "mysql-product-missing"})
	if err != nil {
		t.Fatalf("GetProductsByNames failed: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(products))
	}
	if !products[0].Price.Equal(decimal.RequireFromString("12")) {
		t.Errorf("expected updated price 12, got %s", products[0].Price)
	}
}
