package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-placement/internal/core/domain"
)

func TestMemoryStore_CreateAndGetOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	order := domain.NewOrder("order-1", []domain.OrderLineItem{
		{SKU: "A", Quantity: 3, UnitPrice: decimal.NewNullDecimal(decimal.RequireFromString("2.50"))},
	}, time.Now())
	order.IdempotencyKey = "key-1"
	order.TotalPrice = decimal.RequireFromString("7.50")

	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.GetOrder(ctx, "order-1")
	if err != nil || got == nil {
		t.Fatalf("expected order, got %v, %v", got, err)
	}
	if got.State != domain.OrderStatePersisted || !got.TotalPrice.Equal(order.TotalPrice) {
		t.Errorf("unexpected order: %+v", got)
	}

	byKey, _ := store.GetOrderByIdempotencyKey(ctx, "key-1")
	if byKey == nil || byKey.Number != "order-1" {
		t.Errorf("expected lookup by key to find order-1, got %+v", byKey)
	}

	dup := domain.NewOrder("order-2", order.LineItems, time.Now())
	dup.IdempotencyKey = "key-1"
	if err := store.CreateOrder(ctx, dup); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got %v", err)
	}
	if err := store.CreateOrder(ctx, order); !errors.Is(err, domain.ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest for same number, got %v", err)
	}

	missing, err := store.GetOrder(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil order, got %v, %v", missing, err)
	}
}

func TestMemoryStore_Products(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return created }

	store.UpsertProduct(ctx, domain.Product{Name: "B", Price: decimal.NewFromInt(3)})
	store.UpsertProduct(ctx, domain.Product{Name: "A", Price: decimal.NewFromInt(1)})

	store.now = func() time.Time { return created.Add(time.Hour) }
	store.UpsertProduct(ctx, domain.Product{Name: "A", Price: decimal.NewFromInt(2)})

	products, _ := store.ListProducts(ctx)
	if len(products) != 2 || products[0].Name != "A" || products[1].Name != "B" {
		t.Fatalf("unexpected products: %+v", products)
	}
	if !products[0].Price.Equal(decimal.NewFromInt(2)) {
		t.Errorf("expected updated price 2, got %s", products[0].Price)
	}
	if !products[0].CreatedAt.Equal(created) || !products[0].UpdatedAt.Equal(created.Add(time.Hour)) {
		t.Errorf("unexpected timestamps: %v %v", products[0].CreatedAt, products[0].UpdatedAt)
	}

	found, _ := store.GetProductsByNames(ctx, []string{"A", "ghost"})
	if len(found) != 1 || found[0].Name != "A" {
		t.Errorf("unexpected lookup: %+v", found)
	}
}

func TestMemoryStore_ClaimAndForget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	if ok, _ := store.Claim(ctx, "k"); !ok {
		t.Fatal("expected first claim to win")
	}
	if ok, _ := store.Claim(ctx, "k"); ok {
		t.Fatal("expected second claim to lose")
	}

	store.Forget(ctx, "k")
	if ok, _ := store.Claim(ctx, "k"); !ok {
		t.Fatal("expected claim after forget to win")
	}

	now = now.Add(idempotencyKeyTTL + time.Second)
	if ok, _ := store.Claim(ctx, "k"); !ok {
		t.Error("expected expired claim to be reclaimable")
	}
}

func TestMemoryStore_ConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := store.Claim(ctx, "same-key"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
}
