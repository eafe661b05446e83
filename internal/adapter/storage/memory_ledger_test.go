package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rl1809/order-placement/internal/core/domain"
)

func deduct(sku string, qty int) domain.StockAdjustment {
	return domain.StockAdjustment{SKU: sku, Quantity: qty, Operation: domain.OperationDeduct}
}

func add(sku string, qty int) domain.StockAdjustment {
	return domain.StockAdjustment{SKU: sku, Quantity: qty, Operation: domain.OperationAdd}
}

func stockOf(t *testing.T, l *MemoryLedger, sku string) int {
	t.Helper()
	entry, err := l.Get(context.Background(), sku)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", sku, err)
	}
	if entry == nil {
		t.Fatalf("expected entry for %s", sku)
	}
	return entry.Quantity
}

func TestMemoryLedger_CheckAndDeduct_Success(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", 10)
	ledger.SetStock(ctx, "B", 4)

	err := ledger.CheckAndDeduct(ctx, "", []domain.StockAdjustment{deduct("A", 3), deduct("B", 4)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := stockOf(t, ledger, "A"); got != 7 {
		t.Errorf("expected A=7, got %d", got)
	}
	if got := stockOf(t, ledger, "B"); got != 0 {
		t.Errorf("expected B=0, got %d", got)
	}
}

func TestMemoryLedger_CheckAndDeduct_InsufficientStockLeavesBatchUntouched(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", 10)
	ledger.SetStock(ctx, "B", 5)

	err := ledger.CheckAndDeduct(ctx, "", []domain.StockAdjustment{deduct("A", 3), deduct("B", 10)})

	var stockErr *domain.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected StockError, got %v", err)
	}
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Errorf("expected ErrInsufficientStock, got %v", err)
	}
	if stockErr.SKU != "B" || stockErr.Available != 5 || stockErr.Requested != 10 {
		t.Errorf("unexpected error detail: %+v", stockErr)
	}

	if got := stockOf(t, ledger, "A"); got != 10 {
		t.Errorf("partial deduction: expected A=10, got %d", got)
	}
	if got := stockOf(t, ledger, "B"); got != 5 {
		t.Errorf("expected B=5, got %d", got)
	}
}

func TestMemoryLedger_CheckAndDeduct_SkuNotFound(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", 10)

	err := ledger.CheckAndDeduct(ctx, "", []domain.StockAdjustment{deduct("A", 1), deduct("ghost", 1)})
	if !errors.Is(err, domain.ErrSkuNotFound) {
		t.Fatalf("expected ErrSkuNotFound, got %v", err)
	}
	var stockErr *domain.StockError
	if errors.As(err, &stockErr) && stockErr.SKU != "ghost" {
		t.Errorf("expected sku ghost, got %s", stockErr.SKU)
	}
	if got := stockOf(t, ledger, "A"); got != 10 {
		t.Errorf("expected A=10, got %d", got)
	}
}

func TestMemoryLedger_CheckAndDeduct_MergesDuplicateSKUs(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", 5)

	// 3 + 3 exceeds 5 even though each line fits on its own.
	err := ledger.CheckAndDeduct(ctx, "", []domain.StockAdjustment{deduct("A", 3), deduct("A", 3)})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := stockOf(t, ledger, "A"); got != 5 {
		t.Errorf("expected A=5, got %d", got)
	}
}

func TestMemoryLedger_InvalidBatch(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	tests := []struct {
		name  string
		items []domain.StockAdjustment
	}{
		{"empty batch", nil},
		{"empty sku", []domain.StockAdjustment{deduct("", 1)}},
		{"zero quantity", []domain.StockAdjustment{deduct("A", 0)}},
		{"negative quantity", []domain.StockAdjustment{deduct("A", -2)}},
		{"quantity above column width", []domain.StockAdjustment{deduct("A", domain.MaxQuantity+1)}},
		{"merged quantity overflows", []domain.StockAdjustment{deduct("A", math.MaxInt), deduct("A", math.MaxInt)}},
		{"merged quantity above column width", []domain.StockAdjustment{deduct("A", domain.MaxQuantity), deduct("A", 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ledger.CheckAndDeduct(ctx, "", tt.items); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("deduct: expected ErrInvalidRequest, got %v", err)
			}
			if err := ledger.CheckAndAdd(ctx, tt.items); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("add: expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestMemoryLedger_ConcurrentOverlappingDeductions(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", 10)

	var successCount atomic.Int32
	var insufficientCount atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for _, qty := range []int{7, 6} {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			<-start
			err := ledger.CheckAndDeduct(ctx, "", []domain.StockAdjustment{deduct("A", qty)})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(qty)
	}
	close(start)
	wg.Wait()

	if successCount.Load() != 1 || insufficientCount.Load() != 1 {
		t.Fatalf("expected 1 success and 1 insufficient, got %d/%d", successCount.Load(), insufficientCount.Load())
	}
	if got := stockOf(t, ledger, "A"); got != 3 && got != 4 {
		t.Errorf("expected 10 minus exactly one deduction, got %d", got)
	}
}

func TestMemoryLedger_ConcurrentDeductionsNeverGoNegative(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	initialStock := 20
	totalRequests := 50
	ledger.SetStock(ctx, "A", initialStock)
	ledger.SetStock(ctx, "B", initialStock)

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate batch order to exercise lock ordering.
			batch := []domain.StockAdjustment{deduct("A", 1), deduct("B", 1)}
			if i%2 == 1 {
				batch = []domain.StockAdjustment{deduct("B", 1), deduct("A", 1)}
			}
			if err := ledger.CheckAndDeduct(ctx, "", batch); err == nil {
				successCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	for _, sku := range []string{"A", "B"} {
		if got := stockOf(t, ledger, sku); got != 0 {
			t.Errorf("expected %s=0, got %d", sku, got)
		}
	}
}

func TestMemoryLedger_ReservationKeyIsAppliedOnce(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", 10)

	batch := []domain.StockAdjustment{deduct("A", 4)}
	for i := 0; i < 3; i++ {
		if err := ledger.CheckAndDeduct(ctx, "order-1", batch); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
	}
	if got := stockOf(t, ledger, "A"); got != 6 {
		t.Errorf("expected A=6 after retried reservation, got %d", got)
	}
}

func TestMemoryLedger_Release(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", 10)

	batch := []domain.StockAdjustment{deduct("A", 4)}
	if err := ledger.CheckAndDeduct(ctx, "order-1", batch); err != nil {
		t.Fatalf("deduct failed: %v", err)
	}

	if err := ledger.Release(ctx, "order-1", batch); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if got := stockOf(t, ledger, "A"); got != 10 {
		t.Errorf("expected A=10 after release, got %d", got)
	}

	// Second release and release of an unknown key are no-ops.
	ledger.Release(ctx, "order-1", batch)
	ledger.Release(ctx, "order-unknown", batch)
	if got := stockOf(t, ledger, "A"); got != 10 {
		t.Errorf("expected A=10 after repeated release, got %d", got)
	}

	// The key can be reserved again once released.
	if err := ledger.CheckAndDeduct(ctx, "order-1", batch); err != nil {
		t.Fatalf("re-deduct failed: %v", err)
	}
	if got := stockOf(t, ledger, "A"); got != 6 {
		t.Errorf("expected A=6, got %d", got)
	}
}

func TestMemoryLedger_CheckAndAdd_Upsert(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", 2)

	if err := ledger.CheckAndAdd(ctx, []domain.StockAdjustment{add("A", 3), add("NEW", 5)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := stockOf(t, ledger, "A"); got != 5 {
		t.Errorf("expected A=5, got %d", got)
	}
	if got := stockOf(t, ledger, "NEW"); got != 5 {
		t.Errorf("expected NEW=5, got %d", got)
	}
}

func TestMemoryLedger_ConcurrentAddsOfNewSkuSumUp(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	var wg sync.WaitGroup
	want := 0
	for i := 1; i <= 40; i++ {
		want += i
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			if err := ledger.CheckAndAdd(ctx, []domain.StockAdjustment{add("fresh", qty)}); err != nil {
				t.Errorf("add failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := stockOf(t, ledger, "fresh"); got != want {
		t.Errorf("expected fresh=%d, got %d", want, got)
	}
	entry, _ := ledger.Get(ctx, "fresh")
	if entry.Version != 40 {
		t.Errorf("expected version 40, got %d", entry.Version)
	}
}

func TestMemoryLedger_Get_NotFound(t *testing.T) {
	ledger := NewMemoryLedger()
	entry, err := ledger.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != nil {
		t.Error("expected nil for nonexistent sku")
	}
}

func BenchmarkMemoryLedger_CheckAndDeduct(b *testing.B) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	skus := make([]string, 16)
	for i := range skus {
		skus[i] = fmt.Sprintf("sku-%d", i)
		ledger.SetStock(ctx, skus[i], b.N*2+1)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			batch := []domain.StockAdjustment{deduct(skus[i%len(skus)], 1), deduct(skus[(i+1)%len(skus)], 1)}
			if err := ledger.CheckAndDeduct(ctx, "", batch); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}

func TestMemoryLedger_OversizedBatchesLeaveStockUntouched(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", 5)

	err := ledger.CheckAndDeduct(ctx, "", []domain.StockAdjustment{deduct("A", math.MaxInt), deduct("A", math.MaxInt)})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if got := stockOf(t, ledger, "A"); got != 5 {
		t.Errorf("expected A=5, got %d", got)
	}

	err = ledger.CheckAndAdd(ctx, []domain.StockAdjustment{add("B", math.MaxInt), add("B", math.MaxInt)})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if entry, _ := ledger.Get(ctx, "B"); entry != nil {
		t.Errorf("expected no entry for B, got %+v", entry)
	}
}

func TestMemoryLedger_CheckAndAdd_RejectsOverflowOfExistingEntry(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	ledger.SetStock(ctx, "A", domain.MaxQuantity-1)

	if err := ledger.CheckAndAdd(ctx, []domain.StockAdjustment{add("A", 1)}); err != nil {
		t.Fatalf("add up to the limit failed: %v", err)
	}
	err := ledger.CheckAndAdd(ctx, []domain.StockAdjustment{add("A", 1)})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if got := stockOf(t, ledger, "A"); got != domain.MaxQuantity {
		t.Errorf("expected A=%d, got %d", domain.MaxQuantity, got)
	}
}
