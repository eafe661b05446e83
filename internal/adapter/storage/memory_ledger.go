package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rl1809/order-placement/internal/core/domain"
)

type memoryEntry struct {
	mu    sync.Mutex
	entry domain.StockEntry
}

// MemoryLedger keeps stock in process. Each SKU has its own lock; batches
// take the locks of all their SKUs in sorted order, so validate and commit
// run without interference from overlapping batches.
//
// Lock order: entry locks before mu. mu alone guards the index and the set of
// applied reservation keys.
type MemoryLedger struct {
	mu           sync.Mutex
	entries      map[string]*memoryEntry
	reservations map[string]struct{}
	now          func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries:      make(map[string]*memoryEntry),
		reservations: make(map[string]struct{}),
		now:          time.Now,
	}
}

func (l *MemoryLedger) CheckAndDeduct(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error {
	batch, err := domain.NormalizeAdjustments(items, domain.OperationDeduct)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, missing := l.lookup(batch)
	if missing != "" {
		return domain.NewSkuNotFound(missing)
	}

	lockAll(entries)
	defer unlockAll(entries)

	if reservationKey != "" && l.reserved(reservationKey) {
		return nil
	}

	for i, item := range batch {
		if available := entries[i].entry.Quantity; available < item.Quantity {
			return domain.NewInsufficientStock(item.SKU, available, item.Quantity)
		}
	}

	now := l.now().UTC()
	for i, item := range batch {
		entries[i].entry.Quantity -= item.Quantity
		entries[i].entry.Version++
		entries[i].entry.UpdatedAt = now
	}

	if reservationKey != "" {
		l.mu.Lock()
		l.reservations[reservationKey] = struct{}{}
		l.mu.Unlock()
	}
	return nil
}

func (l *MemoryLedger) CheckAndAdd(ctx context.Context, items []domain.StockAdjustment) error {
	batch, err := domain.NormalizeAdjustments(items, domain.OperationAdd)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entries := l.lookupOrCreate(batch)
	lockAll(entries)
	defer unlockAll(entries)

	if err := checkCapacity(entries, batch); err != nil {
		return err
	}
	l.apply(entries, batch)
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error {
	batch, err := domain.NormalizeAdjustments(items, domain.OperationAdd)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if reservationKey != "" && !l.reserved(reservationKey) {
		return nil
	}

	entries := l.lookupOrCreate(batch)
	lockAll(entries)
	defer unlockAll(entries)

	if err := checkCapacity(entries, batch); err != nil {
		return err
	}
	if reservationKey != "" {
		l.mu.Lock()
		_, applied := l.reservations[reservationKey]
		delete(l.reservations, reservationKey)
		l.mu.Unlock()
		if !applied {
			return nil
		}
	}

	l.apply(entries, batch)
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, sku string) (*domain.StockEntry, error) {
	l.mu.Lock()
	e, ok := l.entries[sku]
	l.mu.Unlock()
	if !ok {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	entry := e.entry
	return &entry, nil
}

// SetStock overwrites the quantity of a SKU, creating it if needed.
func (l *MemoryLedger) SetStock(ctx context.Context, sku string, quantity int) error {
	entries := l.lookupOrCreate([]domain.StockAdjustment{{SKU: sku}})
	e := entries[0]
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entry.Quantity = quantity
	e.entry.Version++
	e.entry.UpdatedAt = l.now().UTC()
	return nil
}

func (l *MemoryLedger) reserved(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.reservations[key]
	return ok
}

func (l *MemoryLedger) apply(entries []*memoryEntry, batch []domain.StockAdjustment) {
	now := l.now().UTC()
	for i, item := range batch {
		entries[i].entry.Quantity += item.Quantity
		entries[i].entry.Version++
		entries[i].entry.UpdatedAt = now
	}
}

// checkCapacity rejects a batch that would push any entry past
// domain.MaxQuantity. Entries must be locked.
func checkCapacity(entries []*memoryEntry, batch []domain.StockAdjustment) error {
	for i, item := range batch {
		if entries[i].entry.Quantity > domain.MaxQuantity-item.Quantity {
			return fmt.Errorf("%w: stock for sku %s would exceed %d", domain.ErrInvalidRequest, item.SKU, domain.MaxQuantity)
		}
	}
	return nil
}

// lookup resolves the batch (sorted by SKU) to entries, or returns the first
// SKU without an entry.
func (l *MemoryLedger) lookup(batch []domain.StockAdjustment) ([]*memoryEntry, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]*memoryEntry, len(batch))
	for i, item := range batch {
		e, ok := l.entries[item.SKU]
		if !ok {
			return nil, item.SKU
		}
		entries[i] = e
	}
	return entries, ""
}

// lookupOrCreate creates missing entries under the index lock, so concurrent
// adds of a new SKU share one entry.
func (l *MemoryLedger) lookupOrCreate(batch []domain.StockAdjustment) []*memoryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	entries := make([]*memoryEntry, len(batch))
	for i, item := range batch {
		e, ok := l.entries[item.SKU]
		if !ok {
			e = &memoryEntry{entry: domain.StockEntry{SKU: item.SKU, CreatedAt: now, UpdatedAt: now}}
			l.entries[item.SKU] = e
		}
		entries[i] = e
	}
	return entries
}

func lockAll(entries []*memoryEntry) {
	for _, e := range entries {
		e.mu.Lock()
	}
}

func unlockAll(entries []*memoryEntry) {
	for i := len(entries) - 1; i >= 0; i-- {
		entries[i].mu.Unlock()
	}
}
