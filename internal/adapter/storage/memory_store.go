package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/order-placement/internal/core/domain"
)

// MemoryStore holds orders, products and idempotency claims in process. It
// backs the memory ledger profile and the load generator.
type MemoryStore struct {
	mu             sync.RWMutex
	orders         map[string]domain.Order
	ordersByKey    map[string]string
	products       map[string]domain.Product
	claims         map[string]time.Time
	idempotencyTTL time.Duration
	now            func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:         make(map[string]domain.Order),
		ordersByKey:    make(map[string]string),
		products:       make(map[string]domain.Product),
		claims:         make(map[string]time.Time),
		idempotencyTTL: idempotencyKeyTTL,
		now:            time.Now,
	}
}

func (s *MemoryStore) CreateOrder(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.Number]; ok {
		return fmt.Errorf("insert order %s: %w", order.Number, domain.ErrDuplicateRequest)
	}
	if order.IdempotencyKey != "" {
		if _, ok := s.ordersByKey[order.IdempotencyKey]; ok {
			return fmt.Errorf("insert order %s: %w", order.Number, domain.ErrDuplicateRequest)
		}
		s.ordersByKey[order.IdempotencyKey] = order.Number
	}

	order.State = domain.OrderStatePersisted
	order.LineItems = append([]domain.OrderLineItem(nil), order.LineItems...)
	s.orders[order.Number] = order
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, number string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[number]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *MemoryStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	s.mu.RLock()
	number, ok := s.ordersByKey[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.GetOrder(ctx, number)
}

func (s *MemoryStore) UpsertProduct(ctx context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if existing, ok := s.products[p.Name]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.Name] = p
	return nil
}

func (s *MemoryStore) GetProductsByNames(ctx context.Context, names []string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var products []domain.Product
	for _, name := range names {
		if p, ok := s.products[name]; ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *MemoryStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.claims[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.claims[key] = now.Add(s.idempotencyTTL)
	return true, nil
}

func (s *MemoryStore) Forget(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}
