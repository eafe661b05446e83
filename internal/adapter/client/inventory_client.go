package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/order-placement/internal/adapter/rpc"
	"github.com/rl1809/order-placement/internal/core/domain"
)

// InventoryClient is a StockLedger backed by a remote inventory service.
type InventoryClient struct {
	conn *grpc.ClientConn
	rpc  *rpc.InventoryClient
}

func NewInventoryClient(addr string, opts ...grpc.DialOption) (*InventoryClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial inventory %s: %w", addr, err)
	}
	return &InventoryClient{conn: conn, rpc: rpc.NewInventoryClient(conn)}, nil
}

func (c *InventoryClient) CheckAndDeduct(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error {
	resp, err := c.rpc.CheckAndDeduct(ctx, &rpc.DeductRequest{
		ReservationKey: reservationKey,
		Items:          rpc.ItemsFromDomain(items),
	})
	if err != nil {
		return fmt.Errorf("%w: inventory check and deduct: %w", domain.ErrDependencyUnavailable, err)
	}
	return resp.Err()
}

func (c *InventoryClient) CheckAndAdd(ctx context.Context, items []domain.StockAdjustment) error {
	resp, err := c.rpc.CheckAndAdd(ctx, &rpc.AddRequest{Items: rpc.ItemsFromDomain(items)})
	if err != nil {
		return fmt.Errorf("%w: inventory check and add: %w", domain.ErrDependencyUnavailable, err)
	}
	return resp.Err()
}

func (c *InventoryClient) Release(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error {
	resp, err := c.rpc.Release(ctx, &rpc.ReleaseRequest{
		ReservationKey: reservationKey,
		Items:          rpc.ItemsFromDomain(items),
	})
	if err != nil {
		return fmt.Errorf("%w: inventory release: %w", domain.ErrDependencyUnavailable, err)
	}
	return resp.Err()
}

func (c *InventoryClient) Get(ctx context.Context, sku string) (*domain.StockEntry, error) {
	resp, err := c.rpc.GetStock(ctx, &rpc.GetStockRequest{SKU: sku})
	if err != nil {
		return nil, fmt.Errorf("%w: inventory get stock: %w", domain.ErrDependencyUnavailable, err)
	}
	if !resp.Found {
		return nil, nil
	}
	return &domain.StockEntry{
		SKU:       resp.SKU,
		Quantity:  resp.Quantity,
		Version:   resp.Version,
		CreatedAt: resp.CreatedAt,
		UpdatedAt: resp.UpdatedAt,
	}, nil
}

func (c *InventoryClient) Close() error {
	return c.conn.Close()
}
