package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/order-placement/internal/core/domain"
)

// CheckAndDeduct locks the batch's inventory rows in SKU order with
// SELECT ... FOR UPDATE, validates all of them and only then updates.
func (m *MySQLAdapter) CheckAndDeduct(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error {
	batch, err := domain.NormalizeAdjustments(items, domain.OperationDeduct)
	if err != nil {
		return err
	}

	return m.withTx(ctx, func(tx *sql.Tx) error {
		now := m.now().UTC()

		if reservationKey != "" {
			result, err := tx.ExecContext(ctx, `
				INSERT IGNORE INTO stock_reservations (reservation_key, created_at) VALUES (?, ?)`,
				reservationKey, now,
			)
			if err != nil {
				return fmt.Errorf("insert reservation: %w", err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert reservation: %w", err)
			}
			if rows == 0 {
				// Applied by an earlier attempt.
				return nil
			}
		}

		for _, item := range batch {
			var available int
			err := tx.QueryRowContext(ctx, `
				SELECT quantity FROM inventory WHERE sku_code = ? FOR UPDATE`, item.SKU,
			).Scan(&available)
			if errors.Is(err, sql.ErrNoRows) {
				return domain.NewSkuNotFound(item.SKU)
			}
			if err != nil {
				return fmt.Errorf("lock inventory %s: %w", item.SKU, err)
			}
			if available < item.Quantity {
				return domain.NewInsufficientStock(item.SKU, available, item.Quantity)
			}
		}

		for _, item := range batch {
			_, err := tx.ExecContext(ctx, `
				UPDATE inventory
				SET quantity = quantity - ?, version = version + 1, updated_at = ?
				WHERE sku_code = ?`,
				item.Quantity, now, item.SKU,
			)
			if err != nil {
				return fmt.Errorf("deduct inventory %s: %w", item.SKU, err)
			}
		}
		return nil
	})
}

// CheckAndAdd relies on the primary key of inventory: concurrent upserts of a
// new SKU collapse into one row.
func (m *MySQLAdapter) CheckAndAdd(ctx context.Context, items []domain.StockAdjustment) error {
	batch, err := domain.NormalizeAdjustments(items, domain.OperationAdd)
	if err != nil {
		return err
	}

	return m.withTx(ctx, func(tx *sql.Tx) error {
		return m.addStock(ctx, tx, batch)
	})
}

func (m *MySQLAdapter) Release(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error {
	batch, err := domain.NormalizeAdjustments(items, domain.OperationAdd)
	if err != nil {
		return err
	}

	return m.withTx(ctx, func(tx *sql.Tx) error {
		if reservationKey != "" {
			result, err := tx.ExecContext(ctx, `DELETE FROM stock_reservations WHERE reservation_key = ?`, reservationKey)
			if err != nil {
				return fmt.Errorf("delete reservation: %w", err)
			}
			rows, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("delete reservation: %w", err)
			}
			if rows == 0 {
				return nil
			}
		}
		return m.addStock(ctx, tx, batch)
	})
}

func (m *MySQLAdapter) addStock(ctx context.Context, tx *sql.Tx, batch []domain.StockAdjustment) error {
	now := m.now().UTC()
	for _, item := range batch {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inventory (sku_code, quantity, version, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)
			ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity), version = version + 1, updated_at = VALUES(updated_at)`,
			item.SKU, item.Quantity, now, now,
		)
		if err != nil {
			return fmt.Errorf("add inventory %s: %w", item.SKU, err)
		}
	}
	return nil
}

func (m *MySQLAdapter) Get(ctx context.Context, sku string) (*domain.StockEntry, error) {
	var entry domain.StockEntry
	err := m.db.QueryRowContext(ctx, `
		SELECT sku_code, quantity, version, created_at, updated_at
		FROM inventory WHERE sku_code = ?`, sku,
	).Scan(&entry.SKU, &entry.Quantity, &entry.Version, &entry.CreatedAt, &entry.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &entry, nil
}
