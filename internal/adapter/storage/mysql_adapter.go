package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/order-placement/internal/core/domain"
)

const (
	errDuplicateEntry   = 1062
	errLockWaitTimeout  = 1205
	errDeadlock         = 1213
	maxDeadlockAttempts = 3
)

//go:embed schema.sql
var schema string

type MySQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db, now: time.Now}
}

// MySQLDSN forces parseTime on a driver DSN; created_at and updated_at are
// scanned into time.Time.
func MySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Migrate creates the tables the adapter needs.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	return m.withTx(ctx, func(tx *sql.Tx) error {
		var idempotencyKey sql.NullString
		if order.IdempotencyKey != "" {
			idempotencyKey = sql.NullString{String: order.IdempotencyKey, Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (order_number, idempotency_key, total_price, created_at)
			VALUES (?, ?, ?, ?)`,
			order.Number, idempotencyKey, order.TotalPrice, order.CreatedAt,
		)
		if err != nil {
			if isMySQLError(err, errDuplicateEntry) {
				return fmt.Errorf("insert order %s: %w", order.Number, domain.ErrDuplicateRequest)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO order_line_items (order_number, line_no, sku_code, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare line items: %w", err)
		}
		defer stmt.Close()

		for i, item := range order.LineItems {
			if !item.UnitPrice.Valid {
				return fmt.Errorf("line item %d (%s) has no price", i, item.SKU)
			}
			if _, err := stmt.ExecContext(ctx, order.Number, i, item.SKU, item.Quantity, item.UnitPrice.Decimal); err != nil {
				return fmt.Errorf("insert line item: %w", err)
			}
		}
		return nil
	})
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, number string) (*domain.Order, error) {
	return m.getOrder(ctx, `
		SELECT order_number, idempotency_key, total_price, created_at
		FROM orders WHERE order_number = ?`, number)
}

func (m *MySQLAdapter) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return m.getOrder(ctx, `
		SELECT order_number, idempotency_key, total_price, created_at
		FROM orders WHERE idempotency_key = ?`, key)
}

func (m *MySQLAdapter) getOrder(ctx context.Context, query string, arg string) (*domain.Order, error) {
	var o domain.Order
	var idempotencyKey sql.NullString
	err := m.db.QueryRowContext(ctx, query, arg).
		Scan(&o.Number, &idempotencyKey, &o.TotalPrice, &o.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	o.IdempotencyKey = idempotencyKey.String
	o.State = domain.OrderStatePersisted

	rows, err := m.db.QueryContext(ctx, `
		SELECT sku_code, quantity, unit_price
		FROM order_line_items WHERE order_number = ? ORDER BY line_no`, o.Number)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderLineItem
		if err := rows.Scan(&item.SKU, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		o.LineItems = append(o.LineItems, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return &o, nil
}

func (m *MySQLAdapter) UpsertProduct(ctx context.Context, p domain.Product) error {
	now := m.now().UTC()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (name, description, price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE description = VALUES(description), price = VALUES(price), updated_at = VALUES(updated_at)`,
		p.Name, p.Description, p.Price, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetProductsByNames(ctx context.Context, names []string) ([]domain.Product, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = name
	}
	return m.queryProducts(ctx, `
		SELECT name, description, price, created_at, updated_at
		FROM products WHERE name IN (`+placeholders(len(names))+`)`, args...)
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return m.queryProducts(ctx, `
		SELECT name, description, price, created_at, updated_at
		FROM products ORDER BY name`)
}

func (m *MySQLAdapter) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.Name, &p.Description, &p.Price, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// withTx runs fn in a transaction, retrying the whole transaction when
// InnoDB picks it as a deadlock victim.
func (m *MySQLAdapter) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxDeadlockAttempts; attempt++ {
		err = m.runTx(ctx, fn)
		if !isMySQLError(err, errDeadlock, errLockWaitTimeout) {
			return err
		}
	}
	return err
}

func (m *MySQLAdapter) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func isMySQLError(err error, numbers ...uint16) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	for _, n := range numbers {
		if myErr.Number == n {
			return true
		}
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
