package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/order-placement/internal/core/domain"
)

const (
	stockKeyPrefix       = "stock:"
	reservationKeyPrefix = "reservation:"
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// KEYS[1] reservation marker, KEYS[2..] stock hashes.
// ARGV[1] "1" when the marker is in use, ARGV[2] now, ARGV[3] marker TTL in
// seconds, ARGV[4..] quantities.
var deductStockScript = redis.NewScript(`
local useMarker = ARGV[1] == '1'
if useMarker and redis.call('EXISTS', KEYS[1]) == 1 then
	return {'replayed'}
end

local n = #KEYS - 1
for i = 1, n do
	local current = redis.call('HGET', KEYS[i + 1], 'quantity')
	if not current then
		return {'missing', i}
	end
	current = tonumber(current)
	if current < tonumber(ARGV[i + 3]) then
		return {'insufficient', i, current}
	end
end

for i = 1, n do
	redis.call('HINCRBY', KEYS[i + 1], 'quantity', -tonumber(ARGV[i + 3]))
	redis.call('HINCRBY', KEYS[i + 1], 'version', 1)
	redis.call('HSET', KEYS[i + 1], 'updated_at', ARGV[2])
end

if useMarker then
	redis.call('SET', KEYS[1], '1', 'EX', tonumber(ARGV[3]))
end
return {'ok'}
`)

// KEYS[1] reservation marker, KEYS[2..] stock hashes.
// ARGV[1] "1" when the marker is in use, ARGV[2] now, ARGV[3..] quantities.
var addStockScript = redis.NewScript(`
if ARGV[1] == '1' and redis.call('DEL', KEYS[1]) == 0 then
	return 0
end

for i = 2, #KEYS do
	redis.call('HINCRBY', KEYS[i], 'quantity', tonumber(ARGV[i + 1]))
	redis.call('HINCRBY', KEYS[i], 'version', 1)
	redis.call('HSETNX', KEYS[i], 'created_at', ARGV[2])
	redis.call('HSET', KEYS[i], 'updated_at', ARGV[2])
end
return 1
`)

// RedisAdapter keeps each SKU in a hash and runs every batch as a single Lua
// script, so validate and commit see one consistent snapshot.
type RedisAdapter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, now: time.Now}
}

func (r *RedisAdapter) CheckAndDeduct(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error {
	batch, err := domain.NormalizeAdjustments(items, domain.OperationDeduct)
	if err != nil {
		return err
	}

	keys, args := r.scriptArgs(reservationKey, batch, int(idempotencyKeyTTL.Seconds()))

	result, err := deductStockScript.Run(ctx, r.client, keys, args...).Slice()
	if err != nil {
		return fmt.Errorf("deduct stock: %w", err)
	}
	return deductResult(result, batch)
}

func (r *RedisAdapter) CheckAndAdd(ctx context.Context, items []domain.StockAdjustment) error {
	batch, err := domain.NormalizeAdjustments(items, domain.OperationAdd)
	if err != nil {
		return err
	}

	keys, args := r.scriptArgs("", batch)
	if err := addStockScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("add stock: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Release(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error {
	batch, err := domain.NormalizeAdjustments(items, domain.OperationAdd)
	if err != nil {
		return err
	}

	keys, args := r.scriptArgs(reservationKey, batch)
	if err := addStockScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	return nil
}

func (r *RedisAdapter) Get(ctx context.Context, sku string) (*domain.StockEntry, error) {
	fields, err := r.client.HGetAll(ctx, stockKeyPrefix+sku).Result()
	if err != nil {
		return nil, fmt.Errorf("get stock: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	entry := domain.StockEntry{SKU: sku}
	quantity, err := strconv.Atoi(fields["quantity"])
	if err != nil {
		return nil, fmt.Errorf("parse quantity of %s: %w", sku, err)
	}
	entry.Quantity = quantity
	entry.Version, _ = strconv.ParseInt(fields["version"], 10, 64)
	entry.CreatedAt = parseUnixNano(fields["created_at"])
	entry.UpdatedAt = parseUnixNano(fields["updated_at"])
	return &entry, nil
}

// SetStock overwrites the quantity of a SKU, creating it if needed.
func (r *RedisAdapter) SetStock(ctx context.Context, sku string, quantity int) error {
	key := stockKeyPrefix + sku
	now := r.now().UnixNano()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "quantity", quantity, "updated_at", now)
		pipe.HIncrBy(ctx, key, "version", 1)
		pipe.HSetNX(ctx, key, "created_at", now)
		return nil
	})
	return err
}

// Claim marks an idempotency key as in flight. It reports false when the key
// was already claimed.
func (r *RedisAdapter) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Forget(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// scriptArgs lays out KEYS and ARGV for the stock scripts. extra goes between
// the clock and the quantities.
func (r *RedisAdapter) scriptArgs(reservationKey string, batch []domain.StockAdjustment, extra ...any) ([]string, []any) {
	useMarker := "0"
	if reservationKey != "" {
		useMarker = "1"
	}

	keys := make([]string, 0, len(batch)+1)
	keys = append(keys, reservationKeyPrefix+reservationKey)
	args := make([]any, 0, len(batch)+len(extra)+2)
	args = append(args, useMarker, r.now().UnixNano())
	args = append(args, extra...)
	for _, item := range batch {
		keys = append(keys, stockKeyPrefix+item.SKU)
		args = append(args, item.Quantity)
	}
	return keys, args
}

func deductResult(result []any, batch []domain.StockAdjustment) error {
	if len(result) == 0 {
		return fmt.Errorf("deduct stock: empty script result")
	}
	status, _ := result[0].(string)
	switch status {
	case "ok", "replayed":
		return nil
	case "missing":
		return domain.NewSkuNotFound(batch[scriptIndex(result, 1)].SKU)
	case "insufficient":
		item := batch[scriptIndex(result, 1)]
		available, _ := result[2].(int64)
		return domain.NewInsufficientStock(item.SKU, int(available), item.Quantity)
	default:
		return fmt.Errorf("deduct stock: unexpected script result %v", result)
	}
}

// scriptIndex converts the 1-based Lua index at pos into a batch index.
func scriptIndex(result []any, pos int) int {
	i, _ := result[pos].(int64)
	return int(i) - 1
}

func parseUnixNano(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
