package port

import "context"

type IdempotencyStore interface {
	// Claim sets key if absent, returns false if it already exists
	Claim(ctx context.Context, key string) (bool, error)

	// Forget drops a claim so the key can be retried
	Forget(ctx context.Context, key string) error
}
