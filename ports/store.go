package ports

import (
	"context"
	"time"
)

// KeyedStore is process-wide keyed storage for session keys, policies,
// rate-limit counters and nonce records. Implementations must make every
// operation atomic per key; operations on different keys are independent.
type KeyedStore interface {
	// Get retrieves the value for key, or core.ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key. A zero ttl means the entry never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the entry for key; removing an absent key is not an error
	Delete(ctx context.Context, key string) error

	// Scan returns every live entry whose key starts with prefix
	Scan(ctx context.Context, prefix string) (map[string]string, error)

	// Update applies fn to the current value of key as a single atomic
	// read-modify-write. fn receives the current value and whether the key
	// exists; the value it returns is stored with ttl. An error from fn
	// aborts the update without writing and is returned unchanged.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(current string, exists bool) (string, error)) error
}
