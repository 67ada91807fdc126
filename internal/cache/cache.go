// Package cache provides a small JSON snapshot cache for resolved card
// views. Redis in production, an in-process map elsewhere.
package cache

import (
	"context"
	"time"
)

// Cache stores JSON-serializable snapshots under string keys. Get reports a
// miss with (false, nil); errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}
