package storage

import (
	"context"
	"time"
)

// Backend is a TTL key-value store for binary payloads. A miss is reported as
// (nil, false, nil); errors are reserved for backend failures.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, content []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
