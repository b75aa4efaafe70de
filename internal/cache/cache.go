// Package cache holds the short-lived keys the payment relay needs: webhook
// event claims and reusable remote gateway orders.
package cache

import (
	"context"
	"time"
)

// Store is implemented by RedisAdapter and, when Redis is not configured,
// by Memory.
type Store interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// DeleteIfEquals removes key only while it still holds value.
	DeleteIfEquals(ctx context.Context, key, value string) error
}
