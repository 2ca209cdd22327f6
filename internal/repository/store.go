package repository

import (
	"context"
	"encoding/json"
	"time"
)

// IdempotencyRecord is the first response returned for an Idempotency-Key.
type IdempotencyRecord struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// KeyStore keeps short-lived request state: idempotency records and rate-limit counters.
type KeyStore interface {
	// GetRecord returns nil when the key is unknown or expired.
	GetRecord(ctx context.Context, key string) (*IdempotencyRecord, error)
	// SaveRecord stores rec unless the key already holds one, and returns whichever record is stored.
	SaveRecord(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) (*IdempotencyRecord, error)
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
