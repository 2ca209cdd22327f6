package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FailoverKeyStore uses primary until it errors, then fallback, retrying primary once a minute.
type FailoverKeyStore struct {
	primary   KeyStore
	fallback  KeyStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverKeyStore(primary, fallback KeyStore, logger *zerolog.Logger) *FailoverKeyStore {
	return &FailoverKeyStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should try the primary store.
func (r *FailoverKeyStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > time.Minute
}

func (r *FailoverKeyStore) markDown(err error) {
	if !r.isDown.Load() {
		r.logger.Error().Err(err).Msg("Primary key store failed, falling back to memory")
	}
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverKeyStore) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary key store recovered")
	}
}

func (r *FailoverKeyStore) GetRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	if r.usePrimary() {
		rec, err := r.primary.GetRecord(ctx, key)
		if err == nil {
			r.markUp()
			return rec, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetRecord(ctx, key)
}

func (r *FailoverKeyStore) SaveRecord(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) (*IdempotencyRecord, error) {
	if r.usePrimary() {
		stored, err := r.primary.SaveRecord(ctx, key, rec, ttl)
		if err == nil {
			r.markUp()
			return stored, nil
		}
		r.markDown(err)
	}
	return r.fallback.SaveRecord(ctx, key, rec, ttl)
}

func (r *FailoverKeyStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
