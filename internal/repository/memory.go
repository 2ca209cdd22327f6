package repository

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	rec       *IdempotencyRecord
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

// MemoryKeyStore is a process-local KeyStore. Expired entries are dropped lazily.
type MemoryKeyStore struct {
	mu         sync.Mutex
	records    map[string]memoryRecord
	rateLimits map[string]*rateLimitEntry
	now        func() time.Time
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		records:    make(map[string]memoryRecord),
		rateLimits: make(map[string]*rateLimitEntry),
		now:        time.Now,
	}
}

func (r *MemoryKeyStore) GetRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(key), nil
}

func (r *MemoryKeyStore) lookup(key string) *IdempotencyRecord {
	entry, ok := r.records[key]
	if !ok {
		return nil
	}
	if !r.now().Before(entry.expiresAt) {
		delete(r.records, key)
		return nil
	}
	return entry.rec
}

func (r *MemoryKeyStore) SaveRecord(ctx context.Context, key string, rec *IdempotencyRecord, ttl time.Duration) (*IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.lookup(key); existing != nil {
		return existing, nil
	}
	r.records[key] = memoryRecord{rec: rec, expiresAt: r.now().Add(ttl)}
	return rec, nil
}

func (r *MemoryKeyStore) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
