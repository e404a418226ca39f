package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryLeaseRepository is the in-process fallback lease. It only protects
// against overlapping cycles inside one process; multi-instance deployments
// need the Redis implementation.
type MemoryLeaseRepository struct {
	mu     sync.Mutex
	leases map[string]time.Time
}

func NewMemoryLeaseRepository() *MemoryLeaseRepository {
	return &MemoryLeaseRepository{
		leases: make(map[string]time.Time),
	}
}

func (r *MemoryLeaseRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if expiresAt, ok := r.leases[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	r.leases[key] = now.Add(ttl)
	return true, nil
}

func (r *MemoryLeaseRepository) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, key)
	return nil
}
