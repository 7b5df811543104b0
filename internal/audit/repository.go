package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultQueryLimit caps result sets when callers pass limit <= 0. The audit
// table is append-only and unbounded, so no query path may run uncapped.
const DefaultQueryLimit = 1000

// Repository defines the insert-only persistence sink for audit records.
type Repository interface {
	// Insert appends one record to the audit trail and returns the stored copy.
	Insert(ctx context.Context, rec Record) (*Record, error)

	// QueryByUser retrieves records for a user, newest first.
	// Limit caps the number of results; <= 0 applies DefaultQueryLimit.
	QueryByUser(ctx context.Context, userID string, limit int) ([]*Record, error)

	// QueryByResource retrieves records for a resource, newest first.
	// Limit caps the number of results; <= 0 applies DefaultQueryLimit.
	QueryByResource(ctx context.Context, resource, resourceID string, limit int) ([]*Record, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu   sync.RWMutex
	recs map[string]*Record
	// Maintain insertion order for queries
	order []string
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		recs:  make(map[string]*Record),
		order: make([]string, 0),
	}
}

// Insert appends one record to the audit trail.
func (r *InMemoryRepository) Insert(_ context.Context, rec Record) (*Record, error) {
	stored := rec
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	r.recs[stored.ID] = &stored
	r.order = append(r.order, stored.ID)
	r.mu.Unlock()

	// Return a copy to prevent external modification
	out := stored
	return &out, nil
}

// QueryByUser retrieves records for a user, newest first.
func (r *InMemoryRepository) QueryByUser(_ context.Context, userID string, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.filter(limit, func(rec *Record) bool {
		return rec.UserID == userID
	}), nil
}

// QueryByResource retrieves records for a resource, newest first.
func (r *InMemoryRepository) QueryByResource(_ context.Context, resource, resourceID string, limit int) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.filter(limit, func(rec *Record) bool {
		return rec.Resource == resource && rec.ResourceID == resourceID
	}), nil
}

// Count returns the number of stored records.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// filter iterates newest-first and collects matching records as copies.
// Callers must hold at least the read lock.
func (r *InMemoryRepository) filter(limit int, match func(*Record) bool) []*Record {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	var results []*Record
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.recs[r.order[i]]
		if match(rec) {
			out := *rec
			results = append(results, &out)
			if len(results) >= limit {
				break
			}
		}
	}
	return results
}
