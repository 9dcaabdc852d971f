package audit

import (
	"context"
	"sync"

	"github.com/CorventLabs/corvent/common"
)

// MemoryRepository keeps audit records in process memory, for the embedded
// mode and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records []*Record
}

// NewMemoryRepository returns an empty in-memory audit repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Create stores one audit record.
func (r *MemoryRepository) Create(ctx context.Context, collection string, record *Record) error {
	r.mu.Lock()
	r.records = append(r.records, record)
	r.mu.Unlock()

	return nil
}

// FindByMessageID retrieves the audit record of a message.
func (r *MemoryRepository) FindByMessageID(ctx context.Context, collection, messageID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.MessageID == messageID {
			return rec, nil
		}
	}

	return nil, common.NewEntityNotFoundError("Audit")
}

// Count returns the number of stored records.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.records)
}
