package store

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quotient-hq/rfq-relay/pkg/models"
)

// MemoryStore keeps everything in process memory. It backs local development
// and tests; production deployments configure Postgres instead.
type MemoryStore struct {
	mu          sync.RWMutex
	quotes      map[common.Hash]*models.Quote
	jobs        map[common.Hash]*models.Job
	submissions map[common.Hash][]*models.TransactionSubmission
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotes:      make(map[common.Hash]*models.Quote),
		jobs:        make(map[common.Hash]*models.Job),
		submissions: make(map[common.Hash][]*models.TransactionSubmission),
	}
}

// WriteQuote persists a firm quote.
func (s *MemoryStore) WriteQuote(_ context.Context, quote *models.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *quote
	s.quotes[quote.OrderHash] = &cp
	return nil
}

// FindQuoteByOrderHash looks up a firm quote.
func (s *MemoryStore) FindQuoteByOrderHash(_ context.Context, orderHash common.Hash) (*models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quote, ok := s.quotes[orderHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *quote
	return &cp, nil
}

// WriteJob inserts or replaces a job.
func (s *MemoryStore) WriteJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	cp.UpdatedAt = time.Now()
	if existing, ok := s.jobs[job.OrderHash]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.jobs[job.OrderHash] = &cp
	return nil
}

// FindJobByOrderHash looks up a job.
func (s *MemoryStore) FindJobByOrderHash(_ context.Context, orderHash common.Hash) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[orderHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// FindJobsByStatus returns jobs in any of the given states.
func (s *MemoryStore) FindJobsByStatus(_ context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Job
	for _, job := range s.jobs {
		for _, status := range statuses {
			if job.Status == status {
				cp := *job
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

// WriteSubmission appends a broadcast attempt.
func (s *MemoryStore) WriteSubmission(_ context.Context, sub *models.TransactionSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.submissions[sub.OrderHash] = append(s.submissions[sub.OrderHash], &cp)
	return nil
}

// UpdateSubmissions replaces rows matched by tx hash.
func (s *MemoryStore) UpdateSubmissions(_ context.Context, subs []*models.TransactionSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		rows := s.submissions[sub.OrderHash]
		for i, row := range rows {
			if row.TxHash == sub.TxHash {
				cp := *sub
				cp.UpdatedAt = time.Now()
				rows[i] = &cp
				break
			}
		}
	}
	return nil
}

// FindSubmissionsByOrderAndType returns one job's attempts of a given kind,
// oldest first. Insertion order is creation order.
func (s *MemoryStore) FindSubmissionsByOrderAndType(_ context.Context, orderHash common.Hash, subType models.SubmissionType) ([]*models.TransactionSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TransactionSubmission
	for _, sub := range s.submissions[orderHash] {
		if sub.Type == subType {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}
