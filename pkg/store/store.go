// Package store persists firm quotes, jobs, and transaction submissions.
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quotient-hq/rfq-relay/pkg/models"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence boundary. Jobs and submissions are append-mostly:
// rows are inserted and updated in place, never deleted, so job history
// survives for status reporting.
type Store interface {
	// WriteQuote persists a firm maker-signed quote keyed by order hash.
	WriteQuote(ctx context.Context, quote *models.Quote) error
	// FindQuoteByOrderHash returns ErrNotFound when no quote matches.
	FindQuoteByOrderHash(ctx context.Context, orderHash common.Hash) (*models.Quote, error)

	// WriteJob inserts the job, or replaces it when a job with the same
	// order hash already exists.
	WriteJob(ctx context.Context, job *models.Job) error
	// FindJobByOrderHash returns ErrNotFound when no job matches.
	FindJobByOrderHash(ctx context.Context, orderHash common.Hash) (*models.Job, error)
	// FindJobsByStatus returns all jobs currently in any of the given states.
	FindJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error)

	// WriteSubmission inserts one broadcast attempt.
	WriteSubmission(ctx context.Context, sub *models.TransactionSubmission) error
	// UpdateSubmissions replaces each submission row matched by tx hash.
	UpdateSubmissions(ctx context.Context, subs []*models.TransactionSubmission) error
	// FindSubmissionsByOrderAndType returns all broadcast attempts of one
	// kind for a job, oldest first.
	FindSubmissionsByOrderAndType(ctx context.Context, orderHash common.Hash, subType models.SubmissionType) ([]*models.TransactionSubmission, error)

	// Close releases the underlying connections.
	Close()
}
