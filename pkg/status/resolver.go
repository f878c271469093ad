// Package status resolves the caller-visible state of a trade from its
// persisted job and submission history.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/metrics"
	"github.com/quotient-hq/rfq-relay/pkg/models"
	"github.com/quotient-hq/rfq-relay/pkg/store"
	"github.com/quotient-hq/rfq-relay/pkg/submission"
)

// TradeStatus is the coarse state reported to takers.
type TradeStatus string

const (
	// StatusPending means the job is queued and nothing is on-chain yet
	StatusPending TradeStatus = "pending"
	// StatusSubmitted means at least one transaction is in flight
	StatusSubmitted TradeStatus = "submitted"
	// StatusSucceeded means the trade mined but is not yet final
	StatusSucceeded TradeStatus = "succeeded"
	// StatusConfirmed means the trade mined and passed the confirmation depth
	StatusConfirmed TradeStatus = "confirmed"
	// StatusFailed is terminal; Reason carries the cause
	StatusFailed TradeStatus = "failed"
)

// TransactionRef identifies one broadcast attempt in a status report.
// Timestamp is the attempt's creation time in unix milliseconds.
type TransactionRef struct {
	Hash      common.Hash `json:"hash"`
	Timestamp int64       `json:"timestamp"`
}

// Report is the answer to a status query.
type Report struct {
	Status TradeStatus `json:"status"`
	// Reason is set for failed reports
	Reason string `json:"reason,omitempty"`
	// Transactions lists trade broadcast attempts. For succeeded and
	// confirmed reports it holds exactly the one transaction that settled
	// the trade.
	Transactions []TransactionRef `json:"transactions"`
	// ApprovalTransactions lists gasless-approval attempts when the job has
	// an approval step.
	ApprovalTransactions []TransactionRef `json:"approvalTransactions,omitempty"`
}

// ReasonExpiredInQueue marks a job that expired before any worker picked it
// up, as opposed to expiring after broadcast attempts were made.
const ReasonExpiredInQueue = "expired_in_queue"

// ErrInconsistentSuccess means a job marked succeeded does not have exactly
// one successful submission. Zero means resolution ran before anything mined;
// more than one means a duplicate broadcast both mined. Either way the
// bookkeeping is corrupt and the query must fail loudly.
var ErrInconsistentSuccess = errors.New("status: expected exactly one successful transaction submission")

// Resolver answers getStatus queries. It is read-only: it reconstructs state
// from persisted rows on every call and holds nothing between calls.
type Resolver struct {
	store  store.Store
	logger logger.Logger
	now    func() time.Time
}

// NewResolver creates a status resolver over the given store.
func NewResolver(st store.Store, log logger.Logger) *Resolver {
	return &Resolver{store: st, logger: log, now: time.Now}
}

// GetStatus resolves the trade identified by orderHash. A nil report with a
// nil error means no such trade exists.
func (r *Resolver) GetStatus(ctx context.Context, orderHash common.Hash) (*Report, error) {
	job, err := r.store.FindJobByOrderHash(ctx, orderHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.StatusRequests.WithLabelValues("not_found").Inc()
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load job: %v", err)
	}

	report, err := r.resolve(ctx, job)
	if err != nil {
		return nil, err
	}
	metrics.StatusRequests.WithLabelValues(string(report.Status)).Inc()
	return report, nil
}

func (r *Resolver) resolve(ctx context.Context, job *models.Job) (*Report, error) {
	// A job no worker has touched has no transactions to report. It is
	// either still waiting or it quietly expired in the queue.
	if job.Status.Unprocessed() {
		if job.Expired(r.now()) {
			return &Report{Status: StatusFailed, Reason: ReasonExpiredInQueue}, nil
		}
		return &Report{Status: StatusPending}, nil
	}

	if job.Status == models.JobStatusFailedLastLookDeclined {
		return &Report{Status: StatusFailed, Reason: string(job.Status)}, nil
	}

	tradeSubs, err := r.store.FindSubmissionsByOrderAndType(ctx, job.OrderHash, models.SubmissionTypeTrade)
	if err != nil {
		return nil, fmt.Errorf("failed to load trade submissions: %v", err)
	}
	if len(tradeSubs) > 0 {
		// The tracker re-checks the consistency invariants on every query
		// and is the source of the reported transaction set
		tracker, err := submission.NewTracker(tradeSubs)
		if err != nil {
			return nil, err
		}
		tradeSubs = tracker.Submissions()
	}

	var approvalSubs []*models.TransactionSubmission
	if job.Approval != nil {
		approvalSubs, err = r.store.FindSubmissionsByOrderAndType(ctx, job.OrderHash, models.SubmissionTypeApproval)
		if err != nil {
			return nil, fmt.Errorf("failed to load approval submissions: %v", err)
		}
		if len(approvalSubs) > 0 {
			tracker, err := submission.NewTracker(approvalSubs)
			if err != nil {
				return nil, err
			}
			approvalSubs = tracker.Submissions()
		}
	}

	switch {
	case job.Status.Failed():
		return &Report{
			Status:               StatusFailed,
			Reason:               string(job.Status),
			Transactions:         refs(tradeSubs),
			ApprovalTransactions: refs(approvalSubs),
		}, nil

	case job.Status == models.JobStatusSucceededConfirmed,
		job.Status == models.JobStatusSucceededUnconfirmed:
		// The approval leg must itself be consistent before the trade
		// result counts as final
		if job.Approval != nil {
			if _, err := soleSuccess(approvalSubs); err != nil {
				return nil, fmt.Errorf("approval submissions for %s: %w", job.OrderHash.Hex(), err)
			}
		}
		winner, err := soleSuccess(tradeSubs)
		if err != nil {
			return nil, fmt.Errorf("trade submissions for %s: %w", job.OrderHash.Hex(), err)
		}

		reportStatus := StatusSucceeded
		if job.Status == models.JobStatusSucceededConfirmed {
			reportStatus = StatusConfirmed
		}
		return &Report{
			Status:               reportStatus,
			Transactions:         refs([]*models.TransactionSubmission{winner}),
			ApprovalTransactions: refs(approvalSubs),
		}, nil

	default:
		// In-flight: processing past last look, or broadcast and waiting
		// on receipts
		return &Report{
			Status:               StatusSubmitted,
			Transactions:         refs(tradeSubs),
			ApprovalTransactions: refs(approvalSubs),
		}, nil
	}
}

// soleSuccess finds the single successful submission a settled job must have.
func soleSuccess(subs []*models.TransactionSubmission) (*models.TransactionSubmission, error) {
	var winner *models.TransactionSubmission
	for _, sub := range subs {
		if !sub.Status.Succeeded() {
			continue
		}
		if winner != nil {
			return nil, ErrInconsistentSuccess
		}
		winner = sub
	}
	if winner == nil {
		return nil, ErrInconsistentSuccess
	}
	if winner.TxHash == (common.Hash{}) {
		return nil, errors.New("status: successful submission has no transaction hash")
	}
	return winner, nil
}

func refs(subs []*models.TransactionSubmission) []TransactionRef {
	if len(subs) == 0 {
		return nil
	}
	out := make([]TransactionRef, len(subs))
	for i, sub := range subs {
		out[i] = TransactionRef{Hash: sub.TxHash, Timestamp: sub.CreatedAt.UnixMilli()}
	}
	return out
}
