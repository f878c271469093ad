package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Job represents one logical trade the relay has committed to settle. Jobs
// are created when a taker submits a signed firm quote and are only ever
// marked terminally, never deleted.
type Job struct {
	OrderHash      common.Hash
	ChainID        int
	Order          Order
	MakerURI       string
	MakerSignature *Signature
	TakerSignature *Signature
	// Expiry is the order expiry as a unix timestamp in seconds
	Expiry *big.Int
	Status JobStatus
	// Approval is set when the taker provided a gasless-approval payload;
	// settlement then submits the approval before the trade.
	Approval *Approval
	// ApprovalSignature is the taker's signature over the approval payload
	ApprovalSignature *Signature
	Workflow          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExpiryTime returns the job expiry as a time.Time.
func (j *Job) ExpiryTime() time.Time {
	if j.Expiry == nil {
		return time.Time{}
	}
	return time.Unix(j.Expiry.Int64(), 0)
}

// Expired reports whether the job's expiry has passed at t.
func (j *Job) Expired(t time.Time) bool {
	return !j.ExpiryTime().After(t)
}

// TransactionSubmission is one broadcast attempt for a job. A job accumulates
// one submission per gas bump; all trade submissions of a job share a nonce.
type TransactionSubmission struct {
	OrderHash common.Hash
	TxHash    common.Hash
	Nonce     uint64
	Gas       GasPricing
	Type      SubmissionType
	Status    SubmissionStatus
	// BlockMined and GasUsed are backfilled from the receipt once mined
	BlockMined *big.Int
	GasUsed    *big.Int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
