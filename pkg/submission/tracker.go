// Package submission tracks the set of broadcast attempts belonging to one
// logical trade and derives their aggregate on-chain state.
package submission

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/quotient-hq/rfq-relay/pkg/models"
)

// ConfirmationDepth is how many blocks past the mined block a transaction
// must be before it counts as final.
const ConfirmationDepth = 3

// ErrMultipleReceipts means two broadcast attempts with the same nonce both
// mined. That is structurally impossible on a healthy chain; seeing it means
// corrupted bookkeeping or a reorg edge case and must never be absorbed.
var ErrMultipleReceipts = errors.New("submission: multiple transactions of one trade are mined")

// receiptFetcher is the slice of the blockchain gateway the tracker needs.
type receiptFetcher interface {
	GetReceipts(ctx context.Context, hashes []common.Hash) ([]*types.Receipt, error)
}

// Tracker wraps a non-empty, consistent set of broadcast attempts for one
// order and one submission type. It is constructed fresh from persisted rows
// on every use and holds no connection state, so concurrent use across
// distinct orders is safe.
type Tracker struct {
	orderHash   common.Hash
	submissions []*models.TransactionSubmission
}

// NewTracker validates the submission set and wraps it. The set must be
// non-empty, hash-unique, nonce-consistent, and use one gas-pricing format
// throughout. Any violation is a construction error and is never retried.
func NewTracker(submissions []*models.TransactionSubmission) (*Tracker, error) {
	if len(submissions) == 0 {
		return nil, errors.New("submission: tracker requires at least one submission")
	}

	first := submissions[0]
	seen := make(map[common.Hash]struct{}, len(submissions))
	for _, sub := range submissions {
		if sub.OrderHash != first.OrderHash {
			return nil, fmt.Errorf("submission: mixed orders in tracker: %s vs %s",
				first.OrderHash.Hex(), sub.OrderHash.Hex())
		}
		if _, dup := seen[sub.TxHash]; dup {
			return nil, fmt.Errorf("submission: duplicate transaction hash %s", sub.TxHash.Hex())
		}
		seen[sub.TxHash] = struct{}{}

		if sub.Nonce != first.Nonce {
			return nil, fmt.Errorf("submission: nonce mismatch: %d vs %d", first.Nonce, sub.Nonce)
		}
		if sub.Gas == nil {
			return nil, fmt.Errorf("submission: %s has no gas pricing", sub.TxHash.Hex())
		}
		if !sub.Gas.Complete() {
			return nil, fmt.Errorf("submission: %s has incomplete gas pricing", sub.TxHash.Hex())
		}
		if sub.Gas.TransactionType() != first.Gas.TransactionType() {
			return nil, fmt.Errorf("submission: mixed gas pricing formats: type %d vs type %d",
				first.Gas.TransactionType(), sub.Gas.TransactionType())
		}
	}

	return &Tracker{orderHash: first.OrderHash, submissions: submissions}, nil
}

// OrderHash returns the order the tracked submissions belong to.
func (t *Tracker) OrderHash() common.Hash {
	return t.orderHash
}

// Submissions returns the tracked set in its original order.
func (t *Tracker) Submissions() []*models.TransactionSubmission {
	return t.submissions
}

// Hashes returns all tracked transaction hashes.
func (t *Tracker) Hashes() []common.Hash {
	hashes := make([]common.Hash, len(t.submissions))
	for i, sub := range t.submissions {
		hashes[i] = sub.TxHash
	}
	return hashes
}

// Nonce returns the nonce every tracked submission shares.
func (t *Tracker) Nonce() uint64 {
	return t.submissions[0].Nonce
}

// TransactionType returns 0 for legacy pricing or 2 for fee-market pricing.
func (t *Tracker) TransactionType() uint8 {
	return t.submissions[0].Gas.TransactionType()
}

// MaxGasPrice returns the highest gas price across all submissions. It is
// only valid for legacy pricing; calling it on a fee-market set errors.
func (t *Tracker) MaxGasPrice() (*big.Int, error) {
	var max *big.Int
	for _, sub := range t.submissions {
		legacy, ok := sub.Gas.(models.LegacyGas)
		if !ok {
			return nil, fmt.Errorf("submission: maxGasPrice called on transaction type %d set", t.TransactionType())
		}
		if max == nil || legacy.GasPrice.Cmp(max) > 0 {
			max = legacy.GasPrice
		}
	}
	return max, nil
}

// MaxGasFees returns the highest max-fee and highest max-priority-fee across
// all submissions. It is only valid for fee-market pricing; calling it on a
// legacy set errors.
func (t *Tracker) MaxGasFees() (maxFee, maxPriorityFee *big.Int, err error) {
	for _, sub := range t.submissions {
		feeMarket, ok := sub.Gas.(models.FeeMarketGas)
		if !ok {
			return nil, nil, fmt.Errorf("submission: maxGasFees called on transaction type %d set", t.TransactionType())
		}
		if maxFee == nil || feeMarket.MaxFeePerGas.Cmp(maxFee) > 0 {
			maxFee = feeMarket.MaxFeePerGas
		}
		if maxPriorityFee == nil || feeMarket.MaxPriorityFeePerGas.Cmp(maxPriorityFee) > 0 {
			maxPriorityFee = feeMarket.MaxPriorityFeePerGas
		}
	}
	return maxFee, maxPriorityFee, nil
}

// FirstSubmissionTimestamp returns the earliest creation time across all
// submissions, truncated to whole seconds.
func (t *Tracker) FirstSubmissionTimestamp() time.Time {
	earliest := t.submissions[0].CreatedAt
	for _, sub := range t.submissions[1:] {
		if sub.CreatedAt.Before(earliest) {
			earliest = sub.CreatedAt
		}
	}
	return earliest.Truncate(time.Second)
}

// GetReceipt fetches receipts for every tracked hash. At most one attempt of
// a nonce set can mine: nil means nothing mined yet, a receipt means exactly
// one mined, and two or more mined is ErrMultipleReceipts.
func (t *Tracker) GetReceipt(ctx context.Context, fetcher receiptFetcher) (*types.Receipt, error) {
	receipts, err := fetcher.GetReceipts(ctx, t.Hashes())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipts: %v", err)
	}

	var mined *types.Receipt
	for _, receipt := range receipts {
		if receipt == nil {
			continue
		}
		if mined != nil {
			return nil, fmt.Errorf("%w: order %s", ErrMultipleReceipts, t.orderHash.Hex())
		}
		mined = receipt
	}
	return mined, nil
}

// IsBlockConfirmed reports whether a transaction mined at receiptBlock is
// final at currentBlock. A receipt ahead of the observed head, as seen
// during a reorg or from a lagging node, is never confirmed.
func IsBlockConfirmed(currentBlock, receiptBlock uint64) bool {
	if receiptBlock > currentBlock {
		return false
	}
	return currentBlock-receiptBlock >= ConfirmationDepth
}

// Status is the aggregate status of the whole set: the most resolved
// individual status present. A set where nothing has resolved yet is
// pending-submitted as a whole.
func (t *Tracker) Status() models.SubmissionStatus {
	// Ordered most resolved first
	precedence := []models.SubmissionStatus{
		models.SubmissionStatusSucceededConfirmed,
		models.SubmissionStatusSucceededUnconfirmed,
		models.SubmissionStatusRevertedConfirmed,
		models.SubmissionStatusRevertedUnconfirmed,
		models.SubmissionStatusDroppedAndReplaced,
	}
	for _, status := range precedence {
		for _, sub := range t.submissions {
			if sub.Status == status {
				return status
			}
		}
	}
	return models.SubmissionStatusSubmitted
}

// ApplyReceipt marks the mined submission with its outcome and every other
// tracked submission as dropped and replaced. It returns the mutated rows so
// the caller can persist them.
func (t *Tracker) ApplyReceipt(receipt *types.Receipt, confirmed bool) ([]*models.TransactionSubmission, error) {
	minedIdx := -1
	for i, sub := range t.submissions {
		if sub.TxHash == receipt.TxHash {
			minedIdx = i
			break
		}
	}
	if minedIdx == -1 {
		return nil, fmt.Errorf("submission: receipt %s does not belong to order %s",
			receipt.TxHash.Hex(), t.orderHash.Hex())
	}

	for i, sub := range t.submissions {
		if i != minedIdx {
			sub.Status = models.SubmissionStatusDroppedAndReplaced
			continue
		}
		sub.Status = statusForReceipt(receipt, confirmed)
		sub.BlockMined = new(big.Int).Set(receipt.BlockNumber)
		sub.GasUsed = new(big.Int).SetUint64(receipt.GasUsed)
	}
	return t.submissions, nil
}

func statusForReceipt(receipt *types.Receipt, confirmed bool) models.SubmissionStatus {
	if receipt.Status == types.ReceiptStatusSuccessful {
		if confirmed {
			return models.SubmissionStatusSucceededConfirmed
		}
		return models.SubmissionStatusSucceededUnconfirmed
	}
	if confirmed {
		return models.SubmissionStatusRevertedConfirmed
	}
	return models.SubmissionStatusRevertedUnconfirmed
}

// JobStatusForReceipt maps a mined trade receipt to the job lifecycle status
// the settlement worker should record.
func JobStatusForReceipt(receipt *types.Receipt, confirmed bool) models.JobStatus {
	if receipt.Status == types.ReceiptStatusSuccessful {
		if confirmed {
			return models.JobStatusSucceededConfirmed
		}
		return models.JobStatusSucceededUnconfirmed
	}
	if confirmed {
		return models.JobStatusFailedRevertedConfirmed
	}
	return models.JobStatusFailedRevertedUnconfirmed
}
