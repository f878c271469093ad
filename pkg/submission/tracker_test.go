package submission

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotient-hq/rfq-relay/pkg/models"
)

var testOrderHash = common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001")

func legacySub(txHash string, nonce uint64, gasPrice int64) *models.TransactionSubmission {
	return &models.TransactionSubmission{
		OrderHash: testOrderHash,
		TxHash:    common.HexToHash(txHash),
		Nonce:     nonce,
		Gas:       models.LegacyGas{GasPrice: big.NewInt(gasPrice)},
		Type:      models.SubmissionTypeTrade,
		Status:    models.SubmissionStatusSubmitted,
		CreatedAt: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func feeMarketSub(txHash string, nonce uint64, maxFee, tip int64) *models.TransactionSubmission {
	return &models.TransactionSubmission{
		OrderHash: testOrderHash,
		TxHash:    common.HexToHash(txHash),
		Nonce:     nonce,
		Gas:       models.FeeMarketGas{MaxFeePerGas: big.NewInt(maxFee), MaxPriorityFeePerGas: big.NewInt(tip)},
		Type:      models.SubmissionTypeTrade,
		Status:    models.SubmissionStatusSubmitted,
		CreatedAt: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewTracker_Invariants(t *testing.T) {
	tests := []struct {
		name        string
		submissions []*models.TransactionSubmission
		wantErr     string
	}{
		{
			name:        "Empty set is rejected",
			submissions: nil,
			wantErr:     "at least one submission",
		},
		{
			name: "Duplicate hashes are rejected",
			submissions: []*models.TransactionSubmission{
				legacySub("0x01", 7, 100),
				legacySub("0x01", 7, 110),
			},
			wantErr: "duplicate transaction hash",
		},
		{
			name: "Nonce mismatch is rejected",
			submissions: []*models.TransactionSubmission{
				legacySub("0x01", 7, 100),
				legacySub("0x02", 8, 110),
			},
			wantErr: "nonce mismatch",
		},
		{
			name: "Mixed gas formats are rejected",
			submissions: []*models.TransactionSubmission{
				legacySub("0x01", 7, 100),
				feeMarketSub("0x02", 7, 200, 2),
			},
			wantErr: "mixed gas pricing formats",
		},
		{
			name: "Partial fee market pair is rejected",
			submissions: []*models.TransactionSubmission{
				{
					OrderHash: testOrderHash,
					TxHash:    common.HexToHash("0x01"),
					Nonce:     7,
					Gas:       models.FeeMarketGas{MaxFeePerGas: big.NewInt(200)},
					Type:      models.SubmissionTypeTrade,
				},
			},
			wantErr: "incomplete gas pricing",
		},
		{
			name: "Consistent legacy set is accepted",
			submissions: []*models.TransactionSubmission{
				legacySub("0x01", 7, 100),
				legacySub("0x02", 7, 115),
			},
		},
		{
			name: "Consistent fee market set is accepted",
			submissions: []*models.TransactionSubmission{
				feeMarketSub("0x01", 7, 200, 2),
				feeMarketSub("0x02", 7, 230, 3),
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tracker, err := NewTracker(tc.submissions)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testOrderHash, tracker.OrderHash())
		})
	}
}

func TestTracker_TransactionType(t *testing.T) {
	legacy, err := NewTracker([]*models.TransactionSubmission{legacySub("0x01", 7, 100)})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), legacy.TransactionType())

	feeMarket, err := NewTracker([]*models.TransactionSubmission{feeMarketSub("0x01", 7, 200, 2)})
	require.NoError(t, err)
	assert.Equal(t, uint8(2), feeMarket.TransactionType())
}

func TestTracker_MaxGasPrice(t *testing.T) {
	t.Run("Returns the highest gas price", func(t *testing.T) {
		tracker, err := NewTracker([]*models.TransactionSubmission{
			legacySub("0x01", 7, 100),
			legacySub("0x02", 7, 130),
			legacySub("0x03", 7, 115),
		})
		require.NoError(t, err)

		max, err := tracker.MaxGasPrice()
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(130), max)
	})

	t.Run("Errors on a fee market set", func(t *testing.T) {
		tracker, err := NewTracker([]*models.TransactionSubmission{feeMarketSub("0x01", 7, 200, 2)})
		require.NoError(t, err)

		_, err = tracker.MaxGasPrice()
		assert.Error(t, err, "maxGasPrice is the wrong accessor for fee market pricing")
	})
}

func TestTracker_MaxGasFees(t *testing.T) {
	t.Run("Returns the highest fee and highest tip independently", func(t *testing.T) {
		tracker, err := NewTracker([]*models.TransactionSubmission{
			feeMarketSub("0x01", 7, 200, 5),
			feeMarketSub("0x02", 7, 260, 3),
		})
		require.NoError(t, err)

		maxFee, maxTip, err := tracker.MaxGasFees()
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(260), maxFee)
		assert.Equal(t, big.NewInt(5), maxTip)
	})

	t.Run("Errors on a legacy set", func(t *testing.T) {
		tracker, err := NewTracker([]*models.TransactionSubmission{legacySub("0x01", 7, 100)})
		require.NoError(t, err)

		_, _, err = tracker.MaxGasFees()
		assert.Error(t, err, "maxGasFees is the wrong accessor for legacy pricing")
	})
}

func TestTracker_FirstSubmissionTimestamp(t *testing.T) {
	first := legacySub("0x01", 7, 100)
	first.CreatedAt = time.Date(2026, 4, 1, 12, 0, 1, 750_000_000, time.UTC)
	second := legacySub("0x02", 7, 115)
	second.CreatedAt = time.Date(2026, 4, 1, 12, 0, 30, 0, time.UTC)

	tracker, err := NewTracker([]*models.TransactionSubmission{second, first})
	require.NoError(t, err)

	got := tracker.FirstSubmissionTimestamp()
	assert.Equal(t, time.Date(2026, 4, 1, 12, 0, 1, 0, time.UTC), got,
		"Earliest creation time should be reported in whole seconds")
}

// mockReceiptFetcher returns canned receipts keyed by hash
type mockReceiptFetcher struct {
	receipts map[common.Hash]*types.Receipt
	err      error
}

func (m *mockReceiptFetcher) GetReceipts(_ context.Context, hashes []common.Hash) ([]*types.Receipt, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]*types.Receipt, len(hashes))
	for i, h := range hashes {
		out[i] = m.receipts[h]
	}
	return out, nil
}

func minedReceipt(txHash common.Hash, block int64, success bool) *types.Receipt {
	receiptStatus := types.ReceiptStatusFailed
	if success {
		receiptStatus = types.ReceiptStatusSuccessful
	}
	return &types.Receipt{
		TxHash:      txHash,
		BlockNumber: big.NewInt(block),
		GasUsed:     21000,
		Status:      receiptStatus,
	}
}

func TestTracker_GetReceipt(t *testing.T) {
	subs := []*models.TransactionSubmission{
		legacySub("0x01", 7, 100),
		legacySub("0x02", 7, 115),
	}
	tracker, err := NewTracker(subs)
	require.NoError(t, err)

	t.Run("Nil when nothing is mined", func(t *testing.T) {
		fetcher := &mockReceiptFetcher{receipts: map[common.Hash]*types.Receipt{}}
		receipt, err := tracker.GetReceipt(context.Background(), fetcher)
		require.NoError(t, err)
		assert.Nil(t, receipt)
	})

	t.Run("Returns the single mined receipt", func(t *testing.T) {
		mined := minedReceipt(subs[1].TxHash, 100, true)
		fetcher := &mockReceiptFetcher{receipts: map[common.Hash]*types.Receipt{
			subs[1].TxHash: mined,
		}}
		receipt, err := tracker.GetReceipt(context.Background(), fetcher)
		require.NoError(t, err)
		assert.Equal(t, mined, receipt)
	})

	t.Run("Two mined receipts are a fatal inconsistency", func(t *testing.T) {
		fetcher := &mockReceiptFetcher{receipts: map[common.Hash]*types.Receipt{
			subs[0].TxHash: minedReceipt(subs[0].TxHash, 100, true),
			subs[1].TxHash: minedReceipt(subs[1].TxHash, 100, true),
		}}
		_, err := tracker.GetReceipt(context.Background(), fetcher)
		assert.ErrorIs(t, err, ErrMultipleReceipts)
	})
}

func TestIsBlockConfirmed(t *testing.T) {
	tests := []struct {
		name         string
		currentBlock uint64
		receiptBlock uint64
		expected     bool
	}{
		{name: "Two blocks deep is not confirmed", currentBlock: 102, receiptBlock: 100, expected: false},
		{name: "Three blocks deep is confirmed", currentBlock: 103, receiptBlock: 100, expected: true},
		{name: "Same block is not confirmed", currentBlock: 100, receiptBlock: 100, expected: false},
		{name: "Deeply buried block is confirmed", currentBlock: 1000, receiptBlock: 100, expected: true},
		{name: "Receipt ahead of observed head is not confirmed", currentBlock: 100, receiptBlock: 103, expected: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsBlockConfirmed(tc.currentBlock, tc.receiptBlock))
		})
	}
}

func TestTracker_Status(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.SubmissionStatus
		expected models.SubmissionStatus
	}{
		{
			name:     "All submitted stays pending submitted",
			statuses: []models.SubmissionStatus{models.SubmissionStatusSubmitted, models.SubmissionStatusSubmitted},
			expected: models.SubmissionStatusSubmitted,
		},
		{
			name:     "Succeeded confirmed wins over everything",
			statuses: []models.SubmissionStatus{models.SubmissionStatusDroppedAndReplaced, models.SubmissionStatusSucceededConfirmed},
			expected: models.SubmissionStatusSucceededConfirmed,
		},
		{
			name:     "Succeeded unconfirmed beats dropped",
			statuses: []models.SubmissionStatus{models.SubmissionStatusSucceededUnconfirmed, models.SubmissionStatusDroppedAndReplaced},
			expected: models.SubmissionStatusSucceededUnconfirmed,
		},
		{
			name:     "Revert beats dropped",
			statuses: []models.SubmissionStatus{models.SubmissionStatusDroppedAndReplaced, models.SubmissionStatusRevertedUnconfirmed},
			expected: models.SubmissionStatusRevertedUnconfirmed,
		},
		{
			name:     "Dropped beats submitted",
			statuses: []models.SubmissionStatus{models.SubmissionStatusSubmitted, models.SubmissionStatusDroppedAndReplaced},
			expected: models.SubmissionStatusDroppedAndReplaced,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			subs := make([]*models.TransactionSubmission, len(tc.statuses))
			for i, status := range tc.statuses {
				subs[i] = legacySub(common.BigToHash(big.NewInt(int64(i+1))).Hex(), 7, int64(100+i))
				subs[i].Status = status
			}
			tracker, err := NewTracker(subs)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, tracker.Status())
		})
	}
}

func TestTracker_ApplyReceipt(t *testing.T) {
	t.Run("Marks the mined attempt and drops the rest", func(t *testing.T) {
		subs := []*models.TransactionSubmission{
			legacySub("0x01", 7, 100),
			legacySub("0x02", 7, 115),
			legacySub("0x03", 7, 130),
		}
		tracker, err := NewTracker(subs)
		require.NoError(t, err)

		receipt := minedReceipt(subs[1].TxHash, 500, true)
		updated, err := tracker.ApplyReceipt(receipt, true)
		require.NoError(t, err)
		require.Len(t, updated, 3)

		assert.Equal(t, models.SubmissionStatusDroppedAndReplaced, updated[0].Status)
		assert.Equal(t, models.SubmissionStatusSucceededConfirmed, updated[1].Status)
		assert.Equal(t, models.SubmissionStatusDroppedAndReplaced, updated[2].Status)
		assert.Equal(t, big.NewInt(500), updated[1].BlockMined)
		assert.Equal(t, big.NewInt(21000), updated[1].GasUsed)
	})

	t.Run("Reverted receipt inside confirmation depth", func(t *testing.T) {
		subs := []*models.TransactionSubmission{legacySub("0x01", 7, 100)}
		tracker, err := NewTracker(subs)
		require.NoError(t, err)

		receipt := minedReceipt(subs[0].TxHash, 500, false)
		updated, err := tracker.ApplyReceipt(receipt, false)
		require.NoError(t, err)
		assert.Equal(t, models.SubmissionStatusRevertedUnconfirmed, updated[0].Status)
	})

	t.Run("Foreign receipt is rejected", func(t *testing.T) {
		tracker, err := NewTracker([]*models.TransactionSubmission{legacySub("0x01", 7, 100)})
		require.NoError(t, err)

		_, err = tracker.ApplyReceipt(minedReceipt(common.HexToHash("0xff"), 500, true), false)
		assert.Error(t, err)
	})
}

func TestJobStatusForReceipt(t *testing.T) {
	hash := common.HexToHash("0x01")
	assert.Equal(t, models.JobStatusSucceededConfirmed, JobStatusForReceipt(minedReceipt(hash, 1, true), true))
	assert.Equal(t, models.JobStatusSucceededUnconfirmed, JobStatusForReceipt(minedReceipt(hash, 1, true), false))
	assert.Equal(t, models.JobStatusFailedRevertedConfirmed, JobStatusForReceipt(minedReceipt(hash, 1, false), true))
	assert.Equal(t, models.JobStatusFailedRevertedUnconfirmed, JobStatusForReceipt(minedReceipt(hash, 1, false), false))
}
