package models

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusHelpers(t *testing.T) {
	assert.True(t, JobStatusPendingEnqueued.Unprocessed())
	assert.True(t, JobStatusPendingProcessing.Unprocessed())
	assert.False(t, JobStatusPendingSubmitted.Unprocessed())

	assert.True(t, JobStatusSucceededConfirmed.Resolved())
	assert.False(t, JobStatusSucceededUnconfirmed.Resolved(), "Unconfirmed success still needs receipt watching")
	assert.False(t, JobStatusFailedRevertedUnconfirmed.Resolved(), "An unconfirmed revert can still be reorged")
	assert.True(t, JobStatusFailedLastLookDeclined.Resolved())

	assert.True(t, JobStatusFailedExpired.Failed())
	assert.False(t, JobStatusSucceededConfirmed.Failed())
	assert.False(t, JobStatusPendingSubmitted.Failed())
}

func TestSubmissionStatusSucceeded(t *testing.T) {
	assert.True(t, SubmissionStatusSucceededConfirmed.Succeeded())
	assert.True(t, SubmissionStatusSucceededUnconfirmed.Succeeded())
	assert.False(t, SubmissionStatusDroppedAndReplaced.Succeeded())
	assert.False(t, SubmissionStatusRevertedConfirmed.Succeeded())
}

func TestGasPricing(t *testing.T) {
	assert.Equal(t, uint8(0), LegacyGas{}.TransactionType())
	assert.Equal(t, uint8(2), FeeMarketGas{}.TransactionType())

	assert.False(t, LegacyGas{}.Complete())
	assert.True(t, LegacyGas{GasPrice: big.NewInt(1)}.Complete())
	assert.False(t, FeeMarketGas{MaxFeePerGas: big.NewInt(1)}.Complete(),
		"Half a fee pair is not a valid pricing")
	assert.True(t, FeeMarketGas{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)}.Complete())
}

func TestOrderExpiry(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	order := Order{Expiry: big.NewInt(now.Add(time.Minute).Unix())}

	assert.Equal(t, now.Add(time.Minute).Unix(), order.ExpiryTime().Unix())

	job := Job{Expiry: order.Expiry}
	assert.False(t, job.Expired(now))
	assert.True(t, job.Expired(now.Add(2*time.Minute)))
	assert.True(t, job.Expired(now.Add(time.Minute)), "Expiry instant itself counts as expired")
}
