package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/models"
	"github.com/quotient-hq/rfq-relay/pkg/status"
	"github.com/quotient-hq/rfq-relay/pkg/store"
	"github.com/quotient-hq/rfq-relay/pkg/worker"
)

var orderHash = common.HexToHash("0xaaaa000000000000000000000000000000000000000000000000000000000001")

func newTestService(st store.Store) *Service {
	log := &logger.EmptyLogger{}
	resolver := status.NewResolver(st, log)
	settler := worker.NewSettler(st, nil, nil, nil, nil, 1, time.Second, time.Second, log)
	return New(nil, resolver, settler, st, nil, 137, log)
}

func writeFirmQuote(t *testing.T, st store.Store, expiry time.Time) {
	t.Helper()
	require.NoError(t, st.WriteQuote(context.Background(), &models.Quote{
		ID:        uuid.New(),
		OrderHash: orderHash,
		ChainID:   137,
		MakerURI:  "https://maker-one.test",
		Order: models.Order{
			ChainID:     137,
			MakerAmount: big.NewInt(100),
			TakerAmount: big.NewInt(99),
			Expiry:      big.NewInt(expiry.Unix()),
			Nonce:       big.NewInt(1),
		},
		MakerSignature: &models.Signature{SignatureType: 2, V: 27},
		CreatedAt:      time.Now(),
	}))
}

func TestSubmitSignedQuote(t *testing.T) {
	takerSig := models.Signature{SignatureType: 2, V: 28}

	t.Run("Creates a queued job from a valid submission", func(t *testing.T) {
		st := store.NewMemoryStore()
		writeFirmQuote(t, st, time.Now().Add(10*time.Minute))
		svc := newTestService(st)

		job, err := svc.SubmitSignedQuote(context.Background(), SubmitRequest{
			OrderHash:      orderHash,
			TakerSignature: takerSig,
		})
		require.NoError(t, err)

		assert.Equal(t, models.JobStatusPendingEnqueued, job.Status)
		assert.Equal(t, "https://maker-one.test", job.MakerURI)
		require.NotNil(t, job.TakerSignature)
		assert.Equal(t, uint8(28), job.TakerSignature.V)

		stored, err := st.FindJobByOrderHash(context.Background(), orderHash)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusPendingEnqueued, stored.Status)
	})

	t.Run("Unknown order is rejected", func(t *testing.T) {
		svc := newTestService(store.NewMemoryStore())

		_, err := svc.SubmitSignedQuote(context.Background(), SubmitRequest{
			OrderHash:      orderHash,
			TakerSignature: takerSig,
		})
		assert.ErrorIs(t, err, ErrQuoteNotFound)
	})

	t.Run("Expired quote is rejected", func(t *testing.T) {
		st := store.NewMemoryStore()
		writeFirmQuote(t, st, time.Now().Add(-time.Minute))
		svc := newTestService(st)

		_, err := svc.SubmitSignedQuote(context.Background(), SubmitRequest{
			OrderHash:      orderHash,
			TakerSignature: takerSig,
		})
		assert.ErrorIs(t, err, ErrQuoteExpired)
	})

	t.Run("Approval payload without a signature is rejected", func(t *testing.T) {
		st := store.NewMemoryStore()
		writeFirmQuote(t, st, time.Now().Add(10*time.Minute))
		svc := newTestService(st)

		_, err := svc.SubmitSignedQuote(context.Background(), SubmitRequest{
			OrderHash:      orderHash,
			TakerSignature: takerSig,
			Approval:       &models.Approval{Kind: models.ApprovalKindExecuteMetaTransaction},
		})
		assert.ErrorIs(t, err, ErrMissingApprovalSignature)
	})

	t.Run("Submission then status round trip", func(t *testing.T) {
		st := store.NewMemoryStore()
		writeFirmQuote(t, st, time.Now().Add(10*time.Minute))
		svc := newTestService(st)

		_, err := svc.SubmitSignedQuote(context.Background(), SubmitRequest{
			OrderHash:      orderHash,
			TakerSignature: takerSig,
		})
		require.NoError(t, err)

		report, err := svc.GetStatus(context.Background(), orderHash)
		require.NoError(t, err)
		require.NotNil(t, report)
		assert.Equal(t, status.StatusPending, report.Status)
	})
}
