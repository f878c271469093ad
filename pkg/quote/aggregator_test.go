package quote

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/maker"
	"github.com/quotient-hq/rfq-relay/pkg/models"
	"github.com/quotient-hq/rfq-relay/pkg/store"
)

var (
	tokenA     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB     = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	takerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	settlement = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	fixedNow   = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
)

// mockMakerClient serves canned quotes and records signature requests
type mockMakerClient struct {
	quotes    []models.IndicativeQuote
	signature *models.Signature
	signErr   error
	signedURI string
}

func (m *mockMakerClient) BatchGetIndicativePrices(_ context.Context, _ []string, _ maker.PriceRequest) []models.IndicativeQuote {
	return m.quotes
}

func (m *mockMakerClient) RequestFirmSignature(_ context.Context, makerURI string, _ models.Order, _ common.Hash) (*models.Signature, error) {
	m.signedURI = makerURI
	if m.signErr != nil {
		return nil, m.signErr
	}
	return m.signature, nil
}

func (m *mockMakerClient) SubmitLastLook(_ context.Context, _ string, _ models.Order, _ common.Hash) (bool, error) {
	return true, nil
}

// mockGateway hashes typed data deterministically and serves one approval
type mockGateway struct {
	approval      *models.Approval
	approvalCalls int
}

func (g *mockGateway) GetReceipts(_ context.Context, hashes []common.Hash) ([]*types.Receipt, error) {
	return make([]*types.Receipt, len(hashes)), nil
}

func (g *mockGateway) GetCurrentBlock(_ context.Context) (uint64, error) { return 0, nil }

func (g *mockGateway) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	return 21000, nil
}

func (g *mockGateway) SignAndBroadcast(_ context.Context, _ *types.Transaction) (common.Hash, error) {
	return common.Hash{}, nil
}

func (g *mockGateway) ComputeTypedDataHash(data apitypes.TypedData) (common.Hash, error) {
	raw, err := data.HashStruct(data.PrimaryType, data.Message)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(raw), nil
}

func (g *mockGateway) GetGaslessApproval(_ context.Context, _ int, _ common.Address, _ common.Address) (*models.Approval, error) {
	g.approvalCalls++
	return g.approval, nil
}

func newTestAggregator(client maker.Client, gateway *mockGateway, st store.Store) *Aggregator {
	a := NewAggregator([]string{"https://maker-one.test"}, client, gateway, st, 137, settlement, &logger.EmptyLogger{})
	a.now = func() time.Time { return fixedNow }
	return a
}

func quoteFor(makerURI string, makerAmount, takerAmount int64) models.IndicativeQuote {
	return models.IndicativeQuote{
		Maker:       common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		MakerURI:    makerURI,
		MakerToken:  tokenA,
		TakerToken:  tokenB,
		MakerAmount: big.NewInt(makerAmount),
		TakerAmount: big.NewInt(takerAmount),
		Expiry:      fixedNow.Add(10 * time.Minute),
	}
}

func sellRequest(amount int64) IndicativeRequest {
	return IndicativeRequest{
		MakerToken: tokenA,
		TakerToken: tokenB,
		SellAmount: big.NewInt(amount),
		Taker:      takerAddr,
	}
}

func TestFetchIndicative_Price(t *testing.T) {
	tests := []struct {
		name          string
		quote         models.IndicativeQuote
		request       IndicativeRequest
		expectedPrice string
	}{
		{
			name:          "Sell price is maker over taker",
			quote:         quoteFor("https://maker-one.test", 101, 100),
			request:       sellRequest(100),
			expectedPrice: "1.01",
		},
		{
			name:          "Repeating decimal rounds half up at six places",
			quote:         quoteFor("https://maker-one.test", 100, 300),
			request:       sellRequest(300),
			expectedPrice: "0.333333",
		},
		{
			name:  "Buy price is taker over maker",
			quote: quoteFor("https://maker-one.test", 200, 100),
			request: IndicativeRequest{
				MakerToken: tokenA,
				TakerToken: tokenB,
				BuyAmount:  big.NewInt(200),
				Taker:      takerAddr,
			},
			expectedPrice: "0.5",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &mockMakerClient{quotes: []models.IndicativeQuote{tc.quote}}
			agg := newTestAggregator(client, &mockGateway{}, store.NewMemoryStore())

			result, err := agg.FetchIndicative(context.Background(), tc.request)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.True(t, result.Price.Equal(decimal.RequireFromString(tc.expectedPrice)),
				"Expected price %s, got %s", tc.expectedPrice, result.Price)
		})
	}
}

func TestFetchIndicative_PriceRespectsTokenDecimals(t *testing.T) {
	// 101 units of an 18-decimal maker token against 100 units of a
	// 6-decimal taker token. The unit price is 1.01 even though the raw
	// base-unit amounts differ by twelve orders of magnitude.
	makerAmount, ok := new(big.Int).SetString("101000000000000000000", 10)
	require.True(t, ok, "Failed to parse maker amount")
	takerAmount := big.NewInt(100_000_000)

	q := quoteFor("https://maker-one.test", 0, 0)
	q.MakerAmount = makerAmount
	q.TakerAmount = takerAmount

	tests := []struct {
		name          string
		request       IndicativeRequest
		expectedPrice string
	}{
		{
			name: "Sell price uses unit amounts",
			request: IndicativeRequest{
				MakerToken:         tokenA,
				TakerToken:         tokenB,
				MakerTokenDecimals: 18,
				TakerTokenDecimals: 6,
				SellAmount:         new(big.Int).Set(takerAmount),
				Taker:              takerAddr,
			},
			expectedPrice: "1.01",
		},
		{
			name: "Buy price uses unit amounts",
			request: IndicativeRequest{
				MakerToken:         tokenA,
				TakerToken:         tokenB,
				MakerTokenDecimals: 18,
				TakerTokenDecimals: 6,
				BuyAmount:          new(big.Int).Set(makerAmount),
				Taker:              takerAddr,
			},
			expectedPrice: "0.990099",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := &mockMakerClient{quotes: []models.IndicativeQuote{q}}
			agg := newTestAggregator(client, &mockGateway{}, store.NewMemoryStore())

			result, err := agg.FetchIndicative(context.Background(), tc.request)
			require.NoError(t, err)
			require.NotNil(t, result)
			assert.True(t, result.Price.Equal(decimal.RequireFromString(tc.expectedPrice)),
				"Expected price %s, got %s", tc.expectedPrice, result.Price)
		})
	}
}

func TestFetchIndicative_Filters(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.IndicativeQuote)
		request IndicativeRequest
	}{
		{
			name: "Pair mismatch is excluded",
			mutate: func(q *models.IndicativeQuote) {
				q.MakerToken = common.HexToAddress("0x00000000000000000000000000000000000000ff")
			},
			request: sellRequest(100),
		},
		{
			name: "Quote expiring within the buffer is excluded",
			mutate: func(q *models.IndicativeQuote) {
				q.Expiry = fixedNow.Add(2 * time.Minute)
			},
			request: sellRequest(100),
		},
		{
			name: "Partial fill on sell is excluded",
			mutate: func(q *models.IndicativeQuote) {
				q.TakerAmount = big.NewInt(99)
			},
			request: sellRequest(100),
		},
		{
			name:   "Partial fill on buy is excluded",
			mutate: func(q *models.IndicativeQuote) { q.MakerAmount = big.NewInt(150) },
			request: IndicativeRequest{
				MakerToken: tokenA,
				TakerToken: tokenB,
				BuyAmount:  big.NewInt(200),
				Taker:      takerAddr,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := quoteFor("https://maker-one.test", 200, 100)
			tc.mutate(&q)
			client := &mockMakerClient{quotes: []models.IndicativeQuote{q}}
			agg := newTestAggregator(client, &mockGateway{}, store.NewMemoryStore())

			result, err := agg.FetchIndicative(context.Background(), tc.request)
			require.NoError(t, err, "No surviving candidate is not an error")
			assert.Nil(t, result, "Filtered quote must not be selected")
		})
	}
}

func TestFetchIndicative_SelectsBestRate(t *testing.T) {
	client := &mockMakerClient{quotes: []models.IndicativeQuote{
		quoteFor("https://maker-one.test", 105, 100),
		quoteFor("https://maker-two.test", 110, 100),
		quoteFor("https://maker-three.test", 102, 100),
	}}
	agg := newTestAggregator(client, &mockGateway{}, store.NewMemoryStore())

	result, err := agg.FetchIndicative(context.Background(), sellRequest(100))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "https://maker-two.test", result.Quote.MakerURI,
		"Seller should get the highest maker-per-taker rate")
}

func TestFetchIndicative_ExactlyOneAmount(t *testing.T) {
	agg := newTestAggregator(&mockMakerClient{}, &mockGateway{}, store.NewMemoryStore())

	_, err := agg.FetchIndicative(context.Background(), IndicativeRequest{
		MakerToken: tokenA,
		TakerToken: tokenB,
		SellAmount: big.NewInt(100),
		BuyAmount:  big.NewInt(100),
		Taker:      takerAddr,
	})
	assert.Error(t, err)

	_, err = agg.FetchIndicative(context.Background(), IndicativeRequest{
		MakerToken: tokenA,
		TakerToken: tokenB,
		Taker:      takerAddr,
	})
	assert.Error(t, err)
}

func TestFetchFirm(t *testing.T) {
	signature := &models.Signature{SignatureType: 2, V: 27}

	t.Run("Signs with the winning maker and persists the quote", func(t *testing.T) {
		client := &mockMakerClient{
			quotes:    []models.IndicativeQuote{quoteFor("https://maker-one.test", 101, 100)},
			signature: signature,
		}
		st := store.NewMemoryStore()
		agg := newTestAggregator(client, &mockGateway{}, st)

		result, err := agg.FetchFirm(context.Background(), FirmRequest{IndicativeRequest: sellRequest(100)})
		require.NoError(t, err)
		require.NotNil(t, result)

		assert.Equal(t, "https://maker-one.test", client.signedURI)
		assert.Equal(t, signature, result.Quote.MakerSignature)
		assert.Nil(t, result.Approval)

		stored, err := st.FindQuoteByOrderHash(context.Background(), result.Quote.OrderHash)
		require.NoError(t, err)
		assert.Equal(t, result.Quote.ID, stored.ID)
	})

	t.Run("Signature failure fails the request with no fallback", func(t *testing.T) {
		client := &mockMakerClient{
			quotes:  []models.IndicativeQuote{quoteFor("https://maker-one.test", 101, 100)},
			signErr: errors.New("maker offline"),
		}
		agg := newTestAggregator(client, &mockGateway{}, store.NewMemoryStore())

		_, err := agg.FetchFirm(context.Background(), FirmRequest{IndicativeRequest: sellRequest(100)})
		assert.ErrorIs(t, err, ErrNoSignature)
	})

	t.Run("Approval lookup only runs when requested", func(t *testing.T) {
		approval := &models.Approval{Kind: models.ApprovalKindExecuteMetaTransaction, Token: tokenB}
		gateway := &mockGateway{approval: approval}
		client := &mockMakerClient{
			quotes:    []models.IndicativeQuote{quoteFor("https://maker-one.test", 101, 100)},
			signature: signature,
		}
		agg := newTestAggregator(client, gateway, store.NewMemoryStore())

		result, err := agg.FetchFirm(context.Background(), FirmRequest{IndicativeRequest: sellRequest(100)})
		require.NoError(t, err)
		assert.Nil(t, result.Approval)
		assert.Zero(t, gateway.approvalCalls, "Approval resolution is an on-chain read and must be opt-in")

		result, err = agg.FetchFirm(context.Background(), FirmRequest{
			IndicativeRequest: sellRequest(100),
			CheckApproval:     true,
		})
		require.NoError(t, err)
		assert.Equal(t, approval, result.Approval)
		assert.Equal(t, 1, gateway.approvalCalls)
	})

	t.Run("No candidate yields no firm quote", func(t *testing.T) {
		agg := newTestAggregator(&mockMakerClient{}, &mockGateway{}, store.NewMemoryStore())

		result, err := agg.FetchFirm(context.Background(), FirmRequest{IndicativeRequest: sellRequest(100)})
		require.NoError(t, err)
		assert.Nil(t, result)
	})
}
