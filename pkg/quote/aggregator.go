// Package quote aggregates maker prices into a single best quote and turns
// the winner into a firm, maker-signed commitment.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quotient-hq/rfq-relay/pkg/blockchain"
	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/maker"
	"github.com/quotient-hq/rfq-relay/pkg/metrics"
	"github.com/quotient-hq/rfq-relay/pkg/models"
	"github.com/quotient-hq/rfq-relay/pkg/store"
)

const (
	// minQuoteExpiryWindow rejects quotes that would expire before the taker
	// can realistically sign and settle
	minQuoteExpiryWindow = 3 * time.Minute

	// priceDecimals is the precision of the reported price
	priceDecimals = 6
)

// ErrNoSignature means the chosen maker failed or declined to sign. There is
// no fallback maker; the firm request fails as a whole.
var ErrNoSignature = errors.New("quote: maker did not provide a signature")

// IndicativeRequest asks for the best non-binding price on a pair. Exactly
// one of SellAmount or BuyAmount is set: SellAmount fixes the taker side,
// BuyAmount fixes the maker side.
type IndicativeRequest struct {
	MakerToken         common.Address
	TakerToken         common.Address
	MakerTokenDecimals int32
	TakerTokenDecimals int32
	SellAmount         *big.Int
	BuyAmount          *big.Int
	Taker              common.Address
}

// FirmRequest asks for a binding maker-signed quote. CheckApproval also
// resolves whether the taker needs a gasless token approval; it costs an
// on-chain read, so callers opt in.
type FirmRequest struct {
	IndicativeRequest
	CheckApproval bool
}

// IndicativeResult is the winning indicative price. Price is the exchange
// rate rounded to six decimal places, half up: maker-per-taker for sells,
// taker-per-maker for buys.
type IndicativeResult struct {
	Quote models.IndicativeQuote
	Price decimal.Decimal
}

// FirmResult is a maker-signed quote, persisted before return, plus the
// gasless approval requirement when one was requested and needed.
type FirmResult struct {
	Quote    models.Quote
	Price    decimal.Decimal
	Approval *models.Approval
}

// Aggregator fans quote requests out to the maker set and selects the best
// surviving candidate.
type Aggregator struct {
	makers     []string
	client     maker.Client
	gateway    blockchain.Gateway
	store      store.Store
	chainID    int
	settlement common.Address
	logger     logger.Logger
	now        func() time.Time
}

// NewAggregator creates a quote aggregator over the configured maker set.
func NewAggregator(makers []string, client maker.Client, gateway blockchain.Gateway,
	st store.Store, chainID int, settlement common.Address, log logger.Logger) *Aggregator {
	return &Aggregator{
		makers:     makers,
		client:     client,
		gateway:    gateway,
		store:      st,
		chainID:    chainID,
		settlement: settlement,
		logger:     log,
		now:        time.Now,
	}
}

// FetchIndicative returns the best indicative price for the request, or nil
// when no maker produced an acceptable quote. Maker failures never fail the
// call; only an empty candidate set yields no quote.
func (a *Aggregator) FetchIndicative(ctx context.Context, req IndicativeRequest) (*IndicativeResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	best := a.selectBest(ctx, req)
	if best == nil {
		metrics.QuoteRequests.WithLabelValues("indicative", "no_quote").Inc()
		return nil, nil
	}

	metrics.QuoteRequests.WithLabelValues("indicative", "quoted").Inc()
	return &IndicativeResult{Quote: *best, Price: price(*best, req)}, nil
}

// FetchFirm runs the same selection as FetchIndicative, then asks the winning
// maker to sign, persists the quote, and optionally resolves the gasless
// approval requirement.
func (a *Aggregator) FetchFirm(ctx context.Context, req FirmRequest) (*FirmResult, error) {
	if err := validateRequest(req.IndicativeRequest); err != nil {
		return nil, err
	}

	best := a.selectBest(ctx, req.IndicativeRequest)
	if best == nil {
		metrics.QuoteRequests.WithLabelValues("firm", "no_quote").Inc()
		return nil, nil
	}

	order := a.orderFromQuote(*best, req.Taker)
	orderHash, err := a.gateway.ComputeTypedDataHash(blockchain.OrderTypedData(order))
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %v", err)
	}

	signature, err := a.client.RequestFirmSignature(ctx, best.MakerURI, order, orderHash)
	if err != nil {
		metrics.QuoteRequests.WithLabelValues("firm", "sign_failed").Inc()
		a.logger.ErrorWith(logger.Quote, "Maker %s failed to sign order %s: %v", best.MakerURI, orderHash.Hex(), err)
		return nil, fmt.Errorf("%w: %v", ErrNoSignature, err)
	}

	firmQuote := models.Quote{
		ID:             uuid.New(),
		OrderHash:      orderHash,
		ChainID:        a.chainID,
		MakerURI:       best.MakerURI,
		Order:          order,
		MakerSignature: signature,
		CreatedAt:      a.now(),
	}
	if err := a.store.WriteQuote(ctx, &firmQuote); err != nil {
		return nil, fmt.Errorf("failed to persist quote: %v", err)
	}

	result := &FirmResult{Quote: firmQuote, Price: price(*best, req.IndicativeRequest)}

	// The approval lookup reads token state on-chain, so it only runs when
	// asked for
	if req.CheckApproval {
		approval, err := a.gateway.GetGaslessApproval(ctx, a.chainID, order.TakerToken, req.Taker)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve gasless approval: %v", err)
		}
		result.Approval = approval
	}

	metrics.QuoteRequests.WithLabelValues("firm", "quoted").Inc()
	a.logger.InfoWith(logger.Quote, "Firm quote %s signed by %s for order %s",
		firmQuote.ID, best.MakerURI, orderHash.Hex())
	return result, nil
}

func validateRequest(req IndicativeRequest) error {
	if (req.SellAmount == nil) == (req.BuyAmount == nil) {
		return errors.New("quote: exactly one of sellAmount or buyAmount must be set")
	}
	amount := req.SellAmount
	if amount == nil {
		amount = req.BuyAmount
	}
	if amount.Sign() <= 0 {
		return errors.New("quote: amount must be positive")
	}
	if req.MakerToken == req.TakerToken {
		return errors.New("quote: maker and taker token must differ")
	}
	return nil
}

// selectBest fans out, filters, and picks the candidate with the most
// favorable exchange rate. Returns nil when nothing survives.
func (a *Aggregator) selectBest(ctx context.Context, req IndicativeRequest) *models.IndicativeQuote {
	priceReq := maker.PriceRequest{
		MakerToken: req.MakerToken,
		TakerToken: req.TakerToken,
		Taker:      req.Taker,
	}
	if req.SellAmount != nil {
		priceReq.Amount = req.SellAmount
		priceReq.Side = maker.SideSell
	} else {
		priceReq.Amount = req.BuyAmount
		priceReq.Side = maker.SideBuy
	}

	candidates := a.client.BatchGetIndicativePrices(ctx, a.makers, priceReq)

	var best *models.IndicativeQuote
	for i := range candidates {
		candidate := &candidates[i]
		if !a.acceptable(*candidate, req) {
			continue
		}
		if best == nil || betterRate(*candidate, *best) {
			best = candidate
		}
	}
	return best
}

// acceptable applies the candidate filters: exact pair match, enough life
// left before expiry, and a full fill of the requested amount.
func (a *Aggregator) acceptable(q models.IndicativeQuote, req IndicativeRequest) bool {
	if q.MakerToken != req.MakerToken || q.TakerToken != req.TakerToken {
		a.logger.DebugWith(logger.Quote, "Rejecting quote from %s: pair mismatch", q.MakerURI)
		return false
	}
	if q.Expiry.Before(a.now().Add(minQuoteExpiryWindow)) {
		a.logger.DebugWith(logger.Quote, "Rejecting quote from %s: expires too soon (%s)", q.MakerURI, q.Expiry)
		return false
	}
	// Partial fills are not acceptable
	if req.SellAmount != nil && q.TakerAmount.Cmp(req.SellAmount) < 0 {
		a.logger.DebugWith(logger.Quote, "Rejecting quote from %s: partial fill %s < %s",
			q.MakerURI, q.TakerAmount, req.SellAmount)
		return false
	}
	if req.BuyAmount != nil && q.MakerAmount.Cmp(req.BuyAmount) < 0 {
		a.logger.DebugWith(logger.Quote, "Rejecting quote from %s: partial fill %s < %s",
			q.MakerURI, q.MakerAmount, req.BuyAmount)
		return false
	}
	return true
}

// betterRate compares exchange rates by cross-multiplication so no precision
// is lost. Selling wants the highest maker-per-taker rate; buying wants the
// lowest taker-per-maker rate, which is the same comparison.
func betterRate(a, b models.IndicativeQuote) bool {
	left := new(big.Int).Mul(a.MakerAmount, b.TakerAmount)
	right := new(big.Int).Mul(b.MakerAmount, a.TakerAmount)
	return left.Cmp(right) > 0
}

// price reports the exchange rate rounded to six decimals, half up:
// maker-amount/taker-amount for sells and the inverse for buys. Both
// amounts are shifted from base units to unit amounts first so tokens
// with different decimals compare on the same scale.
func price(q models.IndicativeQuote, req IndicativeRequest) decimal.Decimal {
	makerAmt := decimal.NewFromBigInt(q.MakerAmount, -req.MakerTokenDecimals)
	takerAmt := decimal.NewFromBigInt(q.TakerAmount, -req.TakerTokenDecimals)
	if req.SellAmount != nil {
		return makerAmt.DivRound(takerAmt, priceDecimals)
	}
	return takerAmt.DivRound(makerAmt, priceDecimals)
}

// orderFromQuote fills in the settlement frame around the maker's price.
func (a *Aggregator) orderFromQuote(q models.IndicativeQuote, taker common.Address) models.Order {
	return models.Order{
		ChainID:           int64(a.chainID),
		VerifyingContract: a.settlement,
		Maker:             q.Maker,
		Taker:             taker,
		MakerToken:        q.MakerToken,
		TakerToken:        q.TakerToken,
		MakerAmount:       new(big.Int).Set(q.MakerAmount),
		TakerAmount:       new(big.Int).Set(q.TakerAmount),
		Expiry:            big.NewInt(q.Expiry.Unix()),
		Nonce:             nonceFromTime(a.now()),
	}
}

// nonceFromTime derives a strictly growing order nonce from the wall clock
// in milliseconds. Distinct firm quotes for the same pair stay distinct.
func nonceFromTime(t time.Time) *big.Int {
	return big.NewInt(t.UnixMilli())
}
