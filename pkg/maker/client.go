// Package maker provides the client for talking to market-maker endpoints:
// indicative price fan-out, firm signature requests, and last look.
package maker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/quotient-hq/rfq-relay/pkg/circuitbreaker"
	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/metrics"
	"github.com/quotient-hq/rfq-relay/pkg/models"
)

// OrderSide says which amount of the pair the taker fixed.
type OrderSide string

const (
	// SideSell fixes the taker (sell) amount
	SideSell OrderSide = "sell"
	// SideBuy fixes the maker (buy) amount
	SideBuy OrderSide = "buy"
)

// PriceRequest is a request for an indicative price on one pair.
type PriceRequest struct {
	MakerToken common.Address
	TakerToken common.Address
	Amount     *big.Int
	Side       OrderSide
	Taker      common.Address
}

// Client is the maker communication boundary used by the quote aggregator
// and the settlement worker.
type Client interface {
	// BatchGetIndicativePrices fans out to all makers in parallel. Failing
	// makers are excluded, never surfaced; the result may be empty.
	BatchGetIndicativePrices(ctx context.Context, makers []string, req PriceRequest) []models.IndicativeQuote
	// RequestFirmSignature asks one maker to sign the order. There is no
	// fallback maker; failure fails the firm quote.
	RequestFirmSignature(ctx context.Context, makerURI string, order models.Order, orderHash common.Hash) (*models.Signature, error)
	// SubmitLastLook gives the maker its final chance to decline the trade.
	// Returns false when the maker declined.
	SubmitLastLook(ctx context.Context, makerURI string, order models.Order, orderHash common.Hash) (bool, error)
}

// maxConcurrentQuoteRequests bounds the fan-out so a large maker list cannot
// exhaust sockets
const maxConcurrentQuoteRequests = 16

// HTTPClient implements Client over the maker JSON API.
type HTTPClient struct {
	httpClient *http.Client
	timeout    time.Duration
	breakers   *circuitbreaker.Registry
	logger     logger.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a maker client with the given per-call timeout
func NewHTTPClient(timeout time.Duration, breakers *circuitbreaker.Registry, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		httpClient: createHTTPClient(),
		timeout:    timeout,
		breakers:   breakers,
		logger:     log,
	}
}

// priceResponse is the maker's indicative price payload
type priceResponse struct {
	Maker       string `json:"maker"`
	MakerToken  string `json:"makerToken"`
	TakerToken  string `json:"takerToken"`
	MakerAmount string `json:"makerAmount"`
	TakerAmount string `json:"takerAmount"`
	// Expiry is a unix timestamp in seconds
	Expiry int64 `json:"expiry"`
}

// signResponse is the maker's answer to a firm signature request
type signResponse struct {
	Signed    bool              `json:"signed"`
	Signature *models.Signature `json:"signature,omitempty"`
}

// lastLookResponse is the maker's answer to a last-look submission
type lastLookResponse struct {
	ProceedWithFill bool `json:"proceedWithFill"`
}

// BatchGetIndicativePrices requests prices from every maker concurrently.
// Each call gets its own timeout; a slow or failing maker only removes
// itself from the candidate set.
func (c *HTTPClient) BatchGetIndicativePrices(ctx context.Context, makers []string, req PriceRequest) []models.IndicativeQuote {
	var (
		mu     sync.Mutex
		quotes []models.IndicativeQuote
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQuoteRequests)

	for _, makerURI := range makers {
		makerURI := makerURI
		if c.breakers != nil && c.breakers.For(makerURI).IsOpen() {
			c.logger.DebugWith(logger.Maker, "Skipping maker %s: circuit open", makerURI)
			continue
		}

		g.Go(func() error {
			quote, err := c.getIndicativePrice(ctx, makerURI, req)
			if err != nil {
				// A failed maker is excluded, never propagated
				c.logger.DebugWith(logger.Maker, "Maker %s excluded from quote: %v", makerURI, err)
				metrics.MakerQuoteErrors.WithLabelValues(makerURI).Inc()
				if c.breakers != nil {
					c.breakers.For(makerURI).RecordFailure()
				}
				return nil
			}
			if c.breakers != nil {
				c.breakers.For(makerURI).RecordSuccess()
			}
			mu.Lock()
			quotes = append(quotes, *quote)
			mu.Unlock()
			return nil
		})
	}

	// Workers always return nil; Wait only orders the appends
	_ = g.Wait()
	return quotes
}

func (c *HTTPClient) getIndicativePrice(ctx context.Context, makerURI string, req PriceRequest) (*models.IndicativeQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.MakerQuoteLatency.WithLabelValues(makerURI).Observe(time.Since(start).Seconds())
	}()

	url := fmt.Sprintf("%s/rfq/price?makerToken=%s&takerToken=%s&amount=%s&side=%s&taker=%s",
		makerURI, req.MakerToken.Hex(), req.TakerToken.Hex(), req.Amount.String(), req.Side, req.Taker.Hex())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %v", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.ErrorWith(logger.Maker, "Failed to close response body: %v", closeErr)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read price response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var priceResp priceResponse
	if err := json.Unmarshal(bodyBytes, &priceResp); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %v, body: %s", err, string(bodyBytes))
	}

	return parseQuote(makerURI, priceResp)
}

func parseQuote(makerURI string, resp priceResponse) (*models.IndicativeQuote, error) {
	makerAmount, ok := new(big.Int).SetString(resp.MakerAmount, 10)
	if !ok {
		return nil, fmt.Errorf("malformed makerAmount: %s", resp.MakerAmount)
	}
	takerAmount, ok := new(big.Int).SetString(resp.TakerAmount, 10)
	if !ok {
		return nil, fmt.Errorf("malformed takerAmount: %s", resp.TakerAmount)
	}
	if makerAmount.Sign() <= 0 || takerAmount.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive amounts in quote: %s/%s", resp.MakerAmount, resp.TakerAmount)
	}
	if !common.IsHexAddress(resp.Maker) || !common.IsHexAddress(resp.MakerToken) || !common.IsHexAddress(resp.TakerToken) {
		return nil, fmt.Errorf("malformed addresses in quote")
	}

	return &models.IndicativeQuote{
		Maker:       common.HexToAddress(resp.Maker),
		MakerURI:    makerURI,
		MakerToken:  common.HexToAddress(resp.MakerToken),
		TakerToken:  common.HexToAddress(resp.TakerToken),
		MakerAmount: makerAmount,
		TakerAmount: takerAmount,
		Expiry:      time.Unix(resp.Expiry, 0),
	}, nil
}

// RequestFirmSignature posts the order to the chosen maker for signing.
func (c *HTTPClient) RequestFirmSignature(ctx context.Context, makerURI string, order models.Order, orderHash common.Hash) (*models.Signature, error) {
	var resp signResponse
	if err := c.postJSON(ctx, makerURI+"/rfq/sign", signRequest{Order: order, OrderHash: orderHash.Hex()}, &resp); err != nil {
		return nil, err
	}
	if !resp.Signed || resp.Signature == nil {
		return nil, fmt.Errorf("maker %s declined to sign order %s", makerURI, orderHash.Hex())
	}
	return resp.Signature, nil
}

// SubmitLastLook posts the taker's signed intent for the maker's final check.
func (c *HTTPClient) SubmitLastLook(ctx context.Context, makerURI string, order models.Order, orderHash common.Hash) (bool, error) {
	var resp lastLookResponse
	if err := c.postJSON(ctx, makerURI+"/rfq/submit", signRequest{Order: order, OrderHash: orderHash.Hex()}, &resp); err != nil {
		return false, err
	}
	return resp.ProceedWithFill, nil
}

type signRequest struct {
	Order     models.Order `json:"order"`
	OrderHash string       `json:"orderHash"`
}

func (c *HTTPClient) postJSON(ctx context.Context, url string, payload interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.ErrorWith(logger.Maker, "Failed to close response body: %v", closeErr)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %v, body: %s", err, string(bodyBytes))
	}
	return nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
