// Package service is the relay's front door: it exposes quote, submission,
// and status operations and owns component wiring.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/metrics"
	"github.com/quotient-hq/rfq-relay/pkg/models"
	"github.com/quotient-hq/rfq-relay/pkg/quote"
	"github.com/quotient-hq/rfq-relay/pkg/status"
	"github.com/quotient-hq/rfq-relay/pkg/store"
	"github.com/quotient-hq/rfq-relay/pkg/worker"
)

var (
	// ErrQuoteNotFound means no firm quote exists for the submitted order
	ErrQuoteNotFound = errors.New("service: unknown order")
	// ErrQuoteExpired means the firm quote's order expiry has passed
	ErrQuoteExpired = errors.New("service: quote expired")
	// ErrAlreadySubmitted means this order hash was already accepted
	ErrAlreadySubmitted = errors.New("service: order already submitted")
	// ErrMissingApprovalSignature means the quote carried an approval
	// requirement but the taker did not sign it
	ErrMissingApprovalSignature = errors.New("service: approval signature required")
)

// SubmitRequest is a taker accepting a firm quote.
type SubmitRequest struct {
	OrderHash      common.Hash
	TakerSignature models.Signature
	// Approval and ApprovalSignature are set when the firm quote reported a
	// gasless approval requirement
	Approval          *models.Approval
	ApprovalSignature *models.Signature
}

// Service bundles the quote, settlement, and status components behind one
// API surface.
type Service struct {
	aggregator *quote.Aggregator
	resolver   *status.Resolver
	settler    *worker.Settler
	store      store.Store
	dedupe     *store.DedupeCache
	chainID    int
	logger     logger.Logger
}

// New assembles the service from its already-constructed components.
func New(aggregator *quote.Aggregator, resolver *status.Resolver, settler *worker.Settler,
	st store.Store, dedupe *store.DedupeCache, chainID int, log logger.Logger) *Service {
	return &Service{
		aggregator: aggregator,
		resolver:   resolver,
		settler:    settler,
		store:      st,
		dedupe:     dedupe,
		chainID:    chainID,
		logger:     log,
	}
}

// Start launches the settlement workers.
func (s *Service) Start(ctx context.Context) {
	s.settler.Start(ctx)
}

// Wait blocks until the settlement workers have drained.
func (s *Service) Wait() {
	s.settler.Wait()
}

// FetchIndicative returns the best indicative price or nil when no maker
// quoted acceptably.
func (s *Service) FetchIndicative(ctx context.Context, req quote.IndicativeRequest) (*quote.IndicativeResult, error) {
	return s.aggregator.FetchIndicative(ctx, req)
}

// FetchFirm returns a persisted, maker-signed quote or nil when no maker
// quoted acceptably.
func (s *Service) FetchFirm(ctx context.Context, req quote.FirmRequest) (*quote.FirmResult, error) {
	return s.aggregator.FetchFirm(ctx, req)
}

// SubmitSignedQuote accepts a firm quote: it validates the taker's
// submission against the stored quote, creates the job, and hands it to the
// settlement pool. The order hash is claimed exactly once; retries of an
// accepted order get ErrAlreadySubmitted.
func (s *Service) SubmitSignedQuote(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	firmQuote, err := s.store.FindQuoteByOrderHash(ctx, req.OrderHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("failed to load quote: %v", err)
	}

	now := time.Now()
	if firmQuote.Expired(now) {
		return nil, ErrQuoteExpired
	}
	if req.Approval != nil && req.ApprovalSignature == nil {
		return nil, ErrMissingApprovalSignature
	}

	if s.dedupe != nil {
		claimed, err := s.dedupe.Claim(ctx, req.OrderHash)
		if err != nil {
			return nil, err
		}
		if !claimed {
			return nil, ErrAlreadySubmitted
		}
	}

	job := &models.Job{
		OrderHash:         req.OrderHash,
		ChainID:           s.chainID,
		Order:             firmQuote.Order,
		MakerURI:          firmQuote.MakerURI,
		MakerSignature:    firmQuote.MakerSignature,
		TakerSignature:    &req.TakerSignature,
		Expiry:            firmQuote.Order.Expiry,
		Status:            models.JobStatusPendingEnqueued,
		Approval:          req.Approval,
		ApprovalSignature: req.ApprovalSignature,
		Workflow:          "rfq",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.WriteJob(ctx, job); err != nil {
		// Give the claim back so the taker can retry after a transient
		// store failure
		if s.dedupe != nil {
			if relErr := s.dedupe.Release(ctx, req.OrderHash); relErr != nil {
				s.logger.ErrorWith(logger.Store, "Failed to release claim for %s: %v", req.OrderHash.Hex(), relErr)
			}
		}
		return nil, fmt.Errorf("failed to persist job: %v", err)
	}

	metrics.JobsSubmitted.Inc()
	s.logger.InfoWith(logger.Quote, "Accepted signed quote %s from maker %s", req.OrderHash.Hex(), firmQuote.MakerURI)

	s.settler.Enqueue(job)
	return job, nil
}

// GetStatus reports the caller-visible trade state, or nil when no trade
// exists for the hash.
func (s *Service) GetStatus(ctx context.Context, orderHash common.Hash) (*status.Report, error) {
	return s.resolver.GetStatus(ctx, orderHash)
}
