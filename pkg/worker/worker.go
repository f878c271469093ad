// Package worker settles accepted jobs: last look, gasless approvals, trade
// broadcast, receipt watching, and gas escalation.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/quotient-hq/rfq-relay/pkg/blockchain"
	"github.com/quotient-hq/rfq-relay/pkg/gas"
	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/maker"
	"github.com/quotient-hq/rfq-relay/pkg/metrics"
	"github.com/quotient-hq/rfq-relay/pkg/models"
	"github.com/quotient-hq/rfq-relay/pkg/store"
	"github.com/quotient-hq/rfq-relay/pkg/submission"
)

// maxGasBumps caps replacement attempts per leg. After that the relay keeps
// watching the already-broadcast set instead of pricing itself into the floor.
const maxGasBumps = 3

// expiryGrace is how long past order expiry the watcher keeps looking for a
// receipt before writing the job off.
const expiryGrace = 2 * time.Minute

// errLegReverted distinguishes an on-chain revert from transport failures.
var errLegReverted = errors.New("transaction reverted")

// Settler owns all job mutation after acceptance. One Settler runs per relay
// process; jobs fan out over a fixed worker pool.
type Settler struct {
	store       store.Store
	gateway     blockchain.Gateway
	makerClient maker.Client
	nonces      *blockchain.NonceManager
	oracle      *gas.Oracle
	logger      logger.Logger

	workers         int
	pollingInterval time.Duration
	gasBumpInterval time.Duration

	pendingJobs chan *models.Job
	inFlight    sync.Map
	wg          sync.WaitGroup
}

// NewSettler creates a settlement worker pool.
func NewSettler(st store.Store, gateway blockchain.Gateway, makerClient maker.Client,
	nonces *blockchain.NonceManager, oracle *gas.Oracle,
	workers int, pollingInterval, gasBumpInterval time.Duration, log logger.Logger) *Settler {
	return &Settler{
		store:           st,
		gateway:         gateway,
		makerClient:     makerClient,
		nonces:          nonces,
		oracle:          oracle,
		logger:          log,
		workers:         workers,
		pollingInterval: pollingInterval,
		gasBumpInterval: gasBumpInterval,
		pendingJobs:     make(chan *models.Job, workers*2),
	}
}

// Start runs the poll loop and worker pool until ctx is cancelled.
func (s *Settler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.pollLoop(ctx)
}

// Wait blocks until every worker has drained after cancellation.
func (s *Settler) Wait() {
	s.wg.Wait()
}

// Enqueue hands a freshly accepted job straight to the pool so settlement
// does not wait for the next poll tick. Safe to skip; the poller will find
// the job anyway.
func (s *Settler) Enqueue(job *models.Job) {
	select {
	case s.pendingJobs <- job:
	default:
		s.logger.DebugWith(logger.Worker, "Queue full, job %s waits for poller", job.OrderHash.Hex())
	}
}

func (s *Settler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	// The channel is never closed; Enqueue may still run during shutdown
	// and the workers exit on ctx.Done anyway
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Settler) poll(ctx context.Context) {
	jobs, err := s.store.FindJobsByStatus(ctx, models.JobStatusPendingEnqueued)
	if err != nil {
		s.logger.ErrorWith(logger.Worker, "Failed to poll for queued jobs: %v", err)
		return
	}
	metrics.PendingJobs.Set(float64(len(jobs)))

	for _, job := range jobs {
		// Skip jobs a worker already holds; the queue status only flips
		// once the worker gets to it
		if _, busy := s.inFlight.LoadOrStore(job.OrderHash, struct{}{}); busy {
			continue
		}
		select {
		case s.pendingJobs <- job:
		case <-ctx.Done():
			s.inFlight.Delete(job.OrderHash)
			return
		default:
			s.inFlight.Delete(job.OrderHash)
		}
	}
}

func (s *Settler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	s.logger.InfoWith(logger.Worker, "Starting worker %d", id)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoWith(logger.Worker, "Worker %d shutting down", id)
			return
		case job := <-s.pendingJobs:
			start := time.Now()
			err := s.settle(ctx, job)
			s.inFlight.Delete(job.OrderHash)

			if err != nil {
				s.logger.ErrorWith(logger.Worker, "Worker %d failed to settle job %s: %v",
					id, job.OrderHash.Hex(), err)
				continue
			}
			s.logger.InfoWith(logger.Worker, "Worker %d settled job %s as %s in %s",
				id, job.OrderHash.Hex(), job.Status, time.Since(start).Round(time.Millisecond))
		}
	}
}

// settle drives one job from the queue to a terminal state.
func (s *Settler) settle(ctx context.Context, job *models.Job) error {
	if job.Expired(time.Now()) {
		return s.markJob(ctx, job, models.JobStatusFailedExpired)
	}
	if err := s.markJob(ctx, job, models.JobStatusPendingProcessing); err != nil {
		return err
	}

	proceed, err := s.makerClient.SubmitLastLook(ctx, job.MakerURI, job.Order, job.OrderHash)
	if err != nil {
		// A transport failure is not a maker decline
		s.logger.ErrorWith(logger.Worker, "Last look call to %s failed for %s: %v",
			job.MakerURI, job.OrderHash.Hex(), err)
		return s.markJob(ctx, job, models.JobStatusFailedSignFailed)
	}
	if !proceed {
		s.logger.NoticeWith(logger.Worker, "Maker %s declined last look for %s", job.MakerURI, job.OrderHash.Hex())
		return s.markJob(ctx, job, models.JobStatusFailedLastLookDeclined)
	}
	if err := s.markJob(ctx, job, models.JobStatusPendingLastLookAccepted); err != nil {
		return err
	}

	// The approval leg must mine before the trade can spend the allowance
	if job.Approval != nil {
		if err := s.settleApproval(ctx, job); err != nil {
			if markErr := s.markJob(ctx, job, models.JobStatusFailedSubmitFailed); markErr != nil {
				return markErr
			}
			return fmt.Errorf("approval leg failed: %w", err)
		}
	}

	return s.settleTrade(ctx, job)
}

func (s *Settler) settleApproval(ctx context.Context, job *models.Job) error {
	if job.ApprovalSignature == nil {
		return errors.New("job has approval payload but no approval signature")
	}
	to, calldata, err := blockchain.PackApprovalCall(job.Approval, job.Order.Taker, *job.ApprovalSignature)
	if err != nil {
		return err
	}

	gasLimit, err := s.gateway.EstimateGas(ctx, ethereum.CallMsg{To: &to, Data: calldata})
	if err != nil {
		return fmt.Errorf("approval gas estimation failed: %w", err)
	}

	return s.broadcastAndWatch(ctx, job, models.SubmissionTypeApproval, to, calldata, gasLimit)
}

func (s *Settler) settleTrade(ctx context.Context, job *models.Job) error {
	if job.MakerSignature == nil || job.TakerSignature == nil {
		if err := s.markJob(ctx, job, models.JobStatusFailedSignFailed); err != nil {
			return err
		}
		return errors.New("job is missing a settlement signature")
	}

	calldata, err := blockchain.PackFillOrder(job.Order, *job.MakerSignature, *job.TakerSignature)
	if err != nil {
		return err
	}
	to := job.Order.VerifyingContract

	// A reverting eth_call here means the fill can never succeed, usually a
	// balance or allowance shortfall. The job fails without spending gas.
	gasLimit, err := s.gateway.EstimateGas(ctx, ethereum.CallMsg{To: &to, Data: calldata})
	if err != nil {
		s.logger.NoticeWith(logger.Worker, "Gas estimation rejected fill for %s: %v", job.OrderHash.Hex(), err)
		if markErr := s.markJob(ctx, job, models.JobStatusFailedEthCallFailed); markErr != nil {
			return markErr
		}
		return nil
	}

	return s.broadcastAndWatch(ctx, job, models.SubmissionTypeTrade, to, calldata, gasLimit)
}

// broadcastAndWatch broadcasts one leg, then watches receipts, escalating gas
// on the same nonce until the leg resolves or the order expires.
func (s *Settler) broadcastAndWatch(ctx context.Context, job *models.Job,
	legType models.SubmissionType, to common.Address, calldata []byte, gasLimit uint64) error {

	nonce, err := s.nonces.Next(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve nonce: %v", err)
	}
	pricing, err := s.oracle.SuggestInitial(ctx)
	if err != nil {
		return fmt.Errorf("failed to price transaction: %v", err)
	}

	subs, err := s.broadcast(ctx, job, legType, to, calldata, gasLimit, nonce, pricing, nil)
	if err != nil {
		if legType == models.SubmissionTypeTrade {
			if markErr := s.markJob(ctx, job, models.JobStatusFailedSubmitFailed); markErr != nil {
				return markErr
			}
		}
		return err
	}

	if legType == models.SubmissionTypeTrade {
		if err := s.markJob(ctx, job, models.JobStatusPendingSubmitted); err != nil {
			return err
		}
	}

	return s.watch(ctx, job, legType, to, calldata, gasLimit, nonce, pricing, subs)
}

// broadcast signs and sends one transaction and records its submission row.
// The accumulated rows for this leg are threaded through so the watcher can
// rebuild its tracker without a round trip.
func (s *Settler) broadcast(ctx context.Context, job *models.Job, legType models.SubmissionType,
	to common.Address, calldata []byte, gasLimit uint64, nonce uint64,
	pricing models.GasPricing, subs []*models.TransactionSubmission) ([]*models.TransactionSubmission, error) {

	tx := buildTransaction(big.NewInt(int64(job.ChainID)), pricing, nonce, to, calldata, gasLimit)
	txHash, err := s.gateway.SignAndBroadcast(ctx, tx)
	if err != nil {
		return subs, fmt.Errorf("broadcast failed: %v", err)
	}

	sub := &models.TransactionSubmission{
		OrderHash: job.OrderHash,
		TxHash:    txHash,
		Nonce:     nonce,
		Gas:       pricing,
		Type:      legType,
		Status:    models.SubmissionStatusSubmitted,
		CreatedAt: time.Now(),
	}
	if err := s.store.WriteSubmission(ctx, sub); err != nil {
		return subs, fmt.Errorf("failed to record submission: %v", err)
	}
	metrics.TransactionsBroadcast.WithLabelValues(string(legType)).Inc()

	s.logger.InfoWith(logger.Worker, "Broadcast %s tx %s for %s (nonce %d)",
		legType, txHash.Hex(), job.OrderHash.Hex(), nonce)
	return append(subs, sub), nil
}

// watch polls receipts for the leg's submission set, bumping gas while the
// set is unmined and finishing once the mined transaction is confirmed.
func (s *Settler) watch(ctx context.Context, job *models.Job, legType models.SubmissionType,
	to common.Address, calldata []byte, gasLimit uint64, nonce uint64,
	pricing models.GasPricing, subs []*models.TransactionSubmission) error {

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	lastBroadcast := time.Now()
	bumps := 0
	deadline := job.ExpiryTime().Add(expiryGrace)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		tracker, err := submission.NewTracker(subs)
		if err != nil {
			return err
		}
		receipt, err := tracker.GetReceipt(ctx, s.gateway)
		if err != nil {
			if errors.Is(err, submission.ErrMultipleReceipts) {
				return err
			}
			s.logger.ErrorWith(logger.Worker, "Receipt lookup failed for %s: %v", job.OrderHash.Hex(), err)
			continue
		}

		if receipt == nil {
			if time.Now().After(deadline) {
				s.logger.NoticeWith(logger.Worker, "Order %s expired with no receipt", job.OrderHash.Hex())
				if legType == models.SubmissionTypeTrade {
					return s.markJob(ctx, job, models.JobStatusFailedExpired)
				}
				return errors.New("approval leg expired unmined")
			}
			if time.Since(lastBroadcast) >= s.gasBumpInterval && bumps < maxGasBumps {
				pricing, err = s.oracle.Escalate(pricing)
				if err != nil {
					return err
				}
				bumps++
				s.logger.NoticeWith(logger.Worker, "Bumping gas for %s (attempt %d)", job.OrderHash.Hex(), bumps)
				subs, err = s.broadcast(ctx, job, legType, to, calldata, gasLimit, nonce, pricing, subs)
				if err != nil {
					// A failed replacement is not fatal; the previous
					// broadcasts are still in the mempool
					s.logger.ErrorWith(logger.Worker, "Gas bump broadcast failed for %s: %v", job.OrderHash.Hex(), err)
				}
				lastBroadcast = time.Now()
			}
			continue
		}

		currentBlock, err := s.gateway.GetCurrentBlock(ctx)
		if err != nil {
			s.logger.ErrorWith(logger.Worker, "Failed to fetch current block: %v", err)
			continue
		}
		confirmed := submission.IsBlockConfirmed(currentBlock, receipt.BlockNumber.Uint64())

		updated, err := tracker.ApplyReceipt(receipt, confirmed)
		if err != nil {
			return err
		}
		if err := s.store.UpdateSubmissions(ctx, updated); err != nil {
			return fmt.Errorf("failed to update submissions: %v", err)
		}

		if legType == models.SubmissionTypeTrade {
			if err := s.markJob(ctx, job, submission.JobStatusForReceipt(receipt, confirmed)); err != nil {
				return err
			}
		}

		if !confirmed {
			// Keep watching until the mined block is buried deep enough
			continue
		}

		if receipt.Status != types.ReceiptStatusSuccessful {
			return fmt.Errorf("%w: %s", errLegReverted, receipt.TxHash.Hex())
		}
		return nil
	}
}

func (s *Settler) markJob(ctx context.Context, job *models.Job, status models.JobStatus) error {
	job.Status = status
	if err := s.store.WriteJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job %s as %s: %v", job.OrderHash.Hex(), status, err)
	}
	if status.Resolved() || status == models.JobStatusSucceededUnconfirmed {
		metrics.JobsResolved.WithLabelValues(string(status)).Inc()
	}
	return nil
}

// buildTransaction assembles the unsigned transaction for the pricing format.
func buildTransaction(chainID *big.Int, pricing models.GasPricing, nonce uint64,
	to common.Address, data []byte, gasLimit uint64) *types.Transaction {

	switch p := pricing.(type) {
	case models.FeeMarketGas:
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: p.MaxPriorityFeePerGas,
			GasFeeCap: p.MaxFeePerGas,
			Gas:       gasLimit,
			To:        &to,
			Data:      data,
		})
	case models.LegacyGas:
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: p.GasPrice,
			Gas:      gasLimit,
			To:       &to,
			Data:     data,
		})
	default:
		return nil
	}
}
