package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/models"
)

// PostgresStore implements Store on a pgx connection pool. Orders and
// approvals are stored as JSONB; gas pricing is split into nullable numeric
// columns so the pricing format round-trips exactly.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the database and runs migrations.
func NewPostgresStore(ctx context.Context, databaseURL string, log logger.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %v", err)
	}
	poolCfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %v", err)
	}

	s := &PostgresStore{pool: pool, logger: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			order_hash TEXT PRIMARY KEY,
			id UUID NOT NULL,
			chain_id BIGINT NOT NULL,
			maker_uri TEXT NOT NULL,
			order_data JSONB NOT NULL,
			maker_signature JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			order_hash TEXT PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			order_data JSONB NOT NULL,
			maker_uri TEXT NOT NULL,
			maker_signature JSONB,
			taker_signature JSONB,
			expiry NUMERIC NOT NULL,
			status TEXT NOT NULL,
			approval JSONB,
			approval_signature JSONB,
			workflow TEXT NOT NULL DEFAULT 'rfq',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
		`CREATE TABLE IF NOT EXISTS transaction_submissions (
			tx_hash TEXT PRIMARY KEY,
			order_hash TEXT NOT NULL,
			nonce BIGINT NOT NULL,
			transaction_type SMALLINT NOT NULL,
			gas_price NUMERIC,
			max_fee_per_gas NUMERIC,
			max_priority_fee_per_gas NUMERIC,
			submission_type TEXT NOT NULL,
			status TEXT NOT NULL,
			block_mined NUMERIC,
			gas_used NUMERIC,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS submissions_order_idx ON transaction_submissions (order_hash, submission_type)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %v", err)
		}
	}
	return nil
}

// WriteQuote persists a firm quote.
func (s *PostgresStore) WriteQuote(ctx context.Context, quote *models.Quote) error {
	orderJSON, err := json.Marshal(quote.Order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %v", err)
	}
	sigJSON, err := marshalNullable(quote.MakerSignature)
	if err != nil {
		return fmt.Errorf("failed to encode maker signature: %v", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quotes (order_hash, id, chain_id, maker_uri, order_data, maker_signature, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (order_hash) DO NOTHING`,
		quote.OrderHash.Hex(), quote.ID, quote.ChainID, quote.MakerURI, orderJSON, sigJSON, quote.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write quote: %v", err)
	}
	return nil
}

// FindQuoteByOrderHash looks up a firm quote.
func (s *PostgresStore) FindQuoteByOrderHash(ctx context.Context, orderHash common.Hash) (*models.Quote, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, chain_id, maker_uri, order_data, maker_signature, created_at
		 FROM quotes WHERE order_hash = $1`, orderHash.Hex())

	quote := &models.Quote{OrderHash: orderHash}
	var orderJSON, sigJSON []byte
	if err := row.Scan(&quote.ID, &quote.ChainID, &quote.MakerURI, &orderJSON, &sigJSON, &quote.CreatedAt); err != nil {
		return nil, wrapScanErr("quote", err)
	}
	if err := json.Unmarshal(orderJSON, &quote.Order); err != nil {
		return nil, fmt.Errorf("failed to decode order: %v", err)
	}
	if err := unmarshalNullable(sigJSON, &quote.MakerSignature); err != nil {
		return nil, fmt.Errorf("failed to decode maker signature: %v", err)
	}
	return quote, nil
}

// WriteJob inserts or replaces a job.
func (s *PostgresStore) WriteJob(ctx context.Context, job *models.Job) error {
	orderJSON, err := json.Marshal(job.Order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %v", err)
	}
	makerSig, err := marshalNullable(job.MakerSignature)
	if err != nil {
		return fmt.Errorf("failed to encode maker signature: %v", err)
	}
	takerSig, err := marshalNullable(job.TakerSignature)
	if err != nil {
		return fmt.Errorf("failed to encode taker signature: %v", err)
	}
	approval, err := marshalNullable(job.Approval)
	if err != nil {
		return fmt.Errorf("failed to encode approval: %v", err)
	}
	approvalSig, err := marshalNullable(job.ApprovalSignature)
	if err != nil {
		return fmt.Errorf("failed to encode approval signature: %v", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (order_hash, chain_id, order_data, maker_uri, maker_signature, taker_signature,
		                   expiry, status, approval, approval_signature, workflow, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		 ON CONFLICT (order_hash) DO UPDATE SET
		   status = EXCLUDED.status,
		   taker_signature = EXCLUDED.taker_signature,
		   approval = EXCLUDED.approval,
		   approval_signature = EXCLUDED.approval_signature,
		   updated_at = now()`,
		job.OrderHash.Hex(), job.ChainID, orderJSON, job.MakerURI, makerSig, takerSig,
		job.Expiry.String(), string(job.Status), approval, approvalSig, job.Workflow, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write job: %v", err)
	}
	return nil
}

// FindJobByOrderHash looks up a job.
func (s *PostgresStore) FindJobByOrderHash(ctx context.Context, orderHash common.Hash) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT chain_id, order_data, maker_uri, maker_signature, taker_signature, expiry,
		        status, approval, approval_signature, workflow, created_at, updated_at
		 FROM jobs WHERE order_hash = $1`, orderHash.Hex())
	return scanJob(orderHash, row)
}

// FindJobsByStatus returns jobs in any of the given states.
func (s *PostgresStore) FindJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT order_hash, chain_id, order_data, maker_uri, maker_signature, taker_signature, expiry,
		        status, approval, approval_signature, workflow, created_at, updated_at
		 FROM jobs WHERE status = ANY($1) ORDER BY created_at`, values)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %v", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		var hashHex string
		job, err := scanJob(common.Hash{}, rows, &hashHex)
		if err != nil {
			return nil, err
		}
		job.OrderHash = common.HexToHash(hashHex)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(orderHash common.Hash, row rowScanner, hashDest ...*string) (*models.Job, error) {
	job := &models.Job{OrderHash: orderHash}
	var (
		orderJSON, makerSig, takerSig, approval, approvalSig []byte
		expiry                                               string
		status                                               string
	)

	dest := make([]interface{}, 0, 13)
	if len(hashDest) > 0 {
		dest = append(dest, hashDest[0])
	}
	dest = append(dest, &job.ChainID, &orderJSON, &job.MakerURI, &makerSig, &takerSig, &expiry,
		&status, &approval, &approvalSig, &job.Workflow, &job.CreatedAt, &job.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, wrapScanErr("job", err)
	}
	if err := json.Unmarshal(orderJSON, &job.Order); err != nil {
		return nil, fmt.Errorf("failed to decode order: %v", err)
	}
	if err := unmarshalNullable(makerSig, &job.MakerSignature); err != nil {
		return nil, fmt.Errorf("failed to decode maker signature: %v", err)
	}
	if err := unmarshalNullable(takerSig, &job.TakerSignature); err != nil {
		return nil, fmt.Errorf("failed to decode taker signature: %v", err)
	}
	if err := unmarshalNullable(approval, &job.Approval); err != nil {
		return nil, fmt.Errorf("failed to decode approval: %v", err)
	}
	if err := unmarshalNullable(approvalSig, &job.ApprovalSignature); err != nil {
		return nil, fmt.Errorf("failed to decode approval signature: %v", err)
	}

	var ok bool
	job.Expiry, ok = new(big.Int).SetString(expiry, 10)
	if !ok {
		return nil, fmt.Errorf("malformed expiry in row: %s", expiry)
	}
	job.Status = models.JobStatus(status)
	return job, nil
}

// WriteSubmission inserts one broadcast attempt.
func (s *PostgresStore) WriteSubmission(ctx context.Context, sub *models.TransactionSubmission) error {
	gasPrice, maxFee, maxPriorityFee := splitGasColumns(sub.Gas)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO transaction_submissions
		   (tx_hash, order_hash, nonce, transaction_type, gas_price, max_fee_per_gas,
		    max_priority_fee_per_gas, submission_type, status, block_mined, gas_used, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())`,
		sub.TxHash.Hex(), sub.OrderHash.Hex(), sub.Nonce, sub.Gas.TransactionType(),
		gasPrice, maxFee, maxPriorityFee, string(sub.Type), string(sub.Status),
		bigToNullable(sub.BlockMined), bigToNullable(sub.GasUsed), sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write submission: %v", err)
	}
	return nil
}

// UpdateSubmissions replaces rows matched by tx hash.
func (s *PostgresStore) UpdateSubmissions(ctx context.Context, subs []*models.TransactionSubmission) error {
	for _, sub := range subs {
		_, err := s.pool.Exec(ctx,
			`UPDATE transaction_submissions
			 SET status = $2, block_mined = $3, gas_used = $4, updated_at = now()
			 WHERE tx_hash = $1`,
			sub.TxHash.Hex(), string(sub.Status), bigToNullable(sub.BlockMined), bigToNullable(sub.GasUsed))
		if err != nil {
			return fmt.Errorf("failed to update submission %s: %v", sub.TxHash.Hex(), err)
		}
	}
	return nil
}

// FindSubmissionsByOrderAndType returns one job's attempts of a given kind,
// oldest first.
func (s *PostgresStore) FindSubmissionsByOrderAndType(ctx context.Context, orderHash common.Hash, subType models.SubmissionType) ([]*models.TransactionSubmission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tx_hash, nonce, transaction_type, gas_price, max_fee_per_gas, max_priority_fee_per_gas,
		        status, block_mined, gas_used, created_at, updated_at
		 FROM transaction_submissions
		 WHERE order_hash = $1 AND submission_type = $2
		 ORDER BY created_at`, orderHash.Hex(), string(subType))
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %v", err)
	}
	defer rows.Close()

	var subs []*models.TransactionSubmission
	for rows.Next() {
		sub := &models.TransactionSubmission{OrderHash: orderHash, Type: subType}
		var (
			txHash                       string
			txType                       uint8
			gasPrice, maxFee, priorityFee *string
			status                       string
			blockMined, gasUsed          *string
		)
		if err := rows.Scan(&txHash, &sub.Nonce, &txType, &gasPrice, &maxFee, &priorityFee,
			&status, &blockMined, &gasUsed, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, wrapScanErr("submission", err)
		}

		sub.TxHash = common.HexToHash(txHash)
		sub.Status = models.SubmissionStatus(status)
		sub.Gas, err = joinGasColumns(txType, gasPrice, maxFee, priorityFee)
		if err != nil {
			return nil, fmt.Errorf("malformed gas columns for %s: %v", txHash, err)
		}
		if sub.BlockMined, err = nullableToBig(blockMined); err != nil {
			return nil, fmt.Errorf("malformed block_mined for %s: %v", txHash, err)
		}
		if sub.GasUsed, err = nullableToBig(gasUsed); err != nil {
			return nil, fmt.Errorf("malformed gas_used for %s: %v", txHash, err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func splitGasColumns(gas models.GasPricing) (gasPrice, maxFee, priorityFee *string) {
	switch g := gas.(type) {
	case models.LegacyGas:
		if g.GasPrice != nil {
			v := g.GasPrice.String()
			gasPrice = &v
		}
	case models.FeeMarketGas:
		if g.MaxFeePerGas != nil {
			v := g.MaxFeePerGas.String()
			maxFee = &v
		}
		if g.MaxPriorityFeePerGas != nil {
			v := g.MaxPriorityFeePerGas.String()
			priorityFee = &v
		}
	}
	return
}

func joinGasColumns(txType uint8, gasPrice, maxFee, priorityFee *string) (models.GasPricing, error) {
	switch txType {
	case 0:
		v, err := nullableToBig(gasPrice)
		if err != nil {
			return nil, err
		}
		return models.LegacyGas{GasPrice: v}, nil
	case 2:
		fee, err := nullableToBig(maxFee)
		if err != nil {
			return nil, err
		}
		tip, err := nullableToBig(priorityFee)
		if err != nil {
			return nil, err
		}
		return models.FeeMarketGas{MaxFeePerGas: fee, MaxPriorityFeePerGas: tip}, nil
	default:
		return nil, fmt.Errorf("unknown transaction type %d", txType)
	}
}

func bigToNullable(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func nullableToBig(v *string) (*big.Int, error) {
	if v == nil {
		return nil, nil
	}
	out, ok := new(big.Int).SetString(*v, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %s", *v)
	}
	return out, nil
}

func marshalNullable(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case *models.Signature:
		if t == nil {
			return nil, nil
		}
	case *models.Approval:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	switch t := out.(type) {
	case **models.Signature:
		*t = &models.Signature{}
		return json.Unmarshal(data, *t)
	case **models.Approval:
		*t = &models.Approval{}
		return json.Unmarshal(data, *t)
	default:
		return json.Unmarshal(data, out)
	}
}

func wrapScanErr(kind string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to scan %s: %v", kind, err)
}
