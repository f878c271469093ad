package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/quotient-hq/rfq-relay/pkg/logger"
	"github.com/quotient-hq/rfq-relay/pkg/models"
)

// Gateway is the blockchain access boundary used by quote aggregation,
// submission tracking and the settlement worker.
type Gateway interface {
	// GetReceipts returns one entry per hash; entries for unmined hashes are nil
	GetReceipts(ctx context.Context, hashes []common.Hash) ([]*types.Receipt, error)
	// GetCurrentBlock returns the current block height
	GetCurrentBlock(ctx context.Context) (uint64, error)
	// EstimateGas simulates the call and returns a gas limit, or fails if the call reverts
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	// SignAndBroadcast signs the transaction with the relay key and submits it
	SignAndBroadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	// ComputeTypedDataHash returns the EIP-712 hash of the typed data
	ComputeTypedDataHash(data apitypes.TypedData) (common.Hash, error)
	// GetGaslessApproval builds the approval payload the taker needs to sign,
	// or returns nil when the token supports no gasless approval flow
	GetGaslessApproval(ctx context.Context, chainID int, token common.Address, taker common.Address) (*models.Approval, error)
}

// EthGateway implements Gateway against a JSON-RPC endpoint via ethclient.
type EthGateway struct {
	client    *ethclient.Client
	chainID   *big.Int
	key       *ecdsa.PrivateKey
	from      common.Address
	approvals *ApprovalRegistry
	logger    logger.Logger
}

var _ Gateway = (*EthGateway)(nil)

// NewEthGateway connects to the RPC endpoint and sets up the relay signer.
// An empty signer key yields a read-only gateway: SignAndBroadcast fails.
func NewEthGateway(ctx context.Context, rpcURL string, signerKey string, exchangeProxy common.Address, log logger.Logger) (*EthGateway, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %v", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}

	g := &EthGateway{
		client:    client,
		chainID:   chainID,
		approvals: NewApprovalRegistry(exchangeProxy),
		logger:    log,
	}

	if signerKey != "" {
		key, err := crypto.HexToECDSA(signerKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signer key: %v", err)
		}
		g.key = key
		g.from = crypto.PubkeyToAddress(key.PublicKey)
		log.InfoWith(logger.Chain, "Relay signer address: %s", g.from.Hex())
	}

	return g, nil
}

// Client exposes the underlying ethclient for collaborators that need raw
// RPC access (gas oracle, nonce manager).
func (g *EthGateway) Client() *ethclient.Client {
	return g.client
}

// SignerAddress returns the relay signer address.
func (g *EthGateway) SignerAddress() common.Address {
	return g.from
}

// ChainID returns the connected chain's ID.
func (g *EthGateway) ChainID() *big.Int {
	return g.chainID
}

// GetReceipts looks up the receipt for every hash. A missing receipt is not
// an error; the corresponding entry is nil.
func (g *EthGateway) GetReceipts(ctx context.Context, hashes []common.Hash) ([]*types.Receipt, error) {
	receipts := make([]*types.Receipt, len(hashes))
	for i, hash := range hashes {
		receipt, err := g.client.TransactionReceipt(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get receipt for %s: %v", hash.Hex(), err)
		}
		receipts[i] = receipt
	}
	return receipts, nil
}

// GetCurrentBlock returns the latest block number.
func (g *EthGateway) GetCurrentBlock(ctx context.Context) (uint64, error) {
	return g.client.BlockNumber(ctx)
}

// EstimateGas simulates the call; a revert surfaces as an error before any
// transaction is broadcast.
func (g *EthGateway) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := g.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("gas estimation failed: %v", err)
	}
	return gas, nil
}

// SignAndBroadcast signs the transaction with the relay key and submits it.
func (g *EthGateway) SignAndBroadcast(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if g.key == nil {
		return common.Hash{}, fmt.Errorf("gateway has no signer key configured")
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(g.chainID), g.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %v", err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to broadcast transaction: %v", err)
	}

	return signedTx.Hash(), nil
}

// ComputeTypedDataHash returns the EIP-712 digest of the typed data.
func (g *EthGateway) ComputeTypedDataHash(data apitypes.TypedData) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %v", err)
	}
	return common.BytesToHash(hash), nil
}

// GetGaslessApproval builds the gasless-approval payload for the token, or
// returns nil when the token is not in the approval registry.
func (g *EthGateway) GetGaslessApproval(ctx context.Context, chainID int, token common.Address, taker common.Address) (*models.Approval, error) {
	entry, ok := g.approvals.Lookup(chainID, token)
	if !ok {
		return nil, nil
	}

	nonce, err := g.metaTransactionNonce(ctx, token, taker)
	if err != nil {
		return nil, fmt.Errorf("failed to get meta-transaction nonce: %v", err)
	}

	return g.approvals.BuildApproval(entry, token, taker, nonce)
}

// metaTransactionNonce reads the token's meta-transaction nonce for the taker.
func (g *EthGateway) metaTransactionNonce(ctx context.Context, token common.Address, taker common.Address) (*big.Int, error) {
	data, err := packGetNonce(taker)
	if err != nil {
		return nil, err
	}

	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getNonce call failed: %v", err)
	}

	return unpackNonce(out)
}
