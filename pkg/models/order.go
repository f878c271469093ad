package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Order is the RFQ order the maker signs and the relay settles on-chain.
type Order struct {
	ChainID           int64          `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
	Maker             common.Address `json:"maker"`
	Taker             common.Address `json:"taker"`
	MakerToken        common.Address `json:"makerToken"`
	TakerToken        common.Address `json:"takerToken"`
	MakerAmount       *big.Int       `json:"makerAmount"`
	TakerAmount       *big.Int       `json:"takerAmount"`
	// Expiry is the order expiry as a unix timestamp in seconds
	Expiry *big.Int `json:"expiry"`
	// Nonce makes otherwise identical orders distinct
	Nonce *big.Int `json:"nonce"`
}

// ExpiryTime returns the order expiry as a time.Time.
func (o *Order) ExpiryTime() time.Time {
	if o.Expiry == nil {
		return time.Time{}
	}
	return time.Unix(o.Expiry.Int64(), 0)
}

// Signature is an EIP-712 or eth_sign signature over an order or approval hash.
type Signature struct {
	SignatureType uint8       `json:"signatureType"`
	V             uint8       `json:"v"`
	R             common.Hash `json:"r"`
	S             common.Hash `json:"s"`
}

// GaslessApprovalKind identifies the meta-transaction style a token supports
// for gasless approvals.
type GaslessApprovalKind string

const (
	// ApprovalKindExecuteMetaTransaction is the Polygon-style executeMetaTransaction flow
	ApprovalKindExecuteMetaTransaction GaslessApprovalKind = "executeMetaTransaction"
	// ApprovalKindPermit is the EIP-2612 permit flow
	ApprovalKindPermit GaslessApprovalKind = "permit"
)

// Approval is the gasless-approval payload the taker signs so the relay can
// set the token allowance without the taker paying gas.
type Approval struct {
	Kind   GaslessApprovalKind `json:"kind"`
	Token  common.Address      `json:"token"`
	EIP712 apitypes.TypedData  `json:"eip712"`
}
