package blockchain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/quotient-hq/rfq-relay/pkg/models"
)

// settlementContractABI covers the settlement calls the relay broadcasts
const settlementContractABI = `[
	{"name":"fillRfqOrder","type":"function","inputs":[
		{"name":"order","type":"tuple","components":[
			{"name":"maker","type":"address"},
			{"name":"taker","type":"address"},
			{"name":"makerToken","type":"address"},
			{"name":"takerToken","type":"address"},
			{"name":"makerAmount","type":"uint128"},
			{"name":"takerAmount","type":"uint128"},
			{"name":"expiry","type":"uint64"},
			{"name":"nonce","type":"uint256"}
		]},
		{"name":"makerSignature","type":"tuple","components":[
			{"name":"signatureType","type":"uint8"},
			{"name":"v","type":"uint8"},
			{"name":"r","type":"bytes32"},
			{"name":"s","type":"bytes32"}
		]},
		{"name":"takerSignature","type":"tuple","components":[
			{"name":"signatureType","type":"uint8"},
			{"name":"v","type":"uint8"},
			{"name":"r","type":"bytes32"},
			{"name":"s","type":"bytes32"}
		]}
	],"outputs":[]},
	{"name":"executeMetaTransaction","type":"function","inputs":[
		{"name":"userAddress","type":"address"},
		{"name":"functionSignature","type":"bytes"},
		{"name":"sigR","type":"bytes32"},
		{"name":"sigS","type":"bytes32"},
		{"name":"sigV","type":"uint8"}
	],"outputs":[{"name":"","type":"bytes"}]}
]`

var settlementABI = mustParseABI(settlementContractABI)

type abiOrder struct {
	Maker       common.Address
	Taker       common.Address
	MakerToken  common.Address
	TakerToken  common.Address
	MakerAmount *big.Int
	TakerAmount *big.Int
	Expiry      uint64
	Nonce       *big.Int
}

type abiSignature struct {
	SignatureType uint8
	V             uint8
	R             [32]byte
	S             [32]byte
}

func toABISignature(sig models.Signature) abiSignature {
	return abiSignature{
		SignatureType: sig.SignatureType,
		V:             sig.V,
		R:             [32]byte(sig.R),
		S:             [32]byte(sig.S),
	}
}

// PackFillOrder encodes the fillRfqOrder call that settles a trade.
func PackFillOrder(order models.Order, makerSig, takerSig models.Signature) ([]byte, error) {
	data, err := settlementABI.Pack("fillRfqOrder",
		abiOrder{
			Maker:       order.Maker,
			Taker:       order.Taker,
			MakerToken:  order.MakerToken,
			TakerToken:  order.TakerToken,
			MakerAmount: order.MakerAmount,
			TakerAmount: order.TakerAmount,
			Expiry:      order.Expiry.Uint64(),
			Nonce:       order.Nonce,
		},
		toABISignature(makerSig),
		toABISignature(takerSig))
	if err != nil {
		return nil, fmt.Errorf("failed to pack fillRfqOrder: %v", err)
	}
	return data, nil
}

// PackApprovalCall encodes the token call that redeems a taker-signed gasless
// approval. For the meta-transaction flow this is executeMetaTransaction on
// the token itself, carrying the approve calldata the taker signed over.
func PackApprovalCall(approval *models.Approval, taker common.Address, sig models.Signature) (common.Address, []byte, error) {
	switch approval.Kind {
	case models.ApprovalKindExecuteMetaTransaction:
		raw, ok := approval.EIP712.Message["functionSignature"].(string)
		if !ok {
			return common.Address{}, nil, fmt.Errorf("approval payload has no functionSignature")
		}
		functionSignature, err := hexutil.Decode(raw)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("malformed functionSignature: %v", err)
		}
		data, err := settlementABI.Pack("executeMetaTransaction",
			taker, functionSignature, [32]byte(sig.R), [32]byte(sig.S), sig.V)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("failed to pack executeMetaTransaction: %v", err)
		}
		return approval.Token, data, nil
	default:
		return common.Address{}, nil, fmt.Errorf("unsupported approval kind: %s", approval.Kind)
	}
}
