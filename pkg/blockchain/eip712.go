package blockchain

import (
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/quotient-hq/rfq-relay/pkg/models"
)

// OrderTypedData builds the EIP-712 typed data for an RFQ order. Its hash is
// the order identifier every job and submission row keys on.
func OrderTypedData(order models.Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"RfqOrder": {
				{Name: "maker", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "makerToken", Type: "address"},
				{Name: "takerToken", Type: "address"},
				{Name: "makerAmount", Type: "uint128"},
				{Name: "takerAmount", Type: "uint128"},
				{Name: "expiry", Type: "uint64"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "RfqOrder",
		Domain: apitypes.TypedDataDomain{
			Name:              "RfqRelay",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(order.ChainID),
			VerifyingContract: order.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"maker":       order.Maker.Hex(),
			"taker":       order.Taker.Hex(),
			"makerToken":  order.MakerToken.Hex(),
			"takerToken":  order.TakerToken.Hex(),
			"makerAmount": (*math.HexOrDecimal256)(order.MakerAmount),
			"takerAmount": (*math.HexOrDecimal256)(order.TakerAmount),
			"expiry":      (*math.HexOrDecimal256)(order.Expiry),
			"nonce":       (*math.HexOrDecimal256)(order.Nonce),
		},
	}
}
