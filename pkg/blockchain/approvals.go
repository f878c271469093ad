package blockchain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/quotient-hq/rfq-relay/pkg/models"
)

// erc20ApprovalABI covers the calls needed to build gasless approvals
const erc20ApprovalABI = `[
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"getNonce","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

var approvalABI = mustParseABI(erc20ApprovalABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

func packGetNonce(user common.Address) ([]byte, error) {
	data, err := approvalABI.Pack("getNonce", user)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %v", err)
	}
	return data, nil
}

func unpackNonce(out []byte) (*big.Int, error) {
	values, err := approvalABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getNonce result: %v", err)
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce result type %T", values[0])
	}
	return nonce, nil
}

// maxUint256 is used for unlimited approvals so a taker only ever signs one
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ApprovalEntry describes the gasless approval flow one token supports.
type ApprovalEntry struct {
	Kind   models.GaslessApprovalKind
	Domain apitypes.TypedDataDomain
}

// ApprovalRegistry maps chain/token to its gasless-approval support. Only
// registered tokens can be approved without a taker-paid transaction.
type ApprovalRegistry struct {
	spender common.Address
	entries map[int]map[common.Address]ApprovalEntry
}

// NewApprovalRegistry builds the registry of tokens known to support gasless
// approvals, with the settlement contract as the spender.
func NewApprovalRegistry(spender common.Address) *ApprovalRegistry {
	r := &ApprovalRegistry{
		spender: spender,
		entries: make(map[int]map[common.Address]ApprovalEntry),
	}

	// Polygon bridged tokens use the executeMetaTransaction flow
	r.Register(137, common.HexToAddress("0x2791bca1f2de4661ed88a30c99a7a9449aa84174"), ApprovalEntry{
		Kind: models.ApprovalKindExecuteMetaTransaction,
		Domain: apitypes.TypedDataDomain{
			Name:              "USD Coin (PoS)",
			Version:           "1",
			VerifyingContract: "0x2791bca1f2de4661ed88a30c99a7a9449aa84174",
			Salt:              hexutil.Encode(common.LeftPadBytes(big.NewInt(137).Bytes(), 32)),
		},
	})
	r.Register(137, common.HexToAddress("0x8f3cf7ad23cd3cadbd9735aff958023239c6a063"), ApprovalEntry{
		Kind: models.ApprovalKindExecuteMetaTransaction,
		Domain: apitypes.TypedDataDomain{
			Name:              "(PoS) Dai Stablecoin",
			Version:           "1",
			VerifyingContract: "0x8f3cf7ad23cd3cadbd9735aff958023239c6a063",
			Salt:              hexutil.Encode(common.LeftPadBytes(big.NewInt(137).Bytes(), 32)),
		},
	})

	return r
}

// Register adds or replaces a token entry.
func (r *ApprovalRegistry) Register(chainID int, token common.Address, entry ApprovalEntry) {
	if _, ok := r.entries[chainID]; !ok {
		r.entries[chainID] = make(map[common.Address]ApprovalEntry)
	}
	r.entries[chainID][token] = entry
}

// Lookup returns the approval entry for the token, if any.
func (r *ApprovalRegistry) Lookup(chainID int, token common.Address) (ApprovalEntry, bool) {
	tokens, ok := r.entries[chainID]
	if !ok {
		return ApprovalEntry{}, false
	}
	entry, ok := tokens[token]
	return entry, ok
}

// BuildApproval assembles the EIP-712 payload the taker signs to authorize an
// unlimited allowance for the settlement contract.
func (r *ApprovalRegistry) BuildApproval(entry ApprovalEntry, token common.Address, taker common.Address, nonce *big.Int) (*models.Approval, error) {
	switch entry.Kind {
	case models.ApprovalKindExecuteMetaTransaction:
		calldata, err := approvalABI.Pack("approve", r.spender, maxUint256)
		if err != nil {
			return nil, fmt.Errorf("failed to pack approve calldata: %v", err)
		}
		return &models.Approval{
			Kind:  models.ApprovalKindExecuteMetaTransaction,
			Token: token,
			EIP712: apitypes.TypedData{
				Types: apitypes.Types{
					"EIP712Domain": {
						{Name: "name", Type: "string"},
						{Name: "version", Type: "string"},
						{Name: "verifyingContract", Type: "address"},
						{Name: "salt", Type: "bytes32"},
					},
					"MetaTransaction": {
						{Name: "nonce", Type: "uint256"},
						{Name: "from", Type: "address"},
						{Name: "functionSignature", Type: "bytes"},
					},
				},
				PrimaryType: "MetaTransaction",
				Domain:      entry.Domain,
				Message: apitypes.TypedDataMessage{
					"nonce":             (*math.HexOrDecimal256)(nonce),
					"from":              taker.Hex(),
					"functionSignature": hexutil.Encode(calldata),
				},
			},
		}, nil
	case models.ApprovalKindPermit:
		return nil, fmt.Errorf("permit approvals are not yet supported")
	}
	return nil, fmt.Errorf("unknown approval kind: %s", entry.Kind)
}
